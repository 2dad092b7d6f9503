package segment

import (
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/olapcache/cellkey"
)

// Axis lists the values of one column in ordinal order.
type Axis struct {
	Column string   `json:"column" msgpack:"column"`
	Values []string `json:"values" msgpack:"values"`
}

// Body holds the cell values of a segment. It is immutable.
//
// Populated cells are tracked in a roaring bitmap over row-major offsets.
// A dense body stores one value per offset; a sparse body stores one value
// per populated offset, ordered by offset.
type Body struct {
	axes    []Axis
	cards   []int
	lookup  []map[string]int
	dense   bool
	values  []float64
	present *roaring.Bitmap
}

func newBody(axes []Axis, dense bool, values []float64, present *roaring.Bitmap) *Body {
	b := &Body{
		axes:    axes,
		cards:   make([]int, len(axes)),
		lookup:  make([]map[string]int, len(axes)),
		dense:   dense,
		values:  values,
		present: present,
	}
	for i, a := range axes {
		b.cards[i] = len(a.Values)
		m := make(map[string]int, len(a.Values))
		for o, v := range a.Values {
			m[v] = o
		}
		b.lookup[i] = m
	}
	return b
}

// Axes returns a copy of the axes.
func (b *Body) Axes() []Axis {
	out := make([]Axis, len(b.axes))
	for i, a := range b.axes {
		out[i] = Axis{Column: a.Column, Values: slices.Clone(a.Values)}
	}
	return out
}

// AxisIndex returns the index of the axis for column.
func (b *Body) AxisIndex(column string) (int, bool) {
	for i, a := range b.axes {
		if a.Column == column {
			return i, true
		}
	}
	return 0, false
}

// Ordinal returns the ordinal of value on axis.
func (b *Body) Ordinal(axis int, value string) (int, bool) {
	if axis < 0 || axis >= len(b.lookup) {
		return 0, false
	}
	o, ok := b.lookup[axis][value]
	return o, ok
}

// Cardinalities returns the number of values per axis.
func (b *Body) Cardinalities() []int {
	return slices.Clone(b.cards)
}

// Dense reports whether the body uses dense storage.
func (b *Body) Dense() bool {
	return b.dense
}

// Len returns the number of populated cells.
func (b *Body) Len() int {
	return int(b.present.GetCardinality())
}

// Get returns the value at k.
func (b *Body) Get(k cellkey.Key) (float64, bool) {
	off, ok := k.Offset(b.cards)
	if !ok {
		return 0, false
	}
	return b.at(uint32(off))
}

func (b *Body) at(off uint32) (float64, bool) {
	if !b.present.Contains(off) {
		return 0, false
	}
	if b.dense {
		return b.values[off], true
	}
	return b.values[b.present.Rank(off)-1], true
}

// Cells yields every populated cell in offset order.
func (b *Body) Cells() iter.Seq2[cellkey.Key, float64] {
	return func(yield func(cellkey.Key, float64) bool) {
		it := b.present.Iterator()
		rank := 0
		for it.HasNext() {
			off := it.Next()
			var v float64
			if b.dense {
				v = b.values[off]
			} else {
				v = b.values[rank]
			}
			rank++
			if !yield(cellkey.FromOffset(int(off), b.cards), v) {
				return
			}
		}
	}
}

// SizeBytes approximates the memory held by the body.
func (b *Body) SizeBytes() int64 {
	n := int64(64 + 8*len(b.values))
	n += int64(b.present.GetSizeInBytes())
	for _, a := range b.axes {
		n += int64(len(a.Column)) + 16
		for _, v := range a.Values {
			n += int64(len(v)) + 16
		}
	}
	return n
}

// Equal reports whether both bodies have the same axes and cells.
func (b *Body) Equal(other *Body) bool {
	if other == nil || len(b.axes) != len(other.axes) {
		return false
	}
	for i := range b.axes {
		if b.axes[i].Column != other.axes[i].Column || !slices.Equal(b.axes[i].Values, other.axes[i].Values) {
			return false
		}
	}
	if !b.present.Equals(other.present) {
		return false
	}
	for k, v := range b.Cells() {
		w, _ := other.Get(k)
		if v != w {
			return false
		}
	}
	return true
}
