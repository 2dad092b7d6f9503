package segment

import (
	"fmt"
	"iter"

	"github.com/hupe1980/olapcache/cellkey"
)

// Segment is a header with its body. It is immutable and safe to share.
type Segment struct {
	header *Header
	body   *Body
}

// New pairs h and b. The body's axes must follow the header's columns in
// canonical order and hold only values the header allows.
func New(h *Header, b *Body) (*Segment, error) {
	if len(b.axes) != len(h.constraints) {
		return nil, fmt.Errorf("%w: %d axes for %d columns", ErrAxisMismatch, len(b.axes), len(h.constraints))
	}
	for i, c := range h.constraints {
		a := b.axes[i]
		if a.Column != c.Column {
			return nil, fmt.Errorf("%w: axis %d is %s, want %s", ErrAxisMismatch, i, a.Column, c.Column)
		}
		for _, v := range a.Values {
			if !c.Contains(v) {
				return nil, fmt.Errorf("%w: value %q not allowed on %s", ErrAxisMismatch, v, c.Column)
			}
		}
	}
	return &Segment{header: h, body: b}, nil
}

// Header returns the segment header.
func (s *Segment) Header() *Header { return s.header }

// Body returns the segment body.
func (s *Segment) Body() *Body { return s.body }

// Get returns the value at k.
func (s *Segment) Get(k cellkey.Key) (float64, bool) {
	return s.body.Get(k)
}

// Value returns the value at the cell identified by one value per column.
func (s *Segment) Value(coords map[string]string) (float64, bool) {
	k := cellkey.New(len(s.body.axes))
	for i, a := range s.body.axes {
		v, ok := coords[a.Column]
		if !ok {
			return 0, false
		}
		o, ok := s.body.Ordinal(i, v)
		if !ok {
			return 0, false
		}
		_ = k.Set(i, o)
	}
	return s.body.Get(k)
}

// Cells yields every populated cell.
func (s *Segment) Cells() iter.Seq2[cellkey.Key, float64] {
	return s.body.Cells()
}

// Slice returns the part of s that answers target, rolling up columns
// target does not mention.
func (s *Segment) Slice(target *Header, opts ...BuilderOption) (*Segment, error) {
	if !s.header.Matches(target) {
		return nil, fmt.Errorf("%w: %s does not cover %s", ErrNotCovered, s.header, target)
	}
	if s.header.Equal(target) {
		return s, nil
	}

	// remap[i][old] is the new ordinal of value old on source axis i, or -1.
	axes := make([]Axis, len(target.constraints))
	remap := make([][]int, len(s.body.axes))
	dest := make([]int, len(s.body.axes))
	for i := range dest {
		dest[i] = -1
	}
	for j, tc := range target.constraints {
		i, ok := s.body.AxisIndex(tc.Column)
		if !ok {
			return nil, fmt.Errorf("%w: missing axis %s", ErrNotCovered, tc.Column)
		}
		src := s.body.axes[i]
		m := make([]int, len(src.Values))
		var values []string
		for o, v := range src.Values {
			if tc.Contains(v) {
				m[o] = len(values)
				values = append(values, v)
			} else {
				m[o] = -1
			}
		}
		if values == nil {
			values = []string{}
		}
		axes[j] = Axis{Column: tc.Column, Values: values}
		remap[i] = m
		dest[i] = j
	}

	b, err := NewBuilder(target.agg, axes, opts...)
	if err != nil {
		return nil, err
	}
	ordinals := make([]int, len(axes))
cells:
	for k, v := range s.body.Cells() {
		for i := range s.body.axes {
			j := dest[i]
			if j < 0 {
				continue
			}
			o := remap[i][k.Get(i)]
			if o < 0 {
				continue cells
			}
			ordinals[j] = o
		}
		if err := b.Add(ordinals, v); err != nil {
			return nil, err
		}
	}
	return New(target, b.Build())
}
