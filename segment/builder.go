package segment

import (
	"fmt"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/olapcache/cellkey"
)

// DefaultDenseThreshold is the fill ratio at or above which Builder picks dense storage.
const DefaultDenseThreshold = 0.5

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDenseThreshold sets the fill ratio at or above which the body is dense.
// A ratio above 1 forces sparse storage; a ratio of 0 forces dense storage.
func WithDenseThreshold(ratio float64) BuilderOption {
	return func(b *Builder) {
		b.denseThreshold = ratio
	}
}

// Builder accumulates (ordinals, value) rows into a Body.
// Rows for the same cell are combined with the aggregator.
type Builder struct {
	agg            Aggregator
	axes           []Axis
	cards          []int
	total          uint64
	cells          map[uint32]float64
	denseThreshold float64
}

// NewBuilder returns a builder for the given axes.
func NewBuilder(agg Aggregator, axes []Axis, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		agg:            agg,
		axes:           make([]Axis, len(axes)),
		cards:          make([]int, len(axes)),
		total:          1,
		cells:          make(map[uint32]float64),
		denseThreshold: DefaultDenseThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}

	seen := make(map[string]struct{}, len(axes))
	for i, a := range axes {
		if _, dup := seen[a.Column]; dup {
			return nil, fmt.Errorf("%w: duplicate axis %s", ErrAxisMismatch, a.Column)
		}
		seen[a.Column] = struct{}{}
		b.axes[i] = Axis{Column: a.Column, Values: slices.Clone(a.Values)}
		b.cards[i] = len(a.Values)
		b.total *= uint64(len(a.Values))
		if b.total > math.MaxUint32 {
			return nil, fmt.Errorf("%w: axes %v", ErrTooManyCells, b.cards)
		}
	}
	return b, nil
}

// Add records value at ordinals.
func (b *Builder) Add(ordinals []int, value float64) error {
	if len(ordinals) != len(b.cards) {
		return fmt.Errorf("%w: %w", ErrOrdinalOutOfRange, cellkey.ErrArityMismatch)
	}
	return b.AddKey(cellkey.Of(ordinals...), value)
}

// AddKey records value at k.
func (b *Builder) AddKey(k cellkey.Key, value float64) error {
	off, ok := k.Offset(b.cards)
	if !ok {
		return fmt.Errorf("%w: %s over %v", ErrOrdinalOutOfRange, k, b.cards)
	}
	o := uint32(off)
	if prev, dup := b.cells[o]; dup && b.agg.CanRollup() {
		value = b.agg.Combine(prev, value)
	}
	b.cells[o] = value
	return nil
}

// Len returns the number of distinct cells added so far.
func (b *Builder) Len() int {
	return len(b.cells)
}

// Build returns the body. The builder must not be used afterwards.
func (b *Builder) Build() *Body {
	offsets := make([]uint32, 0, len(b.cells))
	for o := range b.cells {
		offsets = append(offsets, o)
	}
	slices.Sort(offsets)

	present := roaring.New()
	present.AddMany(offsets)
	present.RunOptimize()

	dense := b.total > 0 && float64(len(offsets))/float64(b.total) >= b.denseThreshold
	var values []float64
	if dense {
		values = make([]float64, b.total)
		for _, o := range offsets {
			values[o] = b.cells[o]
		}
	} else {
		values = make([]float64, len(offsets))
		for i, o := range offsets {
			values[i] = b.cells[o]
		}
	}
	b.cells = nil
	return newBody(b.axes, dense, values, present)
}
