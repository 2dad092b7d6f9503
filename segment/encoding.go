package segment

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/olapcache/codec"
)

type headerWire struct {
	Schema             string             `json:"schema" msgpack:"schema"`
	Cube               string             `json:"cube" msgpack:"cube"`
	Measure            string             `json:"measure" msgpack:"measure"`
	Aggregator         string             `json:"aggregator" msgpack:"aggregator"`
	Constraints        []ColumnConstraint `json:"constraints,omitempty" msgpack:"constraints,omitempty"`
	CompoundPredicates []string           `json:"compound_predicates,omitempty" msgpack:"compound_predicates,omitempty"`
}

type bodyWire struct {
	Axes    []Axis    `json:"axes" msgpack:"axes"`
	Dense   bool      `json:"dense" msgpack:"dense"`
	Values  []float64 `json:"values" msgpack:"values"`
	Present []byte    `json:"present" msgpack:"present"`
}

// MarshalHeader encodes h with c. The fingerprint is not encoded because
// bit positions are local to a Registry.
func MarshalHeader(c codec.Codec, h *Header) ([]byte, error) {
	return c.Marshal(headerWire{
		Schema:             h.schema,
		Cube:               h.cube,
		Measure:            h.measure,
		Aggregator:         h.agg.String(),
		Constraints:        h.constraints,
		CompoundPredicates: h.compound,
	})
}

// UnmarshalHeader decodes a header and recomputes its fingerprint in reg.
func UnmarshalHeader(c codec.Codec, reg *Registry, data []byte) (*Header, error) {
	var w headerWire
	if err := c.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode header (%s): %w", c.Name(), err)
	}
	agg, err := ParseAggregator(w.Aggregator)
	if err != nil {
		return nil, err
	}
	return NewHeader(reg, HeaderSpec{
		Schema:             w.Schema,
		Cube:               w.Cube,
		Measure:            w.Measure,
		Aggregator:         agg,
		Constraints:        w.Constraints,
		CompoundPredicates: w.CompoundPredicates,
	})
}

// MarshalBody encodes b with c.
func MarshalBody(c codec.Codec, b *Body) ([]byte, error) {
	present, err := b.present.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode presence bitmap: %w", err)
	}
	return c.Marshal(bodyWire{
		Axes:    b.axes,
		Dense:   b.dense,
		Values:  b.values,
		Present: present,
	})
}

// UnmarshalBody decodes a body encoded by MarshalBody.
func UnmarshalBody(c codec.Codec, data []byte) (*Body, error) {
	var w bodyWire
	if err := c.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode body (%s): %w", c.Name(), err)
	}
	present := roaring.New()
	if err := present.UnmarshalBinary(w.Present); err != nil {
		return nil, fmt.Errorf("decode presence bitmap: %w", err)
	}

	total := uint64(1)
	for i := range w.Axes {
		if w.Axes[i].Values == nil {
			w.Axes[i].Values = []string{}
		}
		total *= uint64(len(w.Axes[i].Values))
	}
	n := present.GetCardinality()
	switch {
	case w.Dense && uint64(len(w.Values)) != total:
		return nil, fmt.Errorf("%w: dense body has %d values for %d cells", ErrAxisMismatch, len(w.Values), total)
	case !w.Dense && uint64(len(w.Values)) != n:
		return nil, fmt.Errorf("%w: sparse body has %d values for %d cells", ErrAxisMismatch, len(w.Values), n)
	case n > 0 && uint64(present.Maximum()) >= total:
		return nil, fmt.Errorf("%w: offset %d beyond %d cells", ErrOrdinalOutOfRange, present.Maximum(), total)
	}
	return newBody(w.Axes, w.Dense, w.Values, present), nil
}
