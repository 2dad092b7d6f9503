package segment

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/olapcache/bitkey"
)

// HeaderSpec describes a header before canonicalization.
type HeaderSpec struct {
	Schema      string
	Cube        string
	Measure     string
	Aggregator  Aggregator
	Constraints []ColumnConstraint
	// CompoundPredicates are opaque, already canonical predicate strings
	// spanning several columns. They are part of the header identity.
	CompoundPredicates []string
}

// Header identifies a segment. It is immutable.
type Header struct {
	schema      string
	cube        string
	measure     string
	agg         Aggregator
	constraints []ColumnConstraint
	compound    []string
	fingerprint *bitkey.Key
	key         string
	hash        uint64
}

// NewHeader builds a canonical header. Column positions are assigned in reg.
func NewHeader(reg *Registry, spec HeaderSpec) (*Header, error) {
	if spec.Schema == "" || spec.Cube == "" || spec.Measure == "" {
		return nil, fmt.Errorf("%w: schema=%q cube=%q measure=%q", ErrMissingField, spec.Schema, spec.Cube, spec.Measure)
	}

	constraints := make([]ColumnConstraint, 0, len(spec.Constraints))
	for _, c := range spec.Constraints {
		if c.Column == "" {
			return nil, fmt.Errorf("%w: column name", ErrMissingField)
		}
		if c.Values != nil && len(c.Values) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyConstraint, c.Column)
		}
		constraints = append(constraints, c.canonical())
	}
	slices.SortFunc(constraints, func(a, b ColumnConstraint) int {
		return strings.Compare(a.Column, b.Column)
	})
	for i := 1; i < len(constraints); i++ {
		if constraints[i].Column == constraints[i-1].Column {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, constraints[i].Column)
		}
	}

	compound := slices.Clone(spec.CompoundPredicates)
	slices.Sort(compound)
	compound = slices.Compact(compound)

	h := &Header{
		schema:      spec.Schema,
		cube:        spec.Cube,
		measure:     spec.Measure,
		agg:         spec.Aggregator,
		constraints: constraints,
		compound:    compound,
	}
	h.fingerprint = reg.Fingerprint(h.Columns()...)
	h.key = h.buildKey()
	h.hash = xxhash.Sum64String(h.key)
	return h, nil
}

func (h *Header) buildKey() string {
	var sb strings.Builder
	for _, s := range []string{h.schema, h.cube, h.measure, h.agg.String()} {
		writeQuoted(&sb, s)
		sb.WriteByte('|')
	}
	for _, c := range h.constraints {
		writeQuoted(&sb, c.Column)
		if c.IsWildcard() {
			sb.WriteString("=*")
		} else {
			sb.WriteString("=[")
			for i, v := range c.Values {
				if i > 0 {
					sb.WriteByte(',')
				}
				writeQuoted(&sb, v)
			}
			sb.WriteByte(']')
		}
		sb.WriteByte(';')
	}
	sb.WriteByte('|')
	for _, p := range h.compound {
		writeQuoted(&sb, p)
		sb.WriteByte(';')
	}
	return sb.String()
}

// writeQuoted writes s length-prefixed so that separators inside names
// cannot produce colliding keys.
func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

// Schema returns the schema name.
func (h *Header) Schema() string { return h.schema }

// Cube returns the cube name.
func (h *Header) Cube() string { return h.cube }

// Measure returns the measure name.
func (h *Header) Measure() string { return h.measure }

// Aggregator returns the measure's aggregator.
func (h *Header) Aggregator() Aggregator { return h.agg }

// Key returns the canonical identity string.
func (h *Header) Key() string { return h.key }

// Hash returns a hash of Key.
func (h *Header) Hash() uint64 { return h.hash }

// Fingerprint returns a copy of the column fingerprint.
func (h *Header) Fingerprint() *bitkey.Key { return h.fingerprint.Copy() }

// Constraints returns a copy of the canonical constraints.
func (h *Header) Constraints() []ColumnConstraint {
	out := make([]ColumnConstraint, len(h.constraints))
	for i, c := range h.constraints {
		out[i] = c.clone()
	}
	return out
}

// CompoundPredicates returns a copy of the compound predicates.
func (h *Header) CompoundPredicates() []string {
	return slices.Clone(h.compound)
}

// Columns returns the column names in canonical order.
func (h *Header) Columns() []string {
	cols := make([]string, len(h.constraints))
	for i, c := range h.constraints {
		cols[i] = c.Column
	}
	return cols
}

// Constraint returns the constraint on column.
func (h *Header) Constraint(column string) (ColumnConstraint, bool) {
	i, ok := h.columnIndex(column)
	if !ok {
		return ColumnConstraint{}, false
	}
	return h.constraints[i].clone(), true
}

func (h *Header) columnIndex(column string) (int, bool) {
	return slices.BinarySearchFunc(h.constraints, column, func(c ColumnConstraint, col string) int {
		return strings.Compare(c.Column, col)
	})
}

// Spec returns a HeaderSpec that rebuilds h.
func (h *Header) Spec() HeaderSpec {
	return HeaderSpec{
		Schema:             h.schema,
		Cube:               h.cube,
		Measure:            h.measure,
		Aggregator:         h.agg,
		Constraints:        h.Constraints(),
		CompoundPredicates: h.CompoundPredicates(),
	}
}

// Equal reports whether both headers have the same identity.
func (h *Header) Equal(other *Header) bool {
	if h == other {
		return true
	}
	if other == nil || h.hash != other.hash {
		return false
	}
	return h.key == other.key
}

// SameFamily reports whether h and other describe the same measure of the
// same cube with the same aggregator and compound predicates.
func (h *Header) SameFamily(other *Header) bool {
	return h.schema == other.schema &&
		h.cube == other.cube &&
		h.measure == other.measure &&
		h.agg == other.agg &&
		slices.Equal(h.compound, other.compound)
}

// Matches reports whether a segment with header h can answer req.
//
// The fingerprint of h must be a superset of req's. Every column of req
// must be covered by the same column of h. Columns of h that req does not
// mention must be unconstrained and the aggregator must roll up.
func (h *Header) Matches(req *Header) bool {
	if !h.SameFamily(req) {
		return false
	}
	if !h.fingerprint.IsSuperSetOf(req.fingerprint) {
		return false
	}
	extra := len(h.constraints) != len(req.constraints)
	if extra && !h.agg.CanRollup() {
		return false
	}

	j := 0
	for _, hc := range h.constraints {
		if j < len(req.constraints) && req.constraints[j].Column == hc.Column {
			if !hc.Covers(req.constraints[j]) {
				return false
			}
			j++
			continue
		}
		if !hc.IsWildcard() {
			return false
		}
	}
	return j == len(req.constraints)
}

// Estimate returns the number of cells the header addresses, using
// wildcardCardinality for every unconstrained column.
func (h *Header) Estimate(wildcardCardinality int) float64 {
	n := 1.0
	for _, c := range h.constraints {
		if c.IsWildcard() {
			n *= float64(wildcardCardinality)
		} else {
			n *= float64(len(c.Values))
		}
	}
	return n
}

// Summary renders the constraints compactly for error messages.
func (h *Header) Summary() string {
	parts := make([]string, 0, len(h.constraints)+len(h.compound))
	for _, c := range h.constraints {
		parts = append(parts, c.String())
	}
	parts = append(parts, h.compound...)
	return "{" + strings.Join(parts, " ") + "}"
}

func (h *Header) String() string {
	return fmt.Sprintf("%s.%s.%s(%s)%s", h.schema, h.cube, h.measure, h.agg, h.Summary())
}

// Cover returns the smallest header that matches every header in hs.
//
// Columns are the union of all columns. A column keeps a value list only
// when every header constrains it explicitly; the list is the union.
func Cover(reg *Registry, hs ...*Header) (*Header, error) {
	if len(hs) == 0 {
		return nil, fmt.Errorf("%w: no headers", ErrIncompatibleHeaders)
	}
	first := hs[0]
	if len(hs) == 1 {
		return first, nil
	}

	byColumn := make(map[string]ColumnConstraint)
	for _, h := range hs {
		if !first.SameFamily(h) {
			return nil, fmt.Errorf("%w: %s vs %s", ErrIncompatibleHeaders, first, h)
		}
		for _, c := range h.constraints {
			prev, seen := byColumn[c.Column]
			switch {
			case !seen:
				byColumn[c.Column] = c
			case prev.IsWildcard() || c.IsWildcard():
				byColumn[c.Column] = Wildcard(c.Column)
			default:
				byColumn[c.Column] = ColumnConstraint{Column: c.Column, Values: sortedUnion(prev.Values, c.Values)}
			}
		}
	}
	for _, h := range hs {
		for col := range byColumn {
			if _, ok := h.columnIndex(col); !ok {
				byColumn[col] = Wildcard(col)
			}
		}
	}

	differentColumns := false
	for _, h := range hs {
		if len(h.constraints) != len(byColumn) {
			differentColumns = true
		}
	}
	if differentColumns && !first.agg.CanRollup() {
		return nil, fmt.Errorf("%w: %s cannot roll up", ErrIncompatibleHeaders, first.agg)
	}

	spec := first.Spec()
	spec.Constraints = make([]ColumnConstraint, 0, len(byColumn))
	for _, c := range byColumn {
		spec.Constraints = append(spec.Constraints, c)
	}
	return NewHeader(reg, spec)
}
