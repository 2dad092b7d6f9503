package agg

import "github.com/hupe1980/olapcache/segment"

const (
	// DefaultRowMultiplier is the default bound on covering batch growth.
	DefaultRowMultiplier = 2.0
	// DefaultWildcardCardinality is the cardinality assumed for an
	// unconstrained column when estimating rows.
	DefaultWildcardCardinality = 100
)

// MergePolicy decides whether requests may share one covering fetch.
type MergePolicy interface {
	// Accept reports whether cover may be fetched in place of members.
	Accept(members []*segment.Header, cover *segment.Header) bool
}

// MergePolicyFunc adapts a function to MergePolicy.
type MergePolicyFunc func(members []*segment.Header, cover *segment.Header) bool

// Accept calls f.
func (f MergePolicyFunc) Accept(members []*segment.Header, cover *segment.Header) bool {
	return f(members, cover)
}

// RowMultiplierPolicy accepts a merge while the covering row estimate stays
// within Multiplier times the sum of the member estimates.
type RowMultiplierPolicy struct {
	Multiplier          float64
	WildcardCardinality int
}

// DefaultMergePolicy returns a RowMultiplierPolicy with default settings.
func DefaultMergePolicy() RowMultiplierPolicy {
	return RowMultiplierPolicy{
		Multiplier:          DefaultRowMultiplier,
		WildcardCardinality: DefaultWildcardCardinality,
	}
}

// Accept implements MergePolicy.
func (p RowMultiplierPolicy) Accept(members []*segment.Header, cover *segment.Header) bool {
	wc := p.WildcardCardinality
	if wc <= 0 {
		wc = DefaultWildcardCardinality
	}
	sum := 0.0
	for _, h := range members {
		sum += h.Estimate(wc)
	}
	return cover.Estimate(wc) <= p.Multiplier*sum
}

// NoMerge never merges; every distinct request is fetched on its own.
type NoMerge struct{}

// Accept implements MergePolicy.
func (NoMerge) Accept([]*segment.Header, *segment.Header) bool { return false }
