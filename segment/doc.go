// Package segment defines the materialized unit of the aggregate cache.
//
// A Segment pairs an immutable Header, which identifies a rectangular
// slice of one measure over a set of column constraints, with a Body
// holding the cell values addressed by cellkey.Key.
//
// # Headers
//
// Headers are canonical: columns are sorted, value lists are sorted and
// deduplicated, and compound predicates are sorted. Two headers built from
// the same constraints in a different order have the same Key and Hash.
//
// Every header carries a fingerprint, a bitkey.Key with one bit per column
// present in the header. Bits are assigned by a Registry shared by all
// headers of one engine. Matching a request against a cached header tests
// the fingerprints first and compares value lists only when the cheap test
// passes:
//
//	if cached.Matches(request) {
//	    sliced, err := seg.Slice(request)
//	}
//
// # Bodies
//
// A Body stores values densely (a value per coordinate) or sparsely (a
// value per populated coordinate). Builder picks the layout from the
// observed fill ratio. Populated coordinates are tracked with a roaring
// bitmap over row-major offsets in both layouts.
package segment
