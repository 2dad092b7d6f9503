package segment

import (
	"slices"
	"strings"
)

// ColumnConstraint restricts one column to a list of values.
// A nil Values list leaves the column unconstrained.
type ColumnConstraint struct {
	Column string   `json:"column" msgpack:"column"`
	Values []string `json:"values,omitempty" msgpack:"values,omitempty"`
}

// Wildcard returns an unconstrained column.
func Wildcard(column string) ColumnConstraint {
	return ColumnConstraint{Column: column}
}

// In returns a constraint restricting column to values.
func In(column string, values ...string) ColumnConstraint {
	if values == nil {
		values = []string{}
	}
	return ColumnConstraint{Column: column, Values: values}
}

// IsWildcard reports whether the column is unconstrained.
func (c ColumnConstraint) IsWildcard() bool {
	return c.Values == nil
}

// Covers reports whether every value allowed by other is allowed by c.
// Both value lists must be canonical.
func (c ColumnConstraint) Covers(other ColumnConstraint) bool {
	if c.IsWildcard() {
		return true
	}
	if other.IsWildcard() {
		return false
	}
	return sortedSuperset(c.Values, other.Values)
}

// Intersects reports whether c and other allow a common value.
// Both value lists must be canonical.
func (c ColumnConstraint) Intersects(other ColumnConstraint) bool {
	if c.IsWildcard() || other.IsWildcard() {
		return true
	}
	i, j := 0, 0
	for i < len(c.Values) && j < len(other.Values) {
		switch strings.Compare(c.Values[i], other.Values[j]) {
		case 0:
			return true
		case -1:
			i++
		default:
			j++
		}
	}
	return false
}

// Contains reports whether value is allowed.
func (c ColumnConstraint) Contains(value string) bool {
	if c.IsWildcard() {
		return true
	}
	_, ok := slices.BinarySearch(c.Values, value)
	return ok
}

func (c ColumnConstraint) String() string {
	if c.IsWildcard() {
		return c.Column + "=*"
	}
	return c.Column + "=[" + strings.Join(c.Values, ",") + "]"
}

func (c ColumnConstraint) canonical() ColumnConstraint {
	if c.IsWildcard() {
		return c
	}
	values := slices.Clone(c.Values)
	slices.Sort(values)
	return ColumnConstraint{Column: c.Column, Values: slices.Compact(values)}
}

func (c ColumnConstraint) clone() ColumnConstraint {
	if c.IsWildcard() {
		return c
	}
	return ColumnConstraint{Column: c.Column, Values: slices.Clone(c.Values)}
}

// sortedSuperset reports whether sorted list a contains every element of sorted list b.
func sortedSuperset(a, b []string) bool {
	i := 0
	for _, v := range b {
		for i < len(a) && a[i] < v {
			i++
		}
		if i == len(a) || a[i] != v {
			return false
		}
		i++
	}
	return true
}

// sortedUnion merges two sorted, deduplicated lists.
func sortedUnion(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
