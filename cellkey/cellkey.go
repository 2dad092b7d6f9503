// Package cellkey provides Key, a fixed-arity tuple of ordinals addressing
// one cell of a segment body.
package cellkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrArityMismatch is returned when an ordinal vector does not match the key's arity.
	ErrArityMismatch = errors.New("cell key arity mismatch")
	// ErrAxisOutOfRange is returned when an axis is outside 0..arity-1.
	ErrAxisOutOfRange = errors.New("cell key axis out of range")
)

// inlineArity is the largest arity stored without a heap allocation.
const inlineArity = 4

// Key is a fixed-arity vector of ordinals.
//
// Keys of arity up to 4 keep their ordinals inline; larger keys use a
// slice. A Key is a value type, but keys of arity above 4 share their
// slice on assignment, so use Copy before handing one to another goroutine.
type Key struct {
	arity  int
	inline [inlineArity]int
	many   []int
}

// New returns a zeroed key of the given arity. It panics if arity is negative.
func New(arity int) Key {
	if arity < 0 {
		panic("cellkey: negative arity " + strconv.Itoa(arity))
	}
	k := Key{arity: arity}
	if arity > inlineArity {
		k.many = make([]int, arity)
	}
	return k
}

// Of returns a key holding a copy of ordinals.
func Of(ordinals ...int) Key {
	k := New(len(ordinals))
	k.copyFrom(ordinals)
	return k
}

func (k *Key) slot() []int {
	if k.many != nil {
		return k.many
	}
	return k.inline[:k.arity]
}

func (k *Key) copyFrom(ordinals []int) {
	copy(k.slot(), ordinals)
}

// Arity returns the number of axes.
func (k Key) Arity() int {
	return k.arity
}

// Get returns the ordinal on axis. It panics when axis is out of range.
func (k Key) Get(axis int) int {
	if axis < 0 || axis >= k.arity {
		panic(fmt.Sprintf("cellkey: axis %d out of range [0,%d)", axis, k.arity))
	}
	return k.slot()[axis]
}

// Set stores value on axis.
func (k *Key) Set(axis, value int) error {
	if axis < 0 || axis >= k.arity {
		return fmt.Errorf("%w: axis %d, arity %d", ErrAxisOutOfRange, axis, k.arity)
	}
	k.slot()[axis] = value
	return nil
}

// Ordinals returns a copy of the ordinals.
func (k Key) Ordinals() []int {
	return append([]int(nil), k.slot()...)
}

// SetOrdinals replaces all ordinals. The vector must have exactly Arity elements.
func (k *Key) SetOrdinals(ordinals []int) error {
	if len(ordinals) != k.arity {
		return fmt.Errorf("%w: got %d ordinals, arity %d", ErrArityMismatch, len(ordinals), k.arity)
	}
	k.copyFrom(ordinals)
	return nil
}

// Copy returns a deep copy.
func (k Key) Copy() Key {
	c := k
	if k.many != nil {
		c.many = append([]int(nil), k.many...)
	}
	return c
}

// Equal reports whether both keys have the same arity and ordinals.
func (k Key) Equal(other Key) bool {
	if k.arity != other.arity {
		return false
	}
	a, b := k.slot(), other.slot()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Offset returns the row-major offset of the key for the given axis
// cardinalities. ok is false if an ordinal falls outside its axis.
func (k Key) Offset(cardinalities []int) (offset int, ok bool) {
	if len(cardinalities) != k.arity {
		return 0, false
	}
	for i, o := range k.slot() {
		if o < 0 || o >= cardinalities[i] {
			return 0, false
		}
		offset = offset*cardinalities[i] + o
	}
	return offset, true
}

// FromOffset is the inverse of Offset.
func FromOffset(offset int, cardinalities []int) Key {
	k := New(len(cardinalities))
	s := k.slot()
	for i := len(cardinalities) - 1; i >= 0; i-- {
		c := cardinalities[i]
		s[i] = offset % c
		offset /= c
	}
	return k
}

// String renders the key as "(1, 2, 3)".
func (k Key) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, o := range k.slot() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(o))
	}
	sb.WriteByte(')')
	return sb.String()
}
