package cellkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArities(t *testing.T) {
	for arity := 0; arity <= 7; arity++ {
		k := New(arity)
		assert.Equal(t, arity, k.Arity())

		ordinals := make([]int, arity)
		for i := range ordinals {
			ordinals[i] = i*10 + 1
		}
		require.NoError(t, k.SetOrdinals(ordinals))
		assert.Equal(t, ordinals, k.Ordinals(), "arity %d", arity)
		for i := range ordinals {
			assert.Equal(t, ordinals[i], k.Get(i))
		}

		// Mutating the returned slice does not affect the key.
		if arity > 0 {
			got := k.Ordinals()
			got[0] = -99
			assert.Equal(t, 1, k.Get(0))
		}
	}
}

func TestSetOrdinalsArityMismatch(t *testing.T) {
	for arity := 0; arity <= 6; arity++ {
		k := New(arity)
		err := k.SetOrdinals(make([]int, arity+1))
		require.ErrorIs(t, err, ErrArityMismatch)
		if arity > 0 {
			require.ErrorIs(t, k.SetOrdinals(make([]int, arity-1)), ErrArityMismatch)
		}
	}
}

func TestSetAxisOutOfRange(t *testing.T) {
	k := New(2)
	require.NoError(t, k.Set(1, 5))
	require.ErrorIs(t, k.Set(2, 5), ErrAxisOutOfRange)
	require.ErrorIs(t, k.Set(-1, 5), ErrAxisOutOfRange)
	assert.Equal(t, 5, k.Get(1))
	assert.Panics(t, func() { k.Get(2) })

	big := New(6)
	require.ErrorIs(t, big.Set(6, 1), ErrAxisOutOfRange)
	require.NoError(t, big.Set(5, 1))
	assert.Equal(t, []int{0, 0, 0, 0, 0, 1}, big.Ordinals())
}

func TestNegativeArityPanics(t *testing.T) {
	assert.Panics(t, func() { New(-1) })
}

func TestCopyAndEqual(t *testing.T) {
	for _, ordinals := range [][]int{{}, {1}, {1, 2}, {1, 2, 3, 4}, {1, 2, 3, 4, 5, 6}} {
		k := Of(ordinals...)
		c := k.Copy()
		assert.True(t, k.Equal(c))
		assert.Equal(t, k.String(), c.String())

		if len(ordinals) > 0 {
			require.NoError(t, c.Set(0, 42))
			assert.False(t, k.Equal(c), "copy must be deep for %v", ordinals)
			assert.Equal(t, 1, k.Get(0))
		}
	}

	assert.False(t, Of(1, 2).Equal(Of(1, 2, 0)))
	assert.True(t, New(3).Equal(Of(0, 0, 0)))
}

func TestOffset(t *testing.T) {
	cards := []int{3, 4, 5}
	seen := make(map[int]bool)
	for a := 0; a < 3; a++ {
		for b := 0; b < 4; b++ {
			for c := 0; c < 5; c++ {
				k := Of(a, b, c)
				off, ok := k.Offset(cards)
				require.True(t, ok)
				assert.False(t, seen[off])
				seen[off] = true
				assert.True(t, FromOffset(off, cards).Equal(k))
			}
		}
	}
	assert.Len(t, seen, 60)

	_, ok := Of(3, 0, 0).Offset(cards)
	assert.False(t, ok)
	_, ok = Of(0, 0).Offset(cards)
	assert.False(t, ok)
}

func TestString(t *testing.T) {
	assert.Equal(t, "()", New(0).String())
	assert.Equal(t, "(1, 2, 3)", Of(1, 2, 3).String())
	assert.Equal(t, "(1, 2, 3, 4, 5)", Of(1, 2, 3, 4, 5).String())
}
