package bitkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math/bits"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
)

// ErrInvalidCapacity is returned when a key is created with a negative capacity.
var ErrInvalidCapacity = errors.New("invalid bit key capacity")

// Class identifies the storage layout of a Key.
type Class uint8

const (
	// Small stores up to 64 bits in a single word.
	Small Class = iota
	// Mid stores up to 128 bits in two words.
	Mid
	// Big stores an arbitrary number of words.
	Big
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Small:
		return "small"
	case Mid:
		return "mid"
	case Big:
		return "big"
	default:
		return "Class(" + strconv.Itoa(int(c)) + ")"
	}
}

const (
	wordBits  = 64
	wordShift = 6
	wordMask  = wordBits - 1
)

// Key is a growable bit vector with a size class chosen at construction.
//
// The zero value is an empty Small key.
type Key struct {
	class Class
	w0    uint64
	w1    uint64
	words []uint64 // Big only
}

// New returns an empty key able to hold positions 0..capacity without growing.
func New(capacity int) (*Key, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return newForCapacity(capacity), nil
}

// MustNew is like New but panics on a negative capacity.
func MustNew(capacity int) *Key {
	k, err := New(capacity)
	if err != nil {
		panic(err)
	}
	return k
}

// Of returns a key with the given positions set.
func Of(positions ...int) *Key {
	hi := 0
	for _, p := range positions {
		hi = max(hi, p)
	}
	k := newForCapacity(hi)
	for _, p := range positions {
		k.Set(p)
	}
	return k
}

// FromBitSet returns a key holding the bits of bs.
func FromBitSet(bs *bitset.BitSet) *Key {
	if bs == nil {
		return newForCapacity(0)
	}
	src := bs.Words()
	n := len(src)
	for n > 0 && src[n-1] == 0 {
		n--
	}
	k := newForWords(n)
	for i := 0; i < n; i++ {
		k.setWord(i, src[i])
	}
	return k
}

func newForCapacity(capacity int) *Key {
	switch {
	case capacity < wordBits:
		return &Key{class: Small}
	case capacity < 2*wordBits:
		return &Key{class: Mid}
	default:
		return &Key{class: Big, words: make([]uint64, (capacity>>wordShift)+1)}
	}
}

// newForWords returns the smallest key holding n words.
func newForWords(n int) *Key {
	switch {
	case n <= 1:
		return &Key{class: Small}
	case n == 2:
		return &Key{class: Mid}
	default:
		return &Key{class: Big, words: make([]uint64, n)}
	}
}

// Class returns the storage class of the key.
func (k *Key) Class() Class {
	return k.class
}

// Capacity returns the number of positions the key holds without growing.
func (k *Key) Capacity() int {
	return k.numWords() * wordBits
}

func (k *Key) numWords() int {
	switch k.class {
	case Small:
		return 1
	case Mid:
		return 2
	default:
		return len(k.words)
	}
}

// word returns word i, or zero when i is beyond the key.
func (k *Key) word(i int) uint64 {
	switch k.class {
	case Small:
		if i == 0 {
			return k.w0
		}
		return 0
	case Mid:
		switch i {
		case 0:
			return k.w0
		case 1:
			return k.w1
		}
		return 0
	default:
		if i < len(k.words) {
			return k.words[i]
		}
		return 0
	}
}

func (k *Key) setWord(i int, v uint64) {
	switch k.class {
	case Small:
		k.w0 = v
	case Mid:
		if i == 0 {
			k.w0 = v
		} else {
			k.w1 = v
		}
	default:
		k.words[i] = v
	}
}

// grow promotes the key so that it holds at least n words.
func (k *Key) grow(n int) {
	if n <= k.numWords() {
		return
	}
	switch {
	case n == 2:
		k.class = Mid
	default:
		words := make([]uint64, n)
		for i := 0; i < k.numWords(); i++ {
			words[i] = k.word(i)
		}
		k.class = Big
		k.words = words
		k.w0, k.w1 = 0, 0
	}
}

func checkPos(pos int) {
	if pos < 0 {
		panic("bitkey: negative position " + strconv.Itoa(pos))
	}
}

// Set sets the bit at pos, growing the key if needed.
func (k *Key) Set(pos int) {
	checkPos(pos)
	i := pos >> wordShift
	k.grow(i + 1)
	k.setWord(i, k.word(i)|1<<(uint(pos)&wordMask))
}

// SetTo sets the bit at pos to value.
func (k *Key) SetTo(pos int, value bool) {
	if value {
		k.Set(pos)
		return
	}
	k.Unset(pos)
}

// Unset clears the bit at pos. Positions beyond the capacity are already clear.
func (k *Key) Unset(pos int) {
	checkPos(pos)
	i := pos >> wordShift
	if i >= k.numWords() {
		return
	}
	k.setWord(i, k.word(i)&^(1<<(uint(pos)&wordMask)))
}

// Get reports whether the bit at pos is set.
func (k *Key) Get(pos int) bool {
	checkPos(pos)
	return k.word(pos>>wordShift)&(1<<(uint(pos)&wordMask)) != 0
}

// Clear unsets every bit. The capacity is kept.
func (k *Key) Clear() {
	k.w0, k.w1 = 0, 0
	clear(k.words)
}

// binary combines k and other word by word into a new key whose class is
// the larger of the two. Missing words read as zero.
func (k *Key) binary(other *Key, op func(a, b uint64) uint64) *Key {
	n := max(k.numWords(), other.numWords())
	var r *Key
	if k.class >= other.class {
		r = k.EmptyCopy()
	} else {
		r = other.EmptyCopy()
	}
	r.grow(n)
	for i := 0; i < n; i++ {
		r.setWord(i, op(k.word(i), other.word(i)))
	}
	return r
}

// And returns the intersection of k and other.
func (k *Key) And(other *Key) *Key {
	return k.binary(other, func(a, b uint64) uint64 { return a & b })
}

// Or returns the union of k and other.
func (k *Key) Or(other *Key) *Key {
	return k.binary(other, func(a, b uint64) uint64 { return a | b })
}

// AndNot returns the bits of k that are not set in other.
func (k *Key) AndNot(other *Key) *Key {
	return k.binary(other, func(a, b uint64) uint64 { return a &^ b })
}

// OrNot returns the bits set in exactly one of k and other.
func (k *Key) OrNot(other *Key) *Key {
	return k.binary(other, func(a, b uint64) uint64 { return a ^ b })
}

// Intersects reports whether any bit is set in both keys.
func (k *Key) Intersects(other *Key) bool {
	n := min(k.numWords(), other.numWords())
	for i := 0; i < n; i++ {
		if k.word(i)&other.word(i) != 0 {
			return true
		}
	}
	return false
}

// IsSuperSetOf reports whether every bit set in other is also set in k.
func (k *Key) IsSuperSetOf(other *Key) bool {
	n := other.numWords()
	for i := 0; i < n; i++ {
		if other.word(i)&^k.word(i) != 0 {
			return false
		}
	}
	return true
}

// Cardinality returns the number of set bits.
func (k *Key) Cardinality() int {
	c := 0
	for i := 0; i < k.numWords(); i++ {
		c += bits.OnesCount64(k.word(i))
	}
	return c
}

// IsEmpty reports whether no bit is set.
func (k *Key) IsEmpty() bool {
	for i := 0; i < k.numWords(); i++ {
		if k.word(i) != 0 {
			return false
		}
	}
	return true
}

// NextSetBit returns the first set position at or after from, or -1.
func (k *Key) NextSetBit(from int) int {
	if from < 0 {
		from = 0
	}
	i := from >> wordShift
	n := k.numWords()
	if i >= n {
		return -1
	}
	w := k.word(i) & (^uint64(0) << (uint(from) & wordMask))
	for {
		if w != 0 {
			return i*wordBits + bits.TrailingZeros64(w)
		}
		i++
		if i >= n {
			return -1
		}
		w = k.word(i)
	}
}

// All yields the set positions in ascending order.
func (k *Key) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for p := k.NextSetBit(0); p >= 0; p = k.NextSetBit(p + 1) {
			if !yield(p) {
				return
			}
		}
	}
}

// Positions returns the set positions in ascending order.
func (k *Key) Positions() []int {
	out := make([]int, 0, k.Cardinality())
	for p := range k.All() {
		out = append(out, p)
	}
	return out
}

// Compare orders keys as unsigned big-endian integers.
// It returns -1, 0 or +1 and ignores the size class.
func (k *Key) Compare(other *Key) int {
	for i := max(k.numWords(), other.numWords()) - 1; i >= 0; i-- {
		a, b := k.word(i), other.word(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports whether both keys have the same set bits.
func (k *Key) Equal(other *Key) bool {
	if other == nil {
		return false
	}
	return k.Compare(other) == 0
}

// significantWords returns the number of words up to the highest non-zero one.
func (k *Key) significantWords() int {
	n := k.numWords()
	for n > 0 && k.word(n-1) == 0 {
		n--
	}
	return n
}

// Hash returns a hash of the set bits.
func (k *Key) Hash() uint64 {
	var buf [8]byte
	d := xxhash.New()
	for i := 0; i < k.significantWords(); i++ {
		binary.LittleEndian.PutUint64(buf[:], k.word(i))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Copy returns a deep copy of the key with the same class.
func (k *Key) Copy() *Key {
	c := *k
	if k.words != nil {
		c.words = append([]uint64(nil), k.words...)
	}
	return &c
}

// EmptyCopy returns an empty key with the same class and capacity.
func (k *Key) EmptyCopy() *Key {
	c := &Key{class: k.class}
	if k.class == Big {
		c.words = make([]uint64, len(k.words))
	}
	return c
}

// ToBitSet converts the key to a bitset.BitSet.
func (k *Key) ToBitSet() *bitset.BitSet {
	words := make([]uint64, k.significantWords())
	for i := range words {
		words[i] = k.word(i)
	}
	return bitset.From(words)
}

// BinaryString renders the key as "0x" followed by 64 binary digits per
// word, most significant word first.
func (k *Key) BinaryString() string {
	var sb strings.Builder
	sb.WriteString("0x")
	for i := k.numWords() - 1; i >= 0; i-- {
		s := strconv.FormatUint(k.word(i), 2)
		sb.WriteString(strings.Repeat("0", wordBits-len(s)))
		sb.WriteString(s)
	}
	return sb.String()
}

// String renders the set positions, e.g. "{0, 3, 64}".
func (k *Key) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for p := range k.All() {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(strconv.Itoa(p))
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON encodes the key as a list of set positions.
func (k *Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Positions())
}

// UnmarshalJSON decodes a list of set positions.
func (k *Key) UnmarshalJSON(data []byte) error {
	var positions []int
	if err := json.Unmarshal(data, &positions); err != nil {
		return err
	}
	for _, p := range positions {
		if p < 0 {
			return fmt.Errorf("bitkey: negative position %d", p)
		}
	}
	*k = *Of(positions...)
	return nil
}
