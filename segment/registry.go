package segment

import (
	"sync"

	"github.com/hupe1980/olapcache/bitkey"
)

// Registry assigns a stable fingerprint position to every column identifier.
//
// Positions are assigned on first use and never reused. One registry must
// be shared by all headers that are compared with each other.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]int
	columns   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{positions: make(map[string]int)}
}

// Position returns the position of column, assigning one if needed.
func (r *Registry) Position(column string) int {
	r.mu.RLock()
	pos, ok := r.positions[column]
	r.mu.RUnlock()
	if ok {
		return pos
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if pos, ok := r.positions[column]; ok {
		return pos
	}
	pos = len(r.columns)
	r.positions[column] = pos
	r.columns = append(r.columns, column)
	return pos
}

// Lookup returns the position of column without assigning one.
func (r *Registry) Lookup(column string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[column]
	return pos, ok
}

// Column returns the column at pos.
func (r *Registry) Column(pos int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pos < 0 || pos >= len(r.columns) {
		return "", false
	}
	return r.columns[pos], true
}

// Len returns the number of registered columns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.columns)
}

// Fingerprint returns a key with the positions of columns set.
func (r *Registry) Fingerprint(columns ...string) *bitkey.Key {
	k := bitkey.MustNew(r.Len())
	for _, c := range columns {
		k.Set(r.Position(c))
	}
	return k
}

// lookupFingerprint is like Fingerprint but skips unknown columns.
func (r *Registry) lookupFingerprint(columns ...string) *bitkey.Key {
	k := bitkey.MustNew(r.Len())
	for _, c := range columns {
		if pos, ok := r.Lookup(c); ok {
			k.Set(pos)
		}
	}
	return k
}
