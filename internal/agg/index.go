package agg

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/hupe1980/olapcache/segment"
)

type entryState uint8

const (
	statePending entryState = iota
	stateReady
)

func (s entryState) String() string {
	if s == stateReady {
		return "READY"
	}
	return "PENDING"
}

// pending is the shared outcome of one load. seg and err are written
// before done is closed.
type pending struct {
	done chan struct{}
	once sync.Once
	seg  *segment.Segment
	err  error
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

// publish wakes the waiters. Only the first outcome counts.
func (p *pending) publish(seg *segment.Segment, err error) {
	p.once.Do(func() {
		p.seg, p.err = seg, err
		close(p.done)
	})
}

type entry struct {
	family string
	key    string
	header *segment.Header
	state  entryState
	load   *pending // nil once READY
}

func familyOf(h *segment.Header) string {
	return strings.Join([]string{h.Schema(), h.Cube(), h.Measure(), h.Aggregator().String()}, "\x00")
}

func lessEntry(a, b *entry) bool {
	if a.family != b.family {
		return a.family < b.family
	}
	return a.key < b.key
}

// index orders entries by family then canonical key so that candidates for
// a request are one contiguous range.
type index struct {
	tree  *btree.BTreeG[*entry]
	byKey map[string]*entry
	ready int
}

func newIndex() *index {
	return &index{
		tree:  btree.NewG(16, lessEntry),
		byKey: make(map[string]*entry),
	}
}

func (x *index) get(key string) *entry {
	return x.byKey[key]
}

// find returns an entry that can answer req, preferring READY entries.
func (x *index) find(req *segment.Header) *entry {
	if e := x.byKey[req.Key()]; e != nil && e.state == stateReady {
		return e
	}

	family := familyOf(req)
	var found *entry
	x.tree.AscendGreaterOrEqual(&entry{family: family}, func(e *entry) bool {
		if e.family != family {
			return false
		}
		if !e.header.Matches(req) {
			return true
		}
		if found == nil || (found.state == statePending && e.state == stateReady) {
			found = e
		}
		return found.state != stateReady
	})
	return found
}

// insert adds e unless an entry with the same key exists. Two headers with
// the same key must carry the same fingerprint.
func (x *index) insert(e *entry) bool {
	if prev, ok := x.byKey[e.key]; ok {
		if !prev.header.Fingerprint().Equal(e.header.Fingerprint()) {
			panic(fmt.Errorf("%w: header %s indexed with fingerprints %s and %s",
				ErrInvariantViolation, e.key, prev.header.Fingerprint(), e.header.Fingerprint()))
		}
		return false
	}
	x.byKey[e.key] = e
	x.tree.ReplaceOrInsert(e)
	if e.state == stateReady {
		x.ready++
	}
	return true
}

func (x *index) markReady(e *entry) {
	if e.state == stateReady {
		return
	}
	e.state = stateReady
	e.load = nil
	x.ready++
}

func (x *index) remove(e *entry) {
	if x.byKey[e.key] != e {
		return
	}
	delete(x.byKey, e.key)
	x.tree.Delete(e)
	if e.state == stateReady {
		x.ready--
	}
}

// removeReady drops every READY entry that overlaps r and returns their
// headers. PENDING entries stay.
func (x *index) removeReady(reg *segment.Registry, r segment.Region) []*segment.Header {
	var victims []*entry
	x.tree.Ascend(func(e *entry) bool {
		if e.state == stateReady && e.header.Overlaps(reg, r) {
			victims = append(victims, e)
		}
		return true
	})
	out := make([]*segment.Header, len(victims))
	for i, e := range victims {
		x.remove(e)
		out[i] = e.header
	}
	return out
}

func (x *index) len() int { return len(x.byKey) }
