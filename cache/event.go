package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/olapcache/segment"
)

// EventType identifies a cache lifecycle event.
type EventType uint8

const (
	// EntryCreated is published once per successful put.
	EntryCreated EventType = iota + 1
	// EntryDeleted is published once per removal or eviction.
	EntryDeleted
)

func (t EventType) String() string {
	switch t {
	case EntryCreated:
		return "ENTRY_CREATED"
	case EntryDeleted:
		return "ENTRY_DELETED"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// Event describes a change to the composite cache.
type Event struct {
	Type    EventType
	Schema  string
	Cube    string
	Measure string
	Header  *segment.Header
	Time    time.Time
}

// NewEvent returns an event of type t for h.
func NewEvent(t EventType, h *segment.Header) Event {
	return Event{
		Type:    t,
		Schema:  h.Schema(),
		Cube:    h.Cube(),
		Measure: h.Measure(),
		Header:  h,
		Time:    time.Now(),
	}
}

// Listener receives cache events.
type Listener interface {
	Handle(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

// Handle calls f(e).
func (f ListenerFunc) Handle(e Event) { f(e) }

// EventBus delivers events to listeners on a dedicated goroutine.
//
// Publish appends to an unbounded queue and never blocks on listeners.
// Events are delivered in publish order.
type EventBus struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	listeners []*listenerEntry
	nextID    uint64
	closed    bool
	idle      bool
	done      chan struct{}
	logger    *slog.Logger
	onEvent   func(EventType)
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// EventBusOption configures an EventBus.
type EventBusOption func(*EventBus)

// WithEventLogger sets the logger used to report listener panics.
func WithEventLogger(l *slog.Logger) EventBusOption {
	return func(b *EventBus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithEventQueueCapacity preallocates the event queue.
func WithEventQueueCapacity(n int) EventBusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.queue = make([]Event, 0, n)
		}
	}
}

// WithEventHook sets a function called for every dispatched event.
func WithEventHook(fn func(EventType)) EventBusOption {
	return func(b *EventBus) {
		b.onEvent = fn
	}
}

// NewEventBus starts an event bus.
func NewEventBus(opts ...EventBusOption) *EventBus {
	b := &EventBus{
		done:   make(chan struct{}),
		logger: slog.New(slog.DiscardHandler),
		idle:   true,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// AddListener registers l and returns an id for RemoveListener.
func (b *EventBus) AddListener(l Listener) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.listeners = append(b.listeners, &listenerEntry{id: b.nextID, l: l})
	return b.nextID
}

// RemoveListener unregisters the listener with the given id.
// Events already being dispatched may still reach it.
func (b *EventBus) RemoveListener(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.listeners {
		if e.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Publish enqueues e. Events published after Close are dropped.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.queue = append(b.queue, e)
	b.idle = false
	b.cond.Broadcast()
}

// Pending returns the number of queued events.
func (b *EventBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Drain blocks until every event published so far has been delivered.
func (b *EventBus) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.idle {
		b.cond.Wait()
	}
}

// Close delivers the queued events and stops the dispatcher.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.done
}

func (b *EventBus) run() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.idle = true
			b.cond.Broadcast()
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.idle = true
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		listeners := make([]Listener, len(b.listeners))
		for i, le := range b.listeners {
			listeners[i] = le.l
		}
		b.mu.Unlock()

		if b.onEvent != nil {
			b.onEvent(e.Type)
		}
		for _, l := range listeners {
			b.deliver(l, e)
		}
	}
}

func (b *EventBus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("cache listener panicked",
				slog.String("event", e.Type.String()),
				slog.String("header", e.Header.String()),
				slog.Any("panic", r),
			)
		}
	}()
	l.Handle(e)
}
