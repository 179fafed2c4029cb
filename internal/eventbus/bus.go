package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process notification. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published in this process.
const (
	TypeTaskStarted  = "task.started"
	TypeTaskFinished = "task.finished"
	TypeTaskFailed   = "task.failed"
	TypeTaskDropped  = "task.dropped"

	// TypeDomain carries a DomainEvent from the host application.
	TypeDomain = "domain.event"
	// TypeJobsReloaded is published after the job set was replaced from disk.
	TypeJobsReloaded = "jobs.reloaded"
)

// DomainEvent is an application event that may fire event triggers.
type DomainEvent struct {
	ID       int               `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Reload describes a jobs file reload.
type Reload struct {
	Path  string `json:"path"`
	Jobs  int    `json:"jobs"`
	Error string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Handle calls fn synchronously from Publish for every event of type typ.
	// Handlers never miss an event; a slow handler slows its publisher.
	Handle(typ string, fn func(Event)) (unregister func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type handler struct {
	id  uint64
	typ string
	fn  func(Event)
}

type subscriber struct {
	ch chan Event
}

type memBus struct {
	// mu is held for reading across the non-blocking sends so unsubscribe
	// cannot close a channel mid-send.
	mu   sync.RWMutex
	subs     map[uint64]*subscriber
	handlers []handler
	next     uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
	var fns []func(Event)
	for _, h := range b.handlers {
		if h.typ == e.Type {
			fns = append(fns, h.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (b *memBus) Handle(typ string, fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	b.handlers = append(b.handlers, handler{id: id, typ: typ, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}
