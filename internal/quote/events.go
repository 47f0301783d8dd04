package quote

import (
	"sync"
	"sync/atomic"

	"github.com/newthinker/quoted/internal/core"
)

// EventKind identifies an event.
type EventKind int

const (
	QuoteAvailable EventKind = iota + 1
	SymbolNotFound
	DownloadError
	Complete
	Suspended
)

func (k EventKind) String() string {
	switch k {
	case QuoteAvailable:
		return "quote_available"
	case SymbolNotFound:
		return "symbol_not_found"
	case DownloadError:
		return "download_error"
	case Complete:
		return "complete"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Event is a notification emitted by the engine.
type Event struct {
	Kind    EventKind
	Session string // dispatch session that produced the event

	Quote   core.Quote // QuoteAvailable
	Symbol  string     // QuoteAvailable, SymbolNotFound, DownloadError
	Message string     // DownloadError

	Final     bool // Complete: the queue has drained
	Suspended bool // Suspended: dispatch paused (true) or resumed (false)

	generation uint64
}

// PerRequest reports whether the event resolves a single symbol request.
func (e Event) PerRequest() bool {
	switch e.Kind {
	case QuoteAvailable, SymbolNotFound, DownloadError:
		return true
	}
	return false
}

// Handler receives events. Each subscriber's handler runs on its own
// goroutine and sees its events in emission order.
type Handler func(Event)

type broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	// per-request events older than cutoff are dropped at delivery
	cutoff atomic.Uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uint64]*subscriber)}
}

type subscriber struct {
	handler Handler
	cutoff  *atomic.Uint64

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	done   chan struct{}
	closed sync.Once
}

func (b *broadcaster) subscribe(h Handler) func() {
	s := &subscriber{
		handler: h,
		cutoff:  &b.cutoff,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
}

// publish queues ev for every subscriber without blocking on handlers.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(ev)
	}
}

// discard drops per-request events of generations before gen, both those
// already queued and those published late.
func (b *broadcaster) discard(gen uint64) {
	b.cutoff.Store(gen)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.prune(gen)
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) prune(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.queue[:0]
	for _, ev := range s.queue {
		if ev.PerRequest() && ev.generation < gen {
			continue
		}
		kept = append(kept, ev)
	}
	s.queue = kept
}

func (s *subscriber) stop() {
	s.closed.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			if ev.PerRequest() && ev.generation < s.cutoff.Load() {
				continue
			}
			s.handler(ev)
		}
	}
}
