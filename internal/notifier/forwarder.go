package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/quote"
)

// DefaultEvents are forwarded when no event list is configured.
var DefaultEvents = []string{"suspended", "download_error"}

var eventKinds = []quote.EventKind{
	quote.QuoteAvailable, quote.SymbolNotFound, quote.DownloadError, quote.Complete, quote.Suspended,
}

// Forwarder turns engine events into notifications. Suspensions go out
// immediately; per-symbol events are collected and sent as one batch when
// the engine's queue drains.
type Forwarder struct {
	registry *Registry
	provider string
	kinds    map[quote.EventKind]bool
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// Only touched from Handle, which the engine calls from one goroutine.
	buffered []Notification
}

// NewForwarder forwards the named event kinds of provider's engine to
// every notifier in reg. An empty list means DefaultEvents.
func NewForwarder(reg *Registry, provider string, events []string, logger *zap.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(events) == 0 {
		events = DefaultEvents
	}

	kinds := make(map[quote.EventKind]bool, len(events))
	for _, name := range events {
		k, ok := parseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
		kinds[k] = true
	}

	return &Forwarder{
		registry: reg,
		provider: provider,
		kinds:    kinds,
		timeout:  30 * time.Second,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func parseKind(name string) (quote.EventKind, bool) {
	for _, k := range eventKinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Handle is a quote.Handler.
func (f *Forwarder) Handle(ev quote.Event) {
	// A cancelled session never drains; send what it left behind once the
	// next session shows up.
	if len(f.buffered) > 0 && ev.Session != "" && f.buffered[0].Session != ev.Session {
		f.flush()
	}

	drained := ev.Kind == quote.Complete && ev.Final
	if !f.kinds[ev.Kind] {
		if drained {
			f.flush()
		}
		return
	}

	n := Notification{
		Kind:     ev.Kind.String(),
		Provider: f.provider,
		Session:  ev.Session,
		Symbol:   ev.Symbol,
		Message:  ev.Message,
		Time:     f.now(),
	}

	switch {
	case ev.PerRequest():
		if ev.Kind == quote.SymbolNotFound {
			n.Message = "symbol not found"
		}
		f.buffered = append(f.buffered, n)
	case ev.Kind == quote.Suspended:
		n.Message = "dispatch resumed"
		if ev.Suspended {
			n.Message = "dispatch paused by request quota"
		}
		f.send([]Notification{n})
	case drained:
		n.Message = "all queued requests resolved"
		f.buffered = append(f.buffered, n)
		f.flush()
	}
}

func (f *Forwarder) flush() {
	if len(f.buffered) == 0 {
		return
	}
	ns := f.buffered
	f.buffered = nil
	f.send(ns)
}

func (f *Forwarder) send(ns []Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var errs map[string]error
	if len(ns) == 1 {
		errs = f.registry.NotifyAll(ctx, ns[0])
	} else {
		errs = f.registry.NotifyAllBatch(ctx, ns)
	}
	for name, err := range errs {
		f.logger.Warn("notification failed",
			zap.String("notifier", name),
			zap.Int("notifications", len(ns)),
			zap.Error(err),
		)
	}
}
