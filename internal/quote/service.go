// Package quote defines the asynchronous quote acquisition contract and the
// engine that implements it on top of a collector.
package quote

import (
	"context"

	"github.com/newthinker/quoted/internal/history"
)

// Service is the provider-neutral quote acquisition contract. Requests are
// fire-and-forget; results arrive as events delivered to subscribers.
type Service interface {
	// BeginFetchQuote queues one symbol. A symbol that is already queued or
	// in flight is coalesced into the pending request.
	BeginFetchQuote(symbol string)

	// BeginFetchQuotes queues several symbols. Providers that cannot batch
	// are served one request per symbol.
	BeginFetchQuotes(symbols []string)

	SupportsBatchQuotes() bool
	SupportsHistory() bool

	// UpdateHistory downloads daily bars for h.Symbol and merges them into
	// h. It returns false with a nil error when the provider does not know
	// the symbol, leaving h untouched.
	UpdateHistory(ctx context.Context, h *history.History) (bool, error)

	// PendingCount reports queued plus in-flight requests.
	PendingCount() int

	// DownloadsCompleted reports requests resolved in the current session.
	// It drops back to zero once the queue drains.
	DownloadsCompleted() int

	// Cancel discards queued and in-flight requests. No further per-request
	// events are delivered for them.
	Cancel()

	// Subscribe registers h for every event emitted after the call. The
	// returned function removes the subscription.
	Subscribe(h Handler) (unsubscribe func())
}
