package collector

import (
	"context"
	"time"

	"github.com/newthinker/quoted/internal/core"
)

// Config holds collector configuration
type Config struct {
	APIKey   string
	MaxBatch int
	Extra    map[string]any
}

// Capabilities are the optional features a collector offers.
type Capabilities struct {
	// Batch means one call can resolve several symbols (FetchQuotes).
	Batch bool
	// History means FetchHistory returns daily bars.
	History bool
	// MaxBatch caps the symbols per FetchQuotes call; 0 means no cap.
	MaxBatch int
}

// Collector is the network client for one quote provider. Implementations
// return core.ErrSymbolNotFound when the provider reports an unknown symbol
// and core.ErrUnsupported for calls outside their Capabilities.
type Collector interface {
	// Metadata
	Name() string
	Capabilities() Capabilities

	// Lifecycle
	Init(cfg Config) error

	// Data fetching
	FetchQuote(ctx context.Context, symbol string) (*core.Quote, error)
	// FetchQuotes returns quotes for the symbols it found; missing symbols
	// are simply absent from the result.
	FetchQuotes(ctx context.Context, symbols []string) ([]core.Quote, error)
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Quote, error)
}

// Keyed is implemented by collectors that authenticate with an API key.
// The engine hands over the provider settings key whenever it changes.
type Keyed interface {
	SetAPIKey(key string)
}
