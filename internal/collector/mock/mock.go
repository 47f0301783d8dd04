// Package mock provides an in-memory collector for tests and offline runs.
// Quotes, failures, latency and blocking are scripted per symbol.
package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
)

// Call records one provider invocation.
type Call struct {
	Method  string
	Symbols []string
}

// Collector implements collector.Collector from scripted data.
type Collector struct {
	mu sync.Mutex

	name     string
	caps     collector.Capabilities
	quotes   map[string]core.Quote
	history  map[string][]core.Quote
	failures map[string]error
	delay    time.Duration
	gate     chan struct{}
	generate bool
	calls    []Call
	now      func() time.Time
}

// New creates an empty mock collector.
func New(name string, caps collector.Capabilities) *Collector {
	return &Collector{
		name:     name,
		caps:     caps,
		quotes:   make(map[string]core.Quote),
		history:  make(map[string][]core.Quote),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// NewSynthetic creates a collector that answers for any symbol with
// deterministic made-up prices.
func NewSynthetic() *Collector {
	c := New("mock", collector.Capabilities{Batch: true, History: true, MaxBatch: 50})
	c.generate = true
	return c
}

func (c *Collector) Name() string { return c.name }

func (c *Collector) Capabilities() collector.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

func (c *Collector) Init(cfg collector.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.MaxBatch > 0 {
		c.caps.MaxBatch = cfg.MaxBatch
	}
	return nil
}

// SetQuote makes symbol known, answering with q.
func (c *Collector) SetQuote(q core.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Symbol] = q
}

// SetHistory makes symbol known with the given daily bars.
func (c *Collector) SetHistory(symbol string, quotes []core.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[symbol] = quotes
}

// Fail makes every request touching symbol return err.
func (c *Collector) Fail(symbol string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[symbol] = err
}

// SetDelay adds latency to every call.
func (c *Collector) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Block makes calls wait until the returned release func is called or
// their context ends.
func (c *Collector) Block() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.gate == gate {
				c.gate = nil
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns a copy of the recorded invocations.
func (c *Collector) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (c *Collector) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Collector) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	if err := c.enter(ctx, "FetchQuote", []string{symbol}); err != nil {
		return nil, err
	}
	q, err := c.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Collector) FetchQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	if !c.Capabilities().Batch {
		return nil, core.ErrUnsupported
	}
	if err := c.enter(ctx, "FetchQuotes", symbols); err != nil {
		return nil, err
	}

	result := make([]core.Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := c.lookup(s)
		if err != nil {
			if errors.Is(err, core.ErrSymbolNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, q)
	}
	return result, nil
}

func (c *Collector) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Quote, error) {
	if !c.Capabilities().History {
		return nil, core.ErrUnsupported
	}
	if err := c.enter(ctx, "FetchHistory", []string{symbol}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	bars, ok := c.history[symbol]
	err := c.failures[symbol]
	generate := c.generate
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		if !generate {
			return nil, core.ErrSymbolNotFound
		}
		bars = c.synthesizeRange(symbol, start, end)
	}

	result := make([]core.Quote, 0, len(bars))
	for _, q := range bars {
		if q.Date.Before(start) || q.Date.After(end) {
			continue
		}
		result = append(result, q)
	}
	return result, nil
}

// enter records the call and applies the scripted latency and gate.
func (c *Collector) enter(ctx context.Context, method string, symbols []string) error {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: method, Symbols: append([]string(nil), symbols...)})
	delay := c.delay
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (c *Collector) lookup(symbol string) (core.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[symbol]; ok {
		return core.Quote{}, err
	}
	if q, ok := c.quotes[symbol]; ok {
		q.Downloaded = c.now()
		return q, nil
	}
	if c.generate {
		now := c.now()
		return synthesize(symbol, core.TradeDay(now), now), nil
	}
	return core.Quote{}, core.ErrSymbolNotFound
}

func (c *Collector) synthesizeRange(symbol string, start, end time.Time) []core.Quote {
	now := c.now()
	var bars []core.Quote
	for d := core.TradeDay(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		bars = append(bars, synthesize(symbol, d, now))
	}
	return bars
}

// synthesize derives a stable bar from the symbol and date.
func synthesize(symbol string, date, downloaded time.Time) core.Quote {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := int64(h.Sum32()%50000) + 1000
	drift := date.Unix() / 86400 % 500

	closePrice := decimal.New(seed+drift, -2)
	return core.Quote{
		Symbol:     symbol,
		Name:       symbol,
		Date:       date,
		Open:       closePrice.Sub(decimal.New(25, -2)),
		Close:      closePrice,
		High:       closePrice.Add(decimal.New(50, -2)),
		Low:        closePrice.Sub(decimal.New(50, -2)),
		Volume:     decimal.NewFromInt(seed * 100),
		Downloaded: downloaded,
	}
}
