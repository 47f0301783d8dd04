package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/history"
	"github.com/newthinker/quoted/internal/metrics"
	"github.com/newthinker/quoted/internal/ratelimit"
	"github.com/newthinker/quoted/internal/settings"
)

const (
	modeSingle = "single"
	modeBatch  = "batch"
)

// Config holds engine configuration
type Config struct {
	Workers      int               `mapstructure:"workers"`
	MaxBatch     int               `mapstructure:"max_batch"`
	HistoryYears int               `mapstructure:"history_years"`
	Windows      ratelimit.Windows `mapstructure:"-"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxBatch:     100,
		HistoryYears: 20,
		Windows:      ratelimit.DefaultWindows(),
	}
}

// Engine implements Service for one collector. A single dispatcher goroutine
// runs while symbols are queued and stops when the queue drains.
type Engine struct {
	cfg       Config
	collector collector.Collector
	caps      collector.Capabilities
	settings  *settings.ProviderSettings
	limiter   *ratelimit.Limiter
	events    *broadcaster
	logger    *zap.Logger
	store     *history.Store
	metrics   *metrics.Registry
	now       func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	queue      []string
	pending    map[string]struct{} // queued or in flight
	completed  int
	generation uint64
	session    string
	genCtx     context.Context
	genCancel  context.CancelFunc
	running    bool
	suspended  bool
	closed     bool
}

var _ Service = (*Engine)(nil)

// NewEngine creates an engine dispatching to c under the quotas in s.
func NewEngine(c collector.Collector, s *settings.ProviderSettings, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s == nil {
		s = settings.New(c.Name())
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.HistoryYears <= 0 {
		cfg.HistoryYears = def.HistoryYears
	}

	caps := c.Capabilities()
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if caps.MaxBatch > 0 && caps.MaxBatch < cfg.MaxBatch {
		cfg.MaxBatch = caps.MaxBatch
	}

	if k, ok := c.(collector.Keyed); ok {
		if key := s.APIKey(); key != "" {
			k.SetAPIKey(key)
		}
		s.OnChange(func(f settings.Field) {
			if f == settings.FieldAPIKey {
				k.SetAPIKey(s.APIKey())
			}
		})
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	genCtx, genCancel := context.WithCancel(baseCtx)

	return &Engine{
		cfg:        cfg,
		collector:  c,
		caps:       caps,
		settings:   s,
		limiter:    ratelimit.New(s, cfg.Windows),
		events:     newBroadcaster(),
		logger:     logger.With(zap.String("provider", c.Name())),
		now:        time.Now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		pending:    make(map[string]struct{}),
		genCtx:     genCtx,
		genCancel:  genCancel,
	}
}

// SetHistoryStore makes the engine fold every delivered quote into store.
func (e *Engine) SetHistoryStore(store *history.Store) {
	e.store = store
}

// SetMetrics sets the metrics registry
func (e *Engine) SetMetrics(reg *metrics.Registry) {
	e.metrics = reg
}

// Provider returns the collector name.
func (e *Engine) Provider() string {
	return e.collector.Name()
}

// Settings returns the provider settings the engine reads its quotas from.
func (e *Engine) Settings() *settings.ProviderSettings {
	return e.settings
}

func (e *Engine) SupportsBatchQuotes() bool { return e.caps.Batch }
func (e *Engine) SupportsHistory() bool     { return e.caps.History }

// Subscribe registers h for events emitted after the call.
func (e *Engine) Subscribe(h Handler) func() {
	return e.events.subscribe(h)
}

// BeginFetchQuote queues one symbol.
func (e *Engine) BeginFetchQuote(symbol string) {
	e.enqueue([]string{symbol})
}

// BeginFetchQuotes queues several symbols.
func (e *Engine) BeginFetchQuotes(symbols []string) {
	e.enqueue(symbols)
}

// PendingCount reports queued plus in-flight requests.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// DownloadsCompleted reports requests resolved in the current session.
func (e *Engine) DownloadsCompleted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Status is a point-in-time view of the engine.
type Status struct {
	Provider           string `json:"provider"`
	Session            string `json:"session,omitempty"`
	Pending            int    `json:"pending"`
	DownloadsCompleted int    `json:"downloads_completed"`
	Suspended          bool   `json:"suspended"`
	Batch              bool   `json:"batch"`
	History            bool   `json:"history"`
	RequestsLastMinute int    `json:"requests_last_minute"`
	RequestsLastDay    int    `json:"requests_last_day"`
	RequestsLastMonth  int    `json:"requests_last_month"`
}

// Status returns the current engine state.
func (e *Engine) Status() Status {
	minute, day, month := e.limiter.Counts()

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Provider:           e.collector.Name(),
		Session:            e.session,
		Pending:            len(e.pending),
		DownloadsCompleted: e.completed,
		Suspended:          e.suspended,
		Batch:              e.caps.Batch,
		History:            e.caps.History,
		RequestsLastMinute: minute,
		RequestsLastDay:    day,
		RequestsLastMonth:  month,
	}
}

// Cancel discards queued and in-flight requests.
func (e *Engine) Cancel() {
	e.mu.Lock()
	dropped := len(e.pending)
	e.generation++
	e.genCancel()
	e.genCtx, e.genCancel = context.WithCancel(e.baseCtx)
	e.queue = nil
	e.pending = make(map[string]struct{})
	e.completed = 0
	e.session = ""
	e.events.discard(e.generation)
	e.mu.Unlock()

	e.metrics.SetPending(e.collector.Name(), 0)
	if dropped > 0 {
		e.logger.Info("requests cancelled", zap.Int("dropped", dropped))
	}
}

// Close cancels all work and stops event delivery.
func (e *Engine) Close() {
	e.Cancel()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.baseCancel()
	e.events.close()
}

func (e *Engine) enqueue(symbols []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	added := 0
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		if _, ok := e.pending[symbol]; ok {
			e.logger.Debug("request coalesced", zap.String("symbol", symbol))
			continue
		}
		e.pending[symbol] = struct{}{}
		e.queue = append(e.queue, symbol)
		added++
	}
	if added == 0 {
		return
	}

	if e.session == "" {
		e.session = uuid.NewString()
	}
	e.metrics.SetPending(e.collector.Name(), len(e.pending))
	e.logger.Debug("symbols queued",
		zap.Int("added", added),
		zap.Int("pending", len(e.pending)),
		zap.String("session", e.session),
	)

	if !e.running {
		e.running = true
		go e.dispatch()
	}
}

// dispatch drains the queue one wave at a time.
func (e *Engine) dispatch() {
	for {
		e.mu.Lock()
		if e.closed || len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		gen := e.generation
		ctx := e.genCtx
		session := e.session
		batch := e.caps.Batch && len(e.queue) > 1
		e.mu.Unlock()

		start := time.Now()
		mode := modeSingle
		var wave []string
		if batch {
			mode = modeBatch
			wave = e.batchWave(ctx, gen, session)
		} else {
			wave = e.singleWave(ctx, gen, session)
		}
		if len(wave) > 0 {
			e.metrics.RecordWave(e.collector.Name(), mode, time.Since(start).Seconds())
		}

		e.finishWave(gen, session, wave)
	}
}

// take removes up to n symbols from the head of the queue if gen is still
// current. The symbols stay pending until their wave finishes.
func (e *Engine) take(gen uint64, n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || len(e.queue) == 0 {
		return nil
	}
	if n > len(e.queue) {
		n = len(e.queue)
	}
	wave := make([]string, n)
	copy(wave, e.queue[:n])
	e.queue = e.queue[n:]
	return wave
}

// queued reports whether gen is current and has symbols waiting.
func (e *Engine) queued(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation && len(e.queue) > 0
}

func (e *Engine) batchWave(ctx context.Context, gen uint64, session string) []string {
	if err := e.acquire(ctx, gen, session); err != nil {
		return nil
	}
	wave := e.take(gen, e.cfg.MaxBatch)
	if len(wave) == 0 {
		e.limiter.Release()
		return nil
	}

	e.metrics.RecordDispatch(e.collector.Name(), modeBatch, len(wave))
	e.logger.Debug("batch dispatched", zap.Int("symbols", len(wave)), zap.String("session", session))

	quotes, err := e.collector.FetchQuotes(ctx, wave)
	if err != nil {
		for _, symbol := range wave {
			e.resolve(gen, session, symbol, nil, err)
		}
		return wave
	}

	bySymbol := make(map[string]*core.Quote, len(quotes))
	for i := range quotes {
		bySymbol[strings.ToUpper(quotes[i].Symbol)] = &quotes[i]
	}
	for _, symbol := range wave {
		q, ok := bySymbol[strings.ToUpper(symbol)]
		if !ok {
			e.resolve(gen, session, symbol, nil, core.ErrSymbolNotFound)
			continue
		}
		e.resolve(gen, session, symbol, q, nil)
	}
	return wave
}

func (e *Engine) singleWave(ctx context.Context, gen uint64, session string) []string {
	if err := e.acquire(ctx, gen, session); err != nil {
		return nil
	}
	wave := e.take(gen, 1)
	if len(wave) == 0 {
		e.limiter.Release()
		return nil
	}
	// Extra permits are only reserved for symbols still waiting.
	for len(wave) < e.cfg.Workers && e.queued(gen) {
		if ok, _ := e.limiter.Reserve(); !ok {
			break
		}
		next := e.take(gen, 1)
		if len(next) == 0 {
			e.limiter.Release()
			break
		}
		wave = append(wave, next...)
	}

	p := pool.New().WithMaxGoroutines(e.cfg.Workers)
	for _, symbol := range wave {
		e.metrics.RecordDispatch(e.collector.Name(), modeSingle, 1)
		p.Go(func() {
			q, err := e.collector.FetchQuote(ctx, symbol)
			if err == nil && q == nil {
				err = core.WrapError(core.ErrDownloadFailed, errors.New("empty response"))
			}
			e.resolve(gen, session, symbol, q, err)
		})
	}
	p.Wait()
	return wave
}

// acquire takes a rate limit permit, pausing with Suspended events when the
// quotas are exhausted.
func (e *Engine) acquire(ctx context.Context, gen uint64, session string) error {
	return e.limiter.Wait(ctx, func(suspended bool) {
		e.setSuspended(gen, session, suspended)
	})
}

// setSuspended records the pause state. A cancelled generation only clears
// the state; its events are not published.
func (e *Engine) setSuspended(gen uint64, session string, suspended bool) {
	e.mu.Lock()
	if gen != e.generation || e.closed {
		e.suspended = false
		e.mu.Unlock()
		e.metrics.SetSuspended(e.collector.Name(), false)
		return
	}
	e.suspended = suspended
	e.events.publish(Event{Kind: Suspended, Session: session, Suspended: suspended})
	e.mu.Unlock()

	e.metrics.SetSuspended(e.collector.Name(), suspended)
	if suspended {
		minute, day, month := e.limiter.Counts()
		e.logger.Info("dispatch suspended by rate limit",
			zap.Int("last_minute", minute),
			zap.Int("last_day", day),
			zap.Int("last_month", month),
		)
	} else {
		e.logger.Info("dispatch resumed")
	}
}

// resolve emits the outcome of one symbol request unless its generation was
// cancelled in the meantime.
func (e *Engine) resolve(gen uint64, session, symbol string, q *core.Quote, err error) {
	ev := Event{Session: session, Symbol: symbol, generation: gen}
	outcome := "quote"
	switch {
	case err == nil:
		ev.Kind = QuoteAvailable
		ev.Quote = *q
		if ev.Quote.Symbol == "" {
			ev.Quote.Symbol = symbol
		}
		if ev.Quote.Downloaded.IsZero() {
			ev.Quote.Downloaded = e.now()
		}
	case errors.Is(err, core.ErrSymbolNotFound):
		ev.Kind = SymbolNotFound
		outcome = "not_found"
	default:
		ev.Kind = DownloadError
		ev.Message = fmt.Sprintf("%s: %v", symbol, err)
		outcome = "error"
	}

	if !e.current(gen) {
		return
	}
	// A quote is stored before it is announced.
	if ev.Kind == QuoteAvailable {
		e.record(ev.Quote)
	}

	e.mu.Lock()
	if gen != e.generation || e.closed {
		e.mu.Unlock()
		return
	}
	e.completed++
	e.events.publish(ev)
	e.mu.Unlock()

	e.metrics.RecordResolution(e.collector.Name(), outcome)

	switch ev.Kind {
	case DownloadError:
		e.logger.Warn("quote download failed", zap.String("symbol", symbol), zap.Error(err))
	case SymbolNotFound:
		e.logger.Info("symbol not found", zap.String("symbol", symbol))
	}
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation && !e.closed
}

func (e *Engine) record(q core.Quote) {
	if e.store == nil {
		return
	}
	if err := e.store.Record(e.baseCtx, q); err != nil {
		e.metrics.RecordHistorySave("error")
		e.logger.Error("failed to persist quote", zap.String("symbol", q.Symbol), zap.Error(err))
		return
	}
	e.metrics.RecordHistorySave("success")
}

// finishWave releases the wave's symbols and emits Complete. The pending
// count and the Complete event change in the same critical section.
func (e *Engine) finishWave(gen uint64, session string, wave []string) {
	e.mu.Lock()
	if gen != e.generation || e.closed || len(wave) == 0 {
		e.mu.Unlock()
		return
	}
	for _, symbol := range wave {
		delete(e.pending, symbol)
	}
	final := len(e.queue) == 0
	e.events.publish(Event{Kind: Complete, Session: session, Final: final})
	completed := e.completed
	if final {
		e.completed = 0
		e.session = ""
	}
	pending := len(e.pending)
	e.mu.Unlock()

	e.metrics.SetPending(e.collector.Name(), pending)
	if final {
		e.logger.Info("downloads complete",
			zap.Int("resolved", completed),
			zap.String("session", session),
		)
	}
}

// UpdateHistory downloads daily bars for h.Symbol and merges them into h.
// An already complete history is only extended from its last stored date.
func (e *Engine) UpdateHistory(ctx context.Context, h *history.History) (bool, error) {
	if !e.caps.History {
		return false, core.ErrUnsupported
	}
	if h == nil || strings.TrimSpace(h.Symbol) == "" {
		return false, core.WrapError(core.ErrSymbolNotFound, errors.New("empty symbol"))
	}

	end := e.now()
	start := end.AddDate(-e.cfg.HistoryYears, 0, 0)
	if h.Complete && h.Len() > 0 {
		start = h.LastDate()
	}

	e.mu.Lock()
	session := e.session
	gen := e.generation
	e.mu.Unlock()

	if err := e.acquire(ctx, gen, session); err != nil {
		return false, err
	}

	provider := e.collector.Name()
	e.metrics.RecordDispatch(provider, "history", 1)
	bars, err := e.collector.FetchHistory(ctx, h.Symbol, start, end)
	if err != nil {
		if errors.Is(err, core.ErrSymbolNotFound) {
			e.metrics.RecordHistoryUpdate(provider, "not_found")
			e.logger.Info("history symbol not found", zap.String("symbol", h.Symbol))
			return false, nil
		}
		e.metrics.RecordHistoryUpdate(provider, "error")
		if errors.Is(err, core.ErrDownloadFailed) {
			return false, err
		}
		return false, core.WrapError(core.ErrDownloadFailed, fmt.Errorf("history %s: %w", h.Symbol, err))
	}

	downloaded := e.now()
	fresh := history.New(h.Symbol)
	for _, bar := range bars {
		bar.Symbol = h.Symbol
		if bar.Downloaded.IsZero() {
			bar.Downloaded = downloaded
		}
		fresh.AddQuote(bar, true)
	}
	before := h.Len()
	h.Merge(fresh)
	h.Complete = true

	e.metrics.RecordHistoryUpdate(provider, "success")
	e.logger.Info("history updated",
		zap.String("symbol", h.Symbol),
		zap.Int("bars", len(bars)),
		zap.Int("added", h.Len()-before),
		zap.Time("from", start),
	)
	return true, nil
}
