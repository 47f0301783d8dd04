package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/config"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/history"
	"github.com/newthinker/quoted/internal/metrics"
	"github.com/newthinker/quoted/internal/notifier"
	"github.com/newthinker/quoted/internal/quote"
	"github.com/newthinker/quoted/internal/settings"
	"github.com/newthinker/quoted/internal/storage/archive"
)

// App is the main application orchestrator. It owns one engine per
// provider, created on first use with the provider's persisted settings.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	collectors *collector.Registry
	storage    archive.Storage
	histories  *history.Store
	metrics    *metrics.Registry
	notifiers  *notifier.Registry
	events     []string

	watchlist    []string
	watchlistSet map[string]struct{}
	interval     time.Duration

	mu       sync.RWMutex
	engines  map[string]*quote.Engine
	settings map[string]*settings.ProviderSettings
	running  bool
	cancel   context.CancelFunc
}

// New creates a new App instance
func New(cfg *config.Config, storage archive.Storage, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Defaults()
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		collectors:   collector.NewRegistry(),
		storage:      storage,
		watchlistSet: make(map[string]struct{}),
		interval:     5 * time.Minute,
		engines:      make(map[string]*quote.Engine),
		settings:     make(map[string]*settings.ProviderSettings),
	}
	if storage != nil {
		a.histories = history.NewStore(storage, logger.Named("history"))
	}
	a.SetWatchlist(cfg.Watchlist)
	return a
}

// SetMetrics sets the metrics registry used by engines created afterwards.
func (a *App) SetMetrics(reg *metrics.Registry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = reg
}

// SetNotifiers makes engines created afterwards report the named event
// kinds to reg.
func (a *App) SetNotifiers(reg *notifier.Registry, events []string) error {
	// Validates the event names.
	if _, err := notifier.NewForwarder(reg, "", events, nil); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifiers = reg
	a.events = events
	return nil
}

// RegisterCollector initializes c from its provider section and adds it.
func (a *App) RegisterCollector(c collector.Collector) error {
	if err := c.Init(a.cfg.Providers[c.Name()].Collector()); err != nil {
		return fmt.Errorf("initializing %s: %w", c.Name(), err)
	}
	a.collectors.Register(c)
	return nil
}

// Providers lists the registered collector names.
func (a *App) Providers() []string {
	return a.collectors.Names()
}

// Histories returns the history store, nil without storage.
func (a *App) Histories() *history.Store {
	return a.histories
}

// Settings returns the provider settings for name, loading the persisted
// document on first use and applying the values the config sets.
func (a *App) Settings(ctx context.Context, name string) (*settings.ProviderSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settingsLocked(ctx, name)
}

func (a *App) settingsLocked(ctx context.Context, name string) (*settings.ProviderSettings, error) {
	if s, ok := a.settings[name]; ok {
		return s, nil
	}
	if _, ok := a.collectors.Get(name); !ok {
		return nil, core.WrapError(core.ErrProviderUnknown, fmt.Errorf("provider %q", name))
	}

	s := settings.New(name)
	found := false
	if a.storage != nil {
		var err error
		found, err = s.LoadFrom(ctx, a.storage)
		if err != nil {
			return nil, err
		}
	}

	changed := s.Apply(a.cfg.Providers[name].SettingsUpdate())
	if a.storage != nil && (!found || len(changed) > 0) {
		if err := s.Save(ctx, a.storage); err != nil {
			return nil, err
		}
	}

	reg := a.metrics
	logger := a.logger
	s.OnChange(func(f settings.Field) {
		reg.RecordSettingsChange(name, string(f))
		logger.Info("provider settings changed",
			zap.String("provider", name),
			zap.String("field", string(f)),
		)
	})

	a.settings[name] = s
	return s, nil
}

// UpdateSettings applies u to the provider settings and persists them when
// anything changed.
func (a *App) UpdateSettings(ctx context.Context, name string, u settings.Update) ([]settings.Field, error) {
	if u.Name != nil && *u.Name != name {
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("provider settings cannot be renamed"))
	}
	s, err := a.Settings(ctx, name)
	if err != nil {
		return nil, err
	}
	changed := s.Apply(u)
	if len(changed) == 0 || a.storage == nil {
		return changed, nil
	}
	if err := s.Save(ctx, a.storage); err != nil {
		return changed, err
	}
	return changed, nil
}

// Engine returns the quote engine for the named provider.
func (a *App) Engine(ctx context.Context, name string) (*quote.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.engines[name]; ok {
		return e, nil
	}
	c, err := a.collectors.Resolve(name)
	if err != nil {
		return nil, err
	}
	s, err := a.settingsLocked(ctx, name)
	if err != nil {
		return nil, err
	}

	cfg := quote.DefaultConfig()
	if a.cfg.Engine.Workers > 0 {
		cfg.Workers = a.cfg.Engine.Workers
	}
	if a.cfg.Engine.MaxBatch > 0 {
		cfg.MaxBatch = a.cfg.Engine.MaxBatch
	}
	if a.cfg.Engine.HistoryYears > 0 {
		cfg.HistoryYears = a.cfg.Engine.HistoryYears
	}

	e := quote.NewEngine(c, s, cfg, a.logger.Named("engine"))
	e.SetMetrics(a.metrics)
	if a.histories != nil {
		e.SetHistoryStore(a.histories)
	}
	if a.notifiers != nil && a.notifiers.Len() > 0 {
		f, err := notifier.NewForwarder(a.notifiers, name, a.events, a.logger.Named("notify"))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Subscribe(f.Handle)
	}
	a.engines[name] = e

	a.logger.Info("engine created",
		zap.String("provider", name),
		zap.Bool("batch", e.SupportsBatchQuotes()),
		zap.Bool("history", e.SupportsHistory()),
		zap.Int("workers", cfg.Workers),
	)
	return e, nil
}

// DefaultEngine returns the engine for the configured provider.
func (a *App) DefaultEngine(ctx context.Context) (*quote.Engine, error) {
	return a.Engine(ctx, a.cfg.Engine.Provider)
}

// FetchResult collects the outcome of a synchronous fetch.
type FetchResult struct {
	Quotes   []core.Quote      `json:"quotes"`
	NotFound []string          `json:"not_found,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Fetch queues symbols on the default engine and waits until each of them
// resolved or ctx ended.
func (a *App) Fetch(ctx context.Context, symbols []string) (*FetchResult, error) {
	e, err := a.DefaultEngine(ctx)
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			remaining[s] = struct{}{}
		}
	}
	result := &FetchResult{Errors: make(map[string]string)}
	if len(remaining) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	unsubscribe := e.Subscribe(func(ev quote.Event) {
		mu.Lock()
		defer mu.Unlock()

		if !ev.PerRequest() {
			return
		}
		if _, ok := remaining[ev.Symbol]; !ok {
			return
		}
		delete(remaining, ev.Symbol)
		switch ev.Kind {
		case quote.QuoteAvailable:
			result.Quotes = append(result.Quotes, ev.Quote)
		case quote.SymbolNotFound:
			result.NotFound = append(result.NotFound, ev.Symbol)
		case quote.DownloadError:
			result.Errors[ev.Symbol] = ev.Message
		}
		if len(remaining) == 0 {
			finish()
		}
	})
	defer unsubscribe()

	e.BeginFetchQuotes(symbols)

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return result, nil
}

var errSymbolUnknown = errors.New("symbol unknown to provider")

// UpdateHistory refreshes the stored history of symbol from the default
// engine. It returns false when the provider does not know the symbol.
func (a *App) UpdateHistory(ctx context.Context, symbol string) (*history.History, bool, error) {
	if a.histories == nil {
		return nil, false, core.WrapError(core.ErrConfigMissing, errors.New("no storage configured"))
	}
	e, err := a.DefaultEngine(ctx)
	if err != nil {
		return nil, false, err
	}

	h, err := a.histories.Update(ctx, symbol, func(h *history.History) error {
		ok, err := e.UpdateHistory(ctx, h)
		if err != nil {
			return err
		}
		if !ok {
			return errSymbolUnknown
		}
		return nil
	})
	if errors.Is(err, errSymbolUnknown) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// SetWatchlist sets the symbols refreshed on every cycle
func (a *App) SetWatchlist(symbols []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchlist = a.watchlist[:0]
	a.watchlistSet = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if _, exists := a.watchlistSet[s]; exists || s == "" {
			continue
		}
		a.watchlistSet[s] = struct{}{}
		a.watchlist = append(a.watchlist, s)
	}
}

// GetWatchlist returns the current watchlist symbols.
func (a *App) GetWatchlist() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make([]string, len(a.watchlist))
	copy(result, a.watchlist)
	return result
}

// AddToWatchlist adds a symbol to the watchlist.
func (a *App) AddToWatchlist(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.watchlistSet[symbol]; exists || symbol == "" {
		return false
	}
	a.watchlistSet[symbol] = struct{}{}
	a.watchlist = append(a.watchlist, symbol)
	return true
}

// RemoveFromWatchlist removes a symbol from the watchlist.
func (a *App) RemoveFromWatchlist(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.watchlistSet[symbol]; !exists {
		return false
	}
	delete(a.watchlistSet, symbol)
	for i, s := range a.watchlist {
		if s == symbol {
			a.watchlist = append(a.watchlist[:i], a.watchlist[i+1:]...)
			break
		}
	}
	return true
}

// SetInterval sets the watchlist refresh interval
func (a *App) SetInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interval = d
}

// Start queues the watchlist on the default engine now and then on every
// interval until ctx ends or Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}
	a.running = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	interval := a.interval
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	e, err := a.DefaultEngine(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("quoted starting",
		zap.String("provider", e.Provider()),
		zap.Int("watchlist_count", len(a.GetWatchlist())),
		zap.Duration("interval", interval),
	)

	// Initial run
	a.RunOnce(e)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("quoted shutting down")
			return ctx.Err()
		case <-ticker.C:
			a.RunOnce(e)
		}
	}
}

// RunOnce queues every watchlist symbol on e.
func (a *App) RunOnce(e quote.Service) {
	symbols := a.GetWatchlist()
	if len(symbols) == 0 {
		a.logger.Debug("no symbols in watchlist")
		return
	}
	e.BeginFetchQuotes(symbols)
	a.logger.Debug("watchlist queued",
		zap.Int("symbols", len(symbols)),
		zap.Int("pending", e.PendingCount()),
	)
}

// Stop stops the refresh loop
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Close stops the refresh loop and every engine.
func (a *App) Close() {
	a.Stop()

	a.mu.Lock()
	engines := a.engines
	a.engines = make(map[string]*quote.Engine)
	a.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}

// GetStats returns application statistics
func (a *App) GetStats() map[string]any {
	a.mu.RLock()
	engines := make(map[string]quote.Status, len(a.engines))
	for name, e := range a.engines {
		engines[name] = e.Status()
	}
	stats := map[string]any{
		"running":   a.running,
		"watchlist": len(a.watchlist),
		"provider":  a.cfg.Engine.Provider,
		"providers": a.collectors.Names(),
		"engines":   engines,
	}
	a.mu.RUnlock()
	return stats
}
