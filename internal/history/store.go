package history

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/storage/archive"
)

const defaultPrefix = "history"

// Store persists histories on an archive backend. Read-modify-write cycles
// for one symbol are serialized; different symbols proceed in parallel.
type Store struct {
	storage archive.Storage
	prefix  string
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a history store rooted at "history/" on storage.
func NewStore(storage archive.Storage, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage: storage,
		prefix:  defaultPrefix,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(symbol string) func() {
	s.mu.Lock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Store) path(symbol string) string {
	return path.Join(s.prefix, FileName(symbol))
}

// Load returns the stored history for symbol, or (nil, nil) if none exists.
func (s *Store) Load(ctx context.Context, symbol string) (*History, error) {
	unlock := s.lock(symbol)
	defer unlock()
	return s.load(ctx, symbol)
}

func (s *Store) load(ctx context.Context, symbol string) (*History, error) {
	data, err := s.storage.Read(ctx, s.path(symbol))
	if err != nil {
		if errors.Is(err, archive.ErrNotExist) {
			return nil, nil
		}
		return nil, core.WrapError(core.ErrPersistence, fmt.Errorf("reading %s history: %w", symbol, err))
	}
	return Decode(data)
}

// Save writes h. Concurrent saves of one symbol are applied in lock order,
// the later one winning.
func (s *Store) Save(ctx context.Context, h *History) error {
	unlock := s.lock(h.Symbol)
	defer unlock()
	return s.save(ctx, h)
}

func (s *Store) save(ctx context.Context, h *History) error {
	data, err := h.Encode()
	if err != nil {
		return err
	}
	if err := s.storage.Write(ctx, s.path(h.Symbol), data); err != nil {
		return core.WrapError(core.ErrPersistence, fmt.Errorf("saving %s history: %w", h.Symbol, err))
	}
	return nil
}

// Update loads the history for symbol (creating an empty one if needed),
// applies fn and saves the result, all under the symbol's lock.
func (s *Store) Update(ctx context.Context, symbol string, fn func(*History) error) (*History, error) {
	unlock := s.lock(symbol)
	defer unlock()

	h, err := s.load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = New(symbol)
	}
	if err := fn(h); err != nil {
		return nil, err
	}
	if err := s.save(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Record folds one downloaded quote into the stored history of its symbol.
func (s *Store) Record(ctx context.Context, q core.Quote) error {
	h, err := s.Update(ctx, q.Symbol, func(h *History) error {
		h.AddQuote(q, true)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("quote recorded",
		zap.String("symbol", q.Symbol),
		zap.Time("date", q.Date),
		zap.Int("history_len", h.Len()),
	)
	return nil
}

// Symbols lists the symbols that have a stored history.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	paths, err := s.storage.List(ctx, s.prefix)
	if err != nil {
		return nil, core.WrapError(core.ErrPersistence, fmt.Errorf("listing histories: %w", err))
	}
	symbols := make([]string, 0, len(paths))
	for _, p := range paths {
		name := path.Base(p)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		symbol, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}
