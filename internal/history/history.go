// Package history keeps the per-symbol daily quote series and its durable
// copy.
package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/storage/archive"
)

// History is the known daily series for one symbol. Quotes are kept sorted
// by trade date with at most one entry per date.
type History struct {
	Symbol string `json:"symbol"`
	// Complete is true once the full back-series has been downloaded.
	Complete bool         `json:"complete"`
	Quotes   []core.Quote `json:"history"`
}

// New returns an empty, partial history for symbol.
func New(symbol string) *History {
	return &History{Symbol: symbol, Quotes: []core.Quote{}}
}

// MostRecentDownload returns the download time of the latest-dated quote.
// It reads the last element, so it reflects the newest download only while
// dates are fetched in non-decreasing order.
func (h *History) MostRecentDownload() time.Time {
	if len(h.Quotes) == 0 {
		return time.Time{}
	}
	return h.Quotes[len(h.Quotes)-1].Downloaded
}

// Len returns the number of stored quotes.
func (h *History) Len() int {
	return len(h.Quotes)
}

// AddQuote inserts q keeping date order. When a quote for the same date
// exists it is overwritten in place if replace is set and left alone
// otherwise. It never rejects a quote.
func (h *History) AddQuote(q core.Quote, replace bool) bool {
	for i := range h.Quotes {
		existing := &h.Quotes[i]
		if existing.Date.Equal(q.Date) {
			if replace {
				existing.Downloaded = q.Downloaded
				existing.Open = q.Open
				existing.Close = q.Close
				existing.High = q.High
				existing.Low = q.Low
				existing.Volume = q.Volume
			}
			return true
		}
		if existing.Date.After(q.Date) {
			h.Quotes = append(h.Quotes, core.Quote{})
			copy(h.Quotes[i+1:], h.Quotes[i:])
			h.Quotes[i] = q
			return true
		}
	}
	h.Quotes = append(h.Quotes, q)
	return true
}

// Merge folds every quote of other into h, newer data winning on equal dates.
func (h *History) Merge(other *History) {
	if other == nil {
		return
	}
	for _, q := range other.Quotes {
		h.AddQuote(q, true)
	}
}

// GetSorted returns a date-ordered copy without duplicate dates. It sorts
// from scratch, so it holds even if Quotes was modified directly; for
// duplicated dates the later element wins.
func (h *History) GetSorted() []core.Quote {
	sorted := make([]core.Quote, len(h.Quotes))
	copy(sorted, h.Quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	result := sorted[:0]
	for _, q := range sorted {
		if n := len(result); n > 0 && result[n-1].Date.Equal(q.Date) {
			result[n-1] = q
			continue
		}
		result = append(result, q)
	}
	return result
}

// LastDate returns the trade date of the newest quote, or zero when empty.
func (h *History) LastDate() time.Time {
	if len(h.Quotes) == 0 {
		return time.Time{}
	}
	return h.Quotes[len(h.Quotes)-1].Date
}

// FileName maps a symbol to its document name. Symbols are path-escaped so
// tickers such as BRK/B stay a single file.
func FileName(symbol string) string {
	return url.PathEscape(symbol) + ".json"
}

// Load reads the history document for symbol from dir. A missing file is
// not an error: it returns (nil, nil).
func Load(dir, symbol string) (*History, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName(symbol)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, core.WrapError(core.ErrPersistence, fmt.Errorf("reading %s history: %w", symbol, err))
	}
	return Decode(data)
}

// Save writes the history document into dir, replacing the previous copy
// atomically.
func (h *History) Save(dir string) error {
	data, err := h.Encode()
	if err != nil {
		return err
	}
	local, err := archive.NewLocalFS(dir)
	if err != nil {
		return core.WrapError(core.ErrPersistence, err)
	}
	if err := local.Write(context.Background(), FileName(h.Symbol), data); err != nil {
		return core.WrapError(core.ErrPersistence, fmt.Errorf("saving %s history: %w", h.Symbol, err))
	}
	return nil
}

// Encode serializes h to its indented JSON document.
func (h *History) Encode() ([]byte, error) {
	if h.Symbol == "" {
		return nil, core.WrapError(core.ErrPersistence, errors.New("history has no symbol"))
	}
	doc := *h
	if doc.Quotes == nil {
		doc.Quotes = []core.Quote{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, core.WrapError(core.ErrPersistence, fmt.Errorf("encoding %s history: %w", h.Symbol, err))
	}
	return data, nil
}

// Decode parses a history document.
func Decode(data []byte) (*History, error) {
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, core.WrapError(core.ErrMalformedData, err)
	}
	if h.Symbol == "" {
		return nil, core.WrapError(core.ErrMalformedData, errors.New("history document has no symbol"))
	}
	if h.Quotes == nil {
		h.Quotes = []core.Quote{}
	}
	return &h, nil
}
