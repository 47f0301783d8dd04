package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/newthinker/quoted/internal/api/response"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/history"
)

const dateLayout = "2006-01-02"

// HistoryApp defines the interface needed from app.App.
type HistoryApp interface {
	Histories() *history.Store
	UpdateHistory(ctx context.Context, symbol string) (*history.History, bool, error)
}

// HistoryHandler serves stored daily series.
type HistoryHandler struct {
	app     HistoryApp
	timeout time.Duration
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(app HistoryApp, timeout time.Duration) *HistoryHandler {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HistoryHandler{app: app, timeout: timeout}
}

// HistoryResponse is the body returned for a symbol's history.
type HistoryResponse struct {
	Symbol   string       `json:"symbol"`
	Complete bool         `json:"complete"`
	Count    int          `json:"count"`
	Quotes   []core.Quote `json:"quotes"`
}

// Get returns the stored history of a symbol, optionally limited by the
// from and to query parameters (YYYY-MM-DD, inclusive).
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	from, to, err := dateRange(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidRequest, err))
		return
	}

	store := h.app.Histories()
	if store == nil {
		response.Fail(w, core.WrapError(core.ErrConfigMissing, errors.New("no storage configured")))
		return
	}
	hist, err := store.Load(r.Context(), symbol)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if hist == nil {
		response.Error(w, http.StatusNotFound, core.ErrSymbolNotFound)
		return
	}

	response.JSON(w, http.StatusOK, newHistoryResponse(hist, from, to))
}

// Update downloads missing history for a symbol and returns the result.
func (h *HistoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	hist, ok, err := h.app.UpdateHistory(ctx, symbol)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			response.Error(w, http.StatusGatewayTimeout, core.WrapError(core.ErrDownloadFailed, err))
			return
		}
		response.Fail(w, err)
		return
	}
	if !ok {
		response.Error(w, http.StatusNotFound, core.ErrSymbolNotFound)
		return
	}

	response.JSON(w, http.StatusOK, newHistoryResponse(hist, time.Time{}, time.Time{}))
}

func newHistoryResponse(h *history.History, from, to time.Time) HistoryResponse {
	quotes := make([]core.Quote, 0, h.Len())
	for _, q := range h.GetSorted() {
		if !from.IsZero() && q.Date.Before(from) {
			continue
		}
		if !to.IsZero() && q.Date.After(to) {
			continue
		}
		quotes = append(quotes, q)
	}
	return HistoryResponse{
		Symbol:   h.Symbol,
		Complete: h.Complete,
		Count:    len(quotes),
		Quotes:   quotes,
	}
}

func dateRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(dateLayout, v); err != nil {
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(dateLayout, v); err != nil {
			return
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		err = errors.New("to is before from")
	}
	return
}
