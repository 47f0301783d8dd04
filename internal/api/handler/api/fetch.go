package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/api/job"
	"github.com/newthinker/quoted/internal/api/response"
	"github.com/newthinker/quoted/internal/app"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/quote"
)

// DefaultFetchTimeout bounds one fetch, synchronous or not.
const DefaultFetchTimeout = 2 * time.Minute

// FetchApp defines the interface needed from app.App.
type FetchApp interface {
	Fetch(ctx context.Context, symbols []string) (*app.FetchResult, error)
	DefaultEngine(ctx context.Context) (*quote.Engine, error)
	GetStats() map[string]any
}

// FetchHandler queues quote downloads and reports engine state.
type FetchHandler struct {
	app     FetchApp
	jobs    *job.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewFetchHandler creates a new fetch handler. A zero timeout means
// DefaultFetchTimeout.
func NewFetchHandler(app FetchApp, jobs *job.Store, timeout time.Duration, logger *zap.Logger) *FetchHandler {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchHandler{app: app, jobs: jobs, timeout: timeout, logger: logger}
}

// FetchRequest is the request body for POST /api/fetch.
type FetchRequest struct {
	Symbols []string `json:"symbols"`
	// Wait blocks the request until every symbol resolved.
	Wait bool `json:"wait,omitempty"`
}

func (req FetchRequest) symbols() []string {
	out := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Create queues the requested symbols. With wait set it answers with the
// fetch result, otherwise with a job to poll.
func (h *FetchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidRequest, err))
		return
	}
	symbols := req.symbols()
	if len(symbols) == 0 {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrInvalidRequest, errors.New("no symbols given")))
		return
	}

	if req.Wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		result, err := h.app.Fetch(ctx, symbols)
		if err != nil {
			h.fail(w, err)
			return
		}
		response.JSON(w, http.StatusOK, result)
		return
	}

	// Resolve the engine up front so an unknown provider fails the request.
	if _, err := h.app.DefaultEngine(r.Context()); err != nil {
		response.Fail(w, err)
		return
	}

	j := h.jobs.Create("fetch", symbols)
	go h.run(j.ID, symbols)

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id":  j.ID,
		"status":  j.Status,
		"symbols": symbols,
	})
}

func (h *FetchHandler) run(id string, symbols []string) {
	h.jobs.Update(id, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	result, err := h.app.Fetch(ctx, symbols)

	if err != nil {
		h.logger.Warn("fetch job failed", zap.String("job_id", id), zap.Error(err))
		h.jobs.Update(id, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Error = asCoreError(err)
		})
		return
	}
	h.jobs.Update(id, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Result = result
	})
}

// Get returns the state of a fetch job.
func (h *FetchHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

// Cancel drops every queued request on the default engine.
func (h *FetchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	e, err := h.app.DefaultEngine(r.Context())
	if err != nil {
		response.Fail(w, err)
		return
	}
	e.Cancel()
	response.JSON(w, http.StatusOK, map[string]any{
		"cancelled": true,
		"pending":   e.PendingCount(),
	})
}

// Status reports application and engine statistics.
func (h *FetchHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.app.GetStats())
}

func (h *FetchHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		response.Error(w, http.StatusGatewayTimeout, core.WrapError(core.ErrDownloadFailed, err))
		return
	}
	response.Fail(w, err)
}

func asCoreError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.WrapError(core.ErrDownloadFailed, err)
}
