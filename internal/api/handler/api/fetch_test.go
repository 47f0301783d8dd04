package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/api/job"
	"github.com/newthinker/quoted/internal/app"
	"github.com/newthinker/quoted/internal/config"
	"github.com/newthinker/quoted/internal/core"
)

func TestFetchHandler_CreateWait(t *testing.T) {
	a, c := newTestApp(t)
	today := core.TradeDay(time.Now())
	c.SetQuote(bar("AAPL", today, 190))
	c.Fail("BROKEN", core.WrapError(core.ErrDownloadFailed, errors.New("boom")))
	handler := NewFetchHandler(a, job.NewStore(10, time.Hour), 5*time.Second, nil)

	w := httptest.NewRecorder()
	handler.Create(w, request(http.MethodPost, "/api/fetch",
		`{"symbols": ["AAPL", "NOPE"], "wait": true}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result app.FetchResult
	decodeData(t, w, &result)
	require.Len(t, result.Quotes, 1)
	assert.Equal(t, "AAPL", result.Quotes[0].Symbol)
	assert.Equal(t, "190", result.Quotes[0].Close.String())
	assert.Equal(t, []string{"NOPE"}, result.NotFound)

	w = httptest.NewRecorder()
	handler.Create(w, request(http.MethodPost, "/api/fetch", `{"symbols": ["BROKEN"], "wait": true}`))
	require.Equal(t, http.StatusOK, w.Code)
	result = app.FetchResult{}
	decodeData(t, w, &result)
	assert.Empty(t, result.Quotes)
	assert.Contains(t, result.Errors, "BROKEN")
}

func TestFetchHandler_CreateWaitTimeout(t *testing.T) {
	a, c := newTestApp(t)
	release := c.Block()
	t.Cleanup(release)
	handler := NewFetchHandler(a, job.NewStore(10, time.Hour), 50*time.Millisecond, nil)

	w := httptest.NewRecorder()
	handler.Create(w, request(http.MethodPost, "/api/fetch", `{"symbols": ["AAPL"], "wait": true}`))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "DOWNLOAD_FAILED", errorCode(t, w))
}

func TestFetchHandler_CreateAsync(t *testing.T) {
	a, c := newTestApp(t)
	c.SetQuote(bar("AAPL", core.TradeDay(time.Now()), 190))
	jobs := job.NewStore(10, time.Hour)
	handler := NewFetchHandler(a, jobs, 5*time.Second, zap.NewNop())

	w := httptest.NewRecorder()
	handler.Create(w, request(http.MethodPost, "/api/fetch", `{"symbols": ["AAPL"]}`))
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted struct {
		JobID  string     `json:"job_id"`
		Status job.Status `json:"status"`
	}
	decodeData(t, w, &accepted)
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, job.StatusPending, accepted.Status)

	require.Eventually(t, func() bool {
		j, err := jobs.Get(accepted.JobID)
		return err == nil && j.Status == job.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	w = httptest.NewRecorder()
	handler.Get(w, request(http.MethodGet, "/api/fetch/"+accepted.JobID, "", "id", accepted.JobID))
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Status job.Status      `json:"status"`
		Result app.FetchResult `json:"result"`
	}
	decodeData(t, w, &got)
	assert.Equal(t, job.StatusComplete, got.Status)
	require.Len(t, got.Result.Quotes, 1)
	assert.Equal(t, "AAPL", got.Result.Quotes[0].Symbol)
}

func TestFetchHandler_AsyncJobFails(t *testing.T) {
	a, c := newTestApp(t)
	release := c.Block()
	t.Cleanup(release)
	jobs := job.NewStore(10, time.Hour)
	handler := NewFetchHandler(a, jobs, 50*time.Millisecond, nil)

	w := httptest.NewRecorder()
	handler.Create(w, request(http.MethodPost, "/api/fetch", `{"symbols": ["AAPL"]}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	decodeData(t, w, &accepted)

	require.Eventually(t, func() bool {
		j, err := jobs.Get(accepted.JobID)
		return err == nil && j.Status == job.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	j, _ := jobs.Get(accepted.JobID)
	require.NotNil(t, j.Error)
	assert.Equal(t, "DOWNLOAD_FAILED", j.Error.Code)
}

func TestFetchHandler_CreateBadRequests(t *testing.T) {
	a, _ := newTestApp(t)
	handler := NewFetchHandler(a, job.NewStore(10, time.Hour), 0, nil)

	for _, body := range []string{`not json`, `{"symbols": []}`, `{"symbols": [" ", ""]}`} {
		w := httptest.NewRecorder()
		handler.Create(w, request(http.MethodPost, "/api/fetch", body))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w), body)
	}
}

func TestFetchHandler_UnknownProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Provider = "nowhere"
	a := app.New(cfg, nil, nil)
	t.Cleanup(a.Close)
	jobs := job.NewStore(10, time.Hour)
	handler := NewFetchHandler(a, jobs, 0, nil)

	w := httptest.NewRecorder()
	handler.Create(w, request(http.MethodPost, "/api/fetch", `{"symbols": ["AAPL"]}`))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PROVIDER_UNKNOWN", errorCode(t, w))
	assert.Empty(t, jobs.List(), "no job for a request that cannot run")
}

func TestFetchHandler_GetUnknownJob(t *testing.T) {
	a, _ := newTestApp(t)
	handler := NewFetchHandler(a, job.NewStore(10, time.Hour), 0, nil)

	w := httptest.NewRecorder()
	handler.Get(w, request(http.MethodGet, "/api/fetch/x", "", "id", "x"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", errorCode(t, w))
}

func TestFetchHandler_Cancel(t *testing.T) {
	a, c := newTestApp(t)
	release := c.Block()
	t.Cleanup(release)
	handler := NewFetchHandler(a, job.NewStore(10, time.Hour), 0, nil)

	e, err := a.DefaultEngine(t.Context())
	require.NoError(t, err)
	e.BeginFetchQuotes([]string{"AAPL", "MSFT", "GOOG"})
	require.Equal(t, 3, e.PendingCount())

	w := httptest.NewRecorder()
	handler.Cancel(w, request(http.MethodDelete, "/api/fetch", ""))

	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Cancelled bool `json:"cancelled"`
		Pending   int  `json:"pending"`
	}
	decodeData(t, w, &data)
	assert.True(t, data.Cancelled)
	assert.Zero(t, data.Pending)
	assert.Zero(t, e.PendingCount())
}

func TestFetchHandler_Status(t *testing.T) {
	a, _ := newTestApp(t)
	a.SetWatchlist([]string{"AAPL"})
	_, err := a.DefaultEngine(t.Context())
	require.NoError(t, err)
	handler := NewFetchHandler(a, job.NewStore(10, time.Hour), 0, nil)

	w := httptest.NewRecorder()
	handler.Status(w, request(http.MethodGet, "/api/status", ""))

	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Provider  string `json:"provider"`
		Watchlist int    `json:"watchlist"`
		Engines   map[string]struct {
			Provider string `json:"provider"`
			Batch    bool   `json:"batch"`
		} `json:"engines"`
	}
	decodeData(t, w, &data)
	assert.Equal(t, "mock", data.Provider)
	assert.Equal(t, 1, data.Watchlist)
	require.Contains(t, data.Engines, "mock")
	assert.True(t, data.Engines["mock"].Batch)
}
