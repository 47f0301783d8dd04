package lixinger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
)

type recorded struct {
	path    string
	payload map[string]any
}

func newTestServer(t *testing.T, handler func(path string, payload map[string]any) (int, string)) (*Lixinger, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		calls = append(calls, recorded{path: r.URL.Path, payload: payload})
		status, body := handler(r.URL.Path, payload)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	l := New()
	require.NoError(t, l.Init(collector.Config{APIKey: "test-key", Extra: map[string]any{"base_url": srv.URL}}))
	l.now = func() time.Time { return time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC) }
	return l, &calls
}

func TestLixinger_ImplementsCollector(t *testing.T) {
	var _ collector.Collector = (*Lixinger)(nil)
	var _ collector.Keyed = (*Lixinger)(nil)
}

func TestLixinger_Metadata(t *testing.T) {
	l := New()
	assert.Equal(t, "lixinger", l.Name())
	caps := l.Capabilities()
	assert.True(t, caps.Batch)
	assert.True(t, caps.History)
	assert.Equal(t, defaultMaxBatch, caps.MaxBatch)

	require.NoError(t, l.Init(collector.Config{MaxBatch: 20}))
	assert.Equal(t, 20, l.Capabilities().MaxBatch)
}

func TestToLixingerSymbol(t *testing.T) {
	assert.Equal(t, "600519", toLixingerSymbol("600519.SH"))
	assert.Equal(t, "000001", toLixingerSymbol("000001.SZ"))
	assert.Equal(t, "600519", toLixingerSymbol("600519"))
}

func TestLixinger_FetchQuotes(t *testing.T) {
	l, calls := newTestServer(t, func(path string, payload map[string]any) (int, string) {
		return http.StatusOK, `{"code":0,"message":"success","data":[
			{"stockCode":"600519","open":1700.5,"high":1720,"low":1690.1,"close":1710.25,"volume":2500000},
			{"stockCode":"999999","close":1}
		]}`
	})

	quotes, err := l.FetchQuotes(context.Background(), []string{"600519.SH", "000001.SZ"})
	require.NoError(t, err)
	require.Len(t, quotes, 1, "unrequested and missing codes are dropped")

	q := quotes[0]
	assert.Equal(t, "600519.SH", q.Symbol)
	assert.Equal(t, "1710.25", q.Close.String())
	assert.Equal(t, "2500000", q.Volume.String())
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), q.Date, "trade day is the Beijing calendar day")

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, realtimePath, call.path)
	assert.Equal(t, "test-key", call.payload["token"])
	assert.Equal(t, []any{"600519", "000001"}, call.payload["stockCodes"])
}

func TestLixinger_FetchQuoteNotFound(t *testing.T) {
	l, _ := newTestServer(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"code":0,"data":[]}`
	})

	_, err := l.FetchQuote(context.Background(), "123456.SZ")
	assert.True(t, errors.Is(err, core.ErrSymbolNotFound))
}

func TestLixinger_FetchHistory(t *testing.T) {
	l, calls := newTestServer(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"code":0,"data":[
			{"date":"2024-01-02T00:00:00+08:00","open":10,"high":11,"low":9,"close":10.5,"volume":100},
			{"date":"2024-01-03","open":10.5,"high":12,"low":10,"close":11.5,"volume":200},
			{"date":"bad","close":1}
		]}`
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	quotes, err := l.FetchHistory(context.Background(), "600519.SH", start, end)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), quotes[0].Date)
	assert.Equal(t, "11.5", quotes[1].Close.String())
	assert.Equal(t, "600519.SH", quotes[1].Symbol)

	call := (*calls)[0]
	assert.Equal(t, historyPath, call.path)
	assert.Equal(t, "2024-01-01", call.payload["startDate"])
	assert.Equal(t, "2024-01-31", call.payload["endDate"])
}

func TestLixinger_FetchHistoryEmpty(t *testing.T) {
	l, _ := newTestServer(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"code":0,"data":[]}`
	})

	_, err := l.FetchHistory(context.Background(), "600519.SH", time.Now().AddDate(-1, 0, 0), time.Now())
	assert.True(t, errors.Is(err, core.ErrSymbolNotFound))
}

func TestLixinger_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *core.Error
	}{
		{"api error", http.StatusOK, `{"code":1,"message":"invalid token"}`, core.ErrDownloadFailed},
		{"rate limited", http.StatusTooManyRequests, ``, core.ErrRateLimited},
		{"server error", http.StatusInternalServerError, ``, core.ErrDownloadFailed},
		{"bad json", http.StatusOK, `{`, core.ErrDownloadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestServer(t, func(string, map[string]any) (int, string) {
				return tt.status, tt.body
			})
			_, err := l.FetchQuotes(context.Background(), []string{"600519.SH"})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLixinger_RequiresKey(t *testing.T) {
	l, calls := newTestServer(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"code":0,"data":[]}`
	})
	l.SetAPIKey("")

	_, err := l.FetchQuotes(context.Background(), []string{"600519.SH"})
	assert.True(t, errors.Is(err, core.ErrDownloadFailed))
	assert.ErrorIs(t, err, errNoKey)
	assert.Empty(t, *calls, "no request without a key")

	l.SetAPIKey("rotated")
	_, err = l.FetchQuotes(context.Background(), []string{"600519.SH"})
	require.NoError(t, err)
	assert.Equal(t, "rotated", (*calls)[0].payload["token"])
}
