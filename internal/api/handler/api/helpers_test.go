package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/api/response"
	"github.com/newthinker/quoted/internal/app"
	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/collector/mock"
	"github.com/newthinker/quoted/internal/config"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/storage/archive"
)

func newTestApp(t *testing.T) (*app.App, *mock.Collector) {
	t.Helper()
	local, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Engine.Provider = "mock"
	a := app.New(cfg, local, zap.NewNop())
	t.Cleanup(a.Close)

	c := mock.New("mock", collector.Capabilities{Batch: true, History: true})
	require.NoError(t, a.RegisterCollector(c))
	return a, c
}

func bar(symbol string, date time.Time, closePrice int64) core.Quote {
	return core.Quote{
		Symbol: symbol,
		Date:   date,
		Open:   decimal.NewFromInt(closePrice - 1),
		Close:  decimal.NewFromInt(closePrice),
		High:   decimal.NewFromInt(closePrice + 1),
		Low:    decimal.NewFromInt(closePrice - 2),
		Volume: decimal.NewFromInt(1000),
	}
}

func request(method, target, body string, pathValues ...string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	return req
}

// decodeData unmarshals the data field of a success response into v.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}
