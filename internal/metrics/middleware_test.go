package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quoteMux mimics the API routes the middleware sits in front of.
func quoteMux(inFlight func()) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/history/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("symbol") == "NOPE" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":{}}`))
	})
	mux.HandleFunc("POST /api/fetch", func(w http.ResponseWriter, r *http.Request) {
		if inFlight != nil {
			inFlight()
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestHTTPMiddleware_LabelsByRoutePattern(t *testing.T) {
	reg := NewRegistry()
	h := HTTPMiddleware(reg)(quoteMux(nil))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/history/AAPL").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/history/MSFT").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/history/NOPE").Code)

	route := "GET /api/history/{symbol}"
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("GET", route, "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("GET", route, "4xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(reg.httpRequestDuration))
}

func TestHTTPMiddleware_UnmatchedRoutesShareOneLabel(t *testing.T) {
	reg := NewRegistry()
	h := HTTPMiddleware(reg)(quoteMux(nil))

	serve(h, http.MethodGet, "/api/quotes/AAPL")
	serve(h, http.MethodGet, "/api/quotes/MSFT")

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("GET", unmatchedRoute, "4xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(reg.httpRequestsTotal))
}

func TestHTTPMiddleware_TracksInFlight(t *testing.T) {
	reg := NewRegistry()
	during := -1.0
	h := HTTPMiddleware(reg)(quoteMux(func() {
		during = testutil.ToFloat64(reg.httpRequestsInFlight)
	}))

	w := serve(h, http.MethodPost, "/api/fetch")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1.0, during)
	assert.Zero(t, testutil.ToFloat64(reg.httpRequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("POST", "POST /api/fetch", "2xx")))
}

func TestHTTPMiddleware_NilRegistry(t *testing.T) {
	h := HTTPMiddleware(nil)(quoteMux(nil))
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/history/AAPL").Code)
}
