package metrics

import (
	"net/http"
	"time"
)

// unmatchedRoute labels requests no route pattern claimed, so probing for
// random symbols cannot grow the label set.
const unmatchedRoute = "unmatched"

// statusRecorder keeps the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func record(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// route is the mux pattern that served r, e.g. "GET /api/history/{symbol}".
func route(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	return r.Pattern
}

// HTTPMiddleware counts and times API requests per route pattern. It has to
// wrap the mux itself so the matched pattern is visible after the call.
func HTTPMiddleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.InFlightInc()
			defer reg.InFlightDec()

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			reg.RecordRequest(r.Method, route(r), rec.status, time.Since(start).Seconds())
		})
	}
}
