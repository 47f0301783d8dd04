package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
//
// Every recording method is safe to call on a nil *Registry so components
// can take an optional registry without guarding each call site.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Acquisition metrics
	dispatchesTotal   *prometheus.CounterVec
	dispatchedSymbols *prometheus.CounterVec
	resolutionsTotal  *prometheus.CounterVec
	pendingSymbols    *prometheus.GaugeVec
	suspended         *prometheus.GaugeVec
	historyUpdates    *prometheus.CounterVec
	historySaves      *prometheus.CounterVec
	waveDuration      *prometheus.HistogramVec
	settingsChanges   *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoted_dispatches_total",
			Help: "Total number of provider calls issued",
		},
		[]string{"provider", "mode"},
	)
	r.dispatchedSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoted_dispatched_symbols_total",
			Help: "Total number of symbols sent to providers",
		},
		[]string{"provider", "mode"},
	)
	r.resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoted_resolutions_total",
			Help: "Total number of resolved quote requests by outcome",
		},
		[]string{"provider", "outcome"},
	)
	r.pendingSymbols = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quoted_pending_symbols",
			Help: "Number of symbols queued or in flight",
		},
		[]string{"provider"},
	)
	r.suspended = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quoted_suspended",
			Help: "Whether dispatch is suspended by the rate limiter (1) or not (0)",
		},
		[]string{"provider"},
	)
	r.historyUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoted_history_updates_total",
			Help: "Total number of history downloads by status",
		},
		[]string{"provider", "status"},
	)
	r.historySaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoted_history_saves_total",
			Help: "Total number of history documents persisted by status",
		},
		[]string{"status"},
	)
	r.waveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quoted_wave_duration_seconds",
			Help:    "Duration of a dispatch wave in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "mode"},
	)
	r.settingsChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoted_settings_changes_total",
			Help: "Total number of provider settings field changes",
		},
		[]string{"provider", "field"},
	)

	reg.MustRegister(r.dispatchesTotal)
	reg.MustRegister(r.dispatchedSymbols)
	reg.MustRegister(r.resolutionsTotal)
	reg.MustRegister(r.pendingSymbols)
	reg.MustRegister(r.suspended)
	reg.MustRegister(r.historyUpdates)
	reg.MustRegister(r.historySaves)
	reg.MustRegister(r.waveDuration)
	reg.MustRegister(r.settingsChanges)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordDispatch records a provider call of the given mode ("single" or "batch").
func (r *Registry) RecordDispatch(provider, mode string, symbols int) {
	if r == nil {
		return
	}
	r.dispatchesTotal.WithLabelValues(provider, mode).Inc()
	r.dispatchedSymbols.WithLabelValues(provider, mode).Add(float64(symbols))
}

// RecordResolution records how a single symbol request resolved.
func (r *Registry) RecordResolution(provider, outcome string) {
	if r == nil {
		return
	}
	r.resolutionsTotal.WithLabelValues(provider, outcome).Inc()
}

// SetPending sets the number of queued or in-flight symbols.
func (r *Registry) SetPending(provider string, n int) {
	if r == nil {
		return
	}
	r.pendingSymbols.WithLabelValues(provider).Set(float64(n))
}

// SetSuspended flags whether dispatch is waiting on the rate limiter.
func (r *Registry) SetSuspended(provider string, suspended bool) {
	if r == nil {
		return
	}
	v := 0.0
	if suspended {
		v = 1
	}
	r.suspended.WithLabelValues(provider).Set(v)
}

// RecordWave records the duration of a dispatch wave.
func (r *Registry) RecordWave(provider, mode string, duration float64) {
	if r == nil {
		return
	}
	r.waveDuration.WithLabelValues(provider, mode).Observe(duration)
}

// RecordHistoryUpdate records a history download.
func (r *Registry) RecordHistoryUpdate(provider, status string) {
	if r == nil {
		return
	}
	r.historyUpdates.WithLabelValues(provider, status).Inc()
}

// RecordHistorySave records a history persistence attempt.
func (r *Registry) RecordHistorySave(status string) {
	if r == nil {
		return
	}
	r.historySaves.WithLabelValues(status).Inc()
}

// RecordSettingsChange records a changed provider settings field.
func (r *Registry) RecordSettingsChange(provider, field string) {
	if r == nil {
		return
	}
	r.settingsChanges.WithLabelValues(provider, field).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
