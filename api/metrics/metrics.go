package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lnguide_api_build_info",
			Help: "Build information of the lnguide API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnguide_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lnguide_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lnguide_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lnguide_api_sessions_active",
			Help: "Number of live explainer sessions",
		},
		[]string{"kind"}, // "simulation", "setup"
	)

	SimulationActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnguide_api_simulation_actions_total",
			Help: "Total number of simulation actions by outcome",
		},
		[]string{"action", "status"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lnguide_api_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	ActivityStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lnguide_api_activity_streams",
			Help: "Number of open activity event streams",
		},
	)
)

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordSimulationAction records the outcome of a simulation action.
func RecordSimulationAction(action string, err error) {
	status := "success"
	if err != nil {
		status = "rejected"
	}
	SimulationActionsTotal.WithLabelValues(action, status).Inc()
}

// SetSessions records the number of live sessions of one kind.
func SetSessions(kind string, n int) {
	SessionsActive.WithLabelValues(kind).Set(float64(n))
}
