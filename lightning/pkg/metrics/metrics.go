package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LNDRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnguide_lnd_requests_total",
			Help: "Total number of LND REST requests",
		},
		[]string{"endpoint", "status"},
	)

	LNDRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lnguide_lnd_request_duration_seconds",
			Help:    "Duration of LND REST requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"endpoint"},
	)

	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnguide_node_refresh_total",
			Help: "Total number of node data refreshes",
		},
		[]string{"mode", "status"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lnguide_node_refresh_duration_seconds",
			Help:    "Duration of node data refreshes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"mode"},
	)

	RecommendationFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lnguide_recommendation_detail_fallbacks_total",
			Help: "Recommended nodes returned as graph summaries because the detail lookup failed",
		},
	)

	ConnectedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lnguide_node_connected",
			Help: "1 when the aggregator is connected to a node",
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordLNDRequest records metrics for one LND REST call.
func RecordLNDRequest(endpoint string, duration time.Duration, err error) {
	LNDRequestsTotal.WithLabelValues(endpoint, status(err)).Inc()
	LNDRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRefresh records metrics for one aggregator refresh.
func RecordRefresh(mode string, duration time.Duration, err error) {
	RefreshTotal.WithLabelValues(mode, status(err)).Inc()
	RefreshDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// SetConnected sets the connected gauge to 1 or 0.
func SetConnected(connected bool) {
	if connected {
		ConnectedGauge.Set(1)
		return
	}
	ConnectedGauge.Set(0)
}
