package services

import (
	"time"

	"parley/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	DispatchRequests *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram
	ProviderErrors   *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		// Dispatches by conversation type and engine
		DispatchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_dispatch_requests_total",
			Help: "Total number of conversation dispatches by type and engine",
		}, []string{"type", "engine"}),

		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_dispatch_duration_seconds",
			Help:    "Dispatch latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_provider_errors_total",
			Help: "Total number of provider call failures by engine",
		}, []string{"engine"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// observeDispatch records one finished dispatch. Safe to call before
// InitMetrics (tests): it becomes a no-op.
func observeDispatch(conv *models.Conversation, started time.Time, err error) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.DispatchRequests.WithLabelValues(string(conv.Type), string(conv.Engine)).Inc()
	globalMetrics.DispatchLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		globalMetrics.ProviderErrors.WithLabelValues(string(conv.Engine)).Inc()
	}
}
