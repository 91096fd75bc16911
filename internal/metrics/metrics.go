// Package metrics holds the Prometheus collectors for the POS backend.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	SalesCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_sales_committed_total",
			Help: "Sales committed atomically",
		},
	)

	OversellRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_oversell_rejections_total",
			Help: "Sale commits rejected for insufficient stock",
		},
	)

	StoreBusyRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_store_busy_total",
			Help: "Commits that hit the store's busy timeout",
		},
	)

	registerOnce sync.Once
)

// Register installs the collectors on the default registry. Guarded so tests
// that spin up more than one server do not double-register.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			SalesCommitted,
			OversellRejections,
			StoreBusyRetries,
		)
	})
}
