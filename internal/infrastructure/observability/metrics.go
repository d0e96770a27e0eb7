package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов хранилища
	StoreCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_calls_total",
			Help: "Total number of store method calls",
		},
		[]string{"method", "status"},
	)

	StoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_duration_seconds",
			Help:    "Duration of store method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	CreditOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_operations_total",
			Help: "Total number of credit service operations",
		},
		[]string{"operation", "status"},
	)

	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_wait_seconds",
			Help:    "Time spent waiting to acquire a named lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	LockTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_timeouts_total",
			Help: "Lock acquisitions that timed out",
		},
		[]string{"kind"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(StoreCalls, StoreDuration, CreditOperations, LockWaitDuration, LockTimeouts)
}
