package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call lifecycle and negotiation metrics
var (
	CallsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calls_created_total",
		Help: "Total number of calls created",
	})

	CallOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_operations_total",
		Help: "Total number of call operations by outcome",
	}, []string{"operation", "result"}) // result: "ok", "noop", or an error code

	CallSaveConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_save_conflicts_total",
		Help: "Total number of optimistic concurrency collisions on call save",
	}, []string{"operation"})

	CallRetriesExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_retries_exhausted_total",
		Help: "Total number of operations that gave up after repeated save conflicts",
	}, []string{"operation"})

	CallTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Total number of call status transitions",
	}, []string{"from", "to"})

	CallOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_operation_duration_seconds",
		Help:    "Time taken to apply and persist a call operation",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	CallNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_notifications_total",
		Help: "Total number of call state notifications by sink and status",
	}, []string{"sink", "status"})
)
