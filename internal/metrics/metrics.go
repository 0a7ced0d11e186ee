// Package metrics provides Prometheus metrics for the reservation
// manager core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerTicksTotal counts scheduler ticks.
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leasecore_scheduler_ticks_total",
		Help: "Total number of event scheduler ticks executed.",
	})

	// SchedulerEventsClaimedTotal counts events claimed (CAS'd to
	// IN_PROGRESS) per tick, by event type.
	SchedulerEventsClaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_scheduler_events_claimed_total",
		Help: "Total number of events claimed for execution, by event type.",
	}, []string{"event_type"})

	// SchedulerEventsSkippedTotal counts events skipped because their
	// owning lease was non-stable or the worker pool was saturated.
	SchedulerEventsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leasecore_scheduler_events_skipped_total",
		Help: "Total number of due events skipped because the owning lease was non-stable or the worker pool was saturated.",
	})

	// EventOutcomeTotal counts terminal event outcomes by type and result.
	EventOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_event_outcome_total",
		Help: "Total number of event executions by event type and outcome (done/error/retry).",
	}, []string{"event_type", "outcome"})

	// ReservationActionFailuresTotal counts per-resource-type plugin
	// callback failures observed by the executor.
	ReservationActionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_reservation_action_failures_total",
		Help: "Total number of reservation plugin action failures, by resource type and action.",
	}, []string{"resource_type", "action"})

	// PluginCallDuration observes plugin callback latency.
	PluginCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leasecore_plugin_call_duration_seconds",
		Help:    "Duration of plugin callback invocations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource_type", "action"})

	// CircuitBreakerState exposes the current circuit breaker state
	// (0=closed, 1=open, 2=half-open) per breaker name.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leasecore_circuit_breaker_state",
		Help: "Current circuit breaker state by name (0=closed, 1=open, 2=half-open).",
	}, []string{"name"})

	// CircuitBreakerTripsTotal counts circuit breaker trips.
	CircuitBreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips, by name and reason.",
	}, []string{"name", "reason"})

	// NotificationsPublishedTotal counts notifications published to the bus.
	NotificationsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_notifications_published_total",
		Help: "Total number of notifications published, by channel.",
	}, []string{"channel"})

	// NotificationsFailedTotal counts notification publish failures
	// (swallowed and logged, never surfaced to the caller).
	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_notifications_failed_total",
		Help: "Total number of notification publish failures, by channel.",
	}, []string{"channel"})

	// OrchestratorOpDuration observes lease orchestrator operation latency.
	OrchestratorOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leasecore_orchestrator_op_duration_seconds",
		Help:    "Duration of lease orchestrator operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})

	// PluginCallsThrottledTotal counts plugin calls delayed (or rejected,
	// if the caller's context expires first) by the per-resource-type
	// call-rate limiter, by resource type.
	PluginCallsThrottledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leasecore_plugin_calls_throttled_total",
		Help: "Total number of plugin calls that had to wait on the per-resource-type rate limiter.",
	}, []string{"resource_type"})
)

// SetCircuitBreakerState records the numeric state for a named breaker.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip increments the trip counter for name/reason.
func RecordCircuitBreakerTrip(name, reason string) {
	CircuitBreakerTripsTotal.WithLabelValues(name, reason).Inc()
}
