// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package executor runs one claimed event to completion: it resolves
// the handler for the event's type, invokes it under the lease's
// trust-scoped context, and applies the retry/error outcome policy.
package executor

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/resmgr/leasecore/internal/clock"
	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/log"
	"github.com/resmgr/leasecore/internal/metrics"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/plugin"
	"github.com/resmgr/leasecore/internal/resilience"
	"github.com/resmgr/leasecore/internal/statemachine"
	"github.com/resmgr/leasecore/internal/store"
	"github.com/resmgr/leasecore/internal/trust"
)

// defaultPluginRate and defaultPluginBurst bound how often each
// resource type's plugin is called when Config doesn't override them.
const (
	defaultPluginRate  = 50 // calls/sec
	defaultPluginBurst = 100
)

// Handler runs one event's lease-lifecycle action.
type Handler func(ctx context.Context, leaseID, eventID string) error

// Config controls retry, per-plugin-call timeout, and call-rate behavior.
type Config struct {
	// EventMaxRetries bounds InvalidStatus retries; range [0,50].
	EventMaxRetries int
	// PluginTimeout is applied around every plugin callback; 0 disables it.
	PluginTimeout time.Duration
	// PluginRate and PluginBurst bound calls per second to any one
	// resource type's plugin; 0 on either falls back to the defaults.
	PluginRate  float64
	PluginBurst int
}

// Executor dispatches claimed events by type and applies the outcome
// policy: success drives the lease machine via the handler itself; a
// retryable InvalidStatus resets the event to UNDONE within the retry
// window and otherwise marks it ERROR; any other error marks the
// event ERROR.
type Executor struct {
	gw       store.Gateway
	plugins  *plugin.Registry
	emitter  notify.Emitter
	scoper   trust.Scoper
	clock    clock.Clock
	cfg      Config
	breakers map[string]*resilience.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// New constructs an Executor. One circuit breaker and one call-rate
// limiter are created per configured resource type, matching the
// per-plugin blast radius each is meant to contain.
func New(gw store.Gateway, plugins *plugin.Registry, emitter notify.Emitter, scoper trust.Scoper, clk clock.Clock, cfg Config) *Executor {
	if cfg.EventMaxRetries < 0 {
		cfg.EventMaxRetries = 0
	}
	if cfg.EventMaxRetries > 50 {
		cfg.EventMaxRetries = 50
	}
	if cfg.PluginRate <= 0 {
		cfg.PluginRate = defaultPluginRate
	}
	if cfg.PluginBurst <= 0 {
		cfg.PluginBurst = defaultPluginBurst
	}

	resourceTypes := plugins.ResourceTypes()
	breakers := make(map[string]*resilience.CircuitBreaker, len(resourceTypes))
	limiters := make(map[string]*rate.Limiter, len(resourceTypes))
	for _, rt := range resourceTypes {
		breakers[rt] = resilience.NewCircuitBreaker(rt, 3, 5, time.Minute, 30*time.Second, resilience.WithClock(clockAdapter{clk}))
		limiters[rt] = rate.NewLimiter(rate.Limit(cfg.PluginRate), cfg.PluginBurst)
	}

	return &Executor{gw: gw, plugins: plugins, emitter: emitter, scoper: scoper, clock: clk, cfg: cfg, breakers: breakers, limiters: limiters}
}

// clockAdapter satisfies resilience's internal clock interface from
// the shared clock.Clock abstraction.
type clockAdapter struct{ clock.Clock }

// ErrUnknownEventType is returned (and routes the event to ERROR) when
// an event's type isn't one of the three known handlers.
var ErrUnknownEventType = errors.New("executor: unknown event type")

// RunEvent executes one already-claimed event end to end: resolve
// handler, invoke under the lease's trust scope, apply the outcome
// policy.
func (x *Executor) RunEvent(ctx context.Context, e *domain.Event, leaseTrustID string, handlers map[domain.EventType]Handler) {
	logger := log.WithComponent("executor")

	handler, ok := handlers[e.EventType]
	if !ok {
		logger.Error().Str(log.FieldEventID, e.ID).Str(log.FieldEventType, string(e.EventType)).Msg("unknown event type")
		metrics.EventOutcomeTotal.WithLabelValues(string(e.EventType), "error").Inc()
		_ = x.gw.UpdateEvent(ctx, e.ID, store.EventPatch{Status: errStatus()})
		return
	}

	scopedCtx, err := x.scoper.Scope(ctx, leaseTrustID)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEventID, e.ID).Msg("trust scope failed")
		metrics.EventOutcomeTotal.WithLabelValues(string(e.EventType), "error").Inc()
		_ = x.gw.UpdateEvent(ctx, e.ID, store.EventPatch{Status: errStatus()})
		return
	}

	err = handler(scopedCtx, e.LeaseID, e.ID)
	switch {
	case err == nil:
		metrics.EventOutcomeTotal.WithLabelValues(string(e.EventType), "done").Inc()
		if _, doneErr := x.gw.CASEventStatus(ctx, e.ID, domain.EventInProgress, domain.EventDone); doneErr != nil {
			logger.Warn().Err(doneErr).Str(log.FieldEventID, e.ID).Msg("marking event DONE failed")
		}
		if err := x.emitter.Publish(ctx, notify.Notification{
			LeaseID: e.LeaseID, Channel: notify.Channel("event." + string(e.EventType)), Generation: e.Time.Unix(),
		}); err != nil {
			logger.Warn().Err(err).Msg("notification publish failed")
		}

	case errors.Is(err, domain.ErrInvalidStatus):
		if x.clock.Now().Before(e.Time.Add(time.Duration(x.cfg.EventMaxRetries) * 10 * time.Second)) {
			metrics.EventOutcomeTotal.WithLabelValues(string(e.EventType), "retry").Inc()
			ok, casErr := x.gw.CASEventStatus(ctx, e.ID, domain.EventInProgress, domain.EventUndone)
			if casErr != nil || !ok {
				logger.Warn().Err(casErr).Str(log.FieldEventID, e.ID).Msg("retry reset CAS failed")
			}
		} else {
			metrics.EventOutcomeTotal.WithLabelValues(string(e.EventType), "error").Inc()
			_ = x.gw.UpdateEvent(ctx, e.ID, store.EventPatch{Status: errStatus()})
		}

	default:
		logger.Error().Err(err).Str(log.FieldEventID, e.ID).Msg("event handler failed")
		metrics.EventOutcomeTotal.WithLabelValues(string(e.EventType), "error").Inc()
		_ = x.gw.UpdateEvent(ctx, e.ID, store.EventPatch{Status: errStatus()})
	}
}

func errStatus() *domain.EventStatus {
	s := domain.EventError
	return &s
}

// Breaker returns the circuit breaker guarding resourceType's plugin
// calls, if one is configured.
func (x *Executor) Breaker(resourceType string) (*resilience.CircuitBreaker, bool) {
	b, ok := x.breakers[resourceType]
	return b, ok
}

// CallPlugin wraps a plugin callback invocation with the resource
// type's call-rate limiter, circuit breaker, and, if configured, a
// per-call timeout.
func (x *Executor) CallPlugin(ctx context.Context, resourceType string, fn func(ctx context.Context) error) error {
	if limiter, ok := x.limiters[resourceType]; ok {
		if limiter.Tokens() < 1 {
			metrics.PluginCallsThrottledTotal.WithLabelValues(resourceType).Inc()
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if x.cfg.PluginTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, x.cfg.PluginTimeout)
		defer cancel()
	}

	run := func() error { return fn(callCtx) }

	b, ok := x.breakers[resourceType]
	if !ok {
		return run()
	}

	start := time.Now()
	err := b.Execute(run)
	metrics.PluginCallDuration.WithLabelValues(resourceType, "call").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ReservationActionFailuresTotal.WithLabelValues(resourceType, "call").Inc()
	}
	return err
}

// BasicAction iterates every reservation of lease, invoking action for
// each (by ResourceID) regardless of earlier failures within the same
// loop, then returns the accumulated event outcome; it does not write
// the event row itself, the caller records the outcome. targetStatus, if
// non-nil, is the reservation status to set on a successful callback;
// a failed callback always routes that reservation to ERROR.
//
// A reservation whose current status cannot legally move to
// targetStatus is routed straight to ERROR without ever calling
// action: an already-ERROR or already-DELETED reservation must not
// have its plugin called again just because its lease's event fired.
func BasicAction(
	ctx context.Context,
	gw store.Gateway,
	reservations []*domain.Reservation,
	targetStatus *domain.ReservationStatus,
	action func(ctx context.Context, r *domain.Reservation) error,
) domain.EventStatus {
	outcome := domain.EventDone

	for _, r := range reservations {
		if targetStatus != nil && !statemachine.ReservationTransitionValid(r.Status, *targetStatus) {
			outcome = domain.EventError
			failed := domain.ReservationError
			_ = gw.UpdateReservation(ctx, r.ID, store.ReservationPatch{Status: &failed})
			continue
		}

		if err := action(ctx, r); err != nil {
			outcome = domain.EventError
			failed := domain.ReservationError
			_ = gw.UpdateReservation(ctx, r.ID, store.ReservationPatch{Status: &failed})
			continue
		}
		if targetStatus != nil {
			status := *targetStatus
			_ = gw.UpdateReservation(ctx, r.ID, store.ReservationPatch{Status: &status})
		}
	}

	return outcome
}
