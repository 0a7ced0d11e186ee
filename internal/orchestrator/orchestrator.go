// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator implements the lease lifecycle: create, update,
// delete, and the three deferred event handlers (start_lease,
// end_lease, before_end_lease). Every lease-mutating operation runs
// under internal/statemachine.Guard so an uncaught error always routes
// the lease to ERROR.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/resmgr/leasecore/internal/clock"
	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/log"
	"github.com/resmgr/leasecore/internal/metrics"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/plugin"
	"github.com/resmgr/leasecore/internal/statemachine"
	"github.com/resmgr/leasecore/internal/store"
	"github.com/resmgr/leasecore/internal/trust"
)

// DateLayout is the wire date format, UTC, minute precision.
const DateLayout = "2006-01-02 15:04"

// Config holds the orchestrator's tunables from the configuration table.
type Config struct {
	// MinutesBeforeEndLease offsets the auto-created before_end_lease
	// event from end_date. 0 disables auto-creation.
	MinutesBeforeEndLease int
}

// PluginCaller guards one invocation of a resource type's plugin
// callback with whatever rate-limiting, circuit-breaking, and timeout
// policy the caller enforces. internal/executor.Executor satisfies
// this; the event handlers in events.go depend on the interface
// rather than the concrete type so a test can swap in a bare pass-through.
type PluginCaller interface {
	CallPlugin(ctx context.Context, resourceType string, fn func(ctx context.Context) error) error
}

// Orchestrator implements the lease lifecycle operations.
type Orchestrator struct {
	gw      store.Gateway
	plugins *plugin.Registry
	emitter notify.Emitter
	scoper  trust.Scoper
	clock   clock.Clock
	cfg     Config
	fold    cases.Caser
	exec    PluginCaller
}

// New constructs an Orchestrator. exec guards every deferred-event
// plugin callback (start_lease/end_lease/before_end_lease) with its
// resource type's rate limiter, circuit breaker, and call timeout.
func New(gw store.Gateway, plugins *plugin.Registry, emitter notify.Emitter, scoper trust.Scoper, clk clock.Clock, cfg Config, exec PluginCaller) *Orchestrator {
	return &Orchestrator{
		gw: gw, plugins: plugins, emitter: emitter, scoper: scoper, clock: clk, cfg: cfg,
		fold: cases.Fold(), exec: exec,
	}
}

// ReservationInput is one requested reservation within create_lease.
type ReservationInput struct {
	ResourceType string
	Values       map[string]string
}

// CreateLeaseInput is the create_lease(values) payload.
type CreateLeaseInput struct {
	ProjectID     string
	UserID        string
	TrustID       string
	Name          string
	StartDate     string
	EndDate       string
	BeforeEndDate string // optional; empty means "not supplied"
	Reservations  []ReservationInput
}

func (o *Orchestrator) now() time.Time { return o.clock.Now() }

func parseDate(value string, now time.Time) (time.Time, error) {
	if value == "now" {
		return clock.TruncateToMinute(now), nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidDate, value)
	}
	return t.UTC(), nil
}

// CreateLease validates input, reserves every requested resource,
// seeds the lease's lifecycle events, and marks the lease PENDING.
func (o *Orchestrator) CreateLease(ctx context.Context, in CreateLeaseInput) (lease *domain.Lease, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.OrchestratorOpDuration.WithLabelValues("create_lease", outcome).Observe(time.Since(start).Seconds())
	}()

	if in.TrustID == "" {
		return nil, domain.ErrMissingTrustID
	}
	if in.Name == "" || in.StartDate == "" || in.EndDate == "" {
		return nil, fmt.Errorf("%w: name, start_date, end_date are required", domain.ErrMissingParameter)
	}
	for _, r := range in.Reservations {
		if r.ResourceType == "" {
			return nil, fmt.Errorf("%w: reservation resource_type is required", domain.ErrMissingParameter)
		}
	}

	nowTrunc := clock.TruncateToMinute(o.now())

	startDate, err := parseDate(in.StartDate, o.now())
	if err != nil {
		return nil, err
	}
	endDate, err := parseDate(in.EndDate, o.now())
	if err != nil {
		return nil, err
	}
	if startDate.Before(nowTrunc) {
		return nil, fmt.Errorf("%w: start_date must not be in the past", domain.ErrInvalidInput)
	}
	if !endDate.After(startDate) {
		return nil, fmt.Errorf("%w: end_date must be after start_date", domain.ErrInvalidInput)
	}

	beforeEndDate, err := o.resolveBeforeEndDate(in.BeforeEndDate, startDate, endDate, o.now())
	if err != nil {
		return nil, err
	}

	scopedCtx, err := o.scoper.Scope(ctx, in.TrustID)
	if err != nil {
		return nil, err
	}

	l := &domain.Lease{
		ID:            uuid.New().String(),
		Name:          o.fold.String(in.Name),
		ProjectID:     in.ProjectID,
		UserID:        in.UserID,
		TrustID:       in.TrustID,
		StartDate:     startDate,
		EndDate:       endDate,
		BeforeEndDate: beforeEndDate,
		Status:        domain.LeaseCreating,
	}

	if err := o.gw.CreateLease(scopedCtx, l); err != nil {
		if isDuplicate(err) {
			return nil, domain.ErrLeaseNameAlreadyExists
		}
		return nil, err
	}

	// Any failure from here rolls the lease back entirely: destroy it
	// (cascading reservations/events) and rethrow.
	rollback := func(cause error) (*domain.Lease, error) {
		_ = o.gw.DeleteLease(scopedCtx, l.ID)
		return nil, cause
	}

	for _, ri := range in.Reservations {
		r, err := o.createReservation(scopedCtx, l, ri)
		if err != nil {
			return rollback(err)
		}
		l.Reservations = append(l.Reservations, r)
	}

	events := []*domain.Event{
		{ID: uuid.New().String(), LeaseID: l.ID, EventType: domain.EventStartLease, Time: startDate, Status: domain.EventUndone},
		{ID: uuid.New().String(), LeaseID: l.ID, EventType: domain.EventEndLease, Time: endDate, Status: domain.EventUndone},
	}
	if beforeEndDate != nil {
		events = append(events, &domain.Event{
			ID: uuid.New().String(), LeaseID: l.ID, EventType: domain.EventBeforeEndLease, Time: *beforeEndDate, Status: domain.EventUndone,
		})
	}
	for _, e := range events {
		if err := o.gw.CreateEvent(scopedCtx, e); err != nil {
			return rollback(err)
		}
	}
	l.Events = events

	if err := o.gw.SetLeaseStatus(scopedCtx, l.ID, domain.LeasePending); err != nil {
		return rollback(err)
	}
	l.Status = domain.LeasePending

	o.publish(scopedCtx, l.ID, notify.ChannelLeaseCreate)

	return l, nil
}

// resolveBeforeEndDate derives the before_end_lease event time from
// an explicit value or from MinutesBeforeEndLease.
func (o *Orchestrator) resolveBeforeEndDate(supplied string, startDate, endDate, now time.Time) (*time.Time, error) {
	if supplied != "" {
		t, err := parseDate(supplied, now)
		if err != nil {
			return nil, err
		}
		if !(startDate.Before(t) && t.Before(endDate)) {
			return nil, fmt.Errorf("%w: before_end_date must satisfy start_date < before_end_date < end_date", domain.ErrInvalidInput)
		}
		return &t, nil
	}

	if o.cfg.MinutesBeforeEndLease <= 0 {
		return nil, nil
	}

	derived := endDate.Add(-time.Duration(o.cfg.MinutesBeforeEndLease) * time.Minute)
	if derived.Before(startDate) {
		log.WithComponent("orchestrator").Warn().
			Time("derived", derived).Time("start_date", startDate).
			Msg("before_end_date clamped up to start_date")
		derived = startDate
	}
	return &derived, nil
}

func (o *Orchestrator) createReservation(ctx context.Context, l *domain.Lease, in ReservationInput) (*domain.Reservation, error) {
	p, ok := o.plugins.Get(in.ResourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedResource, in.ResourceType)
	}

	r := &domain.Reservation{
		ID:           uuid.New().String(),
		LeaseID:      l.ID,
		ResourceType: in.ResourceType,
		StartDate:    l.StartDate,
		EndDate:      l.EndDate,
		Status:       domain.ReservationPending,
		Values:       in.Values,
	}
	if err := o.gw.CreateReservation(ctx, r); err != nil {
		return nil, err
	}

	values := make(map[string]any, len(in.Values))
	for k, v := range in.Values {
		values[k] = v
	}

	resourceID, err := p.ReserveResource(ctx, r.ID, values)
	if err != nil {
		return nil, err
	}
	r.ResourceID = resourceID
	if err := o.gw.UpdateReservation(ctx, r.ID, store.ReservationPatch{ResourceID: &resourceID}); err != nil {
		return nil, err
	}

	return r, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateName)
}

func (o *Orchestrator) publish(ctx context.Context, leaseID string, ch notify.Channel) {
	if err := o.emitter.Publish(ctx, notify.Notification{LeaseID: leaseID, Channel: ch, Generation: o.now().Unix()}); err != nil {
		log.WithComponent("orchestrator").Warn().Err(err).Str(log.FieldLeaseID, leaseID).Msg("notification publish failed")
	}
}

// GetLease fetches a lease by id.
func (o *Orchestrator) GetLease(ctx context.Context, id string) (*domain.Lease, error) {
	return o.gw.GetLease(ctx, id)
}

// ListLeases lists leases for a project. query is accepted but
// unused: no current deployment filters the list server-side, but the
// parameter is kept on the signature rather than silently dropped.
func (o *Orchestrator) ListLeases(ctx context.Context, projectID string, query map[string]string) ([]*domain.Lease, error) {
	return o.gw.ListLeases(ctx, projectID)
}
