// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/metrics"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/statemachine"
	"github.com/resmgr/leasecore/internal/store"
)

// ReservationOverride supplies an update to one existing reservation
// inside update_lease.
type ReservationOverride struct {
	ReservationID string
	Values        map[string]string
}

// UpdateLeaseInput is the update_lease(lease_id, values) payload. A
// zero-value UpdateLeaseInput (Name, StartDate, EndDate, BeforeEndDate
// all empty and Reservations empty) is the no-op case.
type UpdateLeaseInput struct {
	Name          string
	StartDate     string
	EndDate       string
	BeforeEndDate string
	Reservations  []ReservationOverride
}

func (in UpdateLeaseInput) empty() bool {
	return in.Name == "" && in.StartDate == "" && in.EndDate == "" && in.BeforeEndDate == "" && len(in.Reservations) == 0
}

func (in UpdateLeaseInput) nameOnly() bool {
	return in.Name != "" && in.StartDate == "" && in.EndDate == "" && in.BeforeEndDate == "" && len(in.Reservations) == 0
}

// UpdateLease applies an in-place edit to a lease, guarded UPDATING -> stable.
func (o *Orchestrator) UpdateLease(ctx context.Context, leaseID string, in UpdateLeaseInput) (lease *domain.Lease, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.OrchestratorOpDuration.WithLabelValues("update_lease", outcome).Observe(time.Since(start).Seconds())
	}()

	if in.empty() {
		return o.gw.GetLease(ctx, leaseID)
	}

	current, err := o.gw.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	scopedCtx, err := o.scoper.Scope(ctx, current.TrustID)
	if err != nil {
		return nil, err
	}

	if in.nameOnly() {
		name := o.fold.String(in.Name)
		if err := o.gw.UpdateLease(scopedCtx, leaseID, store.LeasePatch{Name: &name}); err != nil {
			if isDuplicate(err) {
				return nil, domain.ErrLeaseNameAlreadyExists
			}
			return nil, err
		}
		o.publish(scopedCtx, leaseID, notify.ChannelLeaseUpdate)
		return o.gw.GetLease(ctx, leaseID)
	}

	var notifications []notify.Channel

	guardErr := statemachine.Guard(scopedCtx, o.gw, leaseID, domain.LeaseUpdating, []domain.LeaseStatus{current.Status},
		func(ctx context.Context) (domain.LeaseStatus, error) {
			resolved, notifs, err := o.applyLeaseUpdate(ctx, current, in)
			notifications = notifs
			return resolved, err
		})
	if guardErr != nil {
		return nil, guardErr
	}

	if in.Name != "" {
		name := o.fold.String(in.Name)
		if err := o.gw.UpdateLease(scopedCtx, leaseID, store.LeasePatch{Name: &name}); err != nil {
			if isDuplicate(err) {
				return nil, domain.ErrLeaseNameAlreadyExists
			}
			return nil, err
		}
	}

	o.publish(scopedCtx, leaseID, notify.ChannelLeaseUpdate)
	for _, ch := range notifications {
		o.publish(scopedCtx, leaseID, ch)
	}

	return o.gw.GetLease(ctx, leaseID)
}

// applyLeaseUpdate runs the update body under the guard: date
// resolution/validation, reservation overrides, and event time
// recomputation. It returns the resolved lease status (always "stable"
// since every branch either succeeds back to the original stable
// status or errors) and any extra notifications to emit.
func (o *Orchestrator) applyLeaseUpdate(ctx context.Context, current *domain.Lease, in UpdateLeaseInput) (domain.LeaseStatus, []notify.Channel, error) {
	now := o.now()

	startDate := current.StartDate
	endDate := current.EndDate

	if in.StartDate != "" {
		parsed, err := parseDate(in.StartDate, now)
		if err != nil {
			return "", nil, err
		}
		if current.StartDate.Before(now) {
			return "", nil, fmt.Errorf("%w: start_date cannot change once the lease has started", domain.ErrCantUpdateParameter)
		}
		if parsed.Before(now) {
			return "", nil, fmt.Errorf("%w: start_date must not be in the past", domain.ErrInvalidInput)
		}
		startDate = parsed
	}

	if current.EndDate.Before(now) && in.EndDate == "" && in.BeforeEndDate == "" && len(in.Reservations) == 0 {
		return "", nil, fmt.Errorf("%w: lease has already ended", domain.ErrInvalidInput)
	}

	if in.EndDate != "" {
		parsed, err := parseDate(in.EndDate, now)
		if err != nil {
			return "", nil, err
		}
		if !parsed.After(now) {
			return "", nil, fmt.Errorf("%w: end_date must be in the future", domain.ErrInvalidInput)
		}
		if !parsed.After(startDate) {
			return "", nil, fmt.Errorf("%w: end_date must be after start_date", domain.ErrInvalidInput)
		}
		endDate = parsed
	}

	for _, ov := range in.Reservations {
		r, err := o.gw.GetReservation(ctx, ov.ReservationID)
		if err != nil || r.LeaseID != current.ID {
			return "", nil, fmt.Errorf("%w: reservation %q does not belong to lease %q", domain.ErrInvalidInput, ov.ReservationID, current.ID)
		}

		p, ok := o.plugins.Get(r.ResourceType)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedResource, r.ResourceType)
		}

		values := make(map[string]any, len(ov.Values))
		for k, v := range ov.Values {
			values[k] = v
		}
		// Plugin failures here are deliberately NOT rolled back: any
		// earlier reservation overrides in this loop remain as
		// applied, the lease dates and events are not updated, and
		// the guard routes the lease to ERROR.
		if err := p.UpdateReservation(ctx, r.ID, values); err != nil {
			return "", nil, err
		}
		if err := o.gw.UpdateReservation(ctx, r.ID, store.ReservationPatch{Values: ov.Values}); err != nil {
			return "", nil, err
		}
	}

	startEvent, err := o.gw.FirstEventByType(ctx, current.ID, domain.EventStartLease)
	if err != nil {
		return "", nil, fmt.Errorf("%w: start_lease event missing", domain.ErrInvalidInput)
	}
	endEvent, err := o.gw.FirstEventByType(ctx, current.ID, domain.EventEndLease)
	if err != nil {
		return "", nil, fmt.Errorf("%w: end_lease event missing", domain.ErrInvalidInput)
	}

	if !startDate.Equal(current.StartDate) {
		if err := o.gw.UpdateEvent(ctx, startEvent.ID, store.EventPatch{Time: &startDate}); err != nil {
			return "", nil, err
		}
	}
	if !endDate.Equal(current.EndDate) {
		if err := o.gw.UpdateEvent(ctx, endEvent.ID, store.EventPatch{Time: &endDate}); err != nil {
			return "", nil, err
		}
	}

	notifications, err := o.recomputeBeforeEnd(ctx, current, startDate, endDate, in.BeforeEndDate, now)
	if err != nil {
		return "", nil, err
	}

	patch := store.LeasePatch{}
	if !startDate.Equal(current.StartDate) {
		patch.StartDate = &startDate
	}
	if !endDate.Equal(current.EndDate) {
		patch.EndDate = &endDate
	}
	if err := o.gw.UpdateLease(ctx, current.ID, patch); err != nil {
		return "", nil, err
	}

	return current.Status, notifications, nil
}

// recomputeBeforeEnd implements the before_end_lease recompute rules:
// preserve the old delta if no explicit value was supplied, clamp to
// the new start_date if the result lands earlier, and reset + notify
// if the event had already fired.
func (o *Orchestrator) recomputeBeforeEnd(ctx context.Context, current *domain.Lease, newStart, newEnd time.Time, suppliedBeforeEnd string, now time.Time) ([]notify.Channel, error) {
	existing, err := o.gw.FirstEventByType(ctx, current.ID, domain.EventBeforeEndLease)
	if err != nil {
		// No before_end_lease event configured for this lease; nothing
		// to recompute.
		return nil, nil
	}

	var newTime time.Time
	if suppliedBeforeEnd != "" {
		parsed, err := parseDate(suppliedBeforeEnd, now)
		if err != nil {
			return nil, err
		}
		if !(newStart.Before(parsed) && parsed.Before(newEnd)) {
			return nil, fmt.Errorf("%w: before_end_date must satisfy start_date < before_end_date < end_date", domain.ErrInvalidInput)
		}
		newTime = parsed
	} else {
		delta := current.EndDate.Sub(existing.Time)
		newTime = newEnd.Add(-delta)
		if newTime.Before(newStart) {
			newTime = newStart
		}
	}

	patch := store.EventPatch{Time: &newTime}
	var notifications []notify.Channel
	if existing.Status == domain.EventDone {
		undone := domain.EventUndone
		patch.Status = &undone
		notifications = append(notifications, notify.ChannelEventBeforeEndLeaseStop)
	}

	if err := o.gw.UpdateEvent(ctx, existing.ID, patch); err != nil {
		return nil, err
	}

	return notifications, nil
}
