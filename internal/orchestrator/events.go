// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/executor"
	"github.com/resmgr/leasecore/internal/statemachine"
)

// errReservationActionFailed signals that at least one reservation's
// plugin callback failed during a basic-action sweep. It carries no
// information beyond "fail this event and this lease" — BasicAction
// has already routed the individual reservations to ERROR.
var errReservationActionFailed = errors.New("orchestrator: one or more reservation actions failed")

// Handlers returns the event-type -> handler table the scheduler
// dispatches through the Event Executor, keyed by the three
// deferred lease-lifecycle event types.
func (o *Orchestrator) Handlers() map[domain.EventType]executor.Handler {
	return map[domain.EventType]executor.Handler{
		domain.EventStartLease:     o.StartLease,
		domain.EventEndLease:       o.EndLease,
		domain.EventBeforeEndLease: o.BeforeEndLease,
	}
}

// StartLease runs the start_lease event: guarded STARTING -> (ACTIVE, ERROR).
func (o *Orchestrator) StartLease(ctx context.Context, leaseID, eventID string) error {
	return statemachine.Guard(ctx, o.gw, leaseID, domain.LeaseStarting, []domain.LeaseStatus{domain.LeaseActive},
		func(ctx context.Context) (domain.LeaseStatus, error) {
			reservations, err := o.gw.ListReservationsByLease(ctx, leaseID)
			if err != nil {
				return "", err
			}
			target := domain.ReservationActive
			outcome := executor.BasicAction(ctx, o.gw, reservations, &target, func(ctx context.Context, r *domain.Reservation) error {
				p, ok := o.plugins.Get(r.ResourceType)
				if !ok {
					return domain.ErrUnsupportedResource
				}
				return o.exec.CallPlugin(ctx, r.ResourceType, func(ctx context.Context) error {
					return p.OnStart(ctx, r.ResourceID)
				})
			})
			if outcome != domain.EventDone {
				return "", errReservationActionFailed
			}
			return domain.LeaseActive, nil
		})
}

// EndLease runs the end_lease event: guarded TERMINATING -> (TERMINATED, ERROR).
func (o *Orchestrator) EndLease(ctx context.Context, leaseID, eventID string) error {
	return statemachine.Guard(ctx, o.gw, leaseID, domain.LeaseTerminating, []domain.LeaseStatus{domain.LeaseTerminated},
		func(ctx context.Context) (domain.LeaseStatus, error) {
			reservations, err := o.gw.ListReservationsByLease(ctx, leaseID)
			if err != nil {
				return "", err
			}
			target := domain.ReservationDeleted
			outcome := executor.BasicAction(ctx, o.gw, reservations, &target, func(ctx context.Context, r *domain.Reservation) error {
				p, ok := o.plugins.Get(r.ResourceType)
				if !ok {
					return domain.ErrUnsupportedResource
				}
				return o.exec.CallPlugin(ctx, r.ResourceType, func(ctx context.Context) error {
					return p.OnEnd(ctx, r.ResourceID)
				})
			})
			if outcome != domain.EventDone {
				return "", errReservationActionFailed
			}
			return domain.LeaseTerminated, nil
		})
}

// BeforeEndLease runs the before_end_lease event. It is best-effort and
// not guarded by the lease state machine: a plugin cannot
// fail the lease over an advisory warning callback, so its outcome is
// always reported as success to the executor regardless of individual
// reservation failures (which BasicAction has already routed to ERROR).
func (o *Orchestrator) BeforeEndLease(ctx context.Context, leaseID, eventID string) error {
	reservations, err := o.gw.ListReservationsByLease(ctx, leaseID)
	if err != nil {
		return err
	}
	executor.BasicAction(ctx, o.gw, reservations, nil, func(ctx context.Context, r *domain.Reservation) error {
		p, ok := o.plugins.Get(r.ResourceType)
		if !ok {
			return domain.ErrUnsupportedResource
		}
		return o.exec.CallPlugin(ctx, r.ResourceType, func(ctx context.Context) error {
			return p.BeforeEnd(ctx, r.ResourceID)
		})
	})
	return nil
}
