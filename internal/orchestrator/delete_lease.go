// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"time"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/metrics"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/statemachine"
)

// DeleteLease tears a lease down, guarded through DELETING; a failure
// routes the lease to ERROR. On success the lease row (and its
// reservations/events) is destroyed entirely, so there is no "stable"
// resolution status to reach. The op always returns an explicit
// status, so Guard never falls back to resultIn here.
func (o *Orchestrator) DeleteLease(ctx context.Context, leaseID string) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.OrchestratorOpDuration.WithLabelValues("delete_lease", outcome).Observe(time.Since(start).Seconds())
	}()

	current, err := o.gw.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}

	scopedCtx, err := o.scoper.Scope(ctx, current.TrustID)
	if err != nil {
		return err
	}

	now := o.now()
	deleted := false

	err = statemachine.Guard(scopedCtx, o.gw, leaseID, domain.LeaseDeleting, []domain.LeaseStatus{current.Status},
		func(ctx context.Context) (domain.LeaseStatus, error) {
			if !now.Before(current.StartDate) && !now.After(current.EndDate) {
				endEvent, err := o.gw.FirstEventByType(ctx, leaseID, domain.EventEndLease)
				if err != nil {
					return "", err
				}
				if endEvent.Status != domain.EventUndone {
					return "", domain.ErrInvalidStatus
				}
				ok, err := o.gw.CASEventStatus(ctx, endEvent.ID, domain.EventUndone, domain.EventInProgress)
				if err != nil {
					return "", err
				}
				if !ok {
					return "", domain.ErrInvalidStatus
				}
			}

			for _, r := range current.Reservations {
				if r.Status == domain.ReservationDeleted {
					continue
				}
				p, ok := o.plugins.Get(r.ResourceType)
				if !ok {
					return "", domain.ErrUnsupportedResource
				}
				if err := o.exec.CallPlugin(ctx, r.ResourceType, func(ctx context.Context) error {
					return p.OnEnd(ctx, r.ResourceID)
				}); err != nil {
					return "", err
				}
			}

			if err := o.gw.DeleteLease(ctx, leaseID); err != nil {
				return "", err
			}
			deleted = true

			// The lease row is gone; there is nothing left to resolve
			// to. Guard still needs a value, but SetLeaseStatus on a
			// deleted row is a harmless no-op in the sqlite gateway.
			return domain.LeaseTerminated, nil
		})
	if err != nil {
		return err
	}

	if deleted {
		o.publish(scopedCtx, leaseID, notify.ChannelLeaseDelete)
	}

	return nil
}
