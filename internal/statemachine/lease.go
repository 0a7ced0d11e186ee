// Package statemachine encodes the lease/reservation/event status
// transitions and the transition-guard decorator that serializes
// lease-mutating operations.
package statemachine

import (
	"context"
	"fmt"

	"github.com/resmgr/leasecore/internal/domain"
)

// LeaseStatusSetter is the minimal store dependency the guard needs:
// atomically move a lease from one status to another, and force-set a
// status unconditionally (used for the terminal resolution step).
type LeaseStatusSetter interface {
	CASLeaseStatus(ctx context.Context, leaseID string, from, to domain.LeaseStatus) (bool, error)
	SetLeaseStatus(ctx context.Context, leaseID string, to domain.LeaseStatus) error
	GetLeaseStatus(ctx context.Context, leaseID string) (domain.LeaseStatus, error)
}

// Op is a lease-mutating operation run under the guard. It returns the
// status to resolve to on success; an empty string means "use the
// first entry of resultIn".
type Op func(ctx context.Context) (domain.LeaseStatus, error)

// Guard implements the three-step CAS pattern as an explicit higher-order
// wrapper): load current status, fail fast if not stable, CAS into
// transition, run op, resolve to the first of resultIn (or the status
// op returned) on success, or ERROR on any failure.
func Guard(ctx context.Context, store LeaseStatusSetter, leaseID string, transition domain.LeaseStatus, resultIn []domain.LeaseStatus, op Op) (err error) {
	current, err := store.GetLeaseStatus(ctx, leaseID)
	if err != nil {
		return err
	}
	if !current.IsStable() {
		return fmt.Errorf("%w: lease %s is %s, not stable", domain.ErrInvalidStatus, leaseID, current)
	}

	ok, err := store.CASLeaseStatus(ctx, leaseID, current, transition)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: lease %s status changed concurrently", domain.ErrInvalidStatus, leaseID)
	}

	defer func() {
		// Always route failures to ERROR regardless of exit path,
		// including a panic in op, which is re-raised after the status
		// is set so a caller further up can still recover it.
		if r := recover(); r != nil {
			_ = store.SetLeaseStatus(ctx, leaseID, domain.LeaseError)
			panic(r)
		}
		if err != nil {
			_ = store.SetLeaseStatus(ctx, leaseID, domain.LeaseError)
		}
	}()

	resolved, opErr := op(ctx)
	if opErr != nil {
		err = opErr
		return err
	}

	if resolved == "" {
		if len(resultIn) == 0 {
			return fmt.Errorf("guard: no result status supplied for lease %s transition %s", leaseID, transition)
		}
		resolved = resultIn[0]
	}
	if err = store.SetLeaseStatus(ctx, leaseID, resolved); err != nil {
		return err
	}
	return nil
}

// reservationTransitions is the valid-transition table for
// Reservation.Status: PENDING->ACTIVE, ACTIVE->DELETED, any->ERROR.
var reservationTransitions = map[domain.ReservationStatus]map[domain.ReservationStatus]bool{
	domain.ReservationPending: {domain.ReservationActive: true, domain.ReservationError: true},
	domain.ReservationActive:  {domain.ReservationDeleted: true, domain.ReservationError: true},
	domain.ReservationDeleted: {domain.ReservationError: true},
	domain.ReservationError:   {},
}

// ReservationTransitionValid reports whether from->to is a legal
// reservation status transition.
func ReservationTransitionValid(from, to domain.ReservationStatus) bool {
	if from == to {
		return true
	}
	return reservationTransitions[from][to]
}

// eventTransitions is the valid-transition table for Event.Status.
// IN_PROGRESS->UNDONE is allowed only as the explicit retry reset
// performed by the Event Executor, never as a generic transition the
// caller can request for any other reason.
var eventTransitions = map[domain.EventStatus]map[domain.EventStatus]bool{
	domain.EventUndone:     {domain.EventInProgress: true},
	domain.EventInProgress: {domain.EventDone: true, domain.EventError: true, domain.EventUndone: true},
	domain.EventDone:       {},
	domain.EventError:      {},
}

// EventTransitionValid reports whether from->to is a legal event
// status transition.
func EventTransitionValid(from, to domain.EventStatus) bool {
	if from == to {
		return true
	}
	return eventTransitions[from][to]
}
