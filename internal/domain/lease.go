// Package domain holds the Lease/Reservation/Event data model and the
// closed sets of statuses each entity can occupy. It has no
// dependencies on storage, plugins, or transport so every other
// package can import it without cycles.
package domain

import "time"

// LeaseStatus is the closed set of states a Lease can occupy.
type LeaseStatus string

const (
	LeaseCreating    LeaseStatus = "CREATING"
	LeasePending     LeaseStatus = "PENDING"
	LeaseStarting    LeaseStatus = "STARTING"
	LeaseActive      LeaseStatus = "ACTIVE"
	LeaseUpdating    LeaseStatus = "UPDATING"
	LeaseTerminating LeaseStatus = "TERMINATING"
	LeaseTerminated  LeaseStatus = "TERMINATED"
	LeaseDeleting    LeaseStatus = "DELETING"
	LeaseError       LeaseStatus = "ERROR"
)

// StableLeaseStatuses are the statuses the transition guard is willing
// to leave via a new transition.
var StableLeaseStatuses = map[LeaseStatus]bool{
	LeasePending:    true,
	LeaseActive:     true,
	LeaseTerminated: true,
	LeaseError:      true,
}

// IsStable reports whether s is a stable lease status.
func (s LeaseStatus) IsStable() bool { return StableLeaseStatuses[s] }

// Lease is a tenant-owned, time-bounded reservation of one or more
// resources.
type Lease struct {
	ID            string
	Name          string
	ProjectID     string
	UserID        string
	TrustID       string
	StartDate     time.Time
	EndDate       time.Time
	BeforeEndDate *time.Time
	Status        LeaseStatus

	Reservations []*Reservation
	Events       []*Event
}

// Active reports whether now falls within [StartDate, EndDate].
func (l *Lease) Active(now time.Time) bool {
	return !now.Before(l.StartDate) && !now.After(l.EndDate)
}

// Ended reports whether the lease's window has closed.
func (l *Lease) Ended(now time.Time) bool {
	return l.EndDate.Before(now)
}

// ReservationStatus is the closed set of states a Reservation can
// occupy.
type ReservationStatus string

const (
	ReservationPending ReservationStatus = "PENDING"
	ReservationActive  ReservationStatus = "ACTIVE"
	ReservationDeleted ReservationStatus = "DELETED"
	ReservationError   ReservationStatus = "ERROR"
)

// Reservation is one resource slot within a Lease. Values carries the
// resource-type-specific attributes a plugin needs (flavor, image,
// hypervisor properties, ...); the orchestrator treats them opaquely
// and hands them to the owning plugin verbatim.
type Reservation struct {
	ID           string
	LeaseID      string
	ResourceType string
	ResourceID   string
	StartDate    time.Time
	EndDate      time.Time
	Status       ReservationStatus
	Values       map[string]string
}

// EventType is the closed set of deferred lifecycle actions.
type EventType string

const (
	EventStartLease     EventType = "start_lease"
	EventEndLease       EventType = "end_lease"
	EventBeforeEndLease EventType = "before_end_lease"
)

// EventStatus is the closed set of states an Event can occupy.
type EventStatus string

const (
	EventUndone     EventStatus = "UNDONE"
	EventInProgress EventStatus = "IN_PROGRESS"
	EventDone       EventStatus = "DONE"
	EventError      EventStatus = "ERROR"
)

// Event is a deferred action against a lease, fired at Time.
type Event struct {
	ID        string
	LeaseID   string
	EventType EventType
	Time      time.Time
	Status    EventStatus
}
