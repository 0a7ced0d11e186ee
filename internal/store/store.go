// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store defines the persistence gateway for leases,
// reservations, and events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/resmgr/leasecore/internal/domain"
)

// ErrDuplicateName is returned by CreateLease when a lease with the
// same (project_id, name) already exists.
var ErrDuplicateName = errors.New("store: lease name already exists for project")

// ErrNotFound is returned when a lease, reservation, or event lookup
// finds no matching row.
var ErrNotFound = errors.New("store: not found")

// LeasePatch carries a partial update to a lease row. Nil fields are
// left unchanged.
type LeasePatch struct {
	Name           *string
	StartDate      *time.Time
	EndDate        *time.Time
	BeforeEndDate  *time.Time
	Status         *domain.LeaseStatus
}

// ReservationPatch carries a partial update to a reservation row.
type ReservationPatch struct {
	ResourceID *string
	StartDate  *time.Time
	EndDate    *time.Time
	Status     *domain.ReservationStatus
	Values     map[string]string
}

// EventPatch carries a partial update to an event row.
type EventPatch struct {
	Time   *time.Time
	Status *domain.EventStatus
}

// Gateway abstracts persistence of leases, reservations, and events.
// internal/store/sqlite is its sole production implementation; tests
// use an in-memory fake implementing the same interface.
type Gateway interface {
	CreateLease(ctx context.Context, l *domain.Lease) error
	GetLease(ctx context.Context, id string) (*domain.Lease, error)
	ListLeases(ctx context.Context, projectID string) ([]*domain.Lease, error)
	UpdateLease(ctx context.Context, id string, patch LeasePatch) error
	DeleteLease(ctx context.Context, id string) error

	CreateReservation(ctx context.Context, r *domain.Reservation) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	ListReservationsByLease(ctx context.Context, leaseID string) ([]*domain.Reservation, error)
	UpdateReservation(ctx context.Context, id string, patch ReservationPatch) error

	CreateEvent(ctx context.Context, e *domain.Event) error
	UpdateEvent(ctx context.Context, id string, patch EventPatch) error
	CASEventStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error)
	EventsDueSorted(ctx context.Context, border time.Time) ([]*domain.Event, error)
	FirstEventByType(ctx context.Context, leaseID string, t domain.EventType) (*domain.Event, error)

	CASLeaseStatus(ctx context.Context, id string, from domain.LeaseStatus, to domain.LeaseStatus) (bool, error)
	SetLeaseStatus(ctx context.Context, id string, s domain.LeaseStatus) error
	GetLeaseStatus(ctx context.Context, id string) (domain.LeaseStatus, error)
}
