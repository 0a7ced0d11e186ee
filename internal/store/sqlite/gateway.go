// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/store"
)

// Gateway implements store.Gateway on top of a pooled *sql.DB.
type Gateway struct {
	db *sql.DB
}

var _ store.Gateway = (*Gateway)(nil)

// Open opens the database at dbPath, applies PRAGMAs and pending
// migrations, and returns a ready-to-use Gateway.
func Open(dbPath string, cfg Config) (*Gateway, error) {
	db, err := openDB(dbPath, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return &Gateway{db: db}, nil
}

func (g *Gateway) Close() error { return g.db.Close() }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// --- Leases ---

func (g *Gateway) CreateLease(ctx context.Context, l *domain.Lease) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO leases (id, name, project_id, user_id, trust_id, start_date, end_date, before_end_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.ProjectID, l.UserID, l.TrustID,
		unixOrZero(l.StartDate), unixOrZero(l.EndDate), nullableUnix(l.BeforeEndDate), string(l.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("sqlite: create lease: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (g *Gateway) GetLease(ctx context.Context, id string) (*domain.Lease, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, name, project_id, user_id, trust_id, start_date, end_date, before_end_date, status
		FROM leases WHERE id = ?`, id)
	l, err := scanLease(row)
	if err != nil {
		return nil, err
	}

	reservations, err := g.ListReservationsByLease(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Reservations = reservations

	events, err := g.listEventsByLease(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Events = events

	return l, nil
}

func (g *Gateway) ListLeases(ctx context.Context, projectID string) ([]*domain.Lease, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, project_id, user_id, trust_id, start_date, end_date, before_end_date, status
		FROM leases WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list leases: %w", err)
	}
	defer rows.Close()

	var out []*domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (g *Gateway) UpdateLease(ctx context.Context, id string, patch store.LeasePatch) error {
	sets := []string{}
	args := []any{}

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.StartDate != nil {
		sets = append(sets, "start_date = ?")
		args = append(args, patch.StartDate.Unix())
	}
	if patch.EndDate != nil {
		sets = append(sets, "end_date = ?")
		args = append(args, patch.EndDate.Unix())
	}
	if patch.BeforeEndDate != nil {
		sets = append(sets, "before_end_date = ?")
		args = append(args, patch.BeforeEndDate.Unix())
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE leases SET %s WHERE id = ?", strings.Join(sets, ", "))
	_, err := g.db.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("sqlite: update lease: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteLease(ctx context.Context, id string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM leases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete lease: %w", err)
	}
	return nil
}

func scanLease(scanner interface{ Scan(...any) error }) (*domain.Lease, error) {
	var l domain.Lease
	var status string
	var start, end int64
	var beforeEnd sql.NullInt64

	err := scanner.Scan(&l.ID, &l.Name, &l.ProjectID, &l.UserID, &l.TrustID, &start, &end, &beforeEnd, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: scan lease: %w", err)
	}

	l.Status = domain.LeaseStatus(status)
	l.StartDate = time.Unix(start, 0).UTC()
	l.EndDate = time.Unix(end, 0).UTC()
	if beforeEnd.Valid {
		t := time.Unix(beforeEnd.Int64, 0).UTC()
		l.BeforeEndDate = &t
	}
	return &l, nil
}

// --- Reservations ---

func (g *Gateway) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	valuesJSON, err := json.Marshal(r.Values)
	if err != nil {
		return fmt.Errorf("sqlite: marshal reservation values: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO reservations (id, lease_id, resource_type, resource_id, start_date, end_date, status, values_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.LeaseID, r.ResourceType, r.ResourceID, r.StartDate.Unix(), r.EndDate.Unix(), string(r.Status), valuesJSON,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create reservation: %w", err)
	}
	return nil
}

func (g *Gateway) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, lease_id, resource_type, resource_id, start_date, end_date, status, values_json
		FROM reservations WHERE id = ?`, id)
	return scanReservation(row)
}

func (g *Gateway) ListReservationsByLease(ctx context.Context, leaseID string) ([]*domain.Reservation, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, lease_id, resource_type, resource_id, start_date, end_date, status, values_json
		FROM reservations WHERE lease_id = ?`, leaseID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *Gateway) UpdateReservation(ctx context.Context, id string, patch store.ReservationPatch) error {
	sets := []string{}
	args := []any{}

	if patch.ResourceID != nil {
		sets = append(sets, "resource_id = ?")
		args = append(args, *patch.ResourceID)
	}
	if patch.StartDate != nil {
		sets = append(sets, "start_date = ?")
		args = append(args, patch.StartDate.Unix())
	}
	if patch.EndDate != nil {
		sets = append(sets, "end_date = ?")
		args = append(args, patch.EndDate.Unix())
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Values != nil {
		valuesJSON, err := json.Marshal(patch.Values)
		if err != nil {
			return fmt.Errorf("sqlite: marshal reservation values: %w", err)
		}
		sets = append(sets, "values_json = ?")
		args = append(args, valuesJSON)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE reservations SET %s WHERE id = ?", strings.Join(sets, ", "))
	_, err := g.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update reservation: %w", err)
	}
	return nil
}

func scanReservation(scanner interface{ Scan(...any) error }) (*domain.Reservation, error) {
	var r domain.Reservation
	var status string
	var start, end int64
	var valuesJSON sql.NullString

	err := scanner.Scan(&r.ID, &r.LeaseID, &r.ResourceType, &r.ResourceID, &start, &end, &status, &valuesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: scan reservation: %w", err)
	}

	r.Status = domain.ReservationStatus(status)
	r.StartDate = time.Unix(start, 0).UTC()
	r.EndDate = time.Unix(end, 0).UTC()
	if valuesJSON.Valid && valuesJSON.String != "" {
		_ = json.Unmarshal([]byte(valuesJSON.String), &r.Values)
	}
	return &r, nil
}

// --- Events ---

func (g *Gateway) CreateEvent(ctx context.Context, e *domain.Event) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO events (id, lease_id, event_type, time, status) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.LeaseID, string(e.EventType), e.Time.Unix(), string(e.Status),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create event: %w", err)
	}
	return nil
}

func (g *Gateway) UpdateEvent(ctx context.Context, id string, patch store.EventPatch) error {
	sets := []string{}
	args := []any{}

	if patch.Time != nil {
		sets = append(sets, "time = ?")
		args = append(args, patch.Time.Unix())
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE events SET %s WHERE id = ?", strings.Join(sets, ", "))
	_, err := g.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update event: %w", err)
	}
	return nil
}

func (g *Gateway) CASEventStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error) {
	res, err := g.db.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("sqlite: cas event status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: cas event status rows affected: %w", err)
	}
	return n == 1, nil
}

func (g *Gateway) EventsDueSorted(ctx context.Context, border time.Time) ([]*domain.Event, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, lease_id, event_type, time, status FROM events
		WHERE status = ? AND time <= ?
		ORDER BY time ASC`, string(domain.EventUndone), border.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite: events due: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Gateway) FirstEventByType(ctx context.Context, leaseID string, t domain.EventType) (*domain.Event, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, lease_id, event_type, time, status FROM events
		WHERE lease_id = ? AND event_type = ? ORDER BY time ASC LIMIT 1`, leaseID, string(t))
	return scanEvent(row)
}

func (g *Gateway) listEventsByLease(ctx context.Context, leaseID string) ([]*domain.Event, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, lease_id, event_type, time, status FROM events WHERE lease_id = ?`, leaseID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(scanner interface{ Scan(...any) error }) (*domain.Event, error) {
	var e domain.Event
	var eventType, status string
	var t int64

	err := scanner.Scan(&e.ID, &e.LeaseID, &eventType, &t, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: scan event: %w", err)
	}

	e.EventType = domain.EventType(eventType)
	e.Status = domain.EventStatus(status)
	e.Time = time.Unix(t, 0).UTC()
	return &e, nil
}

// --- Lease status ---

func (g *Gateway) CASLeaseStatus(ctx context.Context, id string, from, to domain.LeaseStatus) (bool, error) {
	res, err := g.db.ExecContext(ctx, `UPDATE leases SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("sqlite: cas lease status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: cas lease status rows affected: %w", err)
	}
	return n == 1, nil
}

func (g *Gateway) SetLeaseStatus(ctx context.Context, id string, s domain.LeaseStatus) error {
	_, err := g.db.ExecContext(ctx, `UPDATE leases SET status = ? WHERE id = ?`, string(s), id)
	if err != nil {
		return fmt.Errorf("sqlite: set lease status: %w", err)
	}
	return nil
}

func (g *Gateway) GetLeaseStatus(ctx context.Context, id string) (domain.LeaseStatus, error) {
	var status string
	err := g.db.QueryRowContext(ctx, `SELECT status FROM leases WHERE id = ?`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("sqlite: get lease status: %w", err)
	}
	return domain.LeaseStatus(status), nil
}
