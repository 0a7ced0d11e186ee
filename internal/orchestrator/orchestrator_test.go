// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resmgr/leasecore/internal/clock"
	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/plugin"
	"github.com/resmgr/leasecore/internal/plugin/dummyplugin"
	"github.com/resmgr/leasecore/internal/store"
	"github.com/resmgr/leasecore/internal/trust"
)

// fakeGateway is an in-memory store.Gateway for orchestrator unit tests.
type fakeGateway struct {
	mu           sync.Mutex
	leases       map[string]*domain.Lease
	reservations map[string]*domain.Reservation
	events       map[string]*domain.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		leases:       map[string]*domain.Lease{},
		reservations: map[string]*domain.Reservation{},
		events:       map[string]*domain.Event{},
	}
}

func (f *fakeGateway) CreateLease(ctx context.Context, l *domain.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.leases {
		if existing.ProjectID == l.ProjectID && existing.Name == l.Name {
			return store.ErrDuplicateName
		}
	}
	cp := *l
	f.leases[l.ID] = &cp
	return nil
}

func (f *fakeGateway) GetLease(ctx context.Context, id string) (*domain.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	cp.Reservations = f.reservationsByLeaseLocked(id)
	cp.Events = f.eventsByLeaseLocked(id)
	return &cp, nil
}

func (f *fakeGateway) ListLeases(ctx context.Context, projectID string) ([]*domain.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Lease
	for _, l := range f.leases {
		if l.ProjectID == projectID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeGateway) UpdateLease(ctx context.Context, id string, patch store.LeasePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leases[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Name != nil {
		for otherID, existing := range f.leases {
			if otherID != id && existing.ProjectID == l.ProjectID && existing.Name == *patch.Name {
				return store.ErrDuplicateName
			}
		}
		l.Name = *patch.Name
	}
	if patch.StartDate != nil {
		l.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		l.EndDate = *patch.EndDate
	}
	if patch.BeforeEndDate != nil {
		l.BeforeEndDate = patch.BeforeEndDate
	}
	if patch.Status != nil {
		l.Status = *patch.Status
	}
	return nil
}

func (f *fakeGateway) DeleteLease(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, id)
	for rid, r := range f.reservations {
		if r.LeaseID == id {
			delete(f.reservations, rid)
		}
	}
	for eid, e := range f.events {
		if e.LeaseID == id {
			delete(f.events, eid)
		}
	}
	return nil
}

func (f *fakeGateway) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.reservations[r.ID] = &cp
	return nil
}

func (f *fakeGateway) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeGateway) ListReservationsByLease(ctx context.Context, leaseID string) ([]*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reservationsByLeaseLocked(leaseID), nil
}

func (f *fakeGateway) reservationsByLeaseLocked(leaseID string) []*domain.Reservation {
	var out []*domain.Reservation
	for _, r := range f.reservations {
		if r.LeaseID == leaseID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeGateway) UpdateReservation(ctx context.Context, id string, patch store.ReservationPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.ResourceID != nil {
		r.ResourceID = *patch.ResourceID
	}
	if patch.StartDate != nil {
		r.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		r.EndDate = *patch.EndDate
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.Values != nil {
		r.Values = patch.Values
	}
	return nil
}

func (f *fakeGateway) CreateEvent(ctx context.Context, e *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeGateway) UpdateEvent(ctx context.Context, id string, patch store.EventPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Time != nil {
		e.Time = *patch.Time
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	return nil
}

func (f *fakeGateway) CASEventStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (f *fakeGateway) EventsDueSorted(ctx context.Context, border time.Time) ([]*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Event
	for _, e := range f.events {
		if e.Status == domain.EventUndone && !e.Time.After(border) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (f *fakeGateway) FirstEventByType(ctx context.Context, leaseID string, t domain.EventType) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.eventsByLeaseLocked(leaseID) {
		if e.EventType == t {
			return e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) eventsByLeaseLocked(leaseID string) []*domain.Event {
	var out []*domain.Event
	for _, e := range f.events {
		if e.LeaseID == leaseID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeGateway) CASLeaseStatus(ctx context.Context, id string, from, to domain.LeaseStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leases[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if l.Status != from {
		return false, nil
	}
	l.Status = to
	return true, nil
}

func (f *fakeGateway) SetLeaseStatus(ctx context.Context, id string, s domain.LeaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leases[id]; ok {
		l.Status = s
	}
	return nil
}

func (f *fakeGateway) GetLeaseStatus(ctx context.Context, id string) (domain.LeaseStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leases[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return l.Status, nil
}

var _ store.Gateway = (*fakeGateway)(nil)

// passthroughCaller runs a plugin callback with no rate limiting or
// circuit breaking, for tests that only care about event-handler
// outcomes and not the resilience layer itself.
type passthroughCaller struct{}

func (passthroughCaller) CallPlugin(ctx context.Context, resourceType string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestOrchestrator(t *testing.T, gw *fakeGateway, clk clock.Clock, cfg Config) *Orchestrator {
	t.Helper()
	reg, err := plugin.Load([]plugin.PluginConfig{{FactoryName: "dummy"}})
	require.NoError(t, err)
	return New(gw, reg, notify.Noop{}, trust.Static{}, clk, cfg, passthroughCaller{})
}

func TestCreateLeaseHappyPathSeedsEventsAndReservation(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(t, gw, clock.NewFake(now), Config{MinutesBeforeEndLease: 60})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "L1",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
		Reservations: []ReservationInput{{ResourceType: "dummy"}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.LeasePending, l.Status)
	require.Len(t, l.Reservations, 1)
	require.NotEmpty(t, l.Reservations[0].ResourceID)

	// 60 minutes before 01:00 is 00:00, which equals start_date, so no
	// clamping is needed; still produces 3 events (start, end, before-end).
	require.Len(t, l.Events, 3)

	beforeEnd, err := gw.FirstEventByType(context.Background(), l.ID, domain.EventBeforeEndLease)
	require.NoError(t, err)
	require.True(t, beforeEnd.Time.Equal(now))
}

func TestCreateLeaseRejectsPastStart(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(t, gw, clock.NewFake(now), Config{})

	_, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "L-past",
		StartDate: "2029-12-31 23:59", EndDate: "2030-01-01 01:00",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Empty(t, gw.leases)
}

func TestCreateLeaseDuplicateNameRollsBackPartialRows(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(t, gw, clock.NewFake(now), Config{})

	input := CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "dup",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
		Reservations: []ReservationInput{{ResourceType: "dummy"}},
	}

	_, err := o.CreateLease(context.Background(), input)
	require.NoError(t, err)

	_, err = o.CreateLease(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrLeaseNameAlreadyExists)

	require.Len(t, gw.leases, 1, "the second call's partial rows must be rolled back")
}

func TestUpdateLeaseEmptyValuesIsNoop(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(t, gw, clock.NewFake(now), Config{})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "noop-lease",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
	})
	require.NoError(t, err)

	got, err := o.UpdateLease(context.Background(), l.ID, UpdateLeaseInput{})
	require.NoError(t, err)
	require.Equal(t, l.Status, got.Status)
	require.Equal(t, l.Name, got.Name)
}

func TestUpdateLeaseRenameOnlyWorksAtAnyStatus(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(t, gw, clock.NewFake(now), Config{})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "old-name",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
	})
	require.NoError(t, err)
	require.NoError(t, gw.SetLeaseStatus(context.Background(), l.ID, domain.LeaseTerminated))

	got, err := o.UpdateLease(context.Background(), l.ID, UpdateLeaseInput{Name: "new-name"})
	require.NoError(t, err)
	require.Equal(t, "new-name", got.Name)
	require.Equal(t, domain.LeaseTerminated, got.Status)
}

func TestUpdateLeaseExtendsEndAndPreservesBeforeEndDelta(t *testing.T) {
	gw := newFakeGateway()
	clk := clock.NewFake(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	o := newTestOrchestrator(t, gw, clk, Config{MinutesBeforeEndLease: 60})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "extend-me",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
	})
	require.NoError(t, err)
	require.NoError(t, gw.SetLeaseStatus(context.Background(), l.ID, domain.LeaseActive))
	clk.Set(time.Date(2030, 1, 1, 0, 30, 0, 0, time.UTC))

	got, err := o.UpdateLease(context.Background(), l.ID, UpdateLeaseInput{EndDate: "2030-01-01 02:00"})
	require.NoError(t, err)
	require.Equal(t, domain.LeaseActive, got.Status)

	endEvent, err := gw.FirstEventByType(context.Background(), l.ID, domain.EventEndLease)
	require.NoError(t, err)
	require.True(t, endEvent.Time.Equal(time.Date(2030, 1, 1, 2, 0, 0, 0, time.UTC)))

	beforeEnd, err := gw.FirstEventByType(context.Background(), l.ID, domain.EventBeforeEndLease)
	require.NoError(t, err)
	require.True(t, beforeEnd.Time.Equal(time.Date(2030, 1, 1, 1, 0, 0, 0, time.UTC)), "60-minute delta must be preserved against the new end_date")
}

func TestDeleteLeaseCallsOnEndAndDestroysRows(t *testing.T) {
	gw := newFakeGateway()
	clk := clock.NewFake(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	o := newTestOrchestrator(t, gw, clk, Config{})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "delete-me",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
		Reservations: []ReservationInput{{ResourceType: "dummy"}},
	})
	require.NoError(t, err)
	require.NoError(t, gw.SetLeaseStatus(context.Background(), l.ID, domain.LeaseActive))
	clk.Set(time.Date(2030, 1, 1, 0, 30, 0, 0, time.UTC))

	require.NoError(t, o.DeleteLease(context.Background(), l.ID))

	p, ok := o.plugins.Get("dummy")
	require.True(t, ok)
	require.Equal(t, []string{l.Reservations[0].ResourceID}, p.(*dummyplugin.Dummy).Ended)

	_, err = gw.GetLease(context.Background(), l.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartLeaseTransitionsLeaseAndReservationToActive(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(t, gw, clock.NewFake(now), Config{})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "start-me",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
		Reservations: []ReservationInput{{ResourceType: "dummy"}},
	})
	require.NoError(t, err)
	require.NoError(t, gw.SetLeaseStatus(context.Background(), l.ID, domain.LeasePending))

	startEvent, err := gw.FirstEventByType(context.Background(), l.ID, domain.EventStartLease)
	require.NoError(t, err)

	require.NoError(t, o.StartLease(context.Background(), l.ID, startEvent.ID))

	status, err := gw.GetLeaseStatus(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, domain.LeaseActive, status)

	reservations, err := gw.ListReservationsByLease(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationActive, reservations[0].Status)
}

func TestStartLeasePluginFailureRoutesLeaseAndReservationToError(t *testing.T) {
	gw := newFakeGateway()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	reg, err := plugin.Load([]plugin.PluginConfig{{FactoryName: "failing"}})
	require.NoError(t, err)
	o := New(gw, reg, notify.Noop{}, trust.Static{}, clock.NewFake(now), Config{}, passthroughCaller{})

	l, err := o.CreateLease(context.Background(), CreateLeaseInput{
		ProjectID: "proj-1", TrustID: "trust-1", Name: "fail-me",
		StartDate: "2030-01-01 00:00", EndDate: "2030-01-01 01:00",
		Reservations: []ReservationInput{{ResourceType: "failing"}},
	})
	require.NoError(t, err)
	require.NoError(t, gw.SetLeaseStatus(context.Background(), l.ID, domain.LeasePending))

	startEvent, err := gw.FirstEventByType(context.Background(), l.ID, domain.EventStartLease)
	require.NoError(t, err)

	err = o.StartLease(context.Background(), l.ID, startEvent.ID)
	require.Error(t, err)

	status, err := gw.GetLeaseStatus(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, domain.LeaseError, status)

	reservations, err := gw.ListReservationsByLease(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationError, reservations[0].Status)
}

func init() {
	plugin.Register("failing", func() plugin.Plugin { return &failingPlugin{} })
}

type failingPlugin struct{}

func (failingPlugin) ResourceType() string { return "failing" }
func (failingPlugin) ReserveResource(ctx context.Context, reservationID string, values map[string]any) (string, error) {
	return "failing-resource", nil
}
func (failingPlugin) UpdateReservation(ctx context.Context, reservationID string, values map[string]any) error {
	return nil
}
func (failingPlugin) OnStart(ctx context.Context, resourceID string) error { return errOnStart }
func (failingPlugin) OnEnd(ctx context.Context, resourceID string) error  { return nil }
func (failingPlugin) BeforeEnd(ctx context.Context, resourceID string) error {
	return nil
}
func (failingPlugin) PluginOptions() map[string]string { return nil }
func (failingPlugin) Setup(cfg map[string]string) error { return nil }

var errOnStart = errors.New("on_start failed")
