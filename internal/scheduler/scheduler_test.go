// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/resmgr/leasecore/internal/clock"
	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/executor"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/plugin"
	"github.com/resmgr/leasecore/internal/store"
	"github.com/resmgr/leasecore/internal/trust"
)

type fakeGateway struct {
	store.Gateway

	mu     sync.Mutex
	due    []*domain.Event
	casErr error
	cased  map[string]domain.EventStatus
}

func newFakeGateway(due ...*domain.Event) *fakeGateway {
	return &fakeGateway{due: due, cased: map[string]domain.EventStatus{}}
}

func (f *fakeGateway) EventsDueSorted(ctx context.Context, border time.Time) ([]*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

func (f *fakeGateway) CASEventStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.casErr != nil {
		return false, f.casErr
	}
	f.cased[id] = to
	return true, nil
}

func (f *fakeGateway) UpdateEvent(ctx context.Context, id string, patch store.EventPatch) error {
	return nil
}

func noopTrustLookup(ctx context.Context, leaseID string) (string, domain.LeaseStatus, error) {
	return "trust-1", domain.LeaseActive, nil
}

func TestTickClaimsDueEventsAndRunsHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := &domain.Event{ID: "ev-1", LeaseID: "lease-1", EventType: domain.EventStartLease, Time: time.Now()}
	gw := newFakeGateway(e)

	var calls int32
	done := make(chan struct{}, 1)
	handler := func(ctx context.Context, leaseID, eventID string) error {
		atomic.AddInt32(&calls, 1)
		done <- struct{}{}
		return nil
	}

	reg, err := plugin.Load(nil)
	require.NoError(t, err)

	x := executor.New(gw, reg, noopEmitter{}, trust.Static{}, clock.NewFake(time.Now()), executor.Config{})

	s := New(gw, x, map[domain.EventType]executor.Handler{domain.EventStartLease: handler}, noopTrustLookup, clock.NewFake(time.Now()), Config{
		Interval:       20 * time.Millisecond,
		MaxConcurrency: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	cancel()
	s.Stop()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, domain.EventInProgress, gw.cased["ev-1"])
}

func TestTickSkipsEventsOnUnstableLease(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := &domain.Event{ID: "ev-1", LeaseID: "lease-1", EventType: domain.EventStartLease, Time: time.Now()}
	gw := newFakeGateway(e)

	reg, err := plugin.Load(nil)
	require.NoError(t, err)
	x := executor.New(gw, reg, noopEmitter{}, trust.Static{}, clock.NewFake(time.Now()), executor.Config{})

	unstableLookup := func(ctx context.Context, leaseID string) (string, domain.LeaseStatus, error) {
		return "trust-1", domain.LeaseUpdating, nil
	}

	var calls int32
	handler := func(ctx context.Context, leaseID, eventID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	s := New(gw, x, map[domain.EventType]executor.Handler{domain.EventStartLease: handler}, unstableLookup, clock.NewFake(time.Now()), Config{
		Interval:       10 * time.Millisecond,
		MaxConcurrency: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Stop()

	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
	require.Empty(t, gw.cased["ev-1"])
}

func TestStopIsIdempotentAndLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := newFakeGateway()
	reg, err := plugin.Load(nil)
	require.NoError(t, err)
	x := executor.New(gw, reg, noopEmitter{}, trust.Static{}, clock.NewFake(time.Now()), executor.Config{})

	s := New(gw, x, map[domain.EventType]executor.Handler{}, noopTrustLookup, clock.NewFake(time.Now()), Config{
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)
	time.Sleep(30 * time.Millisecond)

	s.Stop()
	s.Stop() // must not panic or deadlock
}

func TestTickWritesCheckpoint(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := newFakeGateway()
	reg, err := plugin.Load(nil)
	require.NoError(t, err)
	x := executor.New(gw, reg, noopEmitter{}, trust.Static{}, clock.NewFake(time.Now()), executor.Config{})

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := New(gw, x, map[domain.EventType]executor.Handler{}, noopTrustLookup, clock.NewFake(time.Now()), Config{
		Interval:       10 * time.Millisecond,
		CheckpointPath: path,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Stop()

	require.FileExists(t, path)
}

func TestTickDoesNotBlockWhenPoolSaturated(t *testing.T) {
	defer goleak.VerifyNone(t)

	e1 := &domain.Event{ID: "ev-1", LeaseID: "lease-1", EventType: domain.EventStartLease, Time: time.Now()}
	e2 := &domain.Event{ID: "ev-2", LeaseID: "lease-2", EventType: domain.EventStartLease, Time: time.Now()}
	gw := newFakeGateway(e1, e2)

	reg, err := plugin.Load(nil)
	require.NoError(t, err)
	x := executor.New(gw, reg, noopEmitter{}, trust.Static{}, clock.NewFake(time.Now()), executor.Config{})

	release := make(chan struct{})
	handlerDone := make(chan struct{}, 1)
	handler := func(ctx context.Context, leaseID, eventID string) error {
		<-release
		handlerDone <- struct{}{}
		return nil
	}

	s := New(gw, x, map[domain.EventType]executor.Handler{domain.EventStartLease: handler}, noopTrustLookup, clock.NewFake(time.Now()), Config{
		Interval:       time.Hour,
		MaxConcurrency: 1,
	})

	tickDone := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(tickDone)
	}()

	select {
	case <-tickDone:
	case <-time.After(time.Second):
		t.Fatal("tick blocked waiting on a saturated worker pool")
	}

	require.Equal(t, domain.EventInProgress, gw.cased["ev-1"], "the dispatched event keeps its claim")
	require.Equal(t, domain.EventUndone, gw.cased["ev-2"], "the event that couldn't get a worker is released back for a later tick")

	close(release)
	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Fatal("handler goroutine for ev-1 never finished")
	}
}

type noopEmitter struct{}

func (noopEmitter) Publish(ctx context.Context, n notify.Notification) error { return nil }
