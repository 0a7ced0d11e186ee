// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler runs the event loop: a ticker fires at
// EVENT_INTERVAL, each tick claims due events and hands them to the
// event executor on a bounded worker pool. The tick itself must never
// block waiting for workers to drain, so the pool is built on
// golang.org/x/sync/semaphore rather than errgroup (which would make
// the caller wait for the group).
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/resmgr/leasecore/internal/checkpoint"
	"github.com/resmgr/leasecore/internal/clock"
	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/executor"
	"github.com/resmgr/leasecore/internal/log"
	"github.com/resmgr/leasecore/internal/metrics"
	"github.com/resmgr/leasecore/internal/store"
)

// Config controls tick cadence, worker concurrency, and checkpointing.
type Config struct {
	Interval       time.Duration
	MaxConcurrency int64
	CheckpointPath string // empty disables checkpointing
}

// LeaseTrustLookup resolves a lease's trust_id for the executor's
// trust-scoped invocation, without requiring a full lease fetch.
type LeaseTrustLookup func(ctx context.Context, leaseID string) (trustID string, status domain.LeaseStatus, err error)

// Scheduler owns the ticker and worker pool.
type Scheduler struct {
	gw       store.Gateway
	exec     *executor.Executor
	handlers map[domain.EventType]executor.Handler
	trust    LeaseTrustLookup
	clock    clock.Clock
	cfg      Config

	sem *semaphore.Weighted

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Scheduler. maxConcurrency <= 0 defaults to 10.
func New(gw store.Gateway, exec *executor.Executor, handlers map[domain.EventType]executor.Handler, trustLookup LeaseTrustLookup, clk clock.Clock, cfg Config) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	return &Scheduler{
		gw:       gw,
		exec:     exec,
		handlers: handlers,
		trust:    trustLookup,
		clock:    clk,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logger := log.WithComponent("scheduler")
	logger.Info().Dur("interval", s.cfg.Interval).Msg("event scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) tick(ctx context.Context) {
	logger := log.WithComponent("scheduler")
	metrics.SchedulerTicksTotal.Inc()

	due, err := s.gw.EventsDueSorted(ctx, s.clock.Now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to query due events")
		return
	}

	claimed, skipped := 0, 0

	for _, e := range due {
		trustID, leaseStatus, err := s.trust(ctx, e.LeaseID)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldLeaseID, e.LeaseID).Msg("lease lookup failed, skipping event")
			skipped++
			continue
		}
		if !leaseStatus.IsStable() {
			skipped++
			metrics.SchedulerEventsSkippedTotal.Inc()
			continue
		}

		ok, err := s.gw.CASEventStatus(ctx, e.ID, domain.EventUndone, domain.EventInProgress)
		if err != nil {
			logger.Error().Err(err).Str(log.FieldEventID, e.ID).Msg("claim CAS failed")
			continue
		}
		if !ok {
			// Another tick or a pre-empting call (e.g. delete_lease)
			// already claimed this event.
			continue
		}

		if !s.sem.TryAcquire(1) {
			// Pool is saturated this tick. Give the claim back rather
			// than blocking the tick on a free worker: CAS back to
			// UNDONE so a later tick re-claims it.
			if _, casErr := s.gw.CASEventStatus(ctx, e.ID, domain.EventInProgress, domain.EventUndone); casErr != nil {
				logger.Warn().Err(casErr).Str(log.FieldEventID, e.ID).Msg("releasing claim after pool saturation failed")
			}
			logger.Warn().Str(log.FieldEventID, e.ID).Msg("worker pool saturated, deferring to next tick")
			skipped++
			metrics.SchedulerEventsSkippedTotal.Inc()
			continue
		}

		claimed++
		metrics.SchedulerEventsClaimedTotal.WithLabelValues(string(e.EventType)).Inc()

		go func(e *domain.Event, trustID string) {
			defer s.sem.Release(1)
			s.exec.RunEvent(ctx, e, trustID, s.handlers)
		}(e, trustID)
	}

	if s.cfg.CheckpointPath != "" {
		if err := checkpoint.Write(s.cfg.CheckpointPath, checkpoint.Status{
			TickAt:        s.clock.Now(),
			EventsClaimed: claimed,
			EventsSkipped: skipped,
		}); err != nil {
			logger.Warn().Err(err).Msg("checkpoint write failed")
		}
	}
}
