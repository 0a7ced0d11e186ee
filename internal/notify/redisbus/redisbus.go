// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package redisbus implements notify.Emitter by publishing to a Redis
// pub/sub channel, the concrete stand-in for the lease lifecycle
// notification bus.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/resmgr/leasecore/internal/log"
	"github.com/resmgr/leasecore/internal/metrics"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/notify/dedupe"
)

const defaultChannel = "lease.events"

// Config holds Redis connection configuration for the notification
// bus.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// LedgerPath, if non-empty, backs a dedupe.Ledger that makes
	// Publish idempotent per (lease_id, channel, generation).
	LedgerPath string
	LedgerTTL  time.Duration
}

// Bus publishes lease lifecycle notifications to a Redis pub/sub
// channel. Publish failures are logged, never returned as an error
// that would route a lease to ERROR, per the notification propagation
// policy.
type Bus struct {
	client  *redis.Client
	channel string
	ledger  *dedupe.Ledger
	ttl     time.Duration
}

var _ notify.Emitter = (*Bus)(nil)

// New connects to Redis and, if cfg.LedgerPath is set, opens the
// idempotency ledger.
func New(ctx context.Context, cfg Config) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisbus: ping failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}

	bus := &Bus{client: client, channel: channel, ttl: cfg.LedgerTTL}

	if cfg.LedgerPath != "" {
		ledger, err := dedupe.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("redisbus: open ledger: %w", err)
		}
		bus.ledger = ledger
	}

	return bus, nil
}

// NewWithClient wraps an already-constructed client, used by tests
// against miniredis.
func NewWithClient(client *redis.Client, channel string, ledger *dedupe.Ledger) *Bus {
	if channel == "" {
		channel = defaultChannel
	}
	return &Bus{client: client, channel: channel, ledger: ledger}
}

func (b *Bus) Close() error {
	if b.ledger != nil {
		_ = b.ledger.Close()
	}
	return b.client.Close()
}

// Publish serializes n and PUBLISHes it. Any failure (dedupe lookup,
// marshal, or the PUBLISH itself) is logged and swallowed.
func (b *Bus) Publish(ctx context.Context, n notify.Notification) error {
	if b.ledger != nil {
		already, err := b.ledger.AlreadyPublished(n.LeaseID, string(n.Channel), n.Generation)
		if err != nil {
			log.L().Warn().Err(err).Str(log.FieldLeaseID, n.LeaseID).Msg("dedupe lookup failed, publishing anyway")
		} else if already {
			return nil
		}
	}

	payload, err := json.Marshal(n)
	if err != nil {
		log.L().Warn().Err(err).Str(log.FieldLeaseID, n.LeaseID).Msg("notification marshal failed")
		metrics.NotificationsFailedTotal.WithLabelValues(string(n.Channel)).Inc()
		return nil
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		log.L().Warn().Err(err).Str(log.FieldLeaseID, n.LeaseID).Str("channel", string(n.Channel)).Msg("notification publish failed")
		metrics.NotificationsFailedTotal.WithLabelValues(string(n.Channel)).Inc()
		return nil
	}

	metrics.NotificationsPublishedTotal.WithLabelValues(string(n.Channel)).Inc()

	if b.ledger != nil {
		ttl := b.ledgerTTL()
		if err := b.ledger.MarkPublished(n.LeaseID, string(n.Channel), n.Generation, ttl); err != nil {
			log.L().Warn().Err(err).Str(log.FieldLeaseID, n.LeaseID).Msg("dedupe mark failed")
		}
	}

	return nil
}

// ledgerTTL is the configured LedgerTTL, or 24h when none is set.
func (b *Bus) ledgerTTL() time.Duration {
	if b.ttl > 0 {
		return b.ttl
	}
	return 24 * time.Hour
}
