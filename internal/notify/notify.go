// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify defines the fire-and-forget lease lifecycle
// notification bus. The bus itself is out of scope per the
// specification ("interface only"); internal/notify/redisbus is a
// concrete stand-in for local, dev, and test wiring.
package notify

import "context"

// Channel names the lease-lifecycle notification channels that the
// orchestrator and executor emit on.
type Channel string

const (
	ChannelLeaseCreate           Channel = "lease.create"
	ChannelLeaseUpdate           Channel = "lease.update"
	ChannelLeaseDelete           Channel = "lease.delete"
	ChannelEventStartLease       Channel = "event.start_lease"
	ChannelEventEndLease         Channel = "event.end_lease"
	ChannelEventBeforeEndLease   Channel = "event.before_end_lease"
	ChannelEventBeforeEndLeaseStop Channel = "event.before_end_lease.stop"
)

// Notification is one lease lifecycle event, published as JSON on the
// bus and deduplicated by (LeaseID, Channel, Generation).
type Notification struct {
	LeaseID    string
	Channel    Channel
	Generation int64
	Payload    map[string]any
}

// Emitter publishes lease lifecycle notifications. Publish failures
// are swallowed and logged by implementations: notification emission
// is the one suspension point whose failure never routes the lease to
// ERROR.
type Emitter interface {
	Publish(ctx context.Context, n Notification) error
}

// Noop discards every notification. Used where an Emitter is required
// but no bus is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, n Notification) error { return nil }
