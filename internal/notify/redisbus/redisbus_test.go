// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package redisbus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/notify/dedupe"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	mr, client := setupMiniRedis(t)
	_ = mr

	bus := NewWithClient(client, "", nil)
	ctx := context.Background()

	sub := client.Subscribe(ctx, defaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, notify.Notification{
		LeaseID: "lease-1", Channel: notify.ChannelLeaseCreate, Generation: 1,
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Contains(t, msg.Payload, "lease-1")
}

func TestPublishSkipsAlreadyPublishedNotification(t *testing.T) {
	_, client := setupMiniRedis(t)
	ledger, err := dedupe.Open(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	bus := NewWithClient(client, "", ledger)
	ctx := context.Background()

	n := notify.Notification{LeaseID: "lease-1", Channel: notify.ChannelLeaseUpdate, Generation: 7}
	require.NoError(t, bus.Publish(ctx, n))

	already, err := ledger.AlreadyPublished("lease-1", string(notify.ChannelLeaseUpdate), 7)
	require.NoError(t, err)
	require.True(t, already)

	// A second publish of the same generation is a silent no-op.
	require.NoError(t, bus.Publish(ctx, n))
}

func TestPublishNeverReturnsError(t *testing.T) {
	mr, client := setupMiniRedis(t)
	bus := NewWithClient(client, "", nil)
	mr.Close() // force a connection failure

	err := bus.Publish(context.Background(), notify.Notification{
		LeaseID: "lease-1", Channel: notify.ChannelLeaseDelete, Generation: 1,
	})
	require.NoError(t, err, "publish failures must be swallowed, not surfaced")
}
