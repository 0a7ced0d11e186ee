// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAlreadyPublishedFalseThenTrueAfterMark(t *testing.T) {
	l := newTestLedger(t)

	found, err := l.AlreadyPublished("lease-1", "lease.create", 1)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, l.MarkPublished("lease-1", "lease.create", 1, time.Hour))

	found, err = l.AlreadyPublished("lease-1", "lease.create", 1)
	require.NoError(t, err)
	require.True(t, found)
}

func TestDistinctGenerationsAreIndependent(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.MarkPublished("lease-1", "event.end_lease", 1, time.Hour))

	found, err := l.AlreadyPublished("lease-1", "event.end_lease", 2)
	require.NoError(t, err)
	require.False(t, found)
}
