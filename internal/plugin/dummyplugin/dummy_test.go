// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dummyplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveResourceAssignsSequentialIDs(t *testing.T) {
	d := New()
	id1, err := d.ReserveResource(context.Background(), "res-1", nil)
	require.NoError(t, err)
	id2, err := d.ReserveResource(context.Background(), "res-2", nil)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestLifecycleCallbacksRecordResourceIDs(t *testing.T) {
	d := New()
	require.NoError(t, d.OnStart(context.Background(), "dummy-resource-1"))
	require.NoError(t, d.OnEnd(context.Background(), "dummy-resource-1"))

	require.Equal(t, []string{"dummy-resource-1"}, d.Started)
	require.Equal(t, []string{"dummy-resource-1"}, d.Ended)
}

func TestResourceTypeIsDummy(t *testing.T) {
	require.Equal(t, "dummy", New().ResourceType())
}
