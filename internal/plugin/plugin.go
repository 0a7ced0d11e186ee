// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package plugin defines the resource-plugin contract and a static
// registry of plugin factories, the Go analogue of the stevedore
// extension-manager namespace the original dispatcher relied on.
package plugin

import "context"

// Plugin manages the lifecycle of one resource type (e.g. "dummy",
// "virtual:instance", "physical:host") on behalf of the orchestrator
// and executor.
type Plugin interface {
	ResourceType() string
	ReserveResource(ctx context.Context, reservationID string, values map[string]any) (resourceID string, err error)
	UpdateReservation(ctx context.Context, reservationID string, values map[string]any) error
	OnStart(ctx context.Context, resourceID string) error
	OnEnd(ctx context.Context, resourceID string) error
	BeforeEnd(ctx context.Context, resourceID string) error
	PluginOptions() map[string]string
	Setup(cfg map[string]string) error
}
