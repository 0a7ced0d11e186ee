// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dummyplugin provides a resource-type plugin with no external
// side effects, mirroring dummy.vm.plugin: it exists to exercise the
// reservation lifecycle end to end in tests and as a template for
// writing real plugins.
package dummyplugin

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/resmgr/leasecore/internal/plugin"
)

const FactoryName = "dummy"

func init() {
	plugin.Register(FactoryName, func() plugin.Plugin { return New() })
}

// Dummy implements plugin.Plugin against no backing infrastructure: it
// hands out sequential resource IDs and records lifecycle calls for
// assertions in tests.
type Dummy struct {
	options map[string]string
	counter atomic.Int64

	Started []string
	Ended   []string
}

// New constructs an unconfigured Dummy plugin.
func New() *Dummy {
	return &Dummy{}
}

func (d *Dummy) ResourceType() string { return "dummy" }

func (d *Dummy) Setup(cfg map[string]string) error {
	d.options = cfg
	return nil
}

func (d *Dummy) PluginOptions() map[string]string { return d.options }

func (d *Dummy) ReserveResource(ctx context.Context, reservationID string, values map[string]any) (string, error) {
	n := d.counter.Add(1)
	return fmt.Sprintf("dummy-resource-%d", n), nil
}

func (d *Dummy) UpdateReservation(ctx context.Context, reservationID string, values map[string]any) error {
	return nil
}

func (d *Dummy) OnStart(ctx context.Context, resourceID string) error {
	d.Started = append(d.Started, resourceID)
	return nil
}

func (d *Dummy) OnEnd(ctx context.Context, resourceID string) error {
	d.Ended = append(d.Ended, resourceID)
	return nil
}

func (d *Dummy) BeforeEnd(ctx context.Context, resourceID string) error {
	return nil
}
