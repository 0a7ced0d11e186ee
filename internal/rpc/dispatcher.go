// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rpc implements the method-dispatch shim: a method name
// containing ":" is "<resource_type>:<method>" and is routed to the
// owning plugin; everything else is one of the named lease methods,
// routed to the orchestrator. Both tables are explicit and statically
// known, rather than resolved through reflection-style dynamic
// dispatch.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/orchestrator"
	"github.com/resmgr/leasecore/internal/plugin"
)

// ErrUnknownMethod is returned when resource_type is known but method
// is not one of the plugin's statically known methods, or when a name
// without a resource_type is not one of the lease methods.
var ErrUnknownMethod = domain.ErrUnknownMethod

// Dispatcher routes RPC method names to the orchestrator or a plugin.
type Dispatcher struct {
	orch    *orchestrator.Orchestrator
	plugins *plugin.Registry
}

// New constructs a Dispatcher.
func New(orch *orchestrator.Orchestrator, plugins *plugin.Registry) *Dispatcher {
	return &Dispatcher{orch: orch, plugins: plugins}
}

// Dispatch resolves method and invokes it with the raw JSON params,
// returning a JSON-marshalable result or a typed error.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if resourceType, pluginMethod, ok := strings.Cut(method, ":"); ok {
		return d.dispatchPlugin(ctx, resourceType, pluginMethod, params)
	}
	return d.dispatchLease(ctx, method, params)
}

func (d *Dispatcher) dispatchPlugin(ctx context.Context, resourceType, method string, params json.RawMessage) (any, error) {
	p, ok := d.plugins.Get(resourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedResource, resourceType)
	}

	switch method {
	case "reserve_resource":
		var req struct {
			ReservationID string         `json:"reservation_id"`
			Values        map[string]any `json:"values"`
		}
		if err := unmarshalParams(params, &req); err != nil {
			return nil, err
		}
		resourceID, err := p.ReserveResource(ctx, req.ReservationID, req.Values)
		if err != nil {
			return nil, err
		}
		return map[string]any{"resource_id": resourceID}, nil

	case "update_reservation":
		var req struct {
			ReservationID string         `json:"reservation_id"`
			Values        map[string]any `json:"values"`
		}
		if err := unmarshalParams(params, &req); err != nil {
			return nil, err
		}
		return nil, p.UpdateReservation(ctx, req.ReservationID, req.Values)

	case "on_start":
		return nil, callWithResourceID(ctx, params, p.OnStart)
	case "on_end":
		return nil, callWithResourceID(ctx, params, p.OnEnd)
	case "before_end":
		return nil, callWithResourceID(ctx, params, p.BeforeEnd)
	case "plugin_options":
		return p.PluginOptions(), nil

	default:
		return nil, fmt.Errorf("%w: %q on resource type %q", ErrUnknownMethod, method, resourceType)
	}
}

func callWithResourceID(ctx context.Context, params json.RawMessage, fn func(ctx context.Context, resourceID string) error) error {
	var req struct {
		ResourceID string `json:"resource_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return err
	}
	return fn(ctx, req.ResourceID)
}

func unmarshalParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
