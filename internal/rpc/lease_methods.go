// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resmgr/leasecore/internal/orchestrator"
)

// leaseReservationInput mirrors orchestrator.ReservationInput on the wire.
type leaseReservationInput struct {
	ResourceType string            `json:"resource_type"`
	Values       map[string]string `json:"values,omitempty"`
}

// createLeaseParams mirrors orchestrator.CreateLeaseInput on the wire.
type createLeaseParams struct {
	ProjectID     string                  `json:"project_id"`
	UserID        string                  `json:"user_id"`
	TrustID       string                  `json:"trust_id"`
	Name          string                  `json:"name"`
	StartDate     string                  `json:"start_date"`
	EndDate       string                  `json:"end_date"`
	BeforeEndDate string                  `json:"before_end_date,omitempty"`
	Reservations  []leaseReservationInput `json:"reservations,omitempty"`
}

type reservationOverrideParams struct {
	ReservationID string            `json:"reservation_id"`
	Values        map[string]string `json:"values,omitempty"`
}

type updateLeaseParams struct {
	LeaseID       string                      `json:"lease_id"`
	Name          string                      `json:"name,omitempty"`
	StartDate     string                      `json:"start_date,omitempty"`
	EndDate       string                      `json:"end_date,omitempty"`
	BeforeEndDate string                      `json:"before_end_date,omitempty"`
	Reservations  []reservationOverrideParams `json:"reservations,omitempty"`
}

type leaseIDParams struct {
	LeaseID string `json:"lease_id"`
}

type eventHandlerParams struct {
	LeaseID string `json:"lease_id"`
	EventID string `json:"event_id"`
}

type listLeasesParams struct {
	ProjectID string            `json:"project_id,omitempty"`
	Query     map[string]string `json:"query,omitempty"`
}

// dispatchLease routes one of the 8 named wire methods to
// the orchestrator.
func (d *Dispatcher) dispatchLease(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "get_lease":
		var p leaseIDParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return d.orch.GetLease(ctx, p.LeaseID)

	case "list_leases":
		var p listLeasesParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return d.orch.ListLeases(ctx, p.ProjectID, p.Query)

	case "create_lease":
		var p createLeaseParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		reservations := make([]orchestrator.ReservationInput, len(p.Reservations))
		for i, r := range p.Reservations {
			reservations[i] = orchestrator.ReservationInput{ResourceType: r.ResourceType, Values: r.Values}
		}
		return d.orch.CreateLease(ctx, orchestrator.CreateLeaseInput{
			ProjectID: p.ProjectID, UserID: p.UserID, TrustID: p.TrustID, Name: p.Name,
			StartDate: p.StartDate, EndDate: p.EndDate, BeforeEndDate: p.BeforeEndDate,
			Reservations: reservations,
		})

	case "update_lease":
		var p updateLeaseParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		overrides := make([]orchestrator.ReservationOverride, len(p.Reservations))
		for i, r := range p.Reservations {
			overrides[i] = orchestrator.ReservationOverride{ReservationID: r.ReservationID, Values: r.Values}
		}
		return d.orch.UpdateLease(ctx, p.LeaseID, orchestrator.UpdateLeaseInput{
			Name: p.Name, StartDate: p.StartDate, EndDate: p.EndDate, BeforeEndDate: p.BeforeEndDate,
			Reservations: overrides,
		})

	case "delete_lease":
		var p leaseIDParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.orch.DeleteLease(ctx, p.LeaseID)

	case "start_lease":
		var p eventHandlerParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.orch.StartLease(ctx, p.LeaseID, p.EventID)

	case "end_lease":
		var p eventHandlerParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.orch.EndLease(ctx, p.LeaseID, p.EventID)

	case "before_end_lease":
		var p eventHandlerParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.orch.BeforeEndLease(ctx, p.LeaseID, p.EventID)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}
