// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the
// reservation manager core.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	LeaseIDKey       = "lease.id"
	LeaseStatusKey   = "lease.status"
	ReservationIDKey = "reservation.id"
	ResourceTypeKey  = "resource.type"
	ResourceIDKey    = "resource.id"

	EventIDKey     = "event.id"
	EventTypeKey   = "event.type"
	EventStatusKey = "event.status"

	SchedulerTickClaimedKey = "scheduler.tick.claimed"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// LeaseAttributes creates common lease span attributes.
func LeaseAttributes(leaseID, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(LeaseIDKey, leaseID),
		attribute.String(LeaseStatusKey, status),
	}
}

// ReservationAttributes creates reservation-related span attributes.
func ReservationAttributes(reservationID, resourceType, resourceID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if reservationID != "" {
		attrs = append(attrs, attribute.String(ReservationIDKey, reservationID))
	}
	if resourceType != "" {
		attrs = append(attrs, attribute.String(ResourceTypeKey, resourceType))
	}
	if resourceID != "" {
		attrs = append(attrs, attribute.String(ResourceIDKey, resourceID))
	}
	return attrs
}

// EventAttributes creates event-related span attributes.
func EventAttributes(eventID, eventType, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventIDKey, eventID),
		attribute.String(EventTypeKey, eventType),
		attribute.String(EventStatusKey, status),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
