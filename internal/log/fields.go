// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	FieldRequestID = "request_id"
	FieldEvent     = "event"
	FieldComponent = "component"

	FieldLeaseID       = "lease_id"
	FieldReservationID = "reservation_id"
	FieldEventID       = "event_id"
	FieldEventType     = "event_type"
	FieldResourceType  = "resource_type"
	FieldResourceID    = "resource_id"
	FieldPluginName    = "plugin"

	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
)
