// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"errors"
	"net/http"

	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/store"
)

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownMethod):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnsupportedResource),
		errors.Is(err, domain.ErrMissingParameter),
		errors.Is(err, domain.ErrMissingTrustID),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrLeaseNameAlreadyExists),
		errors.Is(err, domain.ErrCantUpdateParameter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
