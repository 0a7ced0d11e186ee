// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package trust provides the scoped-credential boundary the
// orchestrator and executor operate under: every lease carries a
// trust_id, and handlers that mutate state on a tenant's behalf must
// run inside the context that trust_id yields. The trust/identity
// subsystem itself (token exchange, revocation, backing IdP) is out of
// scope; this package is the interface and a no-op stand-in for local
// development and tests.
package trust

import (
	"context"
	"errors"
)

// ErrTrustExpired is returned by Scope when trustID no longer grants a
// usable credential.
var ErrTrustExpired = errors.New("trust: scope expired or revoked")

type ctxKey struct{}

// Scoper exchanges a trust_id for a context carrying the scoped
// credential: handlers run under the trust-scoped context of a
// lease's trust_id.
type Scoper interface {
	Scope(ctx context.Context, trustID string) (context.Context, error)
}

// Static is a Scoper that always succeeds, attaching trustID to the
// context unconditionally. It is the development/test stand-in for a
// real trust subsystem backed by an external identity provider.
type Static struct{}

func (Static) Scope(ctx context.Context, trustID string) (context.Context, error) {
	return context.WithValue(ctx, ctxKey{}, trustID), nil
}

// FromContext returns the trust_id the current context is scoped to,
// if any.
func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok
}
