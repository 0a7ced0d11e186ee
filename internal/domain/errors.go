package domain

import "errors"

// Input validation errors: raised synchronously to the caller, no
// state mutated.
var (
	ErrMissingParameter       = errors.New("missing parameter")
	ErrMissingTrustID         = errors.New("missing trust id")
	ErrInvalidDate            = errors.New("invalid date")
	ErrInvalidInput           = errors.New("invalid input")
	ErrLeaseNameAlreadyExists = errors.New("lease name already exists")
	ErrUnsupportedResource    = errors.New("unsupported resource type")
	ErrCantUpdateParameter    = errors.New("parameter cannot be updated")
)

// ErrInvalidStatus is the state-machine error: raised by the lease
// guard or a reservation transition check. It is retryable inside the
// Event Executor per the retry policy.
var ErrInvalidStatus = errors.New("invalid status")

// ErrPluginConfiguration is fatal at startup.
var ErrPluginConfiguration = errors.New("plugin configuration error")

// ErrUnknownMethod is returned by the RPC dispatcher shim when a
// resource type is known but the requested method is not, and when a
// method name without a resource type is not one of the lease methods.
var ErrUnknownMethod = errors.New("unknown method")
