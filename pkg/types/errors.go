package types

import "errors"

// Errors returned by the parameter store. Callers match them with errors.Is;
// implementations wrap them with context.
var (
	ErrInvalidName       = errors.New("invalid parameter name")
	ErrInvalidValue      = errors.New("invalid parameter value")
	ErrNotFound          = errors.New("parameter not found")
	ErrCapacityExceeded  = errors.New("workspace capacity exceeded")
	ErrForbidden         = errors.New("permission denied")
	ErrReadOnly          = errors.New("parameter is read-only")
	ErrTransientRead     = errors.New("transient read failure")
	ErrPolicyUnavailable = errors.New("security policy unavailable")
	ErrTransport         = errors.New("transport error")
)
