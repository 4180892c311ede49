package engine

import "github.com/pkg/errors"

// Errors raised synchronously by the scheduler. None of them are retried:
// they point at a misconfigured order or a broken order function.
var (
	ErrUnregisteredOrderKind = errors.New("unregistered order kind")
	ErrDuplicateOrderKind    = errors.New("order kind already registered")
	ErrMissingArgument       = errors.New("missing order argument")
	ErrInvalidLifetime       = errors.New("invalid order lifetime")
	ErrLifecycleViolation    = errors.New("order lifecycle violation")
	ErrInconsistentRate      = errors.New("inconsistent inverted rates")
	ErrMalformedRateUpdate   = errors.New("malformed rate update")
	ErrOrderExecution        = errors.New("order execution failed")
)
