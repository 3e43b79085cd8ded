package strategy

import "errors"

var (
	// ErrAlreadyLoaded is returned by Host.Load when a strategy id is
	// already registered.
	ErrAlreadyLoaded = errors.New("strategy: already loaded")
	// ErrNotFound is returned when a strategy id or factory kind is
	// unknown to the host.
	ErrNotFound = errors.New("strategy: not found")
	// ErrInvalidParameters is returned by ApplyParams when a required
	// parameter is missing or out of its valid range.
	ErrInvalidParameters = errors.New("strategy: invalid parameters")
	// ErrStrategyError wraps a kernel-internal failure surfaced to the host.
	ErrStrategyError = errors.New("strategy: internal error")
)
