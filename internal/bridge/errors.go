package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrUnknownDevice is returned for device IDs not in the devices list.
	ErrUnknownDevice = errors.New("bridge: unknown device")

	// ErrWrongKind is returned when an operation targets a device of another kind.
	ErrWrongKind = errors.New("bridge: wrong device kind")

	// ErrQueueFull is returned when a device's work queue is full.
	ErrQueueFull = errors.New("bridge: device queue full")

	// ErrStopped is returned for work submitted after Stop.
	ErrStopped = errors.New("bridge: stopped")

	// ErrNotAuthorised is returned when a credential may not control a light.
	ErrNotAuthorised = errors.New("bridge: not authorised")
)
