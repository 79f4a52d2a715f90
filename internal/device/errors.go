package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // no state recorded yet
//	}
var (
	// ErrNotFound is returned when no state exists for a device ID.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidState is returned when a state fails validation.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrKindMismatch is returned when an update names a different kind than the stored row.
	ErrKindMismatch = errors.New("device: kind mismatch")
)
