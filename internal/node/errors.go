package node

import "errors"

// Domain errors for the node package.
var (
	// ErrInvalidReading is returned when a sensor value is missing, not a
	// number, or outside the sensor's physical range.
	ErrInvalidReading = errors.New("node: invalid sensor reading")

	// ErrNoToken is returned by a TokenReader when no token arrived within
	// its read timeout.
	ErrNoToken = errors.New("node: no token presented")
)
