package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is wrapped by every payload decode failure.
	ErrMalformed = errors.New("protocol: malformed payload")

	// ErrUnknownTopic is returned by ParseTopic for topics outside the namespace.
	ErrUnknownTopic = errors.New("protocol: unknown topic")

	// ErrInvalidCredential is returned for credentials that are empty or not
	// a plausible UID after normalisation.
	ErrInvalidCredential = errors.New("protocol: invalid credential")
)

// ParseError describes why a payload was rejected.
type ParseError struct {
	// Message names the payload type being decoded.
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: malformed %s: %v", e.Message, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}
