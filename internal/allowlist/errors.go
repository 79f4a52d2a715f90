package allowlist

import "errors"

// Domain errors for the allowlist package.
var (
	// ErrNotFound is returned when removing a credential that is not listed.
	ErrNotFound = errors.New("allowlist: credential not found")

	// ErrStale is returned when the cached snapshot is older than the
	// staleness limit and could not be reloaded. Callers must deny access.
	ErrStale = errors.New("allowlist: snapshot stale")
)
