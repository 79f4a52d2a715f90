package allowlist

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/homesync/internal/protocol"
)

// Member is one allowed credential.
type Member struct {
	Credential string    `json:"credential"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// Store is the authoritative set of allowed credentials.
//
// Credentials are stored in normalised form (protocol.NormalizeCredential).
// Add and Remove normalise their argument before use.
type Store interface {
	// Members returns every allowed credential ordered by credential.
	Members(ctx context.Context) ([]Member, error)

	// Add allows a credential. Adding an existing credential is a no-op
	// and keeps its label.
	Add(ctx context.Context, credential, label string) error

	// Remove revokes a credential, or returns ErrNotFound.
	Remove(ctx context.Context, credential string) error
}

// Watcher is implemented by stores that push change notifications.
// The channel receives a value after every change and is closed when ctx ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Logger is the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Seed adds credentials to store, skipping ones already present.
// It returns how many credentials were processed.
func Seed(ctx context.Context, store Store, credentials []string) (int, error) {
	for i, raw := range credentials {
		if err := store.Add(ctx, raw, "seed"); err != nil {
			return i, fmt.Errorf("seeding credential %d: %w", i, err)
		}
	}
	return len(credentials), nil
}

func normalize(raw string) (string, error) {
	c, err := protocol.ParseCredential(raw)
	if err != nil {
		return "", fmt.Errorf("allowlist: %w", err)
	}
	return c, nil
}
