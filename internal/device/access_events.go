package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AccessEvent is one access decision taken by the bridge.
type AccessEvent struct {
	DeviceID     string    `json:"device_id"`
	Credential   string    `json:"credential"`
	Granted      bool      `json:"granted"`
	Reason       string    `json:"reason"`
	RequestToken uint64    `json:"request_token,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// AccessEventRepository is an append-only log of access decisions.
type AccessEventRepository interface {
	// Record appends one decision.
	Record(ctx context.Context, ev AccessEvent) error

	// Prune deletes events decided before now minus retention and returns
	// how many were removed.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// SQLiteAccessEventRepository implements AccessEventRepository on the
// access_events table.
type SQLiteAccessEventRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteAccessEventRepository creates a repository on an open, migrated database.
func NewSQLiteAccessEventRepository(db *sql.DB) *SQLiteAccessEventRepository {
	return &SQLiteAccessEventRepository{db: db, now: time.Now}
}

// Record appends ev. A zero DecidedAt is set to now.
func (r *SQLiteAccessEventRepository) Record(ctx context.Context, ev AccessEvent) error {
	if ev.DeviceID == "" {
		return fmt.Errorf("%w: access event without device_id", ErrInvalidState)
	}
	if ev.DecidedAt.IsZero() {
		ev.DecidedAt = r.now()
	}

	granted := 0
	if ev.Granted {
		granted = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_events (device_id, credential, granted, reason, request_token, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.DeviceID,
		ev.Credential,
		granted,
		ev.Reason,
		int64(ev.RequestToken), //nolint:gosec // Tokens are per-door counters, far below 2^63
		ev.DecidedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording access event: %w", err)
	}
	return nil
}

// Prune removes events older than retention.
func (r *SQLiteAccessEventRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.now().Add(-retention).UTC().Format(time.RFC3339Nano)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM access_events WHERE decided_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning access events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned access events: %w", err)
	}
	return n, nil
}
