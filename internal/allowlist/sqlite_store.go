package allowlist

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore implements Store on the allowed_credentials table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Members returns all allowed credentials.
func (s *SQLiteStore) Members(ctx context.Context) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT credential, label, created_at FROM allowed_credentials ORDER BY credential",
	)
	if err != nil {
		return nil, fmt.Errorf("querying allow-list: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var createdAt string
		if err := rows.Scan(&m.Credential, &m.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning allow-list row: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allow-list: %w", err)
	}
	return members, nil
}

// Add inserts a credential if it is not already listed.
func (s *SQLiteStore) Add(ctx context.Context, credential, label string) error {
	c, err := normalize(credential)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO allowed_credentials (credential, label, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (credential) DO NOTHING`,
		c, label, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("adding credential: %w", err)
	}
	return nil
}

// Remove deletes a credential.
func (s *SQLiteStore) Remove(ctx context.Context, credential string) error {
	c, err := normalize(credential)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM allowed_credentials WHERE credential = ?", c,
	)
	if err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
