package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homesync/internal/protocol"
)

// StateStore persists the last known state of every device.
//
// Writes are last-writer-wins: the state stored is the one from the most
// recent Put or Update, in the order the store received them.
type StateStore interface {
	// Get returns the state for deviceID, or ErrNotFound.
	Get(ctx context.Context, deviceID string) (State, error)

	// List returns every stored state ordered by device ID.
	List(ctx context.Context) ([]State, error)

	// Put replaces the state for s.DeviceID.
	Put(ctx context.Context, s State) error

	// Update reads the state for deviceID (or a zero state of kind if none
	// exists), applies fn and writes the result in one transaction. If fn
	// returns an error nothing is written.
	Update(ctx context.Context, deviceID string, kind Kind, fn func(*State) error) (State, error)
}

// SQLiteStateStore implements StateStore on the device_states table.
type SQLiteStateStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateStore creates a store on an open, migrated database.
func NewSQLiteStateStore(db *sql.DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: db, now: time.Now}
}

// querier is the subset of *sql.DB and *sql.Tx used by the helpers below.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const selectState = `
	SELECT device_id, kind, status, mode, last_user, temperature, humidity, updated_at
	FROM device_states`

// Get returns the state for deviceID.
func (s *SQLiteStateStore) Get(ctx context.Context, deviceID string) (State, error) {
	return getState(ctx, s.db, deviceID)
}

// List returns all stored states.
func (s *SQLiteStateStore) List(ctx context.Context) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, selectState+" ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}
	return states, nil
}

// Put validates st and upserts it. A zero UpdatedAt is set to now.
func (s *SQLiteStateStore) Put(ctx context.Context, st State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	if err := st.Validate(); err != nil {
		return err
	}
	return putState(ctx, s.db, st)
}

// Update performs a read-modify-write of one device's state.
func (s *SQLiteStateStore) Update(ctx context.Context, deviceID string, kind Kind, fn func(*State) error) (State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	st, err := getState(ctx, tx, deviceID)
	switch {
	case errors.Is(err, ErrNotFound):
		st = State{DeviceID: deviceID, Kind: kind}
	case err != nil:
		return State{}, err
	case st.Kind != kind:
		return State{}, fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, deviceID, st.Kind, kind)
	}

	if err := fn(&st); err != nil {
		return State{}, err
	}
	st.DeviceID = deviceID
	st.Kind = kind
	st.UpdatedAt = s.now().UTC()
	if err := st.Validate(); err != nil {
		return State{}, err
	}

	if err := putState(ctx, tx, st); err != nil {
		return State{}, err
	}
	if err := tx.Commit(); err != nil {
		return State{}, fmt.Errorf("committing state update: %w", err)
	}
	return st, nil
}

// Ensure inserts an empty row for deviceID if none exists, so configured
// devices are listed before they first report. Doors start Locked.
func (s *SQLiteStateStore) Ensure(ctx context.Context, deviceID string, kind Kind) error {
	st := State{DeviceID: deviceID, Kind: kind, UpdatedAt: s.now().UTC()}
	if kind == KindDoor {
		st.Status = StatusLocked
	}
	if err := st.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_states (device_id, kind, status, mode, last_user, updated_at)
		VALUES (?, ?, ?, '', '', ?)
		ON CONFLICT (device_id) DO NOTHING`,
		st.DeviceID, string(st.Kind), string(st.Status), st.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ensuring device %s: %w", deviceID, err)
	}
	return nil
}

func getState(ctx context.Context, q querier, deviceID string) (State, error) {
	st, err := scanState(q.QueryRowContext(ctx, selectState+" WHERE device_id = ?", deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	return st, err
}

func putState(ctx context.Context, q querier, st State) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO device_states
			(device_id, kind, status, mode, last_user, temperature, humidity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			mode = excluded.mode,
			last_user = excluded.last_user,
			temperature = excluded.temperature,
			humidity = excluded.humidity,
			updated_at = excluded.updated_at`,
		st.DeviceID,
		string(st.Kind),
		string(st.Status),
		string(st.Mode),
		st.LastUser,
		nullFloat(st.Temperature),
		nullFloat(st.Humidity),
		st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing state for %s: %w", st.DeviceID, err)
	}
	return nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (State, error) {
	var (
		st                    State
		kind, status, mode    string
		temperature, humidity sql.NullFloat64
		updatedAt             string
	)
	err := row.Scan(&st.DeviceID, &kind, &status, &mode, &st.LastUser, &temperature, &humidity, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, err
		}
		return State{}, fmt.Errorf("scanning device state: %w", err)
	}

	st.Kind = Kind(kind)
	st.Status = DoorStatus(status)
	st.Mode = protocol.LightMode(mode)
	if temperature.Valid {
		st.Temperature = Float(temperature.Float64)
	}
	if humidity.Valid {
		st.Humidity = Float(humidity.Float64)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled
	return st, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
