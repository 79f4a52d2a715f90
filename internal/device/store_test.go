package device

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/database"
	"github.com/nerrad567/homesync/internal/protocol"
	"github.com/nerrad567/homesync/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSQLiteStateStore_GetNotFound(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))

	_, err := store.Get(context.Background(), "door_lock")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStateStore_PutGet(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []State{
		{DeviceID: "door_lock", Kind: KindDoor, Status: StatusUnlocked, LastUser: "04A1B2C3", UpdatedAt: at},
		{DeviceID: "room_control", Kind: KindLight, Mode: protocol.LightMed, LastUser: "04A1B2C3", UpdatedAt: at},
		{DeviceID: "room_sensor", Kind: KindSensor, Temperature: Float(21.5), Humidity: Float(40), UpdatedAt: at},
	}

	for _, want := range tests {
		t.Run(want.DeviceID, func(t *testing.T) {
			if err := store.Put(ctx, want); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := store.Get(ctx, want.DeviceID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Kind != want.Kind || got.Status != want.Status || got.Mode != want.Mode || got.LastUser != want.LastUser {
				t.Errorf("Get() = %+v, want %+v", got, want)
			}
			if !got.UpdatedAt.Equal(at) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, at)
			}
			if (want.Temperature == nil) != (got.Temperature == nil) {
				t.Fatalf("Temperature = %v, want %v", got.Temperature, want.Temperature)
			}
			if want.Temperature != nil && *got.Temperature != *want.Temperature {
				t.Errorf("Temperature = %v, want %v", *got.Temperature, *want.Temperature)
			}
		})
	}
}

func TestSQLiteStateStore_PutLastWriterWins(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()

	for _, v := range []float64{20, 21, 19.5} {
		if err := store.Put(ctx, State{DeviceID: "room_sensor", Kind: KindSensor, Temperature: Float(v), Humidity: Float(50)}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	got, err := store.Get(ctx, "room_sensor")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if *got.Temperature != 19.5 {
		t.Errorf("Temperature = %v, want 19.5", *got.Temperature)
	}
}

func TestSQLiteStateStore_PutRejectsInvalid(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))

	tests := []struct {
		name  string
		state State
	}{
		{"missing id", State{Kind: KindDoor}},
		{"unknown kind", State{DeviceID: "x", Kind: "fan"}},
		{"door with mode", State{DeviceID: "d", Kind: KindDoor, Mode: protocol.LightLow}},
		{"bad door status", State{DeviceID: "d", Kind: KindDoor, Status: "Ajar"}},
		{"light with temperature", State{DeviceID: "l", Kind: KindLight, Temperature: Float(1)}},
		{"bad light mode", State{DeviceID: "l", Kind: KindLight, Mode: "max"}},
		{"sensor with user", State{DeviceID: "s", Kind: KindSensor, LastUser: "AA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Put(context.Background(), tt.state)
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("Put() error = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestSQLiteStateStore_List(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"room_sensor", "door_lock", "room_control"} {
		kind := map[string]Kind{"room_sensor": KindSensor, "door_lock": KindDoor, "room_control": KindLight}[id]
		if err := store.Ensure(ctx, id, kind); err != nil {
			t.Fatalf("Ensure(%s) error = %v", id, err)
		}
	}

	states, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"door_lock", "room_control", "room_sensor"}
	if len(states) != len(want) {
		t.Fatalf("List() returned %d states, want %d", len(states), len(want))
	}
	for i, id := range want {
		if states[i].DeviceID != id {
			t.Errorf("states[%d] = %s, want %s", i, states[i].DeviceID, id)
		}
	}
}

func TestSQLiteStateStore_EnsureKeepsExisting(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()

	if err := store.Ensure(ctx, "door_lock", KindDoor); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	got, _ := store.Get(ctx, "door_lock")
	if got.Status != StatusLocked {
		t.Errorf("new door status = %q, want Locked", got.Status)
	}

	if err := store.Put(ctx, State{DeviceID: "door_lock", Kind: KindDoor, Status: StatusUnlocked, LastUser: "AABB"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Ensure(ctx, "door_lock", KindDoor); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	got, _ = store.Get(ctx, "door_lock")
	if got.Status != StatusUnlocked || got.LastUser != "AABB" {
		t.Errorf("Ensure overwrote existing state: %+v", got)
	}
}

func TestSQLiteStateStore_Update(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	store.now = fixedClock(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	ctx := context.Background()

	st, err := store.Update(ctx, "room_control", KindLight, func(s *State) error {
		s.Mode = protocol.LightHigh
		s.LastUser = "04A1"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if st.Mode != protocol.LightHigh || st.Kind != KindLight {
		t.Errorf("Update() = %+v", st)
	}

	// Second update sees the first.
	_, err = store.Update(ctx, "room_control", KindLight, func(s *State) error {
		if s.Mode != protocol.LightHigh {
			t.Errorf("Update saw mode %q, want high", s.Mode)
		}
		s.Mode = protocol.LightOff
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := store.Get(ctx, "room_control")
	if got.Mode != protocol.LightOff || got.LastUser != "04A1" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.UpdatedAt.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
}

func TestSQLiteStateStore_UpdateAbort(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()
	errSkip := errors.New("skip")

	_, err := store.Update(ctx, "door_lock", KindDoor, func(s *State) error {
		s.Status = StatusUnlocked
		return errSkip
	})
	if !errors.Is(err, errSkip) {
		t.Fatalf("Update() error = %v, want errSkip", err)
	}
	if _, err := store.Get(ctx, "door_lock"); !errors.Is(err, ErrNotFound) {
		t.Errorf("aborted update was written: err = %v", err)
	}
}

func TestSQLiteStateStore_UpdateKindMismatch(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()

	if err := store.Ensure(ctx, "door_lock", KindDoor); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	_, err := store.Update(ctx, "door_lock", KindLight, func(*State) error { return nil })
	if !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Update() error = %v, want ErrKindMismatch", err)
	}
}

func TestSQLiteStateStore_ConcurrentUpdates(t *testing.T) {
	store := NewSQLiteStateStore(setupTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "room_sensor"
			if i%2 == 0 {
				id = "door_lock"
			}
			kind := map[string]Kind{"room_sensor": KindSensor, "door_lock": KindDoor}[id]
			_, err := store.Update(ctx, id, kind, func(s *State) error {
				if kind == KindSensor {
					s.Temperature = Float(float64(i))
					s.Humidity = Float(50)
				} else {
					s.Status = StatusLocked
				}
				return nil
			})
			if err != nil {
				t.Errorf("Update(%s) error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	states, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(states) != 2 {
		t.Errorf("List() returned %d states, want 2", len(states))
	}
}
