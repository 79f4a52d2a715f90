package allowlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// Requires Redis on localhost:6379. Skip with: go test -short
func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test")
	}

	store := NewRedisStore(config.RedisConfig{
		Addr: "localhost:6379",
		DB:   15,
		Key:  "homesync:test:allowlist",
	})
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skip("Redis not available:", err)
	}
	store.client.Del(ctx, store.key, store.labelsKey(), store.addedKey())
	defer store.client.Del(context.Background(), store.key, store.labelsKey(), store.addedKey())

	changes, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := store.Add(ctx, "aa:bb", "alice"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	select {
	case <-changes:
	case <-ctx.Done():
		t.Fatal("no change notification after Add")
	}

	members, err := store.Members(ctx)
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0].Credential != "AABB" || members[0].Label != "alice" {
		t.Errorf("Members() = %+v", members)
	}

	if err := store.Remove(ctx, "AABB"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(ctx, "AABB"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
}
