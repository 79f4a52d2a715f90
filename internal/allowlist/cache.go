package allowlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// Cache is a read-through snapshot of a Store for access decisions.
//
// The snapshot is reloaded every refresh interval by Run, and at once when
// the store is a Watcher and announces a change. Contains never answers from
// a snapshot older than the staleness limit: it reloads synchronously and
// returns ErrStale if that fails, so a revoked credential cannot be granted
// for longer than the staleness limit after revocation.
//
// Thread Safety: all methods are safe for concurrent use.
type Cache struct {
	store        Store
	interval     time.Duration
	maxStaleness time.Duration
	logger       Logger
	now          func() time.Time

	mu       sync.RWMutex
	members  map[string]struct{}
	loadedAt time.Time

	// reloading holds a token while a reload runs, so concurrent stale
	// lookups share one and waiters give up when their ctx ends.
	reloading chan struct{}
}

// NewCache creates a cache over store. It holds no snapshot until the first
// Refresh or Contains.
func NewCache(store Store, cfg config.AllowListConfig) *Cache {
	return &Cache{
		store:        store,
		interval:     cfg.RefreshInterval,
		maxStaleness: cfg.MaxStaleness,
		logger:       noopLogger{},
		now:          time.Now,
		reloading:    make(chan struct{}, 1),
	}
}

// SetLogger sets the logger used for refresh failures.
func (c *Cache) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Refresh reloads the snapshot from the store.
func (c *Cache) Refresh(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("reloading allow-list: %w", err)
	}
	defer c.release()
	return c.reload(ctx)
}

func (c *Cache) acquire(ctx context.Context) error {
	select {
	case c.reloading <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) release() { <-c.reloading }

func (c *Cache) reload(ctx context.Context) error {
	members, err := c.store.Members(ctx)
	if err != nil {
		return fmt.Errorf("reloading allow-list: %w", err)
	}

	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m.Credential] = struct{}{}
	}

	c.mu.Lock()
	c.members = set
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

// Contains reports whether a normalised credential is allowed. A reload
// needed to answer is bounded by ctx; callers on the access path pass a
// deadline so an unreachable store yields ErrStale in time.
func (c *Cache) Contains(ctx context.Context, credential string) (bool, error) {
	if ok, fresh := c.lookup(credential); fresh {
		return ok, nil
	}

	if err := c.acquire(ctx); err != nil {
		c.logger.Warn("allow-list reload in progress, denying", "error", err)
		return false, fmt.Errorf("%w: %v", ErrStale, err)
	}
	defer c.release()

	// Another caller may have reloaded while we waited.
	if ok, fresh := c.lookup(credential); fresh {
		return ok, nil
	}
	if err := c.reload(ctx); err != nil {
		c.logger.Warn("allow-list snapshot stale, denying", "error", err)
		return false, fmt.Errorf("%w: %v", ErrStale, err)
	}

	ok, _ := c.lookup(credential)
	return ok, nil
}

func (c *Cache) lookup(credential string) (ok, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.members == nil || c.now().Sub(c.loadedAt) > c.maxStaleness {
		return false, false
	}
	_, ok = c.members[credential]
	return ok, true
}

// Age returns how old the snapshot is, or -1 if none has been loaded.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.members == nil {
		return -1
	}
	return c.now().Sub(c.loadedAt)
}

// Len returns the number of credentials in the snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Run refreshes the snapshot until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial allow-list load failed", "error", err)
	}

	var changes <-chan struct{}
	if w, ok := c.store.(Watcher); ok {
		ch, err := w.Watch(ctx)
		if err != nil {
			c.logger.Warn("allow-list change notifications unavailable, polling only", "error", err)
		} else {
			changes = ch
		}
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.logger.Debug("allow-list change notified")
		}
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("allow-list refresh failed", "error", err, "age", c.Age())
		}
	}
}
