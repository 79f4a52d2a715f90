// Package allowlist holds the set of credentials allowed to unlock doors.
//
// The Store is authoritative and is changed only by an administrator (the
// allowlist CLI or the admin API). The bridge reads it through a Cache, which
// bounds how stale a decision can be:
//
//	refresh_interval  normal reload period (default 2s)
//	max_staleness     oldest snapshot used for a decision (default 6s)
//
// Past max_staleness the Cache reloads synchronously and, if that fails,
// reports ErrStale. The bridge then denies access (fail closed).
//
// Two backends exist. SQLiteStore keeps the list in the bridge's database.
// RedisStore keeps it in a Redis set shared by several bridges and pushes
// change notifications over pub/sub, so revocations propagate immediately.
package allowlist
