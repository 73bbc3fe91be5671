package cache

import (
	"context"
	"time"
)

// Adapter is the interface for cache storage backends.
// It abstracts the storage mechanism for cached entries, allowing
// different implementations (in-memory, SQLite, Redis, DynamoDB,
// Postgres) to be used interchangeably behind the Engine.
//
// All mutating operations are synchronous: when a call returns, the
// effect is visible to subsequent reads through the same adapter, so
// callers that depend on read-after-write consistency (the throttle
// engine in particular) observe their own writes.
type Adapter interface {
	// Connect establishes the backend connection, opens the file, or
	// initializes the map. Calling Connect on an already-connected
	// adapter is a no-op.
	Connect(ctx context.Context) error

	// Disconnect releases resources. Safe to call multiple times.
	Disconnect(ctx context.Context) error

	// Get retrieves the value stored under key. Returns found=false if
	// the key is absent or the entry has expired; expiry is checked
	// lazily on read, independent of any background sweep.
	Get(ctx context.Context, key string) (value any, found bool, err error)

	// Set stores value under key. A ttl of zero means the entry never
	// expires. Any existing entry at key is overwritten, including its
	// expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes entries. If keyOrPattern contains the '*' wildcard
	// it is treated as a glob and all matching live keys are removed;
	// otherwise only the exact key is removed. Returns the number of
	// entries deleted.
	Delete(ctx context.Context, keyOrPattern string) (int, error)

	// Has reports whether a live entry exists under key without
	// materializing the value.
	Has(ctx context.Context, key string) (bool, error)

	// Clear removes all entries in the adapter's namespace and returns
	// the number removed.
	Clear(ctx context.Context) (int, error)

	// Keys lists live keys in lexical order. pattern uses the same glob
	// semantics as Delete; an empty pattern lists all keys.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Stats reports at minimum the live entry count, plus any
	// backend-specific details.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}

// Sweeper is implemented by adapters that support an active expiry
// sweep. Backends with native TTL reclamation (Redis) do not implement
// it and are swept by the backend itself.
type Sweeper interface {
	// Sweep removes all entries whose expiry is in the past and returns
	// the number removed.
	Sweep(ctx context.Context) (int, error)
}

// Stats contains storage adapter statistics.
type Stats struct {
	// Backend is the adapter type name (memory, sqlite, redis, ...)
	Backend string
	// Size is the number of live (non-expired) entries
	Size int
	// Details holds backend-specific figures
	Details map[string]any
}

// expired is the single expiry predicate shared by the lazy read path
// and the active sweep. A zero expiresAt means the entry never expires.
func expired(expiresAt time.Time, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
