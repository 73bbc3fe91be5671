package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gatecore/gatecore/config"
	"github.com/gatecore/gatecore/logger"
	"github.com/gatecore/gatecore/metrics"
)

// Engine is the shared cache used by every collaborator. It wraps one
// storage adapter and adds the default-retention policy, the disabled
// mode, and the active expiry sweep. Exactly one adapter is active per
// engine; its lifecycle is Connect, serve operations, Disconnect.
type Engine struct {
	adapter   Adapter
	backend   string
	retention time.Duration
	enabled   bool
	log       *logger.ComponentLogger
}

// Options configures an Engine constructed around an existing adapter.
type Options struct {
	// Retention is the default TTL applied by Set when the caller does
	// not choose one. Zero means entries never expire by default.
	Retention time.Duration
	// Disabled turns the engine into a pass-through: Get always misses
	// and mutations succeed without storing, so callers never branch on
	// configuration.
	Disabled bool
	// Backend overrides the backend name used in logs and metrics.
	Backend string
}

// New creates a cache engine from configuration, selecting the storage
// adapter variant from cfg.Type. The engine is not connected yet; call
// Connect before use.
func New(cfg *config.CacheConfig) (*Engine, error) {
	var adapter Adapter

	switch cfg.Type {
	case "memory":
		adapter = NewMemoryAdapter(cfg.Limit)
	case "sqlite":
		adapter = NewSQLiteAdapter(cfg.Filename, cfg.Limit)
	case "redis":
		adapter = NewRedisAdapter(RedisConfig{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})
	case "dynamodb":
		adapter = NewDynamoDBAdapter(cfg.Table, cfg.Region)
	case "postgres":
		adapter = NewPostgresAdapter(cfg.URL, cfg.TableName, cfg.Limit)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Type)
	}

	return NewEngine(adapter, Options{
		Retention: cfg.Retention,
		Disabled:  !cfg.Enabled,
		Backend:   cfg.Type,
	}), nil
}

// NewEngine creates a cache engine around an existing adapter. Used by
// New and by tests injecting adapter doubles.
func NewEngine(adapter Adapter, opts Options) *Engine {
	metrics.Init()

	backend := opts.Backend
	if backend == "" {
		backend = backendName(adapter)
	}

	return &Engine{
		adapter:   adapter,
		backend:   backend,
		retention: opts.Retention,
		enabled:   !opts.Disabled,
		log:       logger.Get().WithComponent("cache"),
	}
}

// backendName infers a metrics/log label from the adapter type.
func backendName(adapter Adapter) string {
	switch adapter.(type) {
	case *MemoryAdapter:
		return "memory"
	case *SQLiteAdapter:
		return "sqlite"
	case *RedisAdapter:
		return "redis"
	case *DynamoDBAdapter:
		return "dynamodb"
	case *PostgresAdapter:
		return "postgres"
	default:
		return "custom"
	}
}

// Backend returns the active backend name.
func (e *Engine) Backend() string {
	return e.backend
}

// Enabled reports whether the engine stores anything at all.
func (e *Engine) Enabled() bool {
	return e.enabled
}

// Connect establishes the adapter's backend connection.
func (e *Engine) Connect(ctx context.Context) error {
	if !e.enabled {
		return nil
	}
	if err := e.adapter.Connect(ctx); err != nil {
		e.log.Error("backend connection failed", logger.Fields{"backend": e.backend, "error": err.Error()})
		return err
	}
	e.log.Info("backend connected", logger.Fields{"backend": e.backend})
	return nil
}

// Disconnect releases adapter resources. Safe to call multiple times.
func (e *Engine) Disconnect(ctx context.Context) error {
	if !e.enabled {
		return nil
	}
	return e.adapter.Disconnect(ctx)
}

// Ping checks if the storage backend is available.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.enabled {
		return nil
	}
	return e.adapter.Ping(ctx)
}

// Get retrieves the value stored under key. found is false if the key
// is absent, expired, or the engine is disabled.
func (e *Engine) Get(ctx context.Context, key string) (any, bool, error) {
	if !e.enabled {
		return nil, false, nil
	}

	value, found, err := e.adapter.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheOperation(e.backend, "get", "error")
		return nil, false, err
	case !found:
		metrics.RecordCacheOperation(e.backend, "get", "miss")
		return nil, false, nil
	default:
		metrics.RecordCacheOperation(e.backend, "get", "ok")
		return value, true, nil
	}
}

// Set stores value under key with the engine's default retention.
func (e *Engine) Set(ctx context.Context, key string, value any) error {
	return e.SetWithTTL(ctx, key, value, e.retention)
}

// SetWithTTL stores value under key with an explicit TTL. A ttl of zero
// means the entry never expires.
func (e *Engine) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !e.enabled {
		return nil
	}

	if err := e.adapter.Set(ctx, key, value, ttl); err != nil {
		metrics.RecordCacheOperation(e.backend, "set", "error")
		return err
	}
	metrics.RecordCacheOperation(e.backend, "set", "ok")
	return nil
}

// Delete removes the exact key, or all keys matching a glob pattern,
// and returns the number of live entries removed.
func (e *Engine) Delete(ctx context.Context, keyOrPattern string) (int, error) {
	if !e.enabled {
		return 0, nil
	}

	n, err := e.adapter.Delete(ctx, keyOrPattern)
	if err != nil {
		metrics.RecordCacheOperation(e.backend, "delete", "error")
		return 0, err
	}
	metrics.RecordCacheOperation(e.backend, "delete", "ok")
	return n, nil
}

// Has reports whether a live entry exists under key.
func (e *Engine) Has(ctx context.Context, key string) (bool, error) {
	if !e.enabled {
		return false, nil
	}
	return e.adapter.Has(ctx, key)
}

// Clear removes all entries and returns the number removed.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	if !e.enabled {
		return 0, nil
	}

	n, err := e.adapter.Clear(ctx)
	if err != nil {
		metrics.RecordCacheOperation(e.backend, "clear", "error")
		return 0, err
	}
	metrics.RecordCacheOperation(e.backend, "clear", "ok")
	e.log.Info("cache cleared", logger.Fields{"backend": e.backend, "removed": n})
	return n, nil
}

// Keys lists live keys, optionally filtered by a glob pattern.
func (e *Engine) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !e.enabled {
		return []string{}, nil
	}
	return e.adapter.Keys(ctx, pattern)
}

// Stats reports storage statistics and refreshes the entry gauge.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if !e.enabled {
		return Stats{Backend: e.backend, Size: 0}, nil
	}

	stats, err := e.adapter.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	metrics.SetCacheEntries(e.backend, stats.Size)
	return stats, nil
}

// Cleanup actively removes expired entries and returns the number
// removed. Backends with native TTL reclamation report zero. Callers
// typically run this on a timer; the engine itself schedules nothing.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	if !e.enabled {
		return 0, nil
	}

	sweeper, ok := e.adapter.(Sweeper)
	if !ok {
		return 0, nil
	}

	n, err := sweeper.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordCacheExpired(e.backend, n)
		e.log.Debug("expired entries swept", logger.Fields{"backend": e.backend, "removed": n})
	}
	return n, nil
}
