package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter implements cache storage using Redis.
// Values are JSON-encoded strings; expiry uses native Redis TTL, so no
// sweep is needed and every key that exists is live. A key prefix
// namespaces this cache from other users of the same Redis instance.
// This is suitable for distributed deployments with multiple instances
// sharing one store.
type RedisAdapter struct {
	mu     sync.Mutex
	client *redis.Client
	addr   string
	pass   string
	db     int
	prefix string
}

// RedisConfig contains connection settings for the Redis adapter.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisAdapter creates a new Redis storage adapter.
func NewRedisAdapter(cfg RedisConfig) *RedisAdapter {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cache"
	}
	return &RedisAdapter{
		addr:   cfg.Addr,
		pass:   cfg.Password,
		db:     cfg.DB,
		prefix: prefix + ":",
	}
}

// Connect establishes the Redis connection. Idempotent.
func (r *RedisAdapter) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     r.addr,
		Password: r.pass,
		DB:       r.db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return adapterErr("redis", "connect", err)
	}
	r.client = client
	return nil
}

// Disconnect closes the Redis connection. Safe to call multiple times.
func (r *RedisAdapter) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return adapterErr("redis", "disconnect", err)
	}
	return nil
}

// conn returns the connected client or ErrNotConnected.
func (r *RedisAdapter) conn() (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client, nil
}

// Get retrieves and decodes the value stored under key.
func (r *RedisAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	client, err := r.conn()
	if err != nil {
		return nil, false, adapterErr("redis", "get", err)
	}

	data, err := client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, adapterErr("redis", "get", err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, adapterErr("redis", "get", err)
	}
	return value, true, nil
}

// Set stores the JSON-encoded value under key. A ttl of zero stores the
// key without expiration.
func (r *RedisAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	client, err := r.conn()
	if err != nil {
		return adapterErr("redis", "set", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return adapterErr("redis", "set", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return adapterErr("redis", "set", err)
	}
	return nil
}

// scanKeys lists all keys under the adapter's prefix, prefix stripped.
func (r *RedisAdapter) scanKeys(ctx context.Context, client *redis.Client) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete removes the exact key, or all keys matching a glob pattern.
func (r *RedisAdapter) Delete(ctx context.Context, keyOrPattern string) (int, error) {
	client, err := r.conn()
	if err != nil {
		return 0, adapterErr("redis", "delete", err)
	}

	if !hasWildcard(keyOrPattern) {
		n, err := client.Del(ctx, r.prefix+keyOrPattern).Result()
		if err != nil {
			return 0, adapterErr("redis", "delete", err)
		}
		return int(n), nil
	}

	// Globs are matched client-side so '*' is the only wildcard; Redis
	// MATCH would also interpret '?' and character classes.
	keys, err := r.scanKeys(ctx, client)
	if err != nil {
		return 0, adapterErr("redis", "delete", err)
	}
	matched, err := matchKeys(keys, keyOrPattern)
	if err != nil {
		return 0, adapterErr("redis", "delete", err)
	}
	if len(matched) == 0 {
		return 0, nil
	}

	full := make([]string, len(matched))
	for i, k := range matched {
		full[i] = r.prefix + k
	}
	n, err := client.Del(ctx, full...).Result()
	if err != nil {
		return 0, adapterErr("redis", "delete", err)
	}
	return int(n), nil
}

// Has reports whether key exists without fetching the value.
func (r *RedisAdapter) Has(ctx context.Context, key string) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, adapterErr("redis", "has", err)
	}

	n, err := client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, adapterErr("redis", "has", err)
	}
	return n > 0, nil
}

// Clear removes all keys under the adapter's prefix.
func (r *RedisAdapter) Clear(ctx context.Context) (int, error) {
	client, err := r.conn()
	if err != nil {
		return 0, adapterErr("redis", "clear", err)
	}

	keys, err := r.scanKeys(ctx, client)
	if err != nil {
		return 0, adapterErr("redis", "clear", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	n, err := client.Del(ctx, full...).Result()
	if err != nil {
		return 0, adapterErr("redis", "clear", err)
	}
	return int(n), nil
}

// Keys lists keys under the prefix in lexical order, optionally
// filtered by a glob.
func (r *RedisAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	client, err := r.conn()
	if err != nil {
		return nil, adapterErr("redis", "keys", err)
	}

	keys, err := r.scanKeys(ctx, client)
	if err != nil {
		return nil, adapterErr("redis", "keys", err)
	}
	matched, err := matchKeys(keys, pattern)
	if err != nil {
		return nil, adapterErr("redis", "keys", err)
	}
	sort.Strings(matched)
	return matched, nil
}

// Stats reports the number of keys under the adapter's prefix.
func (r *RedisAdapter) Stats(ctx context.Context) (Stats, error) {
	client, err := r.conn()
	if err != nil {
		return Stats{}, adapterErr("redis", "stats", err)
	}

	keys, err := r.scanKeys(ctx, client)
	if err != nil {
		return Stats{}, adapterErr("redis", "stats", err)
	}

	return Stats{
		Backend: "redis",
		Size:    len(keys),
		Details: map[string]any{
			"addr":       r.addr,
			"db":         r.db,
			"key_prefix": r.prefix,
		},
	}, nil
}

// Ping checks if Redis is available.
func (r *RedisAdapter) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return adapterErr("redis", "ping", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return adapterErr("redis", "ping", err)
	}
	return nil
}
