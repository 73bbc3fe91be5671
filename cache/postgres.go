package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresQueryTimeout bounds each statement against a remote server.
const postgresQueryTimeout = 5 * time.Second

// PostgresAdapter implements cache storage using a PostgreSQL-compatible
// server (self-hosted or a hosted service). Values are JSON-encoded into
// a bytea column; expiry timestamps live in the same row so the lazy
// read path and the active sweep share one predicate.
// This is suitable for deployments that already operate Postgres and
// want cache state shared across instances without another store.
type PostgresAdapter struct {
	mu         sync.Mutex
	pool       *pgxpool.Pool
	url        string
	tableName  string
	maxEntries int
}

// NewPostgresAdapter creates a new Postgres storage adapter for the
// given connection URL. tableName defaults to "cache_entries".
// maxEntries limits stored entries; zero means unbounded.
func NewPostgresAdapter(url, tableName string, maxEntries int) *PostgresAdapter {
	if tableName == "" {
		tableName = "cache_entries"
	}
	return &PostgresAdapter{
		url:        url,
		tableName:  tableName,
		maxEntries: maxEntries,
	}
}

// Connect establishes the connection pool and creates the schema.
// Idempotent.
func (p *PostgresAdapter) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, p.url)
	if err != nil {
		return adapterErr("postgres", "connect", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return adapterErr("postgres", "connect", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS ` + p.tableName + ` (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT
	)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return adapterErr("postgres", "connect", err)
	}

	p.pool = pool
	return nil
}

// Disconnect closes the connection pool. Safe to call multiple times.
func (p *PostgresAdapter) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// conn returns the pool or ErrNotConnected.
func (p *PostgresAdapter) conn() (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return nil, ErrNotConnected
	}
	return p.pool, nil
}

// Get retrieves and decodes the value stored under key.
func (p *PostgresAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	pool, err := p.conn()
	if err != nil {
		return nil, false, adapterErr("postgres", "get", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	var data []byte
	err = pool.QueryRow(ctx,
		`SELECT value FROM `+p.tableName+` WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, time.Now().UnixMilli()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, adapterErr("postgres", "get", err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, adapterErr("postgres", "get", err)
	}
	return value, true, nil
}

// Set stores the JSON-encoded value under key, replacing any existing row.
func (p *PostgresAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	pool, err := p.conn()
	if err != nil {
		return adapterErr("postgres", "set", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return adapterErr("postgres", "set", err)
	}

	now := time.Now()
	var expiresAt any // NULL when the entry never expires
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	_, err = pool.Exec(ctx,
		`INSERT INTO `+p.tableName+` (key, value, created_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		key, data, now.UnixMilli(), expiresAt)
	if err != nil {
		return adapterErr("postgres", "set", err)
	}

	if p.maxEntries > 0 {
		// Oldest-inserted rows beyond the limit are evicted.
		_, err = pool.Exec(ctx,
			`DELETE FROM `+p.tableName+` WHERE key IN (
				SELECT key FROM `+p.tableName+` ORDER BY created_at DESC, key DESC OFFSET $1
			)`, p.maxEntries)
		if err != nil {
			return adapterErr("postgres", "set", err)
		}
	}
	return nil
}

// Delete removes the exact key, or all keys matching a glob pattern,
// and returns the number of live entries removed.
func (p *PostgresAdapter) Delete(ctx context.Context, keyOrPattern string) (int, error) {
	pool, err := p.conn()
	if err != nil {
		return 0, adapterErr("postgres", "delete", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	nowMs := time.Now().UnixMilli()
	match := `key = $1`
	arg := keyOrPattern
	if hasWildcard(keyOrPattern) {
		match = `key LIKE $1`
		arg = likePattern(keyOrPattern)
	}

	// Purge expired matches, then count the live remainder. One
	// transaction, so a concurrent Set cannot land between the two
	// statements and inflate the count.
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, adapterErr("postgres", "delete", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`DELETE FROM `+p.tableName+` WHERE `+match+` AND expires_at IS NOT NULL AND expires_at <= $2`,
		arg, nowMs)
	if err != nil {
		return 0, adapterErr("postgres", "delete", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM `+p.tableName+` WHERE `+match, arg)
	if err != nil {
		return 0, adapterErr("postgres", "delete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, adapterErr("postgres", "delete", err)
	}
	return int(tag.RowsAffected()), nil
}

// Has reports whether a live entry exists under key.
func (p *PostgresAdapter) Has(ctx context.Context, key string) (bool, error) {
	pool, err := p.conn()
	if err != nil {
		return false, adapterErr("postgres", "has", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+p.tableName+` WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2))`,
		key, time.Now().UnixMilli()).Scan(&exists)
	if err != nil {
		return false, adapterErr("postgres", "has", err)
	}
	return exists, nil
}

// Clear removes all entries and returns the number of live entries removed.
func (p *PostgresAdapter) Clear(ctx context.Context) (int, error) {
	pool, err := p.conn()
	if err != nil {
		return 0, adapterErr("postgres", "clear", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, adapterErr("postgres", "clear", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var live int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+p.tableName+` WHERE expires_at IS NULL OR expires_at > $1`,
		time.Now().UnixMilli()).Scan(&live)
	if err != nil {
		return 0, adapterErr("postgres", "clear", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+p.tableName); err != nil {
		return 0, adapterErr("postgres", "clear", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, adapterErr("postgres", "clear", err)
	}
	return live, nil
}

// Keys lists live keys in lexical order, optionally filtered by a glob.
func (p *PostgresAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	pool, err := p.conn()
	if err != nil {
		return nil, adapterErr("postgres", "keys", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	query := `SELECT key FROM ` + p.tableName + ` WHERE (expires_at IS NULL OR expires_at > $1)`
	args := []any{time.Now().UnixMilli()}
	if pattern != "" {
		query += ` AND key LIKE $2`
		args = append(args, likePattern(pattern))
	}
	query += ` ORDER BY key`

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, adapterErr("postgres", "keys", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, adapterErr("postgres", "keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, adapterErr("postgres", "keys", err)
	}
	return keys, nil
}

// Stats reports the live entry count.
func (p *PostgresAdapter) Stats(ctx context.Context) (Stats, error) {
	pool, err := p.conn()
	if err != nil {
		return Stats{}, adapterErr("postgres", "stats", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	var total, live int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > $1 THEN 1 ELSE 0 END), 0)
		 FROM `+p.tableName, time.Now().UnixMilli()).Scan(&total, &live)
	if err != nil {
		return Stats{}, adapterErr("postgres", "stats", err)
	}

	return Stats{
		Backend: "postgres",
		Size:    live,
		Details: map[string]any{
			"total_entries": total,
			"table_name":    p.tableName,
		},
	}, nil
}

// Ping checks if the server is reachable.
func (p *PostgresAdapter) Ping(ctx context.Context) error {
	pool, err := p.conn()
	if err != nil {
		return adapterErr("postgres", "ping", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return adapterErr("postgres", "ping", err)
	}
	return nil
}

// Sweep removes all expired rows and returns the number removed.
func (p *PostgresAdapter) Sweep(ctx context.Context) (int, error) {
	pool, err := p.conn()
	if err != nil {
		return 0, adapterErr("postgres", "sweep", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	tag, err := pool.Exec(ctx,
		`DELETE FROM `+p.tableName+` WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, adapterErr("postgres", "sweep", err)
	}
	return int(tag.RowsAffected()), nil
}
