package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // database/sql driver, pure Go
)

// sqliteQueryTimeout bounds each statement so a slow or locked file
// cannot hang a caller indefinitely.
const sqliteQueryTimeout = 5 * time.Second

// SQLiteAdapter implements cache storage backed by an embedded SQLite
// database file. Values are JSON-encoded and stored as BLOBs; expiry
// timestamps live in the same row so the lazy read path and the active
// sweep share one predicate. WAL mode is enabled for concurrent reads.
// State survives process restarts, which makes this the right backend
// for single-host deployments that need persistence without a server.
type SQLiteAdapter struct {
	mu         sync.Mutex
	db         *sql.DB
	filename   string
	maxEntries int
}

// NewSQLiteAdapter creates a new SQLite storage adapter for the given
// database file. maxEntries limits stored entries; zero means unbounded.
func NewSQLiteAdapter(filename string, maxEntries int) *SQLiteAdapter {
	return &SQLiteAdapter{
		filename:   filename,
		maxEntries: maxEntries,
	}
}

// Connect opens the database file and creates the schema. Idempotent.
func (s *SQLiteAdapter) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", s.filename)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return adapterErr("sqlite", "connect", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return adapterErr("sqlite", "connect", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return adapterErr("sqlite", "connect", err)
	}

	s.db = db
	return nil
}

// Disconnect closes the database file. Safe to call multiple times.
func (s *SQLiteAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return adapterErr("sqlite", "disconnect", err)
	}
	return nil
}

// handle returns the open database or ErrNotConnected.
func (s *SQLiteAdapter) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

// Get retrieves and decodes the value stored under key.
func (s *SQLiteAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	db, err := s.handle()
	if err != nil {
		return nil, false, adapterErr("sqlite", "get", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	var data []byte
	row := db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UnixMilli())
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, adapterErr("sqlite", "get", err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, adapterErr("sqlite", "get", err)
	}
	return value, true, nil
}

// Set stores the JSON-encoded value under key, replacing any existing row.
func (s *SQLiteAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	db, err := s.handle()
	if err != nil {
		return adapterErr("sqlite", "set", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return adapterErr("sqlite", "set", err)
	}

	now := time.Now()
	var expiresAt any // NULL when the entry never expires
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	_, err = db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, data, now.UnixMilli(), expiresAt)
	if err != nil {
		return adapterErr("sqlite", "set", err)
	}

	if s.maxEntries > 0 {
		// Oldest-inserted rows beyond the limit are evicted.
		_, err = db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE key IN (
				SELECT key FROM cache_entries ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
			)`, s.maxEntries)
		if err != nil {
			return adapterErr("sqlite", "set", err)
		}
	}
	return nil
}

// Delete removes the exact key, or all keys matching a glob pattern,
// and returns the number of live entries removed.
func (s *SQLiteAdapter) Delete(ctx context.Context, keyOrPattern string) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, adapterErr("sqlite", "delete", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	nowMs := time.Now().UnixMilli()
	match := `key = ?`
	arg := keyOrPattern
	if hasWildcard(keyOrPattern) {
		match = `key LIKE ? ESCAPE '\'`
		arg = likePattern(keyOrPattern)
	}

	// Purge expired matches, then count the live remainder. One
	// transaction, so a concurrent Set cannot land between the two
	// statements and inflate the count.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, adapterErr("sqlite", "delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE `+match+` AND expires_at IS NOT NULL AND expires_at <= ?`,
		arg, nowMs)
	if err != nil {
		return 0, adapterErr("sqlite", "delete", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE `+match, arg)
	if err != nil {
		return 0, adapterErr("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, adapterErr("sqlite", "delete", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, adapterErr("sqlite", "delete", err)
	}
	return int(n), nil
}

// Has reports whether a live entry exists under key.
func (s *SQLiteAdapter) Has(ctx context.Context, key string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, adapterErr("sqlite", "has", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	var one int
	row := db.QueryRowContext(ctx,
		`SELECT 1 FROM cache_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UnixMilli())
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, adapterErr("sqlite", "has", err)
	}
	return true, nil
}

// Clear removes all entries and returns the number of live entries removed.
func (s *SQLiteAdapter) Clear(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, adapterErr("sqlite", "clear", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, adapterErr("sqlite", "clear", err)
	}
	defer func() { _ = tx.Rollback() }()

	var live int
	row := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at IS NULL OR expires_at > ?`,
		time.Now().UnixMilli())
	if err := row.Scan(&live); err != nil {
		return 0, adapterErr("sqlite", "clear", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return 0, adapterErr("sqlite", "clear", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, adapterErr("sqlite", "clear", err)
	}
	return live, nil
}

// Keys lists live keys in lexical order, optionally filtered by a glob.
func (s *SQLiteAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, adapterErr("sqlite", "keys", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	query := `SELECT key FROM cache_entries WHERE (expires_at IS NULL OR expires_at > ?)`
	args := []any{time.Now().UnixMilli()}
	if pattern != "" {
		query += ` AND key LIKE ? ESCAPE '\'`
		args = append(args, likePattern(pattern))
	}
	query += ` ORDER BY key`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adapterErr("sqlite", "keys", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, adapterErr("sqlite", "keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, adapterErr("sqlite", "keys", err)
	}
	return keys, nil
}

// Stats reports the live entry count and the database file name.
func (s *SQLiteAdapter) Stats(ctx context.Context) (Stats, error) {
	db, err := s.handle()
	if err != nil {
		return Stats{}, adapterErr("sqlite", "stats", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	var live, total int
	row := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0)
		 FROM cache_entries`, time.Now().UnixMilli())
	if err := row.Scan(&total, &live); err != nil {
		return Stats{}, adapterErr("sqlite", "stats", err)
	}

	return Stats{
		Backend: "sqlite",
		Size:    live,
		Details: map[string]any{
			"total_entries": total,
			"filename":      s.filename,
		},
	}, nil
}

// Ping checks if the database file is accessible.
func (s *SQLiteAdapter) Ping(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return adapterErr("sqlite", "ping", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return adapterErr("sqlite", "ping", err)
	}
	return nil
}

// Sweep removes all expired rows and returns the number removed.
func (s *SQLiteAdapter) Sweep(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, adapterErr("sqlite", "sweep", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteQueryTimeout)
	defer cancel()

	res, err := db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, adapterErr("sqlite", "sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, adapterErr("sqlite", "sweep", err)
	}
	return int(n), nil
}
