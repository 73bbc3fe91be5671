package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*RedisAdapter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	r := NewRedisAdapter(RedisConfig{Addr: srv.Addr()})
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	t.Cleanup(func() { _ = r.Disconnect(context.Background()) })
	return r, srv
}

func TestRedisAdapter_GetSet(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	if _, found, err := r.Get(ctx, "missing"); err != nil || found {
		t.Errorf("expected clean miss, found=%v err=%v", found, err)
	}

	if err := r.Set(ctx, "greeting", "hello", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, found, err := r.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || value != "hello" {
		t.Errorf("expected hello, got %v (found=%v)", value, found)
	}

	// Numbers round-trip through JSON as float64.
	if err := r.Set(ctx, "count", 7, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, _, _ = r.Get(ctx, "count")
	if value != float64(7) {
		t.Errorf("expected float64(7), got %T(%v)", value, value)
	}
}

func TestRedisAdapter_KeyPrefix(t *testing.T) {
	r, srv := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "a", 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The raw Redis key carries the namespace prefix.
	if !srv.Exists("cache:a") {
		t.Errorf("expected raw key cache:a, server has %v", srv.Keys())
	}

	// Keys come back with the prefix stripped.
	keys, err := r.Keys(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("expected [a], got %v", keys)
	}
}

func TestRedisAdapter_TTL(t *testing.T) {
	r, srv := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "short", "lived", 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, _ := r.Get(ctx, "short"); !found {
		t.Error("expected key before TTL elapses")
	}

	// miniredis time is advanced manually instead of sleeping.
	srv.FastForward(6 * time.Second)

	if _, found, _ := r.Get(ctx, "short"); found {
		t.Error("expected key to be expired")
	}
	if has, _ := r.Has(ctx, "short"); has {
		t.Error("expected Has to report the key as gone")
	}
}

func TestRedisAdapter_DeletePattern(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_ = r.Set(ctx, "session:1", "a", 0)
	_ = r.Set(ctx, "session:2", "b", 0)
	_ = r.Set(ctx, "user:1", "c", 0)

	n, err := r.Delete(ctx, "session:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, found, _ := r.Get(ctx, "user:1"); !found {
		t.Error("expected unrelated key to survive")
	}

	// Exact delete.
	n, _ = r.Delete(ctx, "user:1")
	if n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	n, _ = r.Delete(ctx, "user:1")
	if n != 0 {
		t.Errorf("expected 0 for missing key, got %d", n)
	}
}

func TestRedisAdapter_Keys(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_ = r.Set(ctx, "user:2", "b", 0)
	_ = r.Set(ctx, "user:1", "a", 0)
	_ = r.Set(ctx, "session:1", "c", 0)

	keys, err := r.Keys(ctx, "user:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "user:1" || keys[1] != "user:2" {
		t.Errorf("expected sorted [user:1 user:2], got %v", keys)
	}
}

func TestRedisAdapter_Clear(t *testing.T) {
	r, srv := newTestRedis(t)
	ctx := context.Background()

	_ = r.Set(ctx, "a", 1, 0)
	_ = r.Set(ctx, "b", 2, 0)

	// A foreign key outside the prefix must survive Clear.
	srv.Set("other:app", "keep")

	n, err := r.Clear(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if !srv.Exists("other:app") {
		t.Error("clear must not touch keys outside the prefix")
	}

	stats, _ := r.Stats(ctx)
	if stats.Size != 0 {
		t.Errorf("expected empty store, got %d", stats.Size)
	}
}

func TestRedisAdapter_Ping(t *testing.T) {
	r, srv := newTestRedis(t)
	ctx := context.Background()

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv.Close()
	if err := r.Ping(ctx); err == nil {
		t.Error("expected ping to fail after server shutdown")
	}
}
