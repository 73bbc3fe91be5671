package cache

import (
	"context"
	"testing"
	"time"

	"github.com/gatecore/gatecore/config"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := NewEngine(NewMemoryAdapter(0), opts)
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	t.Cleanup(func() { _ = e.Disconnect(context.Background()) })
	return e
}

func TestEngine_DefaultRetention(t *testing.T) {
	e := newTestEngine(t, Options{Retention: 80 * time.Millisecond})
	ctx := context.Background()

	if err := e.Set(ctx, "a", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, _ := e.Get(ctx, "a"); !found {
		t.Error("expected key before retention elapses")
	}

	time.Sleep(120 * time.Millisecond)

	if _, found, _ := e.Get(ctx, "a"); found {
		t.Error("expected key to expire with the default retention")
	}
}

func TestEngine_SetWithTTLOverridesRetention(t *testing.T) {
	e := newTestEngine(t, Options{Retention: 30 * time.Millisecond})
	ctx := context.Background()

	if err := e.SetWithTTL(ctx, "pinned", "v", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, found, _ := e.Get(ctx, "pinned"); !found {
		t.Error("explicit zero TTL should outlive the default retention")
	}
}

func TestEngine_Disabled(t *testing.T) {
	e := NewEngine(NewMemoryAdapter(0), Options{Disabled: true})
	ctx := context.Background()

	// No Connect needed; everything is a successful no-op.
	if err := e.Set(ctx, "a", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, err := e.Get(ctx, "a"); err != nil || found {
		t.Errorf("disabled engine must always miss, found=%v err=%v", found, err)
	}
	if has, _ := e.Has(ctx, "a"); has {
		t.Error("disabled engine must report no keys")
	}
	if n, _ := e.Delete(ctx, "*"); n != 0 {
		t.Errorf("disabled delete should remove nothing, got %d", n)
	}
	if n, _ := e.Clear(ctx); n != 0 {
		t.Errorf("disabled clear should remove nothing, got %d", n)
	}
	keys, err := e.Keys(ctx, "")
	if err != nil || len(keys) != 0 {
		t.Errorf("disabled keys should be empty, got %v err=%v", keys, err)
	}
	stats, err := e.Stats(ctx)
	if err != nil || stats.Size != 0 {
		t.Errorf("disabled stats should report zero, got %+v err=%v", stats, err)
	}
	if e.Enabled() {
		t.Error("Enabled should report false")
	}
	if err := e.Ping(ctx); err != nil {
		t.Errorf("disabled ping should succeed: %v", err)
	}
}

func TestEngine_Cleanup(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	_ = e.SetWithTTL(ctx, "a", 1, 30*time.Millisecond)
	_ = e.SetWithTTL(ctx, "b", 2, 30*time.Millisecond)
	_ = e.Set(ctx, "c", 3)
	time.Sleep(60 * time.Millisecond)

	n, err := e.Cleanup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 expired entries removed, got %d", n)
	}
}

// nonSweeper wraps an adapter to hide its Sweep method.
type nonSweeper struct {
	Adapter
}

func TestEngine_CleanupWithoutSweeper(t *testing.T) {
	m := NewMemoryAdapter(0)
	e := NewEngine(nonSweeper{m}, Options{Backend: "memory"})
	ctx := context.Background()
	if err := e.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := e.Cleanup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("adapters without a sweep should report 0, got %d", n)
	}
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	_ = e.Set(ctx, "a", 1)
	_ = e.Set(ctx, "b", 2)

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", stats.Backend)
	}
	if stats.Size != 2 {
		t.Errorf("expected 2 entries, got %d", stats.Size)
	}
}

func TestNew_BackendSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		backend string
		wantErr bool
	}{
		{"memory", config.CacheConfig{Enabled: true, Type: "memory"}, "memory", false},
		{"sqlite", config.CacheConfig{Enabled: true, Type: "sqlite", Filename: "cache.db"}, "sqlite", false},
		{"redis", config.CacheConfig{Enabled: true, Type: "redis", Addr: "localhost:6379"}, "redis", false},
		{"dynamodb", config.CacheConfig{Enabled: true, Type: "dynamodb", Table: "t", Region: "eu-west-1"}, "dynamodb", false},
		{"postgres", config.CacheConfig{Enabled: true, Type: "postgres", URL: "postgres://localhost/db"}, "postgres", false},
		{"unsupported", config.CacheConfig{Enabled: true, Type: "memcached"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unsupported backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.Backend() != tt.backend {
				t.Errorf("expected backend %s, got %s", tt.backend, e.Backend())
			}
		})
	}
}
