package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestMemory(t *testing.T, maxEntries int) *MemoryAdapter {
	t.Helper()
	m := NewMemoryAdapter(maxEntries)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m
}

func TestMemoryAdapter_GetSet(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	// Get non-existent key
	value, found, err := m.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected key to not exist")
	}
	if value != nil {
		t.Error("expected nil value for non-existent key")
	}

	// Round-trip
	if err := m.Set(ctx, "greeting", "hello", 0); err != nil {
		t.Fatalf("unexpected error setting key: %v", err)
	}
	value, found, err = m.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("unexpected error getting key: %v", err)
	}
	if !found {
		t.Fatal("expected key to exist")
	}
	if value != "hello" {
		t.Errorf("expected %q, got %v", "hello", value)
	}

	// Overwrite replaces value and expiry
	if err := m.Set(ctx, "greeting", "goodbye", 0); err != nil {
		t.Fatalf("unexpected error overwriting key: %v", err)
	}
	value, _, _ = m.Get(ctx, "greeting")
	if value != "goodbye" {
		t.Errorf("expected overwritten value, got %v", value)
	}
}

func TestMemoryAdapter_TTL(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	if err := m.Set(ctx, "short", "lived", 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Before expiry the entry is present
	if _, found, _ := m.Get(ctx, "short"); !found {
		t.Error("expected key to exist before TTL elapses")
	}
	if has, _ := m.Has(ctx, "short"); !has {
		t.Error("expected Has to report the key before TTL elapses")
	}

	time.Sleep(150 * time.Millisecond)

	// After expiry the entry is gone on the read path
	if _, found, _ := m.Get(ctx, "short"); found {
		t.Error("expected key to be expired")
	}
	if has, _ := m.Has(ctx, "short"); has {
		t.Error("expected Has to report the key as gone")
	}
}

func TestMemoryAdapter_SetOverwritesExpiry(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	if err := m.Set(ctx, "key", "v1", 50*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-set without TTL: the entry must no longer expire
	if err := m.Set(ctx, "key", "v2", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	value, found, _ := m.Get(ctx, "key")
	if !found {
		t.Fatal("expected key to survive, expiry was overwritten")
	}
	if value != "v2" {
		t.Errorf("expected v2, got %v", value)
	}
}

func TestMemoryAdapter_DeleteExact(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	_ = m.Set(ctx, "a", 1, 0)

	n, err := m.Delete(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}

	// Deleting a missing key removes nothing
	n, _ = m.Delete(ctx, "a")
	if n != 0 {
		t.Errorf("expected 0 removed for missing key, got %d", n)
	}
}

func TestMemoryAdapter_DeletePattern(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	_ = m.Set(ctx, "session:1", "a", 0)
	_ = m.Set(ctx, "session:2", "b", 0)
	_ = m.Set(ctx, "user:1", "c", 0)

	n, err := m.Delete(ctx, "session:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}

	// Unrelated keys are untouched
	if _, found, _ := m.Get(ctx, "user:1"); !found {
		t.Error("expected unrelated key to survive pattern delete")
	}
}

func TestMemoryAdapter_Keys(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	_ = m.Set(ctx, "b", 2, 0)
	_ = m.Set(ctx, "a", 1, 0)
	_ = m.Set(ctx, "c", 3, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	keys, err := m.Keys(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 live keys, got %d", len(keys))
	}
	// Keys are sorted
	if keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected sorted keys [a b], got %v", keys)
	}

	keys, err = m.Keys(ctx, "a*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("expected [a], got %v", keys)
	}
}

func TestMemoryAdapter_Clear(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	_ = m.Set(ctx, "a", 1, 0)
	_ = m.Set(ctx, "b", 2, 0)
	_ = m.Set(ctx, "expired", 3, 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	n, err := m.Clear(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Count reflects live entries only
	if n != 2 {
		t.Errorf("expected clear to report 2 live entries, got %d", n)
	}

	keys, _ := m.Keys(ctx, "")
	if len(keys) != 0 {
		t.Errorf("expected no keys after clear, got %v", keys)
	}
}

func TestMemoryAdapter_CapacityEviction(t *testing.T) {
	m := newTestMemory(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := m.Set(ctx, fmt.Sprintf("key%d", i), i, 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Size != 3 {
		t.Errorf("expected size capped at 3, got %d", stats.Size)
	}

	// Oldest-inserted entries were evicted first
	for _, evicted := range []string{"key0", "key1"} {
		if _, found, _ := m.Get(ctx, evicted); found {
			t.Errorf("expected %s to be evicted", evicted)
		}
	}
	for _, kept := range []string{"key2", "key3", "key4"} {
		if _, found, _ := m.Get(ctx, kept); !found {
			t.Errorf("expected %s to be kept", kept)
		}
	}
}

func TestMemoryAdapter_Sweep(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	_ = m.Set(ctx, "keep", 1, 0)
	_ = m.Set(ctx, "drop1", 2, 30*time.Millisecond)
	_ = m.Set(ctx, "drop2", 3, 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	n, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 swept, got %d", n)
	}

	stats, _ := m.Stats(ctx)
	if total := stats.Details["total_entries"].(int); total != 1 {
		t.Errorf("expected 1 entry left after sweep, got %d", total)
	}
}

func TestMemoryAdapter_ConcurrentSet(t *testing.T) {
	m := newTestMemory(t, 0)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Set(ctx, "contested", i, 0)
		}(i)
	}
	wg.Wait()

	// Exactly one final value survives, and it is one of the written ones
	value, found, err := m.Get(ctx, "contested")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected key to exist")
	}
	n, ok := value.(int)
	if !ok || n < 0 || n >= writers {
		t.Errorf("expected one of the written values, got %v", value)
	}

	stats, _ := m.Stats(ctx)
	if stats.Size != 1 {
		t.Errorf("expected a single entry, got %d", stats.Size)
	}
}

func TestMemoryAdapter_NotConnected(t *testing.T) {
	m := NewMemoryAdapter(0)
	ctx := context.Background()

	if _, _, err := m.Get(ctx, "k"); !IsAdapterError(err) {
		t.Errorf("expected AdapterError before connect, got %v", err)
	}
	if err := m.Set(ctx, "k", 1, 0); !IsAdapterError(err) {
		t.Errorf("expected AdapterError before connect, got %v", err)
	}

	// Connect is idempotent
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("second connect should be a no-op: %v", err)
	}

	// Disconnect is safe to call twice
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("second disconnect should be a no-op: %v", err)
	}
}
