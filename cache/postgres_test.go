package cache

import (
	"context"
	"testing"

	"github.com/gatecore/gatecore/config"
)

func TestNewPostgresAdapter_TableDefault(t *testing.T) {
	p := NewPostgresAdapter("postgres://localhost/app", "", 0)
	if p.tableName != "cache_entries" {
		t.Errorf("expected default table name, got %s", p.tableName)
	}

	p = NewPostgresAdapter("postgres://localhost/app", "custom_cache", 0)
	if p.tableName != "custom_cache" {
		t.Errorf("expected custom table name, got %s", p.tableName)
	}
}

func TestNewPostgresAdapter_EntryLimit(t *testing.T) {
	p := NewPostgresAdapter("postgres://localhost/app", "", 100)
	if p.maxEntries != 100 {
		t.Errorf("expected entry limit 100, got %d", p.maxEntries)
	}

	// The configured limit reaches the adapter through the factory.
	e, err := New(&config.CacheConfig{
		Enabled: true,
		Type:    "postgres",
		URL:     "postgres://localhost/app",
		Limit:   50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adapter, ok := e.adapter.(*PostgresAdapter)
	if !ok {
		t.Fatalf("expected a postgres adapter, got %T", e.adapter)
	}
	if adapter.maxEntries != 50 {
		t.Errorf("expected configured limit 50, got %d", adapter.maxEntries)
	}
}

func TestPostgresAdapter_NotConnected(t *testing.T) {
	p := NewPostgresAdapter("postgres://localhost/app", "", 0)
	ctx := context.Background()

	if _, _, err := p.Get(ctx, "k"); !IsAdapterError(err) {
		t.Errorf("expected AdapterError before connect, got %v", err)
	}
	if err := p.Set(ctx, "k", 1, 0); !IsAdapterError(err) {
		t.Errorf("expected AdapterError before connect, got %v", err)
	}
	if _, err := p.Delete(ctx, "k"); !IsAdapterError(err) {
		t.Errorf("expected AdapterError before connect, got %v", err)
	}

	if err := p.Disconnect(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
