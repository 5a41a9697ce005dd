package sqlite

import (
	"context"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "value" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreOverwriteBumpsUpdatedAt(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "v1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	first, ok, err := store.UpdatedAt(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("updated_at failed: %v (ok=%v)", err, ok)
	}
	time.Sleep(2 * time.Millisecond)
	if err := store.Set(ctx, "key", "v2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	second, ok, err := store.UpdatedAt(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("updated_at failed: %v (ok=%v)", err, ok)
	}
	if !second.After(first) {
		t.Fatalf("expected updated_at to advance: first=%v second=%v", first, second)
	}
	val, _, _ := store.Get(ctx, "key")
	if val != "v2" {
		t.Fatalf("expected overwritten value, got %q", val)
	}
}

func TestStoreUpdatedAtMissingKey(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	_, ok, err := store.UpdatedAt(context.Background(), "absent")
	if err != nil {
		t.Fatalf("updated_at failed: %v", err)
	}
	if ok {
		t.Fatalf("expected no timestamp for absent key")
	}
}
