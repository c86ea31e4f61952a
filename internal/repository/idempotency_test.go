package repository

import (
	"context"
	"testing"
	"time"

	"TriggerHub/pkg/cache"
)

// The memory cache backs idempotency marks when no Redis address is
// configured, so its TryLock must carry the same mark-once semantics.
func TestMarkOnceAdmitsFirstDeliveryOnly(t *testing.T) {
	store := NewCacheIdempotencyStore(cache.NewMemoryCache())
	ctx := context.Background()

	first, err := store.MarkOnce(ctx, "ev-1", time.Minute)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !first {
		t.Fatal("first mark must win")
	}

	dup, err := store.MarkOnce(ctx, "ev-1", time.Minute)
	if err != nil {
		t.Fatalf("duplicate mark: %v", err)
	}
	if dup {
		t.Fatal("duplicate delivery slipped through the mark")
	}

	other, err := store.MarkOnce(ctx, "ev-2", time.Minute)
	if err != nil {
		t.Fatalf("other mark: %v", err)
	}
	if !other {
		t.Fatal("unrelated event blocked by a foreign mark")
	}
}

func TestMarkOnceReopensAfterTTL(t *testing.T) {
	store := NewCacheIdempotencyStore(cache.NewMemoryCache())
	ctx := context.Background()

	if ok, err := store.MarkOnce(ctx, "ev-1", 10*time.Millisecond); err != nil || !ok {
		t.Fatalf("mark = %v, %v", ok, err)
	}
	time.Sleep(25 * time.Millisecond)

	ok, err := store.MarkOnce(ctx, "ev-1", time.Minute)
	if err != nil {
		t.Fatalf("remark: %v", err)
	}
	if !ok {
		t.Fatal("expired mark must not keep blocking")
	}
}
