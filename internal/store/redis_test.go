package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predata/amm-engine/internal/model"
)

func newCachedEnv(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_ReadThrough(t *testing.T) {
	cs, _, mr := newCachedEnv(t)
	ctx := context.Background()

	if err := cs.CreatePool(ctx, testPool(1)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !mr.Exists("pool:1") {
		t.Error("create should prime the cache")
	}

	// Drop the cache entry; the next read must repopulate from the primary.
	mr.Del("pool:1")
	p, err := cs.GetPool(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !p.YesShares.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("unexpected pool from primary, yes=%s", p.YesShares)
	}
	if !mr.Exists("pool:1") {
		t.Error("read should repopulate the cache")
	}
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	cs, primary, _ := newCachedEnv(t)
	ctx := context.Background()

	cs.CreatePool(ctx, testPool(1))

	// Mutate the primary behind the cache's back. The cached copy wins
	// until invalidation or TTL.
	primary.UpdatePoolStatus(ctx, 1, model.PoolClosed)

	p, err := cs.GetPool(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p.Status != model.PoolActive {
		t.Errorf("expected cached ACTIVE snapshot, got %s", p.Status)
	}
}

func TestCachedStore_CommitInvalidates(t *testing.T) {
	cs, _, mr := newCachedEnv(t)
	ctx := context.Background()

	cs.CreatePool(ctx, testPool(1))
	pool, _ := cs.GetPool(ctx, 1)

	// Warm the shares cache.
	cs.GetUserShares(ctx, 7, 1)
	if !mr.Exists("shares:7:1") {
		t.Fatal("shares cache should be warm")
	}

	hist, shares := testCommitArgs(pool, 7)
	if err := cs.CommitSwap(ctx, pool, pool.Version, hist, shares); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if mr.Exists("pool:1") {
		t.Error("commit should invalidate the pool cache")
	}
	if mr.Exists("shares:7:1") {
		t.Error("commit should invalidate the shares cache")
	}

	// Post-commit read sees the new version.
	p, _ := cs.GetPool(ctx, 1)
	if p.Version != 2 {
		t.Errorf("expected version 2 after commit, got %d", p.Version)
	}
	rows, _ := cs.GetUserShares(ctx, 7, 1)
	if len(rows) != 1 || !rows[0].Shares.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected refreshed shares row, got %+v", rows)
	}
}

func TestCachedStore_StatusChangeInvalidates(t *testing.T) {
	cs, _, mr := newCachedEnv(t)
	ctx := context.Background()

	cs.CreatePool(ctx, testPool(1))
	if err := cs.UpdatePoolStatus(ctx, 1, model.PoolPaused); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if mr.Exists("pool:1") {
		t.Error("status change should invalidate the pool cache")
	}

	p, _ := cs.GetPool(ctx, 1)
	if p.Status != model.PoolPaused {
		t.Errorf("expected PAUSED after invalidation, got %s", p.Status)
	}
}
