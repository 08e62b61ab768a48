package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predata/amm-engine/internal/model"
)

func testPool(questionID int64) *model.MarketPool {
	now := time.Now().UTC()
	seed := decimal.NewFromInt(1000)
	return &model.MarketPool{
		QuestionID:       questionID,
		Status:           model.PoolActive,
		YesShares:        seed,
		NoShares:         seed,
		K:                seed.Mul(seed),
		FeeRate:          decimal.RequireFromString("0.01"),
		CollateralLocked: seed,
		TotalVolumeUsdc:  decimal.Zero,
		TotalFeesUsdc:    decimal.Zero,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testCommitArgs(pool *model.MarketPool, memberID int64) (*model.SwapHistory, *model.UserShares) {
	now := time.Now().UTC()
	hist := &model.SwapHistory{
		ID:         "swap-" + time.Now().Format("150405.000000000"),
		MemberID:   memberID,
		QuestionID: pool.QuestionID,
		Action:     model.ActionBuy,
		Outcome:    model.OutcomeYes,
		UsdcIn:     decimal.NewFromInt(100),
		CreatedAt:  now,
	}
	shares := &model.UserShares{
		MemberID:      memberID,
		QuestionID:    pool.QuestionID,
		Outcome:       model.OutcomeYes,
		Shares:        decimal.NewFromInt(10),
		CostBasisUsdc: decimal.NewFromInt(100),
		UpdatedAt:     now,
	}
	return hist, shares
}

func TestMemoryStore_CreatePoolTwice(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreatePool(ctx, testPool(1)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := ms.CreatePool(ctx, testPool(1)); !errors.Is(err, ErrAlreadySeeded) {
		t.Errorf("expected ErrAlreadySeeded, got %v", err)
	}
}

func TestMemoryStore_GetPoolCopies(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	ms.CreatePool(ctx, testPool(1))

	p1, err := ms.GetPool(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	// Mutating the returned pool must not leak into the store.
	p1.YesShares = decimal.Zero
	p2, _ := ms.GetPool(ctx, 1)
	if !p2.YesShares.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("store leaked mutation, yes=%s", p2.YesShares)
	}
}

func TestMemoryStore_CommitSwapVersionConflict(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	ms.CreatePool(ctx, testPool(1))

	pool, _ := ms.GetPool(ctx, 1)
	hist, shares := testCommitArgs(pool, 7)

	if err := ms.CommitSwap(ctx, pool, pool.Version, hist, shares); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if pool.Version != 2 {
		t.Errorf("expected version bumped to 2, got %d", pool.Version)
	}

	// A second commit carrying the stale version must be rejected without
	// writing anything.
	stale, _ := ms.GetPool(ctx, 1)
	hist2, shares2 := testCommitArgs(stale, 8)
	if err := ms.CommitSwap(ctx, stale, 1, hist2, shares2); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	swaps, _ := ms.ListSwapsByQuestion(ctx, 1, Page{})
	if len(swaps) != 1 {
		t.Errorf("conflicted commit must not append history, got %d rows", len(swaps))
	}
	rows, _ := ms.GetUserShares(ctx, 8, 1)
	if len(rows) != 0 {
		t.Errorf("conflicted commit must not upsert shares, got %d rows", len(rows))
	}
}

func TestMemoryStore_UpdatePoolStatus(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	ms.CreatePool(ctx, testPool(1))

	if err := ms.UpdatePoolStatus(ctx, 1, model.PoolPaused); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	p, _ := ms.GetPool(ctx, 1)
	if p.Status != model.PoolPaused {
		t.Errorf("expected PAUSED, got %s", p.Status)
	}
	if p.Version != 2 {
		t.Errorf("status change should bump version, got %d", p.Version)
	}

	if err := ms.UpdatePoolStatus(ctx, 99, model.PoolClosed); !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestMemoryStore_ListPoolsByStatus(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	ms.CreatePool(ctx, testPool(2))
	ms.CreatePool(ctx, testPool(1))
	ms.UpdatePoolStatus(ctx, 2, model.PoolClosed)

	active, _ := ms.ListPoolsByStatus(ctx, model.PoolActive)
	if len(active) != 1 || active[0].QuestionID != 1 {
		t.Errorf("expected only pool 1 active, got %+v", active)
	}
	closed, _ := ms.ListPoolsByStatus(ctx, model.PoolClosed)
	if len(closed) != 1 || closed[0].QuestionID != 2 {
		t.Errorf("expected only pool 2 closed, got %+v", closed)
	}
}

func TestMemoryStore_Pagination(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	pool := testPool(1)
	ms.CreatePool(ctx, pool)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		p, _ := ms.GetPool(ctx, 1)
		hist, shares := testCommitArgs(p, 7)
		hist.ID = string(rune('a' + i))
		hist.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := ms.CommitSwap(ctx, p, p.Version, hist, shares); err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
	}

	asc, _ := ms.ListSwapsByQuestion(ctx, 1, Page{Limit: 2, Offset: 1})
	if len(asc) != 2 || asc[0].ID != "b" || asc[1].ID != "c" {
		t.Errorf("ascending page wrong: %+v", ids(asc))
	}

	desc, _ := ms.ListSwapsByQuestion(ctx, 1, Page{Limit: 2, Descending: true})
	if len(desc) != 2 || desc[0].ID != "e" || desc[1].ID != "d" {
		t.Errorf("descending page wrong: %+v", ids(desc))
	}

	past, _ := ms.ListSwapsByQuestion(ctx, 1, Page{Offset: 10})
	if len(past) != 0 {
		t.Errorf("offset past end should be empty, got %d", len(past))
	}
}

func ids(swaps []model.SwapHistory) []string {
	out := make([]string, len(swaps))
	for i, sw := range swaps {
		out[i] = sw.ID
	}
	return out
}
