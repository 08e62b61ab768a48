package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predata/amm-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pool and user-share reads. Writes go to the primary store and
// invalidate the cache.
//
// A cached pool may be one commit behind the primary. That is safe: the
// version precondition in CommitSwap is enforced by the primary, so a swap
// priced against a stale snapshot simply fails the conditional update and
// retries against fresh state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate or refresh cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, pool *model.MarketPool) error {
	if err := s.primary.CreatePool(ctx, pool); err != nil {
		return err
	}
	s.cachePool(ctx, pool)
	return nil
}

func (s *CachedStore) UpdatePoolStatus(ctx context.Context, questionID int64, status model.PoolStatus) error {
	if err := s.primary.UpdatePoolStatus(ctx, questionID, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(questionID))
	return nil
}

func (s *CachedStore) CommitSwap(ctx context.Context, pool *model.MarketPool, expectedVersion int64,
	hist *model.SwapHistory, shares *model.UserShares) error {

	if err := s.primary.CommitSwap(ctx, pool, expectedVersion, hist, shares); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, poolKey(pool.QuestionID), sharesCacheKey(shares.MemberID, shares.QuestionID))
	return nil
}

// --- Read-through paths ---

func (s *CachedStore) GetPool(ctx context.Context, questionID int64) (*model.MarketPool, error) {
	data, err := s.rdb.Get(ctx, poolKey(questionID)).Bytes()
	if err == nil {
		var p model.MarketPool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, questionID)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) GetUserShares(ctx context.Context, memberID, questionID int64) ([]model.UserShares, error) {
	key := sharesCacheKey(memberID, questionID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var shares []model.UserShares
		if json.Unmarshal(data, &shares) == nil {
			return shares, nil
		}
	}

	shares, err := s.primary.GetUserShares(ctx, memberID, questionID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(shares); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return shares, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPoolsByStatus(ctx context.Context, status model.PoolStatus) ([]model.MarketPool, error) {
	return s.primary.ListPoolsByStatus(ctx, status)
}

func (s *CachedStore) ListSwapsByQuestion(ctx context.Context, questionID int64, page Page) ([]model.SwapHistory, error) {
	return s.primary.ListSwapsByQuestion(ctx, questionID, page)
}

func (s *CachedStore) ListSwapsByMember(ctx context.Context, memberID int64, page Page) ([]model.SwapHistory, error) {
	return s.primary.ListSwapsByMember(ctx, memberID, page)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.MarketPool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.QuestionID), data, s.ttl)
	}
}

func poolKey(questionID int64) string {
	return fmt.Sprintf("pool:%d", questionID)
}

func sharesCacheKey(memberID, questionID int64) string {
	return fmt.Sprintf("shares:%d:%d", memberID, questionID)
}
