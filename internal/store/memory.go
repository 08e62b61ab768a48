package store

import (
	"context"
	"sort"
	"sync"

	"github.com/predata/amm-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). The version
// precondition in CommitSwap is checked under the write lock, so it behaves
// like a real conditional update under concurrency.
type MemoryStore struct {
	mu     sync.RWMutex
	pools  map[int64]*model.MarketPool
	swaps  []model.SwapHistory
	shares map[sharesKey]*model.UserShares
}

type sharesKey struct {
	memberID   int64
	questionID int64
	outcome    model.Outcome
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:  make(map[int64]*model.MarketPool),
		shares: make(map[sharesKey]*model.UserShares),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, pool *model.MarketPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.QuestionID]; ok {
		return ErrAlreadySeeded
	}

	// Store a copy to avoid external mutation.
	cp := *pool
	s.pools[pool.QuestionID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, questionID int64) (*model.MarketPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[questionID]
	if !ok {
		return nil, ErrPoolNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdatePoolStatus(_ context.Context, questionID int64, status model.PoolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[questionID]
	if !ok {
		return ErrPoolNotFound
	}
	p.Status = status
	p.Version++
	return nil
}

func (s *MemoryStore) ListPoolsByStatus(_ context.Context, status model.PoolStatus) ([]model.MarketPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pools []model.MarketPool
	for _, p := range s.pools {
		if p.Status == status {
			pools = append(pools, *p)
		}
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].QuestionID < pools[j].QuestionID })
	return pools, nil
}

func (s *MemoryStore) CommitSwap(_ context.Context, pool *model.MarketPool, expectedVersion int64,
	hist *model.SwapHistory, shares *model.UserShares) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.pools[pool.QuestionID]
	if !ok {
		return ErrPoolNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	cp := *pool
	cp.Version = expectedVersion + 1
	s.pools[pool.QuestionID] = &cp
	pool.Version = cp.Version

	s.swaps = append(s.swaps, *hist)

	key := sharesKey{shares.MemberID, shares.QuestionID, shares.Outcome}
	sc := *shares
	s.shares[key] = &sc

	return nil
}

func (s *MemoryStore) GetUserShares(_ context.Context, memberID, questionID int64) ([]model.UserShares, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.UserShares
	for _, outcome := range []model.Outcome{model.OutcomeYes, model.OutcomeNo} {
		if us, ok := s.shares[sharesKey{memberID, questionID, outcome}]; ok {
			result = append(result, *us)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSwapsByQuestion(_ context.Context, questionID int64, page Page) ([]model.SwapHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.SwapHistory
	for _, sw := range s.swaps {
		if sw.QuestionID == questionID {
			matched = append(matched, sw)
		}
	}
	return paginate(matched, page), nil
}

func (s *MemoryStore) ListSwapsByMember(_ context.Context, memberID int64, page Page) ([]model.SwapHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.SwapHistory
	for _, sw := range s.swaps {
		if sw.MemberID == memberID {
			matched = append(matched, sw)
		}
	}
	return paginate(matched, page), nil
}

// paginate orders by creation time (append order breaks ties) and applies
// the page window.
func paginate(swaps []model.SwapHistory, page Page) []model.SwapHistory {
	sort.SliceStable(swaps, func(i, j int) bool {
		if page.Descending {
			return swaps[i].CreatedAt.After(swaps[j].CreatedAt)
		}
		return swaps[i].CreatedAt.Before(swaps[j].CreatedAt)
	})

	if page.Offset >= len(swaps) {
		return []model.SwapHistory{}
	}
	swaps = swaps[page.Offset:]
	if page.Limit > 0 && page.Limit < len(swaps) {
		swaps = swaps[:page.Limit]
	}
	return swaps
}
