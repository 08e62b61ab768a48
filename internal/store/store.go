// Package store defines the persistence interface for the swap engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/predata/amm-engine/internal/model"
)

var (
	// ErrPoolNotFound is returned when no pool exists for a question.
	ErrPoolNotFound = errors.New("store: market pool not found")

	// ErrAlreadySeeded is returned when creating a pool for a question that
	// already has one.
	ErrAlreadySeeded = errors.New("store: market pool already seeded")

	// ErrVersionConflict is returned by CommitSwap when the pool row was
	// modified since it was read. The caller re-reads and retries.
	ErrVersionConflict = errors.New("store: pool version conflict")
)

// Page selects a window of swap history rows ordered by creation time.
type Page struct {
	Limit      int
	Offset     int
	Descending bool
}

// Store is the persistence interface. The pool row is the single shared
// mutable resource; CommitSwap is its only mutation path after seeding and
// is conditional on the version read beforehand.
type Store interface {
	// --- Pool lifecycle ---

	// CreatePool persists a freshly seeded pool. Fails with ErrAlreadySeeded
	// if a pool already exists for the question.
	CreatePool(ctx context.Context, pool *model.MarketPool) error

	// GetPool retrieves the pool for a question, including its current
	// optimistic-lock version.
	GetPool(ctx context.Context, questionID int64) (*model.MarketPool, error)

	// UpdatePoolStatus transitions the pool lifecycle (pause, close).
	UpdatePoolStatus(ctx context.Context, questionID int64, status model.PoolStatus) error

	// ListPoolsByStatus returns all pools in the given lifecycle state.
	ListPoolsByStatus(ctx context.Context, status model.PoolStatus) ([]model.MarketPool, error)

	// --- Swap commit (atomic) ---

	// CommitSwap atomically persists the post-swap pool state, appends the
	// history row, and upserts the user-shares row. The pool update is
	// conditional on the stored version still equalling expectedVersion;
	// on conflict nothing is written and ErrVersionConflict is returned.
	// On success pool.Version is set to expectedVersion + 1.
	CommitSwap(ctx context.Context, pool *model.MarketPool, expectedVersion int64,
		hist *model.SwapHistory, shares *model.UserShares) error

	// --- Projections ---

	// GetUserShares returns the member's holdings for a question, one row
	// per outcome actually held.
	GetUserShares(ctx context.Context, memberID, questionID int64) ([]model.UserShares, error)

	// ListSwapsByQuestion returns a page of swap history for a question,
	// ordered by created_at.
	ListSwapsByQuestion(ctx context.Context, questionID int64, page Page) ([]model.SwapHistory, error)

	// ListSwapsByMember returns a page of swap history for a member,
	// ordered by created_at.
	ListSwapsByMember(ctx context.Context, memberID int64, page Page) ([]model.SwapHistory, error)
}
