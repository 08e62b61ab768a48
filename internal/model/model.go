// Package model defines the core domain types shared across the swap engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolStatus is the lifecycle state of a market pool. Swaps are accepted
// only while the pool is ACTIVE.
type PoolStatus string

const (
	PoolSeeded PoolStatus = "SEEDED"
	PoolActive PoolStatus = "ACTIVE"
	PoolPaused PoolStatus = "PAUSED"
	PoolClosed PoolStatus = "CLOSED"
)

// SwapAction is the direction of a swap.
type SwapAction string

const (
	ActionBuy  SwapAction = "BUY"
	ActionSell SwapAction = "SELL"
)

// Outcome is one of the two complementary outcome tokens of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// MarketPool is the constant-product liquidity pool backing one market
// question. There is exactly one pool per question; it is created by a seed
// operation and mutated only through swap commits. The version column is the
// optimistic-lock token: every successful commit increments it, and a commit
// whose expected version no longer matches the stored one is rejected.
type MarketPool struct {
	QuestionID       int64           `json:"question_id" db:"question_id"`
	Status           PoolStatus      `json:"status" db:"status"`
	YesShares        decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares         decimal.Decimal `json:"no_shares" db:"no_shares"`
	K                decimal.Decimal `json:"k" db:"k"` // invariant, fixed at seed time
	FeeRate          decimal.Decimal `json:"fee_rate" db:"fee_rate"`
	CollateralLocked decimal.Decimal `json:"collateral_locked" db:"collateral_locked"`
	TotalVolumeUsdc  decimal.Decimal `json:"total_volume_usdc" db:"total_volume_usdc"`
	TotalFeesUsdc    decimal.Decimal `json:"total_fees_usdc" db:"total_fees_usdc"`
	Version          int64           `json:"version" db:"version"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// SwapHistory is an immutable record of one executed swap. Once written these
// rows are never modified or deleted; they form the audit trail and the
// source for price-history charts.
type SwapHistory struct {
	ID             string          `json:"swap_id" db:"swap_id"`
	MemberID       int64           `json:"member_id" db:"member_id"`
	QuestionID     int64           `json:"question_id" db:"question_id"`
	Action         SwapAction      `json:"action" db:"action"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	UsdcIn         decimal.Decimal `json:"usdc_in" db:"usdc_in"`
	UsdcOut        decimal.Decimal `json:"usdc_out" db:"usdc_out"`
	SharesIn       decimal.Decimal `json:"shares_in" db:"shares_in"`
	SharesOut      decimal.Decimal `json:"shares_out" db:"shares_out"`
	FeeUsdc        decimal.Decimal `json:"fee_usdc" db:"fee_usdc"`
	EffectivePrice decimal.Decimal `json:"effective_price" db:"effective_price"` // usdc per share: gross paid on BUY, net received on SELL
	PriceBeforeYes decimal.Decimal `json:"price_before_yes" db:"price_before_yes"` // scale 4
	PriceAfterYes  decimal.Decimal `json:"price_after_yes" db:"price_after_yes"`   // scale 4
	YesBefore      decimal.Decimal `json:"yes_before" db:"yes_before"`
	NoBefore       decimal.Decimal `json:"no_before" db:"no_before"`
	YesAfter       decimal.Decimal `json:"yes_after" db:"yes_after"`
	NoAfter        decimal.Decimal `json:"no_after" db:"no_after"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// UserShares is one member's holding of one outcome token in one market,
// keyed by (member, question, outcome). CostBasisUsdc is the cumulative USDC
// paid for the currently held shares; sells reduce it proportionally.
type UserShares struct {
	MemberID      int64           `json:"member_id" db:"member_id"`
	QuestionID    int64           `json:"question_id" db:"question_id"`
	Outcome       Outcome         `json:"outcome" db:"outcome"`
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	CostBasisUsdc decimal.Decimal `json:"cost_basis_usdc" db:"cost_basis_usdc"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// PricePoint is one sample of the pool's price trajectory, reconstructed
// from the swap history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	YesPrice  decimal.Decimal `json:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price"`
}
