// Package swap orchestrates atomic swaps between USDC and outcome shares
// against the constant-product pool: load the pool under its optimistic-lock
// version, price the trade with the fpmm engine, validate caller bounds,
// and commit pool state, history, and the user ledger together, retrying on
// version conflict.
//
// All monetary values use shopspring/decimal — never float64 for money.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predata/amm-engine/internal/fpmm"
	"github.com/predata/amm-engine/internal/metrics"
	"github.com/predata/amm-engine/internal/model"
	"github.com/predata/amm-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned when the trade input is missing, not
	// positive, or below the configured minimum.
	ErrInvalidAmount = errors.New("swap: trade amount below minimum")

	// ErrPoolNotActive is returned when the pool exists but is not accepting
	// swaps (seeded-only, paused, or closed).
	ErrPoolNotActive = errors.New("swap: pool is not active")

	// ErrInsufficientShares is returned when a member sells more shares than
	// they hold.
	ErrInsufficientShares = errors.New("swap: insufficient shares to sell")

	// ErrSlippageExceeded is returned when the computed output violates the
	// caller's minimum-received bound. Nothing is persisted; the caller may
	// resubmit with a relaxed bound.
	ErrSlippageExceeded = errors.New("swap: output below caller bound")

	// ErrConcurrentModification is returned when the bounded optimistic-lock
	// retry budget is exhausted.
	ErrConcurrentModification = errors.New("swap: too many concurrent modifications, retry later")
)

// Options tunes the executor. Zero values select the defaults.
type Options struct {
	// MaxAttempts bounds the optimistic-lock retry loop. Default 3.
	MaxAttempts int
	// RetryBackoff is the initial delay before the second attempt; it
	// doubles on each further conflict. Default 50ms.
	RetryBackoff time.Duration
	// MinTrade is the smallest accepted input, in USDC for BUY and shares
	// for SELL. Default 1.
	MinTrade decimal.Decimal
}

// Service executes swaps against the pool store. Concurrency control is
// optimistic: the pool row carries a version, commits are conditional on it,
// and conflicting commits are retried from a fresh read.
type Service struct {
	store store.Store
	hub   *WSHub // optional, nil disables broadcasts
	opts  Options
}

// NewService creates a swap executor. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, hub *WSHub, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 50 * time.Millisecond
	}
	if !opts.MinTrade.IsPositive() {
		opts.MinTrade = decimal.NewFromInt(1)
	}
	return &Service{store: st, hub: hub, opts: opts}
}

// Request is one swap intent. Amount is USDC for BUY and shares for SELL.
// MinSharesOut (BUY) and MinUsdcOut (SELL) are optional slippage bounds;
// zero means no bound.
type Request struct {
	MemberID     int64
	QuestionID   int64
	Action       model.SwapAction
	Outcome      model.Outcome
	Amount       decimal.Decimal
	MinSharesOut decimal.Decimal
	MinUsdcOut   decimal.Decimal
}

// Result is the outcome of one committed swap.
type Result struct {
	Swap     model.SwapHistory
	Pool     model.MarketPool
	Position model.UserShares
}

// Simulation is the no-persistence preview of a swap.
type Simulation struct {
	Action         model.SwapAction `json:"action"`
	Outcome        model.Outcome    `json:"outcome"`
	AmountIn       decimal.Decimal  `json:"amount_in"`
	SharesOut      decimal.Decimal  `json:"shares_out"`
	UsdcOut        decimal.Decimal  `json:"usdc_out"`
	FeeUsdc        decimal.Decimal  `json:"fee_usdc"`
	EffectivePrice decimal.Decimal  `json:"effective_price"`
	PriceBefore    fpmm.Price       `json:"price_before"`
	PriceAfter     fpmm.Price       `json:"price_after"`
	Slippage       decimal.Decimal  `json:"slippage"`
}

// Position is a member's holding enriched with the current mark price.
type Position struct {
	model.UserShares
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
}

// Seed creates the pool for a question: equal reserves of seedUsdc on each
// side (a 50/50 starting price), K fixed at their product, status ACTIVE.
// Fails with store.ErrAlreadySeeded if the question already has a pool.
func (s *Service) Seed(ctx context.Context, questionID int64, seedUsdc, feeRate decimal.Decimal) (*model.MarketPool, error) {
	if !seedUsdc.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fpmm.ErrInvalidFeeRate
	}

	now := time.Now().UTC()
	pool := &model.MarketPool{
		QuestionID:       questionID,
		Status:           model.PoolActive,
		YesShares:        seedUsdc,
		NoShares:         seedUsdc,
		K:                seedUsdc.Mul(seedUsdc),
		FeeRate:          feeRate,
		CollateralLocked: seedUsdc,
		TotalVolumeUsdc:  decimal.Zero,
		TotalFeesUsdc:    decimal.Zero,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreatePool(ctx, pool); err != nil {
		return nil, err
	}
	metrics.ActivePools.Inc()

	slog.Info("pool seeded",
		"question_id", questionID,
		"seed_usdc", seedUsdc.String(),
		"fee_rate", feeRate.String(),
	)
	return pool, nil
}

// Execute runs one swap through the load, price, validate, commit cycle.
// On version conflict the whole cycle restarts from a fresh pool read, up
// to the configured attempt budget.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req, s.opts.MinTrade); err != nil {
		metrics.SwapRejections.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	start := time.Now()
	backoff := s.opts.RetryBackoff

	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		res, err := s.attempt(ctx, req)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			slog.Warn("swap version conflict, retrying",
				"question_id", req.QuestionID,
				"member_id", req.MemberID,
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			metrics.SwapRejections.WithLabelValues(rejectionReason(err)).Inc()
			return nil, err
		}

		metrics.SwapsTotal.WithLabelValues(string(req.Action), string(req.Outcome)).Inc()
		metrics.SwapLatency.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())

		slog.Info("swap executed",
			"swap_id", res.Swap.ID,
			"question_id", req.QuestionID,
			"member_id", req.MemberID,
			"action", string(req.Action),
			"outcome", string(req.Outcome),
			"amount", req.Amount.String(),
			"fee", res.Swap.FeeUsdc.String(),
			"price_after_yes", res.Swap.PriceAfterYes.String(),
			"version", res.Pool.Version,
		)

		if s.hub != nil {
			priceYes := res.Swap.PriceAfterYes
			s.hub.Broadcast(WSMessage{
				Type:       "swap_executed",
				QuestionID: req.QuestionID,
				Action:     string(req.Action),
				Outcome:    string(req.Outcome),
				PriceYes:   priceYes.String(),
				PriceNo:    decimal.NewFromInt(1).Sub(priceYes).String(),
				Shares:     sharesAmount(&res.Swap).String(),
				Usdc:       usdcAmount(&res.Swap).String(),
			})
		}
		return res, nil
	}

	metrics.SwapRejections.WithLabelValues("concurrent_modification").Inc()
	return nil, fmt.Errorf("%w: question %d", ErrConcurrentModification, req.QuestionID)
}

// attempt runs one read-price-validate-commit pass. Everything before
// CommitSwap is read-only, so a conflicted pass can be repeated safely.
func (s *Service) attempt(ctx context.Context, req Request) (*Result, error) {
	pool, err := s.store.GetPool(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if pool.Status != model.PoolActive {
		return nil, fmt.Errorf("%w: status %s", ErrPoolNotActive, pool.Status)
	}
	expectedVersion := pool.Version

	// The invariant is recomputed from the current reserves, not read from
	// the row: pool-favorable rounding makes the live product drift a hair
	// above the seeded K, and pricing must run against the live value.
	k := pool.YesShares.Mul(pool.NoShares)
	outcome := engineOutcome(req.Outcome)

	priceBefore, err := fpmm.PoolPrice(pool.YesShares, pool.NoShares)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	hist := model.SwapHistory{
		ID:             uuid.New().String(),
		MemberID:       req.MemberID,
		QuestionID:     req.QuestionID,
		Action:         req.Action,
		Outcome:        req.Outcome,
		PriceBeforeYes: priceBefore.Yes.Round(4),
		YesBefore:      pool.YesShares,
		NoBefore:       pool.NoShares,
		CreatedAt:      now,
	}

	held, err := s.heldShares(ctx, req.MemberID, req.QuestionID, req.Outcome)
	if err != nil {
		return nil, err
	}
	position := model.UserShares{
		MemberID:      req.MemberID,
		QuestionID:    req.QuestionID,
		Outcome:       req.Outcome,
		Shares:        held.Shares,
		CostBasisUsdc: held.CostBasisUsdc,
		UpdatedAt:     now,
	}

	switch req.Action {
	case model.ActionBuy:
		res, err := fpmm.Buy(pool.YesShares, pool.NoShares, k, req.Amount, pool.FeeRate, outcome)
		if err != nil {
			return nil, err
		}
		if req.MinSharesOut.IsPositive() && res.SharesOut.LessThan(req.MinSharesOut) {
			return nil, fmt.Errorf("%w: sharesOut %s < min %s",
				ErrSlippageExceeded, res.SharesOut, req.MinSharesOut)
		}

		hist.UsdcIn = req.Amount
		hist.SharesOut = res.SharesOut
		hist.FeeUsdc = res.Fee
		hist.EffectivePrice = req.Amount.DivRound(res.SharesOut, fpmm.Scale)
		hist.PriceAfterYes = res.PriceAfter.Yes.Round(4)
		hist.YesAfter, hist.NoAfter = res.YesAfter, res.NoAfter

		// Cost basis accumulates the gross spend, fee included.
		position.Shares = position.Shares.Add(res.SharesOut)
		position.CostBasisUsdc = position.CostBasisUsdc.Add(req.Amount)

		pool.YesShares, pool.NoShares = res.YesAfter, res.NoAfter
		pool.CollateralLocked = pool.CollateralLocked.Add(req.Amount.Sub(res.Fee))
		pool.TotalVolumeUsdc = pool.TotalVolumeUsdc.Add(req.Amount)
		pool.TotalFeesUsdc = pool.TotalFeesUsdc.Add(res.Fee)

	case model.ActionSell:
		if held.Shares.LessThan(req.Amount) {
			return nil, fmt.Errorf("%w: have %s, selling %s",
				ErrInsufficientShares, held.Shares, req.Amount)
		}
		res, err := fpmm.Sell(pool.YesShares, pool.NoShares, k, req.Amount, pool.FeeRate, outcome)
		if err != nil {
			return nil, err
		}
		if req.MinUsdcOut.IsPositive() && res.UsdcOut.LessThan(req.MinUsdcOut) {
			return nil, fmt.Errorf("%w: usdcOut %s < min %s",
				ErrSlippageExceeded, res.UsdcOut, req.MinUsdcOut)
		}

		hist.SharesIn = req.Amount
		hist.UsdcOut = res.UsdcOut
		hist.FeeUsdc = res.Fee
		// Effective price on a sell is the net realization per share.
		hist.EffectivePrice = res.UsdcOut.DivRound(req.Amount, fpmm.Scale)
		hist.PriceAfterYes = res.PriceAfter.Yes.Round(4)
		hist.YesAfter, hist.NoAfter = res.YesAfter, res.NoAfter

		// Cost basis shrinks in proportion to the shares sold; the rest is
		// realized against the payout by the caller.
		ratio := req.Amount.DivRound(held.Shares, fpmm.Scale)
		reduction := position.CostBasisUsdc.Mul(ratio).Round(fpmm.Scale)
		position.Shares = position.Shares.Sub(req.Amount)
		position.CostBasisUsdc = position.CostBasisUsdc.Sub(reduction)
		if position.CostBasisUsdc.IsNegative() {
			position.CostBasisUsdc = decimal.Zero
		}
		if position.Shares.IsZero() {
			position.CostBasisUsdc = decimal.Zero
		}

		pool.YesShares, pool.NoShares = res.YesAfter, res.NoAfter
		pool.CollateralLocked = pool.CollateralLocked.Sub(res.GrossOut)
		pool.TotalVolumeUsdc = pool.TotalVolumeUsdc.Add(res.GrossOut)
		pool.TotalFeesUsdc = pool.TotalFeesUsdc.Add(res.Fee)
	}

	pool.UpdatedAt = now

	if err := s.store.CommitSwap(ctx, pool, expectedVersion, &hist, &position); err != nil {
		return nil, err
	}

	return &Result{Swap: hist, Pool: *pool, Position: position}, nil
}

// Simulate prices a swap against the current pool without persisting
// anything. The same pricing path as Execute, so an immediate Execute on an
// unmodified pool reproduces the simulated amounts exactly.
func (s *Service) Simulate(ctx context.Context, questionID int64, action model.SwapAction, outcome model.Outcome, amount decimal.Decimal) (*Simulation, error) {
	req := Request{QuestionID: questionID, Action: action, Outcome: outcome, Amount: amount}
	if err := validateRequest(req, s.opts.MinTrade); err != nil {
		return nil, err
	}

	pool, err := s.store.GetPool(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if pool.Status != model.PoolActive {
		return nil, fmt.Errorf("%w: status %s", ErrPoolNotActive, pool.Status)
	}

	k := pool.YesShares.Mul(pool.NoShares)
	priceBefore, err := fpmm.PoolPrice(pool.YesShares, pool.NoShares)
	if err != nil {
		return nil, err
	}
	sideBefore := outcomePrice(priceBefore, outcome)

	sim := Simulation{
		Action:      action,
		Outcome:     outcome,
		AmountIn:    amount,
		PriceBefore: priceBefore,
	}

	switch action {
	case model.ActionBuy:
		res, err := fpmm.Buy(pool.YesShares, pool.NoShares, k, amount, pool.FeeRate, engineOutcome(outcome))
		if err != nil {
			return nil, err
		}
		sim.SharesOut = res.SharesOut
		sim.FeeUsdc = res.Fee
		sim.EffectivePrice = amount.DivRound(res.SharesOut, fpmm.Scale)
		sim.PriceAfter = res.PriceAfter
	case model.ActionSell:
		res, err := fpmm.Sell(pool.YesShares, pool.NoShares, k, amount, pool.FeeRate, engineOutcome(outcome))
		if err != nil {
			return nil, err
		}
		sim.UsdcOut = res.UsdcOut
		sim.FeeUsdc = res.Fee
		sim.EffectivePrice = res.UsdcOut.DivRound(amount, fpmm.Scale)
		sim.PriceAfter = res.PriceAfter
	}

	sim.Slippage = fpmm.Slippage(sideBefore, sim.EffectivePrice)
	return &sim, nil
}

// PoolState returns the current pool row, version included.
func (s *Service) PoolState(ctx context.Context, questionID int64) (*model.MarketPool, error) {
	return s.store.GetPool(ctx, questionID)
}

// PoolsByStatus returns all pools in the given lifecycle state.
func (s *Service) PoolsByStatus(ctx context.Context, status model.PoolStatus) ([]model.MarketPool, error) {
	return s.store.ListPoolsByStatus(ctx, status)
}

// SetPoolStatus transitions the pool lifecycle (pause, resume, close).
func (s *Service) SetPoolStatus(ctx context.Context, questionID int64, status model.PoolStatus) error {
	if err := s.store.UpdatePoolStatus(ctx, questionID, status); err != nil {
		return err
	}
	if active, err := s.store.ListPoolsByStatus(ctx, model.PoolActive); err == nil {
		metrics.ActivePools.Set(float64(len(active)))
	}
	slog.Info("pool status changed", "question_id", questionID, "status", string(status))
	return nil
}

// PriceHistory reconstructs the price trajectory from the swap history:
// the 50/50 seed point followed by the post-swap price of each swap in
// commit order.
func (s *Service) PriceHistory(ctx context.Context, questionID int64, limit int) ([]model.PricePoint, error) {
	pool, err := s.store.GetPool(ctx, questionID)
	if err != nil {
		return nil, err
	}

	swaps, err := s.store.ListSwapsByQuestion(ctx, questionID, store.Page{Limit: limit})
	if err != nil {
		return nil, err
	}

	half := decimal.RequireFromString("0.5")
	one := decimal.NewFromInt(1)
	points := make([]model.PricePoint, 0, len(swaps)+1)
	points = append(points, model.PricePoint{
		Timestamp: pool.CreatedAt,
		YesPrice:  half,
		NoPrice:   half,
	})
	for _, sw := range swaps {
		points = append(points, model.PricePoint{
			Timestamp: sw.CreatedAt,
			YesPrice:  sw.PriceAfterYes,
			NoPrice:   one.Sub(sw.PriceAfterYes),
		})
	}
	return points, nil
}

// SwapsByQuestion returns a page of the question's swap history.
func (s *Service) SwapsByQuestion(ctx context.Context, questionID int64, page store.Page) ([]model.SwapHistory, error) {
	return s.store.ListSwapsByQuestion(ctx, questionID, page)
}

// SwapsByMember returns a page of the member's swap history.
func (s *Service) SwapsByMember(ctx context.Context, memberID int64, page store.Page) ([]model.SwapHistory, error) {
	return s.store.ListSwapsByMember(ctx, memberID, page)
}

// Positions returns the member's holdings for a question, marked to the
// current spot price.
func (s *Service) Positions(ctx context.Context, memberID, questionID int64) ([]Position, error) {
	pool, err := s.store.GetPool(ctx, questionID)
	if err != nil {
		return nil, err
	}
	price, err := fpmm.PoolPrice(pool.YesShares, pool.NoShares)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.GetUserShares(ctx, memberID, questionID)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		mark := outcomePrice(price, row.Outcome)
		value := row.Shares.Mul(mark).Round(fpmm.Scale)
		positions = append(positions, Position{
			UserShares:    row,
			CurrentPrice:  mark,
			CurrentValue:  value,
			UnrealizedPnl: value.Sub(row.CostBasisUsdc),
		})
	}
	return positions, nil
}

// --- helpers ---

func validateRequest(req Request, minTrade decimal.Decimal) error {
	if req.Action != model.ActionBuy && req.Action != model.ActionSell {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAmount, req.Action)
	}
	if req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidAmount, req.Outcome)
	}
	if req.Amount.LessThan(minTrade) {
		return fmt.Errorf("%w: got %s, minimum %s", ErrInvalidAmount, req.Amount, minTrade)
	}
	return nil
}

// heldShares returns the member's current holding of one outcome, zero
// values if no row exists yet.
func (s *Service) heldShares(ctx context.Context, memberID, questionID int64, outcome model.Outcome) (model.UserShares, error) {
	rows, err := s.store.GetUserShares(ctx, memberID, questionID)
	if err != nil {
		return model.UserShares{}, fmt.Errorf("load user shares: %w", err)
	}
	for _, row := range rows {
		if row.Outcome == outcome {
			return row, nil
		}
	}
	return model.UserShares{Shares: decimal.Zero, CostBasisUsdc: decimal.Zero}, nil
}

func engineOutcome(o model.Outcome) fpmm.Outcome {
	if o == model.OutcomeNo {
		return fpmm.No
	}
	return fpmm.Yes
}

func outcomePrice(p fpmm.Price, o model.Outcome) decimal.Decimal {
	if o == model.OutcomeNo {
		return p.No
	}
	return p.Yes
}

func sharesAmount(sw *model.SwapHistory) decimal.Decimal {
	if sw.Action == model.ActionBuy {
		return sw.SharesOut
	}
	return sw.SharesIn
}

func usdcAmount(sw *model.SwapHistory) decimal.Decimal {
	if sw.Action == model.ActionBuy {
		return sw.UsdcIn
	}
	return sw.UsdcOut
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, store.ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ErrPoolNotActive):
		return "pool_not_active"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, fpmm.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, fpmm.ErrInvalidAmount), errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}
