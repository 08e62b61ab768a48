package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predata/amm-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The swap commit runs in a single transaction with a conditional pool
// update on the version column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the engine's tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const poolColumns = `question_id, status,
	yes_shares::TEXT, no_shares::TEXT, k::TEXT, fee_rate::TEXT,
	collateral_locked::TEXT, total_volume_usdc::TEXT, total_fees_usdc::TEXT,
	version, created_at, updated_at`

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.MarketPool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_pools (question_id, status, yes_shares, no_shares, k, fee_rate,
		     collateral_locked, total_volume_usdc, total_fees_usdc, version, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		     $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		p.QuestionID, string(p.Status),
		p.YesShares.String(), p.NoShares.String(), p.K.String(), p.FeeRate.String(),
		p.CollateralLocked.String(), p.TotalVolumeUsdc.String(), p.TotalFeesUsdc.String(),
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrAlreadySeeded
		}
		return fmt.Errorf("create pool %d: %w", p.QuestionID, err)
	}
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, questionID int64) (*model.MarketPool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM market_pools WHERE question_id = $1`, questionID)

	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("get pool %d: %w", questionID, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdatePoolStatus(ctx context.Context, questionID int64, status model.PoolStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_pools
		 SET status = $2, version = version + 1, updated_at = NOW()
		 WHERE question_id = $1`,
		questionID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update pool status %d: %w", questionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPoolNotFound
	}
	return nil
}

func (s *PostgresStore) ListPoolsByStatus(ctx context.Context, status model.PoolStatus) ([]model.MarketPool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM market_pools WHERE status = $1 ORDER BY question_id`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.MarketPool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) CommitSwap(ctx context.Context, p *model.MarketPool, expectedVersion int64,
	hist *model.SwapHistory, shares *model.UserShares) error {

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin swap commit: %w", err)
	}
	defer tx.Rollback(ctx)

	// Conditional update: only succeeds if nobody else committed since the
	// pool was read. This is the optimistic-lock check.
	tag, err := tx.Exec(ctx,
		`UPDATE market_pools
		 SET yes_shares = $2::NUMERIC, no_shares = $3::NUMERIC,
		     collateral_locked = $4::NUMERIC,
		     total_volume_usdc = $5::NUMERIC, total_fees_usdc = $6::NUMERIC,
		     version = version + 1, updated_at = $7
		 WHERE question_id = $1 AND version = $8`,
		p.QuestionID,
		p.YesShares.String(), p.NoShares.String(),
		p.CollateralLocked.String(),
		p.TotalVolumeUsdc.String(), p.TotalFeesUsdc.String(),
		p.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update pool %d: %w", p.QuestionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO swap_history (swap_id, member_id, question_id, action, outcome,
		     usdc_in, usdc_out, shares_in, shares_out, fee_usdc, effective_price,
		     price_before_yes, price_after_yes, yes_before, no_before, yes_after, no_after, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		     $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		     $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC, $17::NUMERIC, $18)`,
		hist.ID, hist.MemberID, hist.QuestionID, string(hist.Action), string(hist.Outcome),
		hist.UsdcIn.String(), hist.UsdcOut.String(), hist.SharesIn.String(), hist.SharesOut.String(),
		hist.FeeUsdc.String(), hist.EffectivePrice.String(),
		hist.PriceBeforeYes.String(), hist.PriceAfterYes.String(),
		hist.YesBefore.String(), hist.NoBefore.String(), hist.YesAfter.String(), hist.NoAfter.String(),
		hist.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert swap history: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_shares (member_id, question_id, outcome, shares, cost_basis_usdc, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (member_id, question_id, outcome)
		 DO UPDATE SET shares = EXCLUDED.shares,
		               cost_basis_usdc = EXCLUDED.cost_basis_usdc,
		               updated_at = EXCLUDED.updated_at`,
		shares.MemberID, shares.QuestionID, string(shares.Outcome),
		shares.Shares.String(), shares.CostBasisUsdc.String(), shares.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user shares: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}

	p.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) GetUserShares(ctx context.Context, memberID, questionID int64) ([]model.UserShares, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member_id, question_id, outcome, shares::TEXT, cost_basis_usdc::TEXT, updated_at
		 FROM user_shares WHERE member_id = $1 AND question_id = $2 ORDER BY outcome DESC`,
		memberID, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.UserShares
	for rows.Next() {
		var us model.UserShares
		var outcome, sharesS, costS string
		if err := rows.Scan(&us.MemberID, &us.QuestionID, &outcome, &sharesS, &costS, &us.UpdatedAt); err != nil {
			return nil, err
		}
		us.Outcome = model.Outcome(outcome)
		us.Shares, _ = decimal.NewFromString(sharesS)
		us.CostBasisUsdc, _ = decimal.NewFromString(costS)
		result = append(result, us)
	}
	return result, rows.Err()
}

const swapColumns = `swap_id, member_id, question_id, action, outcome,
	usdc_in::TEXT, usdc_out::TEXT, shares_in::TEXT, shares_out::TEXT, fee_usdc::TEXT,
	effective_price::TEXT, price_before_yes::TEXT, price_after_yes::TEXT,
	yes_before::TEXT, no_before::TEXT, yes_after::TEXT, no_after::TEXT, created_at`

func (s *PostgresStore) ListSwapsByQuestion(ctx context.Context, questionID int64, page Page) ([]model.SwapHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+swapColumns+` FROM swap_history WHERE question_id = $1
		 ORDER BY created_at `+pageOrder(page)+` LIMIT $2 OFFSET $3`,
		questionID, pageLimit(page), page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func (s *PostgresStore) ListSwapsByMember(ctx context.Context, memberID int64, page Page) ([]model.SwapHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+swapColumns+` FROM swap_history WHERE member_id = $1
		 ORDER BY created_at `+pageOrder(page)+` LIMIT $2 OFFSET $3`,
		memberID, pageLimit(page), page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func pageOrder(page Page) string {
	if page.Descending {
		return "DESC"
	}
	return "ASC"
}

func pageLimit(page Page) int {
	if page.Limit <= 0 {
		return 100
	}
	return page.Limit
}

// pgxRow covers both QueryRow results and iterated Query rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPool(row pgxRow) (*model.MarketPool, error) {
	var p model.MarketPool
	var status string
	var yes, no, k, feeRate, collateral, volume, fees string

	err := row.Scan(&p.QuestionID, &status,
		&yes, &no, &k, &feeRate,
		&collateral, &volume, &fees,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = model.PoolStatus(status)
	p.YesShares, _ = decimal.NewFromString(yes)
	p.NoShares, _ = decimal.NewFromString(no)
	p.K, _ = decimal.NewFromString(k)
	p.FeeRate, _ = decimal.NewFromString(feeRate)
	p.CollateralLocked, _ = decimal.NewFromString(collateral)
	p.TotalVolumeUsdc, _ = decimal.NewFromString(volume)
	p.TotalFeesUsdc, _ = decimal.NewFromString(fees)

	return &p, nil
}

func scanSwaps(rows pgx.Rows) ([]model.SwapHistory, error) {
	var swaps []model.SwapHistory
	for rows.Next() {
		var sw model.SwapHistory
		var action, outcome string
		var usdcIn, usdcOut, sharesIn, sharesOut, fee, effective string
		var priceBefore, priceAfter, yesBefore, noBefore, yesAfter, noAfter string

		if err := rows.Scan(&sw.ID, &sw.MemberID, &sw.QuestionID, &action, &outcome,
			&usdcIn, &usdcOut, &sharesIn, &sharesOut, &fee,
			&effective, &priceBefore, &priceAfter,
			&yesBefore, &noBefore, &yesAfter, &noAfter, &sw.CreatedAt); err != nil {
			return nil, err
		}

		sw.Action = model.SwapAction(action)
		sw.Outcome = model.Outcome(outcome)
		sw.UsdcIn, _ = decimal.NewFromString(usdcIn)
		sw.UsdcOut, _ = decimal.NewFromString(usdcOut)
		sw.SharesIn, _ = decimal.NewFromString(sharesIn)
		sw.SharesOut, _ = decimal.NewFromString(sharesOut)
		sw.FeeUsdc, _ = decimal.NewFromString(fee)
		sw.EffectivePrice, _ = decimal.NewFromString(effective)
		sw.PriceBeforeYes, _ = decimal.NewFromString(priceBefore)
		sw.PriceAfterYes, _ = decimal.NewFromString(priceAfter)
		sw.YesBefore, _ = decimal.NewFromString(yesBefore)
		sw.NoBefore, _ = decimal.NewFromString(noBefore)
		sw.YesAfter, _ = decimal.NewFromString(yesAfter)
		sw.NoAfter, _ = decimal.NewFromString(noAfter)

		swaps = append(swaps, sw)
	}
	return swaps, rows.Err()
}
