// Package fpmm implements the fixed-product market maker (FPMM) used to
// price YES/NO share swaps against a shared liquidity pool.
//
// The curve is the binary-outcome constant product over complete sets:
//   - Spot price: p_yes = N / (Y + N), p_no = 1 - p_yes
//   - BUY mints a complete set with the post-fee collateral (both reserves
//     grow by c), then rebalances the bought side back onto Y * N = K and
//     pays out the difference as shares.
//   - SELL returns shares to the curve and solves the quadratic inverse for
//     the collateral that leaves Y * N = K intact.
//
// All functions are pure and side-effect free; pool state is passed in as
// arguments. All quantities use shopspring/decimal at scale 18, never
// float64 for money. Rounding is always in the pool's favor: fees round up,
// payouts round down, and the rebalanced reserve rounds toward the ceiling,
// so the reserve product can never drift below K.
package fpmm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when the trade input is not positive, or
	// is too small to survive fee rounding.
	ErrInvalidAmount = errors.New("fpmm: trade amount must be positive")

	// ErrInvalidFeeRate is returned when the fee rate is outside [0, 1).
	ErrInvalidFeeRate = errors.New("fpmm: fee rate must be in [0, 1)")

	// ErrInsufficientLiquidity is returned when a trade would deplete a
	// reserve below the minimum floor or produce a non-positive output.
	// Trades are rejected, never clamped to the remaining balance.
	ErrInsufficientLiquidity = errors.New("fpmm: trade would deplete pool reserves")

	// ErrInvariantViolated is returned when the supplied reserves do not
	// match the pool's K invariant within tolerance.
	ErrInvariantViolated = errors.New("fpmm: reserve product does not match pool invariant")
)

// Scale is the number of fractional decimal digits carried by every
// persisted or returned quantity.
const Scale int32 = 18

var (
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
	four = decimal.NewFromInt(4)

	// minReserve is the floor below which no reserve may fall. A reserve
	// approaching zero would push the spot price to exactly 0 or 1.
	minReserve = decimal.NewFromInt(1)

	// kTolerance is the allowed relative drift between Y * N and K when a
	// pool snapshot enters the engine.
	kTolerance = decimal.RequireFromString("0.0000000001")

	// ulp is one unit in the last place at the configured scale.
	ulp = decimal.New(1, -Scale)
)

// Outcome selects which side of the binary market a trade is against.
type Outcome int

const (
	Yes Outcome = iota
	No
)

// Price is a spot-price pair. Yes and No always sum to exactly 1.
type Price struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// BuyResult is the outcome of pricing one BUY.
type BuyResult struct {
	SharesOut  decimal.Decimal
	Fee        decimal.Decimal
	PriceAfter Price
	YesAfter   decimal.Decimal
	NoAfter    decimal.Decimal
}

// SellResult is the outcome of pricing one SELL. GrossOut is the collateral
// removed from the curve; UsdcOut is what the trader receives after fee.
type SellResult struct {
	UsdcOut    decimal.Decimal
	GrossOut   decimal.Decimal
	Fee        decimal.Decimal
	PriceAfter Price
	YesAfter   decimal.Decimal
	NoAfter    decimal.Decimal
}

// PoolPrice computes the spot price pair from positive reserves:
//
//	p_yes = N / (Y + N)
//
// The YES price falls as the YES reserve grows, because a large YES reserve
// means YES shares are cheap to extract from the curve.
func PoolPrice(yesShares, noShares decimal.Decimal) (Price, error) {
	if !yesShares.IsPositive() || !noShares.IsPositive() {
		return Price{}, ErrInvariantViolated
	}
	pYes := noShares.DivRound(yesShares.Add(noShares), Scale)
	return Price{Yes: pYes, No: one.Sub(pYes)}, nil
}

// Buy prices a USDC-for-shares swap.
//
// The fee is taken off the top (rounded up, in the pool's favor), the net
// collateral c mints a complete set, and the bought side is rebalanced back
// onto the invariant:
//
//	Y1 = Y + c, N1 = N + c
//	Y2 = K / N1          (buying YES; symmetric for NO)
//	sharesOut = Y1 - Y2
//
// Final reserves are (Y2, N1). The rebalanced side is rounded toward the
// ceiling and sharesOut toward zero, so K never decreases.
func Buy(yesShares, noShares, k, usdcIn, feeRate decimal.Decimal, outcome Outcome) (BuyResult, error) {
	if err := checkPool(yesShares, noShares, k, feeRate); err != nil {
		return BuyResult{}, err
	}
	if !usdcIn.IsPositive() {
		return BuyResult{}, ErrInvalidAmount
	}

	fee := usdcIn.Mul(feeRate).RoundUp(Scale)
	c := usdcIn.Sub(fee)
	if !c.IsPositive() {
		return BuyResult{}, ErrInvalidAmount
	}

	y1 := yesShares.Add(c)
	n1 := noShares.Add(c)

	var sharesOut, yesAfter, noAfter decimal.Decimal
	switch outcome {
	case Yes:
		y2 := divCeil(k, n1)
		sharesOut = y1.Sub(y2).RoundDown(Scale)
		if y2.LessThan(minReserve) {
			return BuyResult{}, ErrInsufficientLiquidity
		}
		yesAfter, noAfter = y2, n1
	case No:
		n2 := divCeil(k, y1)
		sharesOut = n1.Sub(n2).RoundDown(Scale)
		if n2.LessThan(minReserve) {
			return BuyResult{}, ErrInsufficientLiquidity
		}
		yesAfter, noAfter = y1, n2
	}

	if !sharesOut.IsPositive() {
		return BuyResult{}, ErrInsufficientLiquidity
	}
	if yesAfter.Mul(noAfter).LessThan(k) {
		return BuyResult{}, ErrInvariantViolated
	}

	priceAfter, err := PoolPrice(yesAfter, noAfter)
	if err != nil {
		return BuyResult{}, err
	}

	return BuyResult{
		SharesOut:  sharesOut,
		Fee:        fee,
		PriceAfter: priceAfter,
		YesAfter:   yesAfter,
		NoAfter:    noAfter,
	}, nil
}

// Sell prices a shares-for-USDC swap, the exact inverse of Buy.
//
// Returning s shares of YES first grows the YES reserve to Y1 = Y + s, then
// collateral c leaves both reserves such that (Y1 - c)(N - c) = K. Solving
// the quadratic:
//
//	c = ((Y1 + N) - sqrt((Y1 + N)^2 - 4*N*s)) / 2
//
// The square root rounds toward the ceiling and the gross payout toward
// zero, so the trader can never extract more than the curve allows and
// BUY-then-SELL of the same size never profits.
func Sell(yesShares, noShares, k, sharesIn, feeRate decimal.Decimal, outcome Outcome) (SellResult, error) {
	if err := checkPool(yesShares, noShares, k, feeRate); err != nil {
		return SellResult{}, err
	}
	if !sharesIn.IsPositive() {
		return SellResult{}, ErrInvalidAmount
	}

	var grown, opposite decimal.Decimal
	switch outcome {
	case Yes:
		grown = yesShares.Add(sharesIn)
		opposite = noShares
	case No:
		grown = noShares.Add(sharesIn)
		opposite = yesShares
	}

	sum := grown.Add(opposite)
	disc := sum.Mul(sum).Sub(four.Mul(opposite).Mul(sharesIn))
	if disc.IsNegative() {
		return SellResult{}, ErrInsufficientLiquidity
	}

	gross := sum.Sub(sqrtCeil(disc)).DivRound(two, Scale+4).RoundDown(Scale)
	fee := gross.Mul(feeRate).RoundUp(Scale)
	usdcOut := gross.Sub(fee).RoundDown(Scale)
	if !usdcOut.IsPositive() {
		return SellResult{}, ErrInsufficientLiquidity
	}

	var yesAfter, noAfter decimal.Decimal
	switch outcome {
	case Yes:
		yesAfter = grown.Sub(gross)
		noAfter = opposite.Sub(gross)
	case No:
		yesAfter = opposite.Sub(gross)
		noAfter = grown.Sub(gross)
	}

	if yesAfter.LessThan(minReserve) || noAfter.LessThan(minReserve) {
		return SellResult{}, ErrInsufficientLiquidity
	}
	if yesAfter.Mul(noAfter).LessThan(k) {
		return SellResult{}, ErrInvariantViolated
	}

	priceAfter, err := PoolPrice(yesAfter, noAfter)
	if err != nil {
		return SellResult{}, err
	}

	return SellResult{
		UsdcOut:    usdcOut,
		GrossOut:   gross,
		Fee:        fee,
		PriceAfter: priceAfter,
		YesAfter:   yesAfter,
		NoAfter:    noAfter,
	}, nil
}

// Slippage reports the relative price move on the traded outcome:
//
//	|after - before| / before
func Slippage(before, after decimal.Decimal) decimal.Decimal {
	if !before.IsPositive() {
		return decimal.Zero
	}
	return after.Sub(before).DivRound(before, Scale).Abs()
}

// checkPool validates reserves, fee rate, and the K invariant for a pool
// snapshot entering the engine.
func checkPool(yesShares, noShares, k, feeRate decimal.Decimal) error {
	if !yesShares.IsPositive() || !noShares.IsPositive() || !k.IsPositive() {
		return ErrInvariantViolated
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) {
		return ErrInvalidFeeRate
	}
	drift := yesShares.Mul(noShares).Sub(k).Abs()
	if drift.GreaterThanOrEqual(k.Mul(kTolerance)) {
		return ErrInvariantViolated
	}
	return nil
}

// divCeil divides num by den, rounded toward the ceiling at the configured
// scale. The interim quotient is half-up rounded, so when the exact quotient
// sits a hair above an 18-digit boundary the first pass can land one ulp
// short of the true ceiling; the correction loop bumps it back up so the
// rebalanced reserve never drops K below its previous value.
func divCeil(num, den decimal.Decimal) decimal.Decimal {
	q := num.DivRound(den, Scale+8).RoundCeil(Scale)
	for q.Mul(den).LessThan(num) {
		q = q.Add(ulp)
	}
	return q
}

// sqrtCeil computes the square root of a non-negative decimal, rounded
// toward the ceiling at the configured scale. Newton's method seeded from
// float64, with a final correction loop so the result never underestimates.
// An underestimated root would overpay the seller in Sell.
func sqrtCeil(v decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return decimal.Zero
	}

	f, _ := v.Float64()
	guess := decimal.NewFromFloat(math.Sqrt(f))
	if !guess.IsPositive() {
		guess = one
	}

	// x_{n+1} = (x_n + v/x_n) / 2, carried a few digits past the target
	// scale so the final rounding is exact.
	iterScale := Scale + 10
	conv := decimal.New(1, -(Scale + 8))
	for i := 0; i < 64; i++ {
		next := guess.Add(v.DivRound(guess, iterScale)).DivRound(two, iterScale)
		done := next.Sub(guess).Abs().LessThan(conv)
		guess = next
		if done {
			break
		}
	}

	r := guess.RoundCeil(Scale)
	for r.Mul(r).LessThan(v) {
		r = r.Add(ulp)
	}
	return r
}
