package math

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Liquidity <-> token amounts over a tick range. token0 is the priced asset,
// token1 the quote asset; prices are token1 per token0 as Q64.96 square roots.

func sortSqrt(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

// GetLiquidityForAmount0 = amount0 * (sqrtA * sqrtB / Q96) / (sqrtB - sqrtA), rounded down.
func GetLiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	intermediate := MulDiv(sqrtA, sqrtB, Q96)
	return MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// GetLiquidityForAmount1 = amount1 * Q96 / (sqrtB - sqrtA), rounded down.
func GetLiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	return MulDiv(amount1, Q96, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// GetLiquidityForAmounts returns the maximal liquidity that the desired amounts can
// fund for the range [sqrtA, sqrtB] at the current price sqrtP. The result is clamped
// to uint128; callers treat a zero result as an unfundable request.
func GetLiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0, amount1 *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)

	var liquidity *uint256.Int
	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		liquidity = GetLiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtP.Lt(sqrtB):
		l0 := GetLiquidityForAmount0(sqrtP, sqrtB, amount0)
		l1 := GetLiquidityForAmount1(sqrtA, sqrtP, amount1)
		if l0.Lt(l1) {
			liquidity = l0
		} else {
			liquidity = l1
		}
	default:
		liquidity = GetLiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
	if liquidity.Gt(MaxUint128) {
		return new(uint256.Int).Set(MaxUint128)
	}
	return liquidity
}

// GetAmount0Delta = L * Q96 * (sqrtB - sqrtA) / sqrtB / sqrtA.
func GetAmount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		panic("FATAL: zero sqrt price")
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return DivRoundingUp(MulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA)
	}
	return new(uint256.Int).Div(MulDiv(numerator1, numerator2, sqrtB), sqrtA)
}

// GetAmount1Delta = L * (sqrtB - sqrtA) / Q96.
func GetAmount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

// GetAmountsForLiquidity returns the token amounts represented by liquidity over
// [sqrtA, sqrtB] at price sqrtP. roundUp selects the rounding direction: up for what
// the pool takes, down for what it pays out or what a position is worth.
func GetAmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (amount0, amount1 *uint256.Int) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		return GetAmount0Delta(sqrtA, sqrtB, liquidity, roundUp), new(uint256.Int)
	case sqrtP.Lt(sqrtB):
		return GetAmount0Delta(sqrtP, sqrtB, liquidity, roundUp), GetAmount1Delta(sqrtA, sqrtP, liquidity, roundUp)
	default:
		return new(uint256.Int), GetAmount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	}
}

// TickRangeAmounts is GetAmountsForLiquidity over ticks.
func TickRangeAmounts(sqrtP *uint256.Int, lower, upper int32, liquidity *uint256.Int, roundUp bool) (int64, int64) {
	a0, a1 := GetAmountsForLiquidity(sqrtP, GetSqrtRatioAtTick(lower), GetSqrtRatioAtTick(upper), liquidity, roundUp)
	return AmountFromUint256(a0), AmountFromUint256(a1)
}

// TickRangeAmountsBig is TickRangeAmounts without narrowing. Valuation uses it:
// near the top of a wide range the quote amount exceeds int64.
func TickRangeAmountsBig(sqrtP *uint256.Int, lower, upper int32, liquidity *uint256.Int, roundUp bool) (*big.Int, *big.Int) {
	a0, a1 := GetAmountsForLiquidity(sqrtP, GetSqrtRatioAtTick(lower), GetSqrtRatioAtTick(upper), liquidity, roundUp)
	return a0.ToBig(), a1.ToBig()
}

// TryTickRangeAmounts is TickRangeAmounts for amounts about to be credited; it
// returns ErrAmountOverflow rather than panicking.
func TryTickRangeAmounts(sqrtP *uint256.Int, lower, upper int32, liquidity *uint256.Int, roundUp bool) (int64, int64, error) {
	a0, a1 := GetAmountsForLiquidity(sqrtP, GetSqrtRatioAtTick(lower), GetSqrtRatioAtTick(upper), liquidity, roundUp)
	amount0, err := TryAmountFromUint256(a0)
	if err != nil {
		return 0, 0, err
	}
	amount1, err := TryAmountFromUint256(a1)
	if err != nil {
		return 0, 0, err
	}
	return amount0, amount1, nil
}

// TickRangeLiquidity is GetLiquidityForAmounts over ticks.
func TickRangeLiquidity(sqrtP *uint256.Int, lower, upper int32, amount0, amount1 int64) *uint256.Int {
	return GetLiquidityForAmounts(sqrtP, GetSqrtRatioAtTick(lower), GetSqrtRatioAtTick(upper),
		AmountToUint256(amount0), AmountToUint256(amount1))
}
