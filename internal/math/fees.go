package math

import "github.com/holiman/uint256"

// FeesOwed returns (growthNow - growthLast) * liquidity / 2^128, rounded down.
// Fee growth accumulators are modular: the subtraction wraps.
func FeesOwed(growthNow, growthLast, liquidity *uint256.Int) *uint256.Int {
	delta := new(uint256.Int).Sub(growthNow, growthLast)
	return MulDiv(delta, liquidity, Q128)
}

// FeesOwedAmount is FeesOwed narrowed to a ledger amount.
func FeesOwedAmount(growthNow, growthLast, liquidity *uint256.Int) int64 {
	return AmountFromUint256(FeesOwed(growthNow, growthLast, liquidity))
}

// FeeGrowthDelta converts a fee amount spread over liquidity into a Q128 growth increment.
func FeeGrowthDelta(amount int64, liquidity *uint256.Int) *uint256.Int {
	if liquidity.IsZero() {
		return new(uint256.Int)
	}
	return MulDiv(AmountToUint256(amount), Q128, liquidity)
}
