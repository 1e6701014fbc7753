package math_test

import (
	stdmath "math"
	"math/big"
	"testing"

	fpmath "CurieLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// Test: checked int64 arithmetic
// ============================================================================

func TestCheckedAdd_Overflow_Panics(t *testing.T) {
	require.Equal(t, int64(7), fpmath.CheckedAdd(3, 4))
	require.Panics(t, func() { fpmath.CheckedAdd(stdmath.MaxInt64, 1) })
	require.Panics(t, func() { fpmath.CheckedAdd(stdmath.MinInt64, -1) })
}

func TestCheckedSub_Overflow_Panics(t *testing.T) {
	require.Equal(t, int64(-1), fpmath.CheckedSub(3, 4))
	require.Panics(t, func() { fpmath.CheckedSub(stdmath.MinInt64, 1) })
	require.Panics(t, func() { fpmath.CheckedSub(0, stdmath.MinInt64) })
}

func TestCheckedMul_Overflow_Panics(t *testing.T) {
	require.Equal(t, int64(-12), fpmath.CheckedMul(3, -4))
	require.Panics(t, func() { fpmath.CheckedMul(stdmath.MaxInt64/2+1, 2) })
	require.Panics(t, func() { fpmath.CheckedMul(-1, stdmath.MinInt64) })
}

func TestDivRound_Modes(t *testing.T) {
	cases := []struct {
		num, den int64
		mode     fpmath.RoundingMode
		want     int64
	}{
		{7, 2, fpmath.RoundDown, 3},
		{7, 2, fpmath.RoundUp, 4},
		{7, 2, fpmath.RoundHalfEven, 4},
		{5, 2, fpmath.RoundHalfEven, 2},
		{-7, 2, fpmath.RoundDown, -4},
		{-7, 2, fpmath.RoundUp, -3},
		{-5, 2, fpmath.RoundHalfEven, -2},
		{6, 3, fpmath.RoundUp, 2},
	}
	for _, c := range cases {
		got := fpmath.DivRound(big.NewInt(c.num), big.NewInt(c.den), c.mode)
		require.Equalf(t, c.want, got.Int64(), "%d/%d %s", c.num, c.den, c.mode)
	}
}

func TestValueAt_PricedAmount(t *testing.T) {
	// 100 units at price 100 = 10_000 quote
	v := fpmath.ValueAt(big.NewInt(100_000_000), 100_000_000, fpmath.RoundDown)
	require.Equal(t, int64(10_000_000_000), v.Int64())

	// 0.000001 at 0.5 rounds toward -inf / +inf
	require.Equal(t, int64(0), fpmath.ValueAt(big.NewInt(1), 500_000, fpmath.RoundDown).Int64())
	require.Equal(t, int64(1), fpmath.ValueAt(big.NewInt(1), 500_000, fpmath.RoundUp).Int64())
	require.Equal(t, int64(-1), fpmath.ValueAt(big.NewInt(-1), 500_000, fpmath.RoundDown).Int64())
}

func TestApplyRatio_RoundsUp(t *testing.T) {
	v := fpmath.ApplyRatio(big.NewInt(10_000_001), 100_000, fpmath.RoundUp)
	require.Equal(t, int64(1_000_001), v.Int64())
}

// ============================================================================
// Test: tick math
// ============================================================================

func TestGetSqrtRatioAtTick_Bounds(t *testing.T) {
	require.True(t, fpmath.GetSqrtRatioAtTick(0).Eq(fpmath.Q96))
	require.True(t, fpmath.GetSqrtRatioAtTick(fpmath.MinTick).Eq(fpmath.MinSqrtRatio))
	require.True(t, fpmath.GetSqrtRatioAtTick(fpmath.MaxTick).Eq(fpmath.MaxSqrtRatio))
	require.Panics(t, func() { fpmath.GetSqrtRatioAtTick(fpmath.MaxTick + 1) })
	require.Panics(t, func() { fpmath.GetSqrtRatioAtTick(fpmath.MinTick - 1) })
}

func TestGetSqrtRatioAtTick_MatchesFloat(t *testing.T) {
	q96 := new(big.Float).SetInt(fpmath.Q96.ToBig())
	for _, tick := range []int32{-500_000, -69_082, -100, -1, 1, 60, 46_054, 200_000} {
		got, _ := new(big.Float).Quo(new(big.Float).SetInt(fpmath.GetSqrtRatioAtTick(tick).ToBig()), q96).Float64()
		want := stdmath.Pow(1.0001, float64(tick)/2)
		require.InEpsilonf(t, want, got, 1e-9, "tick %d", tick)
	}
}

func TestGetTickAtSqrtRatio_Inverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tick := rapid.Int32Range(fpmath.MinTick, fpmath.MaxTick-1).Draw(t, "tick")
		ratio := fpmath.GetSqrtRatioAtTick(tick)
		if got := fpmath.GetTickAtSqrtRatio(ratio); got != tick {
			t.Fatalf("tick %d: round trip gave %d", tick, got)
		}
		next := fpmath.GetSqrtRatioAtTick(tick + 1)
		below := new(uint256.Int).SubUint64(next, 1)
		if got := fpmath.GetTickAtSqrtRatio(below); got != tick {
			t.Fatalf("tick %d: just below next ratio gave %d", tick, got)
		}
	})
}

func TestValidTick_Spacing(t *testing.T) {
	require.True(t, fpmath.ValidTick(120, 60))
	require.False(t, fpmath.ValidTick(130, 60))
	require.True(t, fpmath.ValidTick(-887220, 60))
	require.False(t, fpmath.ValidTick(fpmath.MaxTick+1, 1))
}

// ============================================================================
// Test: liquidity math
// ============================================================================

func TestLiquidityForAmounts_ActualNeverExceedsDesired(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lower := rapid.Int32Range(-100_000, 99_000).Draw(t, "lower")
		upper := lower + rapid.Int32Range(1, 20_000).Draw(t, "width")
		price := rapid.Int32Range(-120_000, 120_000).Draw(t, "priceTick")
		desired0 := rapid.Int64Range(0, 1_000_000_000_000).Draw(t, "desired0")
		desired1 := rapid.Int64Range(0, 1_000_000_000_000).Draw(t, "desired1")

		sqrtP := fpmath.GetSqrtRatioAtTick(price)
		liquidity := fpmath.TickRangeLiquidity(sqrtP, lower, upper, desired0, desired1)
		a0, a1 := fpmath.TickRangeAmounts(sqrtP, lower, upper, liquidity, true)
		if a0 > desired0 || a1 > desired1 {
			t.Fatalf("actual (%d, %d) exceeds desired (%d, %d)", a0, a1, desired0, desired1)
		}
		d0, d1 := fpmath.TickRangeAmounts(sqrtP, lower, upper, liquidity, false)
		if d0 > a0 || d1 > a1 {
			t.Fatalf("round-down amounts (%d, %d) exceed round-up (%d, %d)", d0, d1, a0, a1)
		}
	})
}

func TestAmountsForLiquidity_OutOfRange(t *testing.T) {
	liquidity := uint256.NewInt(1_000_000_000)
	sqrtBelow := fpmath.GetSqrtRatioAtTick(-1000)
	sqrtAbove := fpmath.GetSqrtRatioAtTick(1000)

	// price below the range: all token0
	a0, a1 := fpmath.TickRangeAmounts(sqrtBelow, -600, 600, liquidity, false)
	require.Greater(t, a0, int64(0))
	require.Zero(t, a1)

	// price above the range: all token1
	a0, a1 = fpmath.TickRangeAmounts(sqrtAbove, -600, 600, liquidity, false)
	require.Zero(t, a0)
	require.Greater(t, a1, int64(0))
}

func TestAmountsForLiquidity_SymmetricAtParity(t *testing.T) {
	sqrtP := fpmath.GetSqrtRatioAtTick(0)
	liquidity := fpmath.TickRangeLiquidity(sqrtP, -60, 60, 1_000_000, 1_000_000)
	a0, a1 := fpmath.TickRangeAmounts(sqrtP, -60, 60, liquidity, true)
	require.InDelta(t, a0, a1, 1)
	require.LessOrEqual(t, a0, int64(1_000_000))
}

// ============================================================================
// Test: fees
// ============================================================================

func TestFeesOwed_RoundsDown(t *testing.T) {
	liquidity := uint256.NewInt(1024)
	growth := fpmath.FeeGrowthDelta(50, liquidity)
	require.Equal(t, int64(50), fpmath.FeesOwedAmount(growth, new(uint256.Int), liquidity))

	liquidity = uint256.NewInt(1000)
	growth = fpmath.FeeGrowthDelta(50, liquidity)
	require.Equal(t, int64(49), fpmath.FeesOwedAmount(growth, new(uint256.Int), liquidity))
}

func TestFeesOwed_WrapsAccumulator(t *testing.T) {
	last := new(uint256.Int).Neg(fpmath.Q128) // 2^256 - 2^128
	now := new(uint256.Int).Set(fpmath.Q128)
	require.Equal(t, int64(6), fpmath.FeesOwedAmount(now, last, uint256.NewInt(3)))
}

func TestFeesOwed_NoGrowthNoFees(t *testing.T) {
	g := fpmath.MustUint256("123456789012345678901234567890")
	require.Zero(t, fpmath.FeesOwedAmount(g, g, uint256.NewInt(1_000_000)))
}

func TestTickRangeAmounts_TopOfWideRange(t *testing.T) {
	liquidity := uint256.NewInt(54_696_510)
	sqrtP := fpmath.GetSqrtRatioAtTick(887_000)

	_, a1 := fpmath.TickRangeAmountsBig(sqrtP, 79_800, 887_220, liquidity, false)
	require.False(t, a1.IsInt64())
	require.Positive(t, a1.Cmp(big.NewInt(stdmath.MaxInt64)))

	_, _, err := fpmath.TryTickRangeAmounts(sqrtP, 79_800, 887_220, liquidity, false)
	require.ErrorIs(t, err, fpmath.ErrAmountOverflow)

	// near the range's lower edge both paths agree
	near := fpmath.GetSqrtRatioAtTick(80_040)
	b0, b1 := fpmath.TickRangeAmountsBig(near, 79_800, 887_220, liquidity, false)
	n0, n1, err := fpmath.TryTickRangeAmounts(near, 79_800, 887_220, liquidity, false)
	require.NoError(t, err)
	require.Equal(t, b0.Int64(), n0)
	require.Equal(t, b1.Int64(), n1)
}
