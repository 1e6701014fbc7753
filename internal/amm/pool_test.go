package amm_test

import (
	"testing"

	"CurieLedger/internal/amm"
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var eth, _ = ledger.GetAssetID("ETH")

func newPool(t *testing.T, tick int32) *amm.Pools {
	t.Helper()
	p := amm.NewPools()
	require.NoError(t, p.CreatePool(eth, fpmath.GetSqrtRatioAtTick(tick)))
	return p
}

func TestCreatePool_Twice_Fails(t *testing.T) {
	p := newPool(t, 0)
	require.ErrorIs(t, p.CreatePool(eth, fpmath.Q96), amm.ErrPoolExists)
}

func TestMint_InRangeActivatesLiquidity(t *testing.T) {
	p := newPool(t, 0)
	l := uint256.NewInt(1_000_000_000)

	a0, a1, err := p.MintLiquidity(eth, -600, 600, l)
	require.NoError(t, err)
	require.Greater(t, a0, int64(0))
	require.Greater(t, a1, int64(0))

	active, err := p.ActiveLiquidity(eth)
	require.NoError(t, err)
	require.True(t, active.Eq(l))

	// out of range above the price: token0 only, not active
	a0, a1, err = p.MintLiquidity(eth, 600, 1200, l)
	require.NoError(t, err)
	require.Greater(t, a0, int64(0))
	require.Zero(t, a1)
	active, _ = p.ActiveLiquidity(eth)
	require.True(t, active.Eq(l))
}

func TestFeeGrowthInside_OnlyWhileInRange(t *testing.T) {
	p := newPool(t, 0)
	l := uint256.NewInt(1 << 20)
	_, _, err := p.MintLiquidity(eth, -600, 600, l)
	require.NoError(t, err)

	g0, g1, err := p.FeeGrowthInside(eth, -600, 600)
	require.NoError(t, err)

	require.NoError(t, p.AccrueFees(eth, 1_000, 2_000))
	n0, n1, err := p.FeeGrowthInside(eth, -600, 600)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), fpmath.FeesOwedAmount(n0, g0, l))
	require.Equal(t, int64(2_000), fpmath.FeesOwedAmount(n1, g1, l))

	// move above the range: no active liquidity, accrual is dropped
	require.NoError(t, p.MoveTo(eth, fpmath.GetSqrtRatioAtTick(900)))
	active, _ := p.ActiveLiquidity(eth)
	require.True(t, active.IsZero())
	require.NoError(t, p.AccrueFees(eth, 5_000, 5_000))

	m0, m1, err := p.FeeGrowthInside(eth, -600, 600)
	require.NoError(t, err)
	require.True(t, m0.Eq(n0), "growth inside must survive crossing")
	require.True(t, m1.Eq(n1))

	// and back into range
	require.NoError(t, p.MoveTo(eth, fpmath.GetSqrtRatioAtTick(-30)))
	active, _ = p.ActiveLiquidity(eth)
	require.True(t, active.Eq(l))
	require.NoError(t, p.AccrueFees(eth, 1_000, 0))
	b0, _, err := p.FeeGrowthInside(eth, -600, 600)
	require.NoError(t, err)
	require.Equal(t, int64(2_000), fpmath.FeesOwedAmount(b0, g0, l))
}

func TestFeeGrowthInside_NewRangeStartsAfterMint(t *testing.T) {
	p := newPool(t, 0)
	l := uint256.NewInt(1 << 20)
	_, _, err := p.MintLiquidity(eth, -600, 600, l)
	require.NoError(t, err)
	require.NoError(t, p.AccrueFees(eth, 1_000, 1_000))

	// a second range minted after accrual starts from its own baseline
	_, _, err = p.MintLiquidity(eth, -60, 60, l)
	require.NoError(t, err)
	g0, _, err := p.FeeGrowthInside(eth, -60, 60)
	require.NoError(t, err)
	require.NoError(t, p.AccrueFees(eth, 2_000, 0))
	n0, _, err := p.FeeGrowthInside(eth, -60, 60)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), fpmath.FeesOwedAmount(n0, g0, l))
}

func TestBurn_ReturnsRoundedDownAmounts(t *testing.T) {
	p := newPool(t, 0)
	l := uint256.NewInt(3_000_000_000)
	in0, in1, err := p.MintLiquidity(eth, -600, 600, l)
	require.NoError(t, err)

	out0, out1, err := p.BurnLiquidity(eth, -600, 600, l)
	require.NoError(t, err)
	require.LessOrEqual(t, out0, in0)
	require.LessOrEqual(t, out1, in1)
	require.InDelta(t, in0, out0, 1)
	require.InDelta(t, in1, out1, 1)

	active, _ := p.ActiveLiquidity(eth)
	require.True(t, active.IsZero())

	_, _, err = p.BurnLiquidity(eth, -600, 600, uint256.NewInt(1))
	require.ErrorIs(t, err, amm.ErrBadRange)
}

func TestUnknownPool(t *testing.T) {
	p := amm.NewPools()
	_, err := p.SqrtPriceX96(eth)
	require.ErrorIs(t, err, amm.ErrUnknownPool)
}

func TestExportImport_RoundTrip(t *testing.T) {
	p := newPool(t, 0)
	l := uint256.NewInt(1 << 30)
	_, _, err := p.MintLiquidity(eth, -600, 600, l)
	require.NoError(t, err)
	require.NoError(t, p.AccrueFees(eth, 7_000, 3_000))
	require.NoError(t, p.MoveTo(eth, fpmath.GetSqrtRatioAtTick(120)))

	st, err := p.Export(eth)
	require.NoError(t, err)
	require.Len(t, st.Ticks, 2)
	require.Equal(t, int32(-600), st.Ticks[0].Tick)

	q := amm.NewPools()
	require.NoError(t, q.Import(st))
	back, err := q.Export(eth)
	require.NoError(t, err)
	require.Equal(t, st, back)

	g0, g1, _ := p.FeeGrowthInside(eth, -600, 600)
	h0, h1, _ := q.FeeGrowthInside(eth, -600, 600)
	require.True(t, g0.Eq(h0))
	require.True(t, g1.Eq(h1))
}
