package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"
	"CurieLedger/internal/observability"
	"CurieLedger/internal/state"
	"CurieLedger/internal/testutil"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const unit = int64(1_000_000)

var (
	usdc = testutil.USDC
	eth  = testutil.ETH
	btc  = testutil.BTC
)

// drainOutputs reads all available outputs from a channel (non-blocking).
func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func collateralKey(id ledger.AccountID) ledger.AccountKey {
	return ledger.NewUserAccountKey(id, ledger.SubTypeCollateral, usdc)
}

func free(t *testing.T, e *testutil.Engine, id ledger.AccountID) int64 {
	t.Helper()
	fc, err := e.FreeCollateral(id)
	require.NoError(t, err)
	return fc
}

// requireRejected checks that evt fails with target and leaves no output.
func requireRejected(t *testing.T, e *testutil.Engine, evt event.Event, target error) {
	t.Helper()
	seq := e.GetSequence()
	hash := e.GetStateHash()
	drainOutputs(e.Persist)

	out, err := e.ProcessEvent(context.Background(), evt)
	require.ErrorIs(t, err, target)
	require.Nil(t, out)
	require.Equal(t, seq, e.GetSequence())
	require.Equal(t, hash, e.GetStateHash())
	require.Empty(t, drainOutputs(e.Persist))
}

// ============================================================================
// Test: Collateral
// ============================================================================

func TestDeposit_IncreasesCollateral(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()

	out := e.Apply(t, e.Deposit(trader, 10*unit))

	require.Equal(t, 10*unit, e.Collateral(trader))
	require.Equal(t, 10*unit, free(t, e, trader))
	require.Equal(t, []testutil.Instruction{{Account: trader, Amount: 10 * unit}}, e.Custody.Credits())
	require.Equal(t, 10*unit, e.LedgerBalance(collateralKey(trader)))

	require.Len(t, out.Batch.Journals, 1)
	require.Equal(t, ledger.JournalTypeDeposit, out.Batch.Journals[0].JournalType)
	require.Equal(t, int64(1), out.Batch.Sequence)
	require.Len(t, drainOutputs(e.Persist), 1)
	require.Len(t, drainOutputs(e.Projection), 1)
}

func TestDeposit_NonPositive_Rejected(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()

	requireRejected(t, e, e.Deposit(trader, 0), ledger.ErrInvalidAmount)
	requireRejected(t, e, e.Deposit(trader, -5), ledger.ErrInvalidAmount)
	require.Empty(t, e.Custody.Credits())
}

func TestWithdraw_BoundedByFreeCollateral(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10*unit))
	e.Apply(t, e.Mint(trader, usdc, 10*unit))
	require.Equal(t, 9*unit, free(t, e, trader))

	requireRejected(t, e, e.Withdraw(trader, 9*unit+1), state.ErrInsufficientFreeCollateral)

	out := e.Apply(t, e.Withdraw(trader, 9*unit))
	require.Equal(t, ledger.JournalTypeWithdrawal, out.Batch.Journals[0].JournalType)
	require.Equal(t, unit, e.Collateral(trader))
	require.Zero(t, free(t, e, trader))
	require.Equal(t, []testutil.Instruction{{Account: trader, Amount: 9 * unit}}, e.Custody.Debits())
}

func TestWithdraw_CustodyFailure_LeavesNoTrace(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10*unit))

	e.Custody.FailWith(errors.New("settlement unavailable"))
	requireRejected(t, e, e.Withdraw(trader, 5*unit), core.ErrCustody)
	require.Equal(t, 10*unit, e.Collateral(trader))
	require.Equal(t, 10*unit, e.LedgerBalance(collateralKey(trader)))

	requireRejected(t, e, e.Deposit(trader, unit), core.ErrCustody)
	require.Equal(t, 10*unit, e.Collateral(trader))
}

// ============================================================================
// Test: Synthetic tokens
// ============================================================================

func TestMintBurn_QuoteRoundTrip(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10*unit))

	e.Apply(t, e.Mint(trader, usdc, 10*unit))
	require.Equal(t, ledger.TokenInfo{Available: 10 * unit, Debt: 10 * unit}, e.TokenInfo(trader, usdc))
	require.Equal(t, 9*unit, free(t, e, trader))

	e.Apply(t, e.Burn(trader, usdc, 10*unit))
	require.True(t, e.TokenInfo(trader, usdc).IsZero())
	require.Equal(t, 10*unit, free(t, e, trader))
	require.Equal(t, []ledger.AssetID{usdc}, e.RegisteredAssets(trader))
}

func TestMint_TwiceAccumulatesAndRegistersOnce(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))

	e.Apply(t, e.Mint(trader, eth, unit))
	e.Apply(t, e.Mint(trader, eth, 2*unit))
	require.Equal(t, ledger.TokenInfo{Available: 3 * unit, Debt: 3 * unit}, e.TokenInfo(trader, eth))
	require.Equal(t, []ledger.AssetID{eth}, e.RegisteredAssets(trader))
}

func TestMint_PricedReservesDebtValue(t *testing.T) {
	e := testutil.NewEngine(t)
	e.Oracle.SetPrice(eth, 100*unit)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 5_000*unit))

	e.Apply(t, e.Mint(trader, eth, 100*unit))
	require.Equal(t, 4_000*unit, free(t, e, trader))

	s, err := e.Summary(trader)
	require.NoError(t, err)
	require.Equal(t, int64(1_000*unit), s.MarginRequirement.Int64())
	require.Equal(t, int64(5_000*unit), s.AccountValue.Int64())
}

func TestMint_BeyondLeverage_Rejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	e := testutil.NewEngine(t, func(cfg *core.Config) { cfg.Metrics = metrics })
	e.Oracle.SetPrice(eth, 100*unit)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 100*unit))

	// 11 ETH at 100 is 1100 of debt; 10% of it exceeds the 100 held
	requireRejected(t, e, e.Mint(trader, eth, 11*unit), state.ErrMarginInsufficient)
	require.True(t, e.TokenInfo(trader, eth).IsZero())
	require.Empty(t, e.RegisteredAssets(trader))

	require.Equal(t, 1.0, promtest.ToFloat64(metrics.CoreEventsRejected.WithLabelValues("Mint", "margin")))
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.MarginRejections.WithLabelValues("Mint", "margin_insufficient")))
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.CoreEventsApplied.WithLabelValues("Deposit")))
}

func TestMint_UnknownAsset_Rejected(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 100*unit))
	requireRejected(t, e, e.Mint(trader, ledger.AssetID(999), unit), ledger.ErrInvalidAsset)
}

func TestBurn_CappedByDebt(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))
	e.Apply(t, e.Mint(trader, eth, 10*unit))
	// a fill leaves 10.06 available against 10 of debt
	e.Apply(t, e.Swap(trader, eth, 60_000, 180*unit))
	require.Equal(t, ledger.TokenInfo{Available: 10_060_000, Debt: 10 * unit, OpenNotional: 180 * unit}, e.TokenInfo(trader, eth))

	requireRejected(t, e, e.Burn(trader, eth, 10_060_000), ledger.ErrInvalidAmount)

	e.Apply(t, e.Burn(trader, eth, 10*unit))
	require.Equal(t, ledger.TokenInfo{Available: 60_000, OpenNotional: 180 * unit}, e.TokenInfo(trader, eth))
}

func TestBurn_Unregistered_Rejected(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	requireRejected(t, e, e.Burn(trader, eth, unit), ledger.ErrAssetNotFound)
}

// ============================================================================
// Test: Swap settlement
// ============================================================================

func TestSwapSettle_Validation(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))

	requireRejected(t, e, e.Swap(trader, usdc, unit, unit), ledger.ErrInvalidAsset)
	requireRejected(t, e, e.Swap(trader, eth, 0, 0), ledger.ErrInvalidAmount)
	requireRejected(t, e, e.Swap(trader, eth, -unit, -3_000*unit), ledger.ErrInsufficientAvailable)
	require.Empty(t, e.RegisteredAssets(trader))
}

func TestSwapSettle_BuyThenSell(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))

	out := e.Apply(t, e.Swap(trader, eth, 2*unit, 6_000*unit))
	require.Len(t, out.Batch.Journals, 2)
	require.Equal(t, ledger.TokenInfo{Available: 2 * unit, OpenNotional: 6_000 * unit}, e.TokenInfo(trader, eth))

	// marked at the index price: 2 ETH at 3000 against 6000 of notional
	value, err := e.AccountValue(trader)
	require.NoError(t, err)
	require.Equal(t, int64(10_000*unit), value.Int64())

	e.Apply(t, e.Swap(trader, eth, -unit, -3_100*unit))
	require.Equal(t, ledger.TokenInfo{Available: unit, OpenNotional: 2_900 * unit}, e.TokenInfo(trader, eth))
}

func TestSwapSettle_Insolvent_Rejected(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 100*unit))
	// paying 3000 of notional for ETH worth 300 wipes out the account
	requireRejected(t, e, e.Swap(trader, eth, 100_000, 3_000*unit), state.ErrMarginInsufficient)
}

// ============================================================================
// Test: Liquidity
// ============================================================================

const (
	lowerTick int32 = 79_800
	upperTick int32 = 80_280
)

func TestLiquidity_AddCollectRemove(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))
	e.Apply(t, e.Mint(trader, eth, unit))
	e.Apply(t, e.Mint(trader, usdc, 3_000*unit))

	out := e.Apply(t, e.AddLiquidity(trader, eth, lowerTick, upperTick, unit, 3_000*unit))
	var delta core.StateDelta
	require.NoError(t, json.Unmarshal(out.StateDelta, &delta))
	require.NotNil(t, delta.Account)
	require.NotNil(t, delta.Pool)
	require.Len(t, delta.Pool.Ticks, 2)

	order, err := e.OpenOrder(trader, eth, lowerTick, upperTick)
	require.NoError(t, err)
	require.False(t, order.Liquidity.IsZero())
	ethLeft := e.TokenInfo(trader, eth).Available
	usdcLeft := e.TokenInfo(trader, usdc).Available
	// the pool takes amounts rounded up, quotes round down
	require.InDelta(t, unit, ethLeft+order.Amount0.Int64(), 1)
	require.Less(t, ethLeft, unit)
	require.LessOrEqual(t, usdcLeft, 3_000*unit)

	active, err := e.Pools.ActiveLiquidity(eth)
	require.NoError(t, err)
	require.True(t, active.Eq(&order.Liquidity))

	// fees accrue to the only liquidity in range
	e.Apply(t, e.PoolUpdate(eth, unit/10, 10*unit, nil, 1))
	order, err = e.OpenOrder(trader, eth, lowerTick, upperTick)
	require.NoError(t, err)
	require.InDelta(t, unit/10, order.PendingFee0, 1)
	require.InDelta(t, 10*unit, order.PendingFee1, 1)

	zero := new(uint256.Int)
	collect := e.Apply(t, e.RemoveLiquidity(trader, eth, lowerTick, upperTick, zero))
	require.Len(t, collect.Batch.Journals, 2)
	require.Equal(t, ethLeft+order.PendingFee0, e.TokenInfo(trader, eth).Available)
	require.Equal(t, usdcLeft+order.PendingFee1, e.TokenInfo(trader, usdc).Available)

	again := e.Apply(t, e.RemoveLiquidity(trader, eth, lowerTick, upperTick, zero))
	require.Empty(t, again.Batch.Journals)

	e.Apply(t, e.RemoveLiquidity(trader, eth, lowerTick, upperTick, &order.Liquidity))
	orders, err := e.OpenOrders(trader)
	require.NoError(t, err)
	require.Empty(t, orders)
	_, err = e.OpenOrder(trader, eth, lowerTick, upperTick)
	require.ErrorIs(t, err, state.ErrPositionNotFound)

	active, err = e.Pools.ActiveLiquidity(eth)
	require.NoError(t, err)
	require.True(t, active.IsZero())
}

func TestLiquidity_AddWithoutTokens_LeavesPoolUntouched(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))

	requireRejected(t, e, e.AddLiquidity(trader, eth, lowerTick, upperTick, unit, 3_000*unit), ledger.ErrInsufficientAvailable)
	active, err := e.Pools.ActiveLiquidity(eth)
	require.NoError(t, err)
	require.True(t, active.IsZero())

	requireRejected(t, e, e.AddLiquidity(trader, eth, lowerTick+1, upperTick, unit, 0), state.ErrInvalidTickRange)
	requireRejected(t, e, e.AddLiquidity(trader, usdc, lowerTick, upperTick, unit, 0), ledger.ErrInvalidAsset)
}

func TestLiquidity_RemoveUnknownPosition_Rejected(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	requireRejected(t, e, e.RemoveLiquidity(trader, eth, lowerTick, upperTick, uint256.NewInt(1)), state.ErrPositionNotFound)
	requireRejected(t, e, e.RemoveLiquidity(trader, eth, lowerTick, upperTick, nil), ledger.ErrInvalidAmount)
}

func TestLiquidity_PoolAtTopOfWideRange_StaysValued(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 10_000*unit))
	e.Apply(t, e.Mint(trader, eth, unit))
	e.Apply(t, e.Mint(trader, usdc, 3_000*unit))
	e.Apply(t, e.AddLiquidity(trader, eth, lowerTick, 887_220, unit, 3_000*unit))

	e.Apply(t, e.PoolUpdate(eth, 0, 0, fpmath.GetSqrtRatioAtTick(887_000), 1))

	fc := free(t, e, trader)
	require.GreaterOrEqual(t, fc, int64(0))
	require.LessOrEqual(t, fc, e.Collateral(trader))
	_, err := e.AccountValue(trader)
	require.NoError(t, err)

	order, err := e.OpenOrder(trader, eth, lowerTick, 887_220)
	require.NoError(t, err)
	require.False(t, order.Amount1.IsInt64())

	// principal too large for the ledger: the burn is refused, fees still collect
	requireRejected(t, e, e.RemoveLiquidity(trader, eth, lowerTick, 887_220, &order.Liquidity), fpmath.ErrAmountOverflow)
	e.Apply(t, e.RemoveLiquidity(trader, eth, lowerTick, 887_220, new(uint256.Int)))

	e.Apply(t, e.PoolUpdate(eth, 0, 0, fpmath.GetSqrtRatioAtTick(testutil.ETHTick), 2))
	e.Apply(t, e.RemoveLiquidity(trader, eth, lowerTick, 887_220, &order.Liquidity))
	_, err = e.OpenOrder(trader, eth, lowerTick, 887_220)
	require.ErrorIs(t, err, state.ErrPositionNotFound)
}

// ============================================================================
// Test: Feed updates
// ============================================================================

func TestIndexPrice_AppliesInSequence(t *testing.T) {
	e := testutil.NewEngine(t)

	out := e.Apply(t, e.IndexPrice(eth, 100*unit, 5))
	require.Empty(t, out.Batch.Journals)
	require.Nil(t, out.Envelope.Account)
	price, _, err := e.Oracle.IndexPrice(eth)
	require.NoError(t, err)
	require.Equal(t, 100*unit, price)

	requireRejected(t, e, e.IndexPrice(eth, 90*unit, 5), core.ErrDuplicate)
	requireRejected(t, e, e.IndexPrice(eth, 90*unit, 3), core.ErrDuplicate)
	requireRejected(t, e, e.IndexPrice(eth, 0, 9), ledger.ErrInvalidAmount)
	requireRejected(t, e, e.IndexPrice(usdc, unit, 1), ledger.ErrInvalidAsset)

	// partitions are per asset
	e.Apply(t, e.IndexPrice(btc, 50_000*unit, 1))
}

type priceOnly struct{}

func (priceOnly) IndexPrice(ledger.AssetID) (int64, time.Time, error) {
	return 3_000 * unit, time.Now(), nil
}

func TestIndexPrice_OracleWithoutSink_Rejected(t *testing.T) {
	e := testutil.NewEngine(t, func(cfg *core.Config) { cfg.Oracle = priceOnly{} })
	requireRejected(t, e, e.IndexPrice(eth, 100*unit, 1), core.ErrNoPriceSink)
}

func TestPoolUpdate_MovesPrice(t *testing.T) {
	e := testutil.NewEngine(t)
	target := fpmath.GetSqrtRatioAtTick(testutil.ETHTick + 60)

	out := e.Apply(t, e.PoolUpdate(eth, 0, 0, target, 1))
	var delta core.StateDelta
	require.NoError(t, json.Unmarshal(out.StateDelta, &delta))
	require.NotNil(t, delta.Pool)
	require.True(t, delta.Pool.SqrtPriceX96.Eq(target))

	sqrtP, err := e.Pools.SqrtPriceX96(eth)
	require.NoError(t, err)
	require.True(t, sqrtP.Eq(target))

	requireRejected(t, e, e.PoolUpdate(eth, 1, 1, nil, 1), core.ErrDuplicate)
	requireRejected(t, e, e.PoolUpdate(eth, -1, 0, nil, 2), ledger.ErrInvalidAmount)
	requireRejected(t, e, e.PoolUpdate(eth, 0, 0, uint256.NewInt(1), 2), ledger.ErrInvalidAmount)
}

func TestRiskParamUpdate(t *testing.T) {
	e := testutil.NewEngine(t)
	e.Oracle.SetPrice(eth, 100*unit)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 5_000*unit))
	e.Apply(t, e.Mint(trader, eth, 100*unit))
	require.Equal(t, 4_000*unit, free(t, e, trader))

	e.Apply(t, &event.RiskParamUpdate{IMRatio: 200_000, EffectiveSeq: 1})
	require.Equal(t, 3_000*unit, free(t, e, trader))

	requireRejected(t, e, &event.RiskParamUpdate{IMRatio: 50_000, EffectiveSeq: 1}, core.ErrDuplicate)
	requireRejected(t, e, &event.RiskParamUpdate{IMRatio: 0, EffectiveSeq: 2}, ledger.ErrInvalidAmount)
	require.Equal(t, int64(200_000), e.Markets().RiskParams().IMRatio)
}

// ============================================================================
// Test: Idempotency and sequencing
// ============================================================================

func TestIdempotency_DuplicateRejected(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	deposit := e.Deposit(trader, unit)
	e.Apply(t, deposit)

	requireRejected(t, e, deposit, core.ErrDuplicate)
	require.Equal(t, unit, e.Collateral(trader))
	lru, postgres := e.IdempotencyStats()
	require.Equal(t, int64(1), lru)
	require.Zero(t, postgres)
}

type seenAll struct{}

func (seenAll) IsDuplicate(string, string) (bool, error) { return true, nil }

func TestIdempotency_DatabaseTier(t *testing.T) {
	e := testutil.NewEngine(t, func(cfg *core.Config) { cfg.DBChecker = seenAll{} })
	trader := testutil.NewAccountID()

	requireRejected(t, e, e.Deposit(trader, unit), core.ErrDuplicate)
	_, postgres := e.IdempotencyStats()
	require.Equal(t, int64(1), postgres)
}

func TestSequenceValidation(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	sequenced := func(amount, seq int64) *event.Deposit {
		d := e.Deposit(trader, amount)
		d.Sequence = seq
		return d
	}

	e.Apply(t, sequenced(unit, 1))
	requireRejected(t, e, sequenced(unit, 3), core.ErrSequenceGap)
	requireRejected(t, e, sequenced(unit, 1), core.ErrOutOfOrder)

	// a rejected command does not consume its sequence
	requireRejected(t, e, sequenced(0, 2), ledger.ErrInvalidAmount)
	e.Apply(t, sequenced(unit, 2))

	// unsequenced commands skip the check
	e.Apply(t, sequenced(unit, 0))
	require.Equal(t, 3*unit, e.Collateral(trader))
}

// ============================================================================
// Test: Output chain
// ============================================================================

func TestEnvelope_HasCorrectFields(t *testing.T) {
	e := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	mint := e.Mint(trader, usdc, unit)
	e.Apply(t, e.Deposit(trader, 10*unit))
	out := e.Apply(t, mint)

	env := out.Envelope
	require.Equal(t, int64(2), env.Sequence)
	require.Equal(t, mint.IdempotencyKey(), env.IdempotencyKey)
	require.Equal(t, event.EventTypeMint, env.EventType)
	require.Equal(t, trader, *env.Account)
	require.Equal(t, usdc, *env.Asset)
	require.Equal(t, mint.Timestamp, env.Timestamp.UnixMicro())
	require.Equal(t, e.GetStateHash(), env.StateHash)
	require.NotEqual(t, env.PrevHash, env.StateHash)

	var decoded event.Mint
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	require.Equal(t, *mint, decoded)
}

// scenario builds a fixed command stream touching every operation.
func scenario(e *testutil.Engine, trader ledger.AccountID) []event.Event {
	return []event.Event{
		e.Deposit(trader, 10_000*unit),
		e.IndexPrice(eth, 3_100*unit, 1),
		e.Mint(trader, eth, unit),
		e.Mint(trader, usdc, 3_000*unit),
		e.AddLiquidity(trader, eth, lowerTick, upperTick, unit, 3_000*unit),
		e.PoolUpdate(eth, unit/10, 10*unit, nil, 1),
		e.Swap(trader, btc, 10_000, 600*unit),
		e.RemoveLiquidity(trader, eth, lowerTick, upperTick, new(uint256.Int)),
		&event.RiskParamUpdate{IMRatio: 150_000, EffectiveSeq: 1},
		e.Withdraw(trader, 100*unit),
	}
}

func run(t *testing.T, e *testutil.Engine, events []event.Event) []core.CoreOutput {
	t.Helper()
	for _, evt := range events {
		e.Apply(t, evt)
	}
	return drainOutputs(e.Persist)
}

func TestStateHashChain_Deterministic(t *testing.T) {
	trader := testutil.NewAccountID()
	a := testutil.NewEngine(t)
	events := scenario(a, trader)

	first := run(t, a, events)
	second := run(t, testutil.NewEngine(t), events)
	require.Len(t, first, len(events))
	require.Len(t, second, len(events))

	prev := core.GenesisHash()
	for i := range first {
		require.Equal(t, int64(i+1), first[i].Envelope.Sequence)
		require.Equal(t, prev, first[i].Envelope.PrevHash)
		require.Equal(t, first[i].Envelope.StateHash, second[i].Envelope.StateHash, "output %d", i)
		prev = first[i].Envelope.StateHash
	}
}

func TestReplay_RebuildsState(t *testing.T) {
	trader := testutil.NewAccountID()
	live := testutil.NewEngine(t)
	events := scenario(live, trader)
	outputs := run(t, live, events)

	replica := testutil.NewEngine(t)
	for _, o := range outputs {
		require.NoError(t, replica.Replay(o.Envelope, o.Batch, o.StateDelta))
	}

	requireSameState(t, live, replica, trader)

	// replayed commands stay applied
	requireRejected(t, replica, events[0], core.ErrDuplicate)
	requireRejected(t, replica, events[1], core.ErrDuplicate)

	// and both continue identically
	next := live.Deposit(trader, unit)
	a := live.Apply(t, next)
	b := replica.Apply(t, next)
	require.Equal(t, a.Envelope.StateHash, b.Envelope.StateHash)
}

func TestReplay_TamperedDelta_Fails(t *testing.T) {
	trader := testutil.NewAccountID()
	live := testutil.NewEngine(t)
	outputs := run(t, live, scenario(live, trader)[:1])

	var delta core.StateDelta
	require.NoError(t, json.Unmarshal(outputs[0].StateDelta, &delta))
	delta.Account.Collateral++
	tampered, err := json.Marshal(&delta)
	require.NoError(t, err)

	replica := testutil.NewEngine(t)
	err = replica.Replay(outputs[0].Envelope, outputs[0].Batch, tampered)
	require.ErrorIs(t, err, core.ErrReplayMismatch)
}

func TestReplay_OutOfOrder_Fails(t *testing.T) {
	trader := testutil.NewAccountID()
	live := testutil.NewEngine(t)
	outputs := run(t, live, scenario(live, trader)[:2])

	replica := testutil.NewEngine(t)
	err := replica.Replay(outputs[1].Envelope, outputs[1].Batch, outputs[1].StateDelta)
	require.ErrorIs(t, err, core.ErrReplayMismatch)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	trader := testutil.NewAccountID()
	live := testutil.NewEngine(t)
	run(t, live, scenario(live, trader))

	snap, err := live.CreateSnapshotState()
	require.NoError(t, err)
	require.Equal(t, live.GetSequence()-1, snap.Sequence)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded core.SnapshotState
	require.NoError(t, json.Unmarshal(data, &decoded))
	restored := testutil.NewEngine(t)
	require.NoError(t, restored.RestoreFromSnapshot(&decoded))

	requireSameState(t, live, restored, trader)

	next := live.Withdraw(trader, unit)
	a := live.Apply(t, next)
	b := restored.Apply(t, next)
	require.Equal(t, a.Envelope.StateHash, b.Envelope.StateHash)
}

func TestSnapshot_CorruptAccounts_Rejected(t *testing.T) {
	trader := testutil.NewAccountID()
	live := testutil.NewEngine(t)
	run(t, live, scenario(live, trader)[:1])

	snap, err := live.CreateSnapshotState()
	require.NoError(t, err)
	snap.Accounts[0].Collateral++

	err = testutil.NewEngine(t).RestoreFromSnapshot(snap)
	require.ErrorIs(t, err, core.ErrReplayMismatch)
}

func requireSameState(t *testing.T, want, got *testutil.Engine, trader ledger.AccountID) {
	t.Helper()
	require.Equal(t, want.GetSequence(), got.GetSequence())
	require.Equal(t, want.GetStateHash(), got.GetStateHash())
	require.Equal(t, want.Collateral(trader), got.Collateral(trader))
	require.Equal(t, want.RegisteredAssets(trader), got.RegisteredAssets(trader))
	for _, asset := range want.RegisteredAssets(trader) {
		require.Equal(t, want.TokenInfo(trader, asset), got.TokenInfo(trader, asset))
	}
	wantOrders, err := want.OpenOrders(trader)
	require.NoError(t, err)
	gotOrders, err := got.OpenOrders(trader)
	require.NoError(t, err)
	require.Equal(t, wantOrders, gotOrders)
	require.Equal(t, free(t, want, trader), free(t, got, trader))
	require.Equal(t, want.Markets().RiskParams(), got.Markets().RiskParams())
}

// ============================================================================
// Test: Emission
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	projection := make(chan core.CoreOutput, 1)
	e := testutil.NewEngine(t, func(cfg *core.Config) {
		cfg.ProjectionChan = projection
		cfg.Metrics = metrics
	})
	trader := testutil.NewAccountID()

	for i := 0; i < 5; i++ {
		e.Apply(t, e.Deposit(trader, unit))
	}

	require.Len(t, drainOutputs(e.Persist), 5)
	require.Len(t, drainOutputs(projection), 1)
	require.Equal(t, 4.0, promtest.ToFloat64(metrics.ProjectionDrops.WithLabelValues("core")))
}

func TestConcurrentAccounts_SequencedInOrder(t *testing.T) {
	persist := make(chan core.CoreOutput, 4096)
	e := testutil.NewEngine(t, func(cfg *core.Config) { cfg.PersistChan = persist })

	const traders, perTrader = 16, 20
	ids := make([]ledger.AccountID, traders)
	for i := range ids {
		ids[i] = testutil.NewAccountID()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id ledger.AccountID) {
			defer wg.Done()
			for j := 0; j < perTrader; j++ {
				if _, err := e.ProcessEvent(context.Background(), e.Deposit(id, unit)); err != nil {
					panic(fmt.Sprintf("deposit: %v", err))
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, perTrader*unit, e.Collateral(id))
	}
	outputs := drainOutputs(persist)
	require.Len(t, outputs, traders*perTrader)
	prev := core.GenesisHash()
	for i, o := range outputs {
		require.Equal(t, int64(i+1), o.Envelope.Sequence)
		require.Equal(t, prev, o.Envelope.PrevHash)
		prev = o.Envelope.StateHash
	}
	require.Equal(t, e.GetStateHash(), prev)
	require.Len(t, e.Accounts(), traders)
}

type processed struct {
	out *core.CoreOutput
	err error
}

func TestWithdraw_PriceUpdateWaitsForCommit(t *testing.T) {
	e := testutil.NewEngine(t)
	e.Oracle.SetPrice(eth, 100*unit)
	trader := testutil.NewAccountID()
	e.Apply(t, e.Deposit(trader, 5_000*unit))
	e.Apply(t, e.Mint(trader, eth, 100*unit))
	amount := free(t, e, trader)
	require.Equal(t, 4_000*unit, amount)

	entered, release := e.Custody.HoldDebits()
	withdrawn := make(chan processed, 1)
	go func() {
		out, err := e.ProcessEvent(context.Background(), e.Withdraw(trader, amount))
		withdrawn <- processed{out, err}
	}()
	<-entered

	priced := make(chan processed, 1)
	go func() {
		out, err := e.ProcessEvent(context.Background(), e.IndexPrice(eth, 200*unit, 1))
		priced <- processed{out, err}
	}()
	select {
	case <-priced:
		t.Fatal("price update sequenced while a withdraw checked at the old price was pending")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	w, p := <-withdrawn, <-priced
	require.NoError(t, w.err)
	require.NoError(t, p.err)
	require.Less(t, w.out.Envelope.Sequence, p.out.Envelope.Sequence)
	require.Equal(t, 1_000*unit, e.Collateral(trader))
	require.Zero(t, free(t, e, trader))
}

// ============================================================================
// Test: Properties
// ============================================================================

func TestProperty_RejectionsLeaveNoTraceAndFreeCollateralBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := testutil.NewEngine(t)
		trader := testutil.NewAccountID()
		e.Oracle.SetPrice(eth, rapid.Int64Range(unit, 10_000*unit).Draw(rt, "ethPrice"))

		ranges := [][2]int32{{lowerTick, upperTick}, {lowerTick, 887_220}, {-887_220, 0}}
		var poolSeq int64

		ops := rapid.IntRange(1, 30).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			amount := rapid.Int64Range(-unit, 1_000*unit).Draw(rt, "amount")
			asset := rapid.SampledFrom([]ledger.AssetID{usdc, eth}).Draw(rt, "asset")

			var evt event.Event
			switch rapid.IntRange(0, 7).Draw(rt, "op") {
			case 0:
				evt = e.Deposit(trader, amount)
			case 1:
				evt = e.Withdraw(trader, amount)
			case 2:
				evt = e.Mint(trader, asset, amount)
			case 3:
				evt = e.Burn(trader, asset, amount)
			case 4:
				evt = e.Swap(trader, eth, amount/1_000, rapid.Int64Range(-unit, 1_000*unit).Draw(rt, "notional"))
			case 5:
				r := rapid.SampledFrom(ranges).Draw(rt, "range")
				evt = e.AddLiquidity(trader, eth, r[0], r[1], amount/1_000, amount)
			case 6:
				// anywhere the pool can go, including past every range edge
				tick := rapid.Int32Range(fpmath.MinTick, fpmath.MaxTick-1).Draw(rt, "poolTick")
				poolSeq++
				evt = e.PoolUpdate(eth, 0, 0, fpmath.GetSqrtRatioAtTick(tick), poolSeq)
			case 7:
				orders, err := e.OpenOrders(trader)
				require.NoError(rt, err)
				if len(orders) == 0 {
					evt = e.Deposit(trader, amount)
					break
				}
				o := rapid.SampledFrom(orders).Draw(rt, "order")
				liquidity := new(uint256.Int)
				if rapid.Bool().Draw(rt, "full") {
					liquidity.Set(&o.Liquidity)
				}
				evt = e.RemoveLiquidity(trader, eth, o.LowerTick, o.UpperTick, liquidity)
			}

			collateral := e.Collateral(trader)
			usdcInfo, ethInfo := e.TokenInfo(trader, usdc), e.TokenInfo(trader, eth)
			seq := e.GetSequence()

			if _, err := e.ProcessEvent(context.Background(), evt); err != nil {
				require.Equal(rt, collateral, e.Collateral(trader))
				require.Equal(rt, usdcInfo, e.TokenInfo(trader, usdc))
				require.Equal(rt, ethInfo, e.TokenInfo(trader, eth))
				require.Equal(rt, seq, e.GetSequence())
			} else {
				require.Equal(rt, seq+1, e.GetSequence())
			}

			require.Equal(rt, e.Collateral(trader), e.LedgerBalance(collateralKey(trader)))
			fc, err := e.FreeCollateral(trader)
			require.NoError(rt, err)
			if fc < 0 || fc > e.Collateral(trader) {
				rt.Fatalf("free collateral %d outside [0, %d]", fc, e.Collateral(trader))
			}
			_, err = e.OpenOrders(trader)
			require.NoError(rt, err)
		}
		drainOutputs(e.Persist)
		drainOutputs(e.Projection)
	})
}
