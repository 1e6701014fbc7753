package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"CurieLedger/internal/event"
	"CurieLedger/internal/ingestion"
	fpmath "CurieLedger/internal/math"
	"CurieLedger/internal/testutil"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const (
	account   = "0x00112233445566778899aabbccddeeff00112233"
	requestID = "550e8400-e29b-41d4-a716-446655440000"
)

func rawFromJSON(t *testing.T, v any) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func parse(t *testing.T, eventType string, v any) event.Event {
	t.Helper()
	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, v), eventType)
	require.NoError(t, err)
	return evt
}

// =============================================================================
// Commands
// =============================================================================

func TestParseDeposit(t *testing.T) {
	evt := parse(t, "Deposit", map[string]any{
		"deposit_id":   requestID,
		"account":      account,
		"amount":       "10.5",
		"sequence":     7,
		"timestamp_us": int64(1_700_000_000_000_000),
	})

	d, ok := evt.(*event.Deposit)
	require.True(t, ok, "got %T", evt)
	require.Equal(t, requestID, d.DepositID.String())
	require.Equal(t, account, d.Account.String())
	require.Equal(t, int64(10_500_000), d.Amount)
	require.Equal(t, int64(7), d.Sequence)
	require.Equal(t, int64(1_700_000_000_000_000), d.Timestamp)
}

func TestParseWithdraw(t *testing.T) {
	evt := parse(t, "Withdraw", map[string]any{
		"withdrawal_id": requestID,
		"account":       account,
		"amount":        "1",
	})
	w := evt.(*event.Withdraw)
	require.Equal(t, int64(1_000_000), w.Amount)
}

func TestParseMintAndBurn(t *testing.T) {
	body := map[string]any{
		"request_id": requestID,
		"account":    account,
		"asset":      "ETH",
		"amount":     "0.000001",
		"sequence":   3,
	}

	m := parse(t, "Mint", body).(*event.Mint)
	require.Equal(t, testutil.ETH, m.Asset)
	require.Equal(t, int64(1), m.Amount)

	b := parse(t, "Burn", body).(*event.Burn)
	require.Equal(t, testutil.ETH, b.Asset)
	require.Equal(t, m.IdempotencyKey(), b.IdempotencyKey())
	require.NotEqual(t, m.EventType(), b.EventType())
}

func TestParseSwapSettle_SignedDeltas(t *testing.T) {
	s := parse(t, "SwapSettle", map[string]any{
		"fill_id":        requestID,
		"account":        account,
		"asset":          "BTC",
		"base_delta":     "-0.25",
		"notional_delta": "-15000",
	}).(*event.SwapSettle)

	require.Equal(t, testutil.BTC, s.Asset)
	require.Equal(t, int64(-250_000), s.BaseDelta)
	require.Equal(t, int64(-15_000_000_000), s.NotionalDelta)
}

func TestParseLiquidity(t *testing.T) {
	add := parse(t, "LiquidityAdd", map[string]any{
		"request_id":      requestID,
		"account":         account,
		"asset":           "ETH",
		"lower_tick":      79_980,
		"upper_tick":      80_100,
		"amount0_desired": "1",
	}).(*event.AddLiquidity)
	require.Equal(t, int32(79_980), add.LowerTick)
	require.Equal(t, int32(80_100), add.UpperTick)
	require.Equal(t, int64(1_000_000), add.Amount0Desired)
	require.Zero(t, add.Amount1Desired)

	rm := parse(t, "LiquidityRemove", map[string]any{
		"request_id": requestID,
		"account":    account,
		"asset":      "ETH",
		"lower_tick": 79_980,
		"upper_tick": 80_100,
		"liquidity":  "340282366920938463463374607431768211456", // 2^128
	}).(*event.RemoveLiquidity)
	require.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(1), 128), rm.Liquidity)

	// Zero-liquidity removal only collects fees.
	collect := parse(t, "LiquidityRemove", map[string]any{
		"request_id": requestID,
		"account":    account,
		"asset":      "ETH",
		"lower_tick": 79_980,
		"upper_tick": 80_100,
	}).(*event.RemoveLiquidity)
	require.True(t, collect.Liquidity.IsZero())
}

// =============================================================================
// Feeds
// =============================================================================

func TestParseIndexPrice(t *testing.T) {
	p := parse(t, "IndexPriceUpdate", map[string]any{
		"asset":              "ETH",
		"price":              "3000.1234565",
		"price_sequence":     42,
		"price_timestamp_us": int64(1_700_000_000_000_000),
	}).(*event.IndexPriceUpdate)

	require.Equal(t, testutil.ETH, p.Asset)
	require.Equal(t, int64(3_000_123_456), p.Price) // half-even
	require.Equal(t, int64(42), p.SourceSequence())
}

func TestParsePoolUpdate(t *testing.T) {
	sqrt := fpmath.GetSqrtRatioAtTick(testutil.ETHTick)
	u := parse(t, "PoolUpdate", map[string]any{
		"asset":           "ETH",
		"fee0":            "0.5",
		"sqrt_price_x96":  sqrt.Dec(),
		"update_sequence": 9,
	}).(*event.PoolUpdate)

	require.Equal(t, int64(500_000), u.Fee0)
	require.Zero(t, u.Fee1)
	require.Equal(t, sqrt, u.SqrtPriceX96)

	feesOnly := parse(t, "PoolUpdate", map[string]any{
		"asset":           "ETH",
		"fee1":            "2",
		"update_sequence": 10,
	}).(*event.PoolUpdate)
	require.Nil(t, feesOnly.SqrtPriceX96)
}

func TestParseRiskParamUpdate(t *testing.T) {
	r := parse(t, "RiskParamUpdate", map[string]any{
		"im_ratio":      "0.05",
		"effective_seq": 2,
	}).(*event.RiskParamUpdate)
	require.Equal(t, int64(50_000), r.IMRatio)
	require.Equal(t, int64(2), r.EffectiveSeq)
}

// =============================================================================
// Rejections
// =============================================================================

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		body      map[string]any
	}{
		{"unknown type", "TradeFill", map[string]any{}},
		{"bad uuid", "Deposit", map[string]any{"deposit_id": "nope", "account": account, "amount": "1"}},
		{"bad account", "Deposit", map[string]any{"deposit_id": requestID, "account": "0x12", "amount": "1"}},
		{"too precise", "Deposit", map[string]any{"deposit_id": requestID, "account": account, "amount": "1.0000001"}},
		{"not a number", "Mint", map[string]any{"request_id": requestID, "account": account, "asset": "ETH", "amount": "ten"}},
		{"unknown asset", "Mint", map[string]any{"request_id": requestID, "account": account, "asset": "DOGE", "amount": "1"}},
		{"negative price", "IndexPriceUpdate", map[string]any{"asset": "ETH", "price": "-1"}},
		{"bad sqrt price", "PoolUpdate", map[string]any{"asset": "ETH", "sqrt_price_x96": "12abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tc.body), tc.eventType)
			require.Error(t, err)
		})
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{"deposit_id":`)}
	_, err := ingestion.ParseRawEvent(raw, "Deposit")
	require.Error(t, err)
}
