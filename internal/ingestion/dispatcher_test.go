package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"CurieLedger/internal/core"
	"CurieLedger/internal/ingestion"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type settled struct {
	acks, naks int
}

func message(t *testing.T, subject string, body any, s *settled) ingestion.RawEvent {
	t.Helper()
	raw := rawFromJSON(t, body)
	raw.Subject = subject
	raw.AckFunc = func() { s.acks++ }
	raw.NakFunc = func() { s.naks++ }
	return raw
}

func newDispatcher(t *testing.T) (*ingestion.Dispatcher, *testutil.Engine) {
	t.Helper()
	e := testutil.NewEngine(t)
	return ingestion.NewDispatcher(e, ingestion.DefaultSubjects(), nil, zerolog.Nop()), e
}

func deposit(amount string) map[string]any {
	return map[string]any{
		"deposit_id": requestID,
		"account":    account,
		"amount":     amount,
	}
}

// =============================================================================
// Routing
// =============================================================================

func TestResolveEventType_LongestPrefix(t *testing.T) {
	subjects := ingestion.DefaultSubjects()

	cases := map[string]string{
		"curie.commands.deposit." + account:          "Deposit",
		"curie.commands.liquidity.add." + account:    "LiquidityAdd",
		"curie.commands.liquidity.remove." + account: "LiquidityRemove",
		"curie.prices.index.ETH":                     "IndexPriceUpdate",
		"curie.pools.ETH":                            "PoolUpdate",
		"curie.risk.params.global":                   "RiskParamUpdate",
		"curie.commands.transfer." + account:         "",
		"perp.trades.BTC":                            "",
	}
	for subject, want := range cases {
		require.Equal(t, want, ingestion.ResolveEventType(subject, subjects), subject)
	}
}

func TestDefaultSubjects_EveryTypeParses(t *testing.T) {
	for _, cfg := range ingestion.DefaultSubjects() {
		_, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: []byte(`{}`)}, cfg.EventType)
		// Empty bodies fail validation, never type resolution.
		if err != nil {
			require.NotContains(t, err.Error(), "unknown event type", cfg.EventType)
		}
	}
}

// =============================================================================
// Ack policy
// =============================================================================

func TestDispatcher_AppliedIsAcked(t *testing.T) {
	d, e := newDispatcher(t)
	var s settled

	d.Handle(context.Background(), message(t, "curie.commands.deposit."+account, deposit("10"), &s))

	require.Equal(t, settled{acks: 1}, s)
	require.Equal(t, int64(10_000_000), e.Collateral(ledger.MustParseAccountID(account)))
	require.Len(t, e.Persist, 1)
}

func TestDispatcher_DuplicateIsAckedOnce(t *testing.T) {
	d, e := newDispatcher(t)
	var s settled

	d.Handle(context.Background(), message(t, "curie.commands.deposit."+account, deposit("10"), &s))
	d.Handle(context.Background(), message(t, "curie.commands.deposit."+account, deposit("10"), &s))

	require.Equal(t, settled{acks: 2}, s)
	require.Equal(t, int64(10_000_000), e.Collateral(ledger.MustParseAccountID(account)))
}

func TestDispatcher_UnparseableIsAckedNotApplied(t *testing.T) {
	d, e := newDispatcher(t)
	var s settled

	d.Handle(context.Background(), message(t, "curie.commands.deposit."+account, deposit("1.0000001"), &s))
	d.Handle(context.Background(), message(t, "curie.commands.unknown."+account, deposit("1"), &s))

	require.Equal(t, settled{acks: 2}, s)
	require.Empty(t, e.Persist)
}

func TestDispatcher_CustodyFailureIsNaked(t *testing.T) {
	d, e := newDispatcher(t)
	var s settled

	d.Handle(context.Background(), message(t, "curie.commands.deposit."+account, deposit("10"), &s))
	e.Custody.FailWith(errors.New("custody offline"))

	withdraw := map[string]any{
		"withdrawal_id": "660e8400-e29b-41d4-a716-446655440001",
		"account":       account,
		"amount":        "5",
	}
	d.Handle(context.Background(), message(t, "curie.commands.withdraw."+account, withdraw, &s))

	require.Equal(t, settled{acks: 1, naks: 1}, s)
	require.Equal(t, int64(10_000_000), e.Collateral(ledger.MustParseAccountID(account)))
}

func TestDispatcher_RunStopsOnClose(t *testing.T) {
	d, _ := newDispatcher(t)
	var s settled

	ch := make(chan ingestion.RawEvent, 1)
	ch <- message(t, "curie.commands.deposit."+account, deposit("1"), &s)
	close(ch)

	require.NoError(t, d.Run(context.Background(), ch))
	require.Equal(t, 1, s.acks)
}

// =============================================================================
// Operator ingest & outbound
// =============================================================================

func TestGRPCIngest_SubmitAndInject(t *testing.T) {
	e := testutil.NewEngine(t)
	svc := ingestion.NewGRPCIngestService(e)
	ctx := context.Background()

	body, err := json.Marshal(deposit("3"))
	require.NoError(t, err)
	out, err := svc.Submit(ctx, "Deposit", body)
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Envelope.Sequence)

	_, err = svc.Submit(ctx, "Deposit", []byte(`{"amount":"x"}`))
	require.ErrorIs(t, err, ingestion.ErrBadPayload)

	id := ledger.MustParseAccountID(account)
	_, err = svc.InjectDeposit(ctx, id, 2_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(5_000_000), e.Collateral(id))

	_, err = svc.InjectDeposit(ctx, id, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.InjectIndexPrice(ctx, testutil.ETH, 3_100_000_000, 1)
	require.NoError(t, err)
	_, err = svc.InjectIndexPrice(ctx, testutil.ETH, 3_200_000_000, 1)
	require.ErrorIs(t, err, core.ErrDuplicate)
}

func TestPublishableEvent(t *testing.T) {
	e := testutil.NewEngine(t)
	id := ledger.MustParseAccountID(account)
	e.Apply(t, e.Deposit(id, 10_000_000))
	out := e.Apply(t, e.Mint(id, testutil.ETH, 1_500_000))

	evt := ingestion.NewPublishableEvent(*out)
	require.Equal(t, "Mint", evt.EventType)
	require.Equal(t, account, evt.Account)
	require.Equal(t, "ETH", evt.Asset)
	require.Equal(t, "curie.ledger.events.Mint.ETH", evt.Subject())
	require.Len(t, evt.StateHash, 64)
	require.NotEmpty(t, evt.Journals)
	require.Equal(t, "1.5", evt.Journals[0].Amount)

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	require.Contains(t, string(data), `"event_type":"Mint"`)
}
