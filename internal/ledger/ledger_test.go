package ledger_test

import (
	"errors"
	"testing"

	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	alice = ledger.MustParseAccountID("0x00000000000000000000000000000000000a11ce")
	usdc  = mustAsset("USDC")
	eth   = mustAsset("ETH")
	btc   = mustAsset("BTC")
)

func mustAsset(symbol string) ledger.AssetID {
	id, ok := ledger.GetAssetID(symbol)
	if !ok {
		panic("unknown asset " + symbol)
	}
	return id
}

// ============================================================================
// Test: AccountID / AccountKey
// ============================================================================

func TestAccountID_RoundTrip(t *testing.T) {
	id, err := ledger.ParseAccountID("0x00000000000000000000000000000000000A11CE")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != alice {
		t.Errorf("got %s, want %s", id, alice)
	}
	if id.String() != "0x00000000000000000000000000000000000a11ce" {
		t.Errorf("unexpected string form %q", id.String())
	}
}

func TestAccountID_Invalid(t *testing.T) {
	for _, s := range []string{"", "0x1234", "0xzz00000000000000000000000000000000a11ce"} {
		if _, err := ledger.ParseAccountID(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeDebt, eth)
	want := "user:0x00000000000000000000000000000000000a11ce:debt:ETH"
	if path := key.AccountPath(); path != want {
		t.Errorf("got %q, want %q", path, want)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey("ETH", ledger.SubTypeSystemPoolFees, usdc)
	if path := key.AccountPath(); path != "system:ETH:pool_fees:USDC" {
		t.Errorf("got %q", path)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalCustody, usdc)
	if path := key.AccountPath(); path != "external:custody:USDC" {
		t.Errorf("got %q", path)
	}
}

// ============================================================================
// Test: TokenBook
// ============================================================================

func TestTokenBook_MintIncreasesAvailableAndDebt(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 5_000_000))

	info := book.TokenInfo(eth)
	require.Equal(t, int64(5_000_000), info.Available)
	require.Equal(t, int64(5_000_000), info.Debt)
	require.Equal(t, []ledger.AssetID{eth}, book.RegisteredAssets())
}

func TestTokenBook_MintNonPositive_Fails(t *testing.T) {
	book := ledger.NewTokenBook()
	for _, amount := range []int64{0, -1} {
		err := book.Mint(eth, amount)
		require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
	require.Empty(t, book.RegisteredAssets())
}

func TestTokenBook_TwoMints_AccumulateAndRegisterOnce(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 3_000_000))
	require.NoError(t, book.Mint(btc, 1_000_000))
	require.NoError(t, book.Mint(eth, 4_000_000))

	require.Equal(t, ledger.TokenInfo{Available: 7_000_000, Debt: 7_000_000}, book.TokenInfo(eth))
	require.Equal(t, []ledger.AssetID{eth, btc}, book.RegisteredAssets())
}

func TestTokenBook_BurnArithmetic(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 10_000_000))
	book.Credit(eth, 500_000)

	before := book.TokenInfo(eth)
	require.NoError(t, book.Burn(eth, 4_000_000))
	after := book.TokenInfo(eth)

	require.Equal(t, before.Available-4_000_000, after.Available)
	require.Equal(t, before.Debt-4_000_000, after.Debt)
}

func TestTokenBook_BurnCappedByDebt(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(usdc, 10_000_000))
	book.Credit(usdc, 60_000) // available 10.06, debt 10

	err := book.Burn(usdc, 10_060_000)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	require.Equal(t, ledger.TokenInfo{Available: 10_060_000, Debt: 10_000_000}, book.TokenInfo(usdc))

	require.NoError(t, book.Burn(usdc, 10_000_000))
	require.Equal(t, ledger.TokenInfo{Available: 60_000}, book.TokenInfo(usdc))
}

func TestTokenBook_BurnUnregistered_Fails(t *testing.T) {
	book := ledger.NewTokenBook()
	err := book.Burn(eth, 1)
	require.ErrorIs(t, err, ledger.ErrAssetNotFound)
}

func TestTokenBook_MintBurnRoundTrip_KeepsRegistration(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 2_500_000))
	require.NoError(t, book.Burn(eth, 2_500_000))

	require.True(t, book.TokenInfo(eth).IsZero())
	require.True(t, book.IsRegistered(eth))
	require.Equal(t, []ledger.AssetID{eth}, book.RegisteredAssets())
}

func TestTokenBook_DebitInsufficient_Fails(t *testing.T) {
	book := ledger.NewTokenBook()
	book.Credit(eth, 100)

	err := book.Debit(eth, 101)
	if !errors.Is(err, ledger.ErrInsufficientAvailable) {
		t.Fatalf("expected ErrInsufficientAvailable, got %v", err)
	}
	require.NoError(t, book.Debit(eth, 100))
	require.Zero(t, book.TokenInfo(eth).Available)
}

func TestTokenBook_CloneIsIndependent(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 1_000_000))

	clone := book.Clone()
	require.NoError(t, clone.Mint(btc, 1_000_000))
	require.NoError(t, clone.Burn(eth, 1_000_000))

	require.Equal(t, []ledger.AssetID{eth}, book.RegisteredAssets())
	require.Equal(t, int64(1_000_000), book.TokenInfo(eth).Debt)
}

func TestTokenBook_OverflowPanics(t *testing.T) {
	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 1<<62))
	require.Panics(t, func() { _ = book.Mint(eth, 1<<62) })
}

// ============================================================================
// Test: journals and the balance mirror
// ============================================================================

func TestJournalGenerator_SkipsZeroAndFlipsNegative(t *testing.T) {
	jg := ledger.NewJournalGenerator("op-1", 1, usdc)
	jg.LiquidityAdded(alice, "ETH", eth, 0, 500)
	jg.SwapSettled(alice, eth, -200, 300)

	batch := jg.Batch()
	require.Len(t, batch.Journals, 3)
	require.NoError(t, batch.Validate())

	sell := batch.Journals[1]
	require.Equal(t, ledger.JournalTypeSwapBase, sell.JournalType)
	require.Equal(t, int64(200), sell.Amount)
	require.Equal(t, ledger.NewExternalAccountKey(ledger.SubTypeExternalExchange, eth), sell.DebitAccount)
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeAvailable, eth)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: batchID,
			DebitAccount: key, CreditAccount: key, AssetID: eth, Amount: 1,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected self-transfer to fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	jg := ledger.NewJournalGenerator("op-2", 1, usdc)
	jg.Deposit(alice, 10)
	batch := jg.Batch()
	batch.Journals[0].BatchID = uuid.New()
	if err := batch.Validate(); err == nil {
		t.Error("expected mismatched batch id to fail validation")
	}
}

func TestBatchStamp_PropagatesSequence(t *testing.T) {
	jg := ledger.NewJournalGenerator("op-3", 1, usdc)
	jg.Deposit(alice, 10)
	jg.Withdrawal(alice, 3)
	batch := jg.Batch()
	batch.Stamp(42)
	for _, j := range batch.Journals {
		require.Equal(t, int64(42), j.Sequence)
	}
}

func TestInvariantValidator_MirrorsTokenBook(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(tracker)

	book := ledger.NewTokenBook()
	require.NoError(t, book.Mint(eth, 2_000_000))
	require.NoError(t, book.Debit(eth, 500_000))
	book.AdjustOpenNotional(eth, 750_000)

	jg := ledger.NewJournalGenerator("op-4", 1, usdc)
	jg.Deposit(alice, 9_000_000)
	jg.Mint(alice, eth, 2_000_000)
	jg.LiquidityAdded(alice, "ETH", eth, 500_000, 0)
	jg.SwapSettled(alice, eth, 0, 750_000)
	require.NoError(t, tracker.ApplyBatch(jg.Batch()))

	require.NoError(t, validator.ValidateAccountMirror(alice, 9_000_000, book, usdc))
	require.NoError(t, validator.ValidateGlobalBalance())
	require.NoError(t, validator.ValidateUserCollateralNonNegative(alice, usdc))

	// a book mutation without a journal is detected
	book.Credit(eth, 1)
	require.Error(t, validator.ValidateAccountMirror(alice, 9_000_000, book, usdc))
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator("op-5", 1, usdc)
	jg.Deposit(alice, 1_000)
	require.NoError(t, tracker.ApplyBatch(jg.Batch()))

	restored := ledger.NewBalanceTracker()
	restored.Restore(tracker.Snapshot())
	require.Equal(t, int64(1_000), restored.GetUserCollateral(alice, usdc))
}
