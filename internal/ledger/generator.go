package ledger

import (
	"github.com/google/uuid"
)

// JournalGenerator builds the double-entry batch of one clearinghouse operation.
// Zero-amount legs are skipped; the batch is sequenced by the core at emission.
type JournalGenerator struct {
	batch *Batch
	quote AssetID
}

func NewJournalGenerator(eventRef string, timestamp int64, quote AssetID) *JournalGenerator {
	return &JournalGenerator{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
		quote: quote,
	}
}

func (jg *JournalGenerator) add(jt JournalType, debit, credit AccountKey, asset AssetID, amount int64) {
	if amount == 0 {
		return
	}
	if amount < 0 {
		debit, credit, amount = credit, debit, -amount
	}
	jg.batch.Journals = append(jg.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.batch.EventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     jg.batch.Timestamp,
	})
}

// Deposit moves external:custody -> user:collateral.
func (jg *JournalGenerator) Deposit(account AccountID, amount int64) {
	jg.add(JournalTypeDeposit,
		NewUserAccountKey(account, SubTypeCollateral, jg.quote),
		NewExternalAccountKey(SubTypeExternalCustody, jg.quote),
		jg.quote, amount)
}

// Withdrawal moves user:collateral -> external:custody.
func (jg *JournalGenerator) Withdrawal(account AccountID, amount int64) {
	jg.add(JournalTypeWithdrawal,
		NewExternalAccountKey(SubTypeExternalCustody, jg.quote),
		NewUserAccountKey(account, SubTypeCollateral, jg.quote),
		jg.quote, amount)
}

// Mint books Dr available / Cr debt; the debt account carries a negative balance.
func (jg *JournalGenerator) Mint(account AccountID, asset AssetID, amount int64) {
	jg.add(JournalTypeMint,
		NewUserAccountKey(account, SubTypeAvailable, asset),
		NewUserAccountKey(account, SubTypeDebt, asset),
		asset, amount)
}

// Burn books Dr debt / Cr available.
func (jg *JournalGenerator) Burn(account AccountID, asset AssetID, amount int64) {
	jg.add(JournalTypeBurn,
		NewUserAccountKey(account, SubTypeDebt, asset),
		NewUserAccountKey(account, SubTypeAvailable, asset),
		asset, amount)
}

// LiquidityAdded moves both legs from user:available into the market's pool account.
func (jg *JournalGenerator) LiquidityAdded(account AccountID, market string, base AssetID, amount0, amount1 int64) {
	jg.add(JournalTypeLiquidityAdd,
		NewSystemAccountKey(market, SubTypeSystemPool, base),
		NewUserAccountKey(account, SubTypeAvailable, base),
		base, amount0)
	jg.add(JournalTypeLiquidityAdd,
		NewSystemAccountKey(market, SubTypeSystemPool, jg.quote),
		NewUserAccountKey(account, SubTypeAvailable, jg.quote),
		jg.quote, amount1)
}

// LiquidityRemoved returns principal from the pool account to user:available.
func (jg *JournalGenerator) LiquidityRemoved(account AccountID, market string, base AssetID, amount0, amount1 int64) {
	jg.add(JournalTypeLiquidityRemove,
		NewUserAccountKey(account, SubTypeAvailable, base),
		NewSystemAccountKey(market, SubTypeSystemPool, base),
		base, amount0)
	jg.add(JournalTypeLiquidityRemove,
		NewUserAccountKey(account, SubTypeAvailable, jg.quote),
		NewSystemAccountKey(market, SubTypeSystemPool, jg.quote),
		jg.quote, amount1)
}

// FeesCollected pays accrued maker fees from the pool fee account.
func (jg *JournalGenerator) FeesCollected(account AccountID, market string, base AssetID, fee0, fee1 int64) {
	jg.add(JournalTypeFeeCollect,
		NewUserAccountKey(account, SubTypeAvailable, base),
		NewSystemAccountKey(market, SubTypeSystemPoolFees, base),
		base, fee0)
	jg.add(JournalTypeFeeCollect,
		NewUserAccountKey(account, SubTypeAvailable, jg.quote),
		NewSystemAccountKey(market, SubTypeSystemPoolFees, jg.quote),
		jg.quote, fee1)
}

// SwapSettled books a fill: signed base delta against the exchange, and the signed
// quote notional into user:open_notional.
func (jg *JournalGenerator) SwapSettled(account AccountID, base AssetID, baseDelta, notionalDelta int64) {
	jg.add(JournalTypeSwapBase,
		NewUserAccountKey(account, SubTypeAvailable, base),
		NewExternalAccountKey(SubTypeExternalExchange, base),
		base, baseDelta)
	jg.add(JournalTypeOpenNotional,
		NewUserAccountKey(account, SubTypeOpenNotional, base),
		NewExternalAccountKey(SubTypeExternalExchange, base),
		base, notionalDelta)
}

// Batch returns the accumulated batch.
func (jg *JournalGenerator) Batch() *Batch {
	return jg.batch
}
