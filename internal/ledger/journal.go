package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMint
	JournalTypeBurn
	JournalTypeLiquidityAdd
	JournalTypeLiquidityRemove
	JournalTypeFeeCollect
	JournalTypeSwapBase
	JournalTypeOpenNotional // quote-denominated, keyed by the market asset
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeLiquidityAdd:
		return "liquidity_add"
	case JournalTypeLiquidityRemove:
		return "liquidity_remove"
	case JournalTypeFeeCollect:
		return "fee_collect"
	case JournalTypeSwapBase:
		return "swap_base"
	case JournalTypeOpenNotional:
		return "open_notional"
	default:
		return fmt.Sprintf("journal_type_%d", int32(t))
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one operation
	EventRef      string      // Idempotency key of source operation
	Sequence      int64       // Global output sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Stamp assigns the global output sequence to the batch and its entries.
func (b *Batch) Stamp(sequence int64) {
	b.Sequence = sequence
	for i := range b.Journals {
		b.Journals[i].Sequence = sequence
	}
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from credit to debit, so every entry
// balances on its own; multi-leg operations are several entries under one batch_id.
// A batch without entries is valid for state-only operations (fee collection of zero).
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %s between accounts of another asset", j.JournalID, j.AssetID)
		}
	}

	return nil
}
