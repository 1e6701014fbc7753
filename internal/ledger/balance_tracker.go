package ledger

import (
	"fmt"
)

// BalanceTracker maintains journal-derived balances for every account key.
// It is an audit mirror of the token books: applied only after an operation
// commits, and cross-checked against them by the InvariantValidator.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === User balance views ===

// GetUserCollateral returns the journal-derived collateral.
func (bt *BalanceTracker) GetUserCollateral(account AccountID, quote AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(account, SubTypeCollateral, quote))
}

// GetUserTokenInfo rebuilds a TokenInfo from journals. Debt is booked as a credit
// balance and is negated here.
func (bt *BalanceTracker) GetUserTokenInfo(account AccountID, asset AssetID) TokenInfo {
	return TokenInfo{
		Available:    bt.GetBalance(NewUserAccountKey(account, SubTypeAvailable, asset)),
		Debt:         -bt.GetBalance(NewUserAccountKey(account, SubTypeDebt, asset)),
		OpenNotional: bt.GetBalance(NewUserAccountKey(account, SubTypeOpenNotional, asset)),
	}
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for snapshots and state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances with a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
