package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserCollateralNonNegative checks user collateral >= 0
func (v *InvariantValidator) ValidateUserCollateralNonNegative(account AccountID, quote AssetID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(account, SubTypeCollateral, quote))
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", assetID, total)
		}
	}

	return nil
}

// ValidateAccountMirror checks that an account's committed token book and
// collateral equal the balances derived from its journals.
func (v *InvariantValidator) ValidateAccountMirror(account AccountID, collateral int64, book *TokenBook, quote AssetID) error {
	if got := v.tracker.GetUserCollateral(account, quote); got != collateral {
		return fmt.Errorf("account %s collateral %d, journals say %d", account, collateral, got)
	}
	if err := book.Validate(); err != nil {
		return fmt.Errorf("account %s: %w", account, err)
	}
	for _, asset := range book.RegisteredAssets() {
		want := book.TokenInfo(asset)
		if got := v.tracker.GetUserTokenInfo(account, asset); got != want {
			return fmt.Errorf("account %s %s book %+v, journals say %+v", account, asset, want, got)
		}
	}
	return nil
}
