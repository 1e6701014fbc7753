package state

import (
	"fmt"
	"math/big"

	fpmath "CurieLedger/internal/math"
)

// MarginEngine derives margin requirement and free collateral from a valuation.
type MarginEngine struct {
	markets  *MarketRegistry
	valuator *Valuator
}

func NewMarginEngine(markets *MarketRegistry, valuator *Valuator) *MarginEngine {
	return &MarginEngine{
		markets:  markets,
		valuator: valuator,
	}
}

// MarginSummary is a valuation together with its margin figures.
type MarginSummary struct {
	*Valuation
	MarginRequirement *big.Int
	FreeCollateral    int64
	Status            MarginStatus
}

// Evaluate values acct and computes
//
//	marginRequirement = ceil(max(Σ|positionValue|, Σ debtValue) × imRatio)
//	freeCollateral    = max(min(collateral, accountValue) − marginRequirement, 0)
//
// Free collateral never exceeds collateral, whatever the index prices.
func (me *MarginEngine) Evaluate(acct *Account) (*MarginSummary, error) {
	val, err := me.valuator.Value(acct)
	if err != nil {
		return nil, err
	}

	base := val.TotalAbsPositionValue
	if val.TotalDebtValue.Cmp(base) > 0 {
		base = val.TotalDebtValue
	}
	req := fpmath.ApplyRatio(base, me.markets.RiskParams().IMRatio, fpmath.RoundUp)

	capped := big.NewInt(val.Collateral)
	if val.AccountValue.Cmp(capped) < 0 {
		capped.Set(val.AccountValue)
	}
	free := capped.Sub(capped, req)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}

	summary := &MarginSummary{
		Valuation:         val,
		MarginRequirement: req,
		FreeCollateral:    fpmath.MustInt64(free),
	}
	switch {
	case val.AccountValue.Cmp(req) < 0:
		summary.Status = MarginStatusInsufficient
	case summary.FreeCollateral == 0:
		summary.Status = MarginStatusAtRisk
	default:
		summary.Status = MarginStatusHealthy
	}
	return summary, nil
}

// FreeCollateral returns the collateral acct may withdraw.
func (me *MarginEngine) FreeCollateral(acct *Account) (int64, error) {
	s, err := me.Evaluate(acct)
	if err != nil {
		return 0, err
	}
	return s.FreeCollateral, nil
}

// MarginRequirement returns the initial margin acct must hold.
func (me *MarginEngine) MarginRequirement(acct *Account) (*big.Int, error) {
	s, err := me.Evaluate(acct)
	if err != nil {
		return nil, err
	}
	return s.MarginRequirement, nil
}

// CheckSolvency requires accountValue >= marginRequirement. It runs after
// mint, add-liquidity and swap settlement.
func (me *MarginEngine) CheckSolvency(acct *Account) error {
	s, err := me.Evaluate(acct)
	if err != nil {
		return err
	}
	if s.AccountValue.Cmp(s.MarginRequirement) < 0 {
		return fmt.Errorf("account value %s below margin requirement %s: %w",
			s.AccountValue, s.MarginRequirement, ErrMarginInsufficient)
	}
	return nil
}

// CheckWithdrawable rejects withdrawals above free collateral or above collateral.
func (me *MarginEngine) CheckWithdrawable(acct *Account, amount int64) error {
	if amount > acct.Collateral {
		return fmt.Errorf("withdraw %d exceeds collateral %d: %w", amount, acct.Collateral, ErrInsufficientFreeCollateral)
	}
	free, err := me.FreeCollateral(acct)
	if err != nil {
		return err
	}
	if amount > free {
		return fmt.Errorf("withdraw %d exceeds free collateral %d: %w", amount, free, ErrInsufficientFreeCollateral)
	}
	return nil
}

// MarginStatus represents an account's margin health
type MarginStatus int

const (
	MarginStatusHealthy MarginStatus = iota
	MarginStatusAtRisk
	MarginStatusInsufficient
)

func (ms MarginStatus) String() string {
	switch ms {
	case MarginStatusHealthy:
		return "Healthy"
	case MarginStatusAtRisk:
		return "AtRisk"
	case MarginStatusInsufficient:
		return "Insufficient"
	default:
		return "Unknown"
	}
}
