package core

import (
	"fmt"
	"math/big"

	"CurieLedger/internal/ledger"
	"CurieLedger/internal/state"
)

// Read-only views. They read an account's committed state and never take its
// operation lock, so a reader may observe state one operation behind a writer.
// Valuing views hold marketMu shared so pool and oracle reads are not torn.

func (c *Clearinghouse) account(id ledger.AccountID) *state.Account {
	return c.accounts.get(id)
}

// Accounts returns every known account id in byte order.
func (c *Clearinghouse) Accounts() []ledger.AccountID {
	return c.accounts.ids()
}

func (c *Clearinghouse) TokenInfo(id ledger.AccountID, asset ledger.AssetID) ledger.TokenInfo {
	return c.account(id).Tokens.TokenInfo(asset)
}

// RegisteredAssets lists the account's assets in registration order.
func (c *Clearinghouse) RegisteredAssets(id ledger.AccountID) []ledger.AssetID {
	return c.account(id).Tokens.RegisteredAssets()
}

func (c *Clearinghouse) Collateral(id ledger.AccountID) int64 {
	return c.account(id).Collateral
}

func (c *Clearinghouse) AccountValue(id ledger.AccountID) (*big.Int, error) {
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	return c.valuator.AccountValue(c.account(id))
}

func (c *Clearinghouse) PositionValue(id ledger.AccountID, asset ledger.AssetID) (*big.Int, error) {
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	return c.valuator.PositionValue(c.account(id), asset)
}

func (c *Clearinghouse) FreeCollateral(id ledger.AccountID) (int64, error) {
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	return c.margin.FreeCollateral(c.account(id))
}

func (c *Clearinghouse) MarginRequirement(id ledger.AccountID) (*big.Int, error) {
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	return c.margin.MarginRequirement(c.account(id))
}

// Summary values the account and derives its margin figures in one pass.
func (c *Clearinghouse) Summary(id ledger.AccountID) (*state.MarginSummary, error) {
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	return c.margin.Evaluate(c.account(id))
}

// OpenOrder is a liquidity position with its current token amounts and fees.
type OpenOrder struct {
	state.LiquidityPosition
	state.PositionQuote
}

func (c *Clearinghouse) OpenOrder(id ledger.AccountID, asset ledger.AssetID, lower, upper int32) (*OpenOrder, error) {
	key := state.PositionKey{Asset: asset, LowerTick: lower, UpperTick: upper}
	pos, ok := c.account(id).Positions.Get(key)
	if !ok {
		return nil, fmt.Errorf("position %s [%d, %d]: %w", asset, lower, upper, state.ErrPositionNotFound)
	}
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	q, err := c.valuator.QuotePosition(pos)
	if err != nil {
		return nil, err
	}
	return &OpenOrder{LiquidityPosition: pos, PositionQuote: q}, nil
}

// OpenOrders returns every position of the account in key order.
func (c *Clearinghouse) OpenOrders(id ledger.AccountID) ([]OpenOrder, error) {
	positions := c.account(id).Positions.All()
	c.marketMu.RLock()
	defer c.marketMu.RUnlock()
	out := make([]OpenOrder, 0, len(positions))
	for _, pos := range positions {
		q, err := c.valuator.QuotePosition(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, OpenOrder{LiquidityPosition: pos, PositionQuote: q})
	}
	return out, nil
}

// LedgerBalance returns the audit mirror balance of a ledger account.
func (c *Clearinghouse) LedgerBalance(key ledger.AccountKey) int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.balanceTracker.GetBalance(key)
}
