package state

import (
	"fmt"

	"CurieLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// TokenImage is one registered holding, in registration order.
type TokenImage struct {
	Asset ledger.AssetID `json:"asset"`
	ledger.TokenInfo
}

// PositionImage is the serialized form of a LiquidityPosition.
type PositionImage struct {
	Asset                    ledger.AssetID `json:"asset"`
	LowerTick                int32          `json:"lower_tick"`
	UpperTick                int32          `json:"upper_tick"`
	Liquidity                uint256.Int    `json:"liquidity"`
	FeeGrowthInside0LastX128 uint256.Int    `json:"fee_growth_inside0_last_x128"`
	FeeGrowthInside1LastX128 uint256.Int    `json:"fee_growth_inside1_last_x128"`
}

// AccountImage is a complete, ordered picture of one account. It is what the
// event log records after each operation and what snapshots hold.
type AccountImage struct {
	ID         ledger.AccountID `json:"id"`
	Collateral int64            `json:"collateral"`
	Tokens     []TokenImage     `json:"tokens"`
	Positions  []PositionImage  `json:"positions"`
}

func (a *Account) Image() AccountImage {
	img := AccountImage{
		ID:         a.ID,
		Collateral: a.Collateral,
		Tokens:     make([]TokenImage, 0, len(a.Tokens.RegisteredAssets())),
		Positions:  make([]PositionImage, 0, a.Positions.Len()),
	}
	for _, asset := range a.Tokens.RegisteredAssets() {
		img.Tokens = append(img.Tokens, TokenImage{Asset: asset, TokenInfo: a.Tokens.TokenInfo(asset)})
	}
	a.Positions.Ascend(func(p LiquidityPosition) bool {
		img.Positions = append(img.Positions, PositionImage{
			Asset:                    p.Asset,
			LowerTick:                p.LowerTick,
			UpperTick:                p.UpperTick,
			Liquidity:                p.Liquidity,
			FeeGrowthInside0LastX128: p.FeeGrowthInside0LastX128,
			FeeGrowthInside1LastX128: p.FeeGrowthInside1LastX128,
		})
		return true
	})
	return img
}

// AccountFromImage rebuilds an account, validating the ledger invariants.
func AccountFromImage(img AccountImage) (*Account, error) {
	if img.Collateral < 0 {
		return nil, fmt.Errorf("account %s: negative collateral %d", img.ID, img.Collateral)
	}
	acct := NewAccount(img.ID)
	acct.Collateral = img.Collateral
	for _, t := range img.Tokens {
		if acct.Tokens.IsRegistered(t.Asset) {
			return nil, fmt.Errorf("account %s: %s registered twice", img.ID, t.Asset)
		}
		acct.Tokens.Restore(t.Asset, t.TokenInfo)
	}
	if err := acct.Tokens.Validate(); err != nil {
		return nil, fmt.Errorf("account %s: %w", img.ID, err)
	}
	for _, p := range img.Positions {
		if p.Liquidity.IsZero() {
			return nil, fmt.Errorf("account %s: empty position %s [%d, %d]", img.ID, p.Asset, p.LowerTick, p.UpperTick)
		}
		acct.Positions.Put(LiquidityPosition{
			PositionKey:              PositionKey{Asset: p.Asset, LowerTick: p.LowerTick, UpperTick: p.UpperTick},
			Liquidity:                p.Liquidity,
			FeeGrowthInside0LastX128: p.FeeGrowthInside0LastX128,
			FeeGrowthInside1LastX128: p.FeeGrowthInside1LastX128,
		})
	}
	return acct, nil
}
