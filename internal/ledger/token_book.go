package ledger

import (
	"fmt"

	fpmath "CurieLedger/internal/math"
)

// TokenInfo is an account's holding of one asset.
// Available and Debt are never negative; OpenNotional is signed.
type TokenInfo struct {
	Available    int64 `json:"available"`
	Debt         int64 `json:"debt"`
	OpenNotional int64 `json:"open_notional"`
}

// IsZero reports whether every field is zero.
func (t TokenInfo) IsZero() bool {
	return t.Available == 0 && t.Debt == 0 && t.OpenNotional == 0
}

// TokenBook holds one account's per-asset balances and the order in which the
// account first touched each asset. Registration is append-only.
type TokenBook struct {
	infos      map[AssetID]TokenInfo
	registered []AssetID
}

func NewTokenBook() *TokenBook {
	return &TokenBook{
		infos: make(map[AssetID]TokenInfo),
	}
}

// Clone returns an independent copy used as a tentative mutation scope.
func (b *TokenBook) Clone() *TokenBook {
	c := &TokenBook{
		infos:      make(map[AssetID]TokenInfo, len(b.infos)),
		registered: make([]AssetID, len(b.registered)),
	}
	for k, v := range b.infos {
		c.infos[k] = v
	}
	copy(c.registered, b.registered)
	return c
}

// TokenInfo returns the holding for asset; unknown assets read as zero.
func (b *TokenBook) TokenInfo(asset AssetID) TokenInfo {
	return b.infos[asset]
}

// IsRegistered reports whether the account has ever touched asset.
func (b *TokenBook) IsRegistered(asset AssetID) bool {
	_, ok := b.infos[asset]
	return ok
}

// RegisteredAssets returns a copy of the first-touch ordered asset list.
func (b *TokenBook) RegisteredAssets() []AssetID {
	out := make([]AssetID, len(b.registered))
	copy(out, b.registered)
	return out
}

// Register appends asset to the registration order if it is new.
func (b *TokenBook) Register(asset AssetID) {
	if _, ok := b.infos[asset]; ok {
		return
	}
	b.infos[asset] = TokenInfo{}
	b.registered = append(b.registered, asset)
}

// Mint creates amount of asset backed by an equal debt.
// Market validity is checked by the caller against its registry.
func (b *TokenBook) Mint(asset AssetID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint %d %s: %w", amount, asset, ErrInvalidAmount)
	}
	b.Register(asset)
	info := b.infos[asset]
	info.Available = fpmath.CheckedAdd(info.Available, amount)
	info.Debt = fpmath.CheckedAdd(info.Debt, amount)
	b.infos[asset] = info
	return nil
}

// Burn repays debt from available. amount must not exceed either side.
func (b *TokenBook) Burn(asset AssetID, amount int64) error {
	info, ok := b.infos[asset]
	if !ok {
		return fmt.Errorf("burn %s: %w", asset, ErrAssetNotFound)
	}
	if amount <= 0 || amount > min(info.Available, info.Debt) {
		return fmt.Errorf("burn %d %s (available=%d debt=%d): %w",
			amount, asset, info.Available, info.Debt, ErrInvalidAmount)
	}
	info.Available -= amount
	info.Debt -= amount
	b.infos[asset] = info
	return nil
}

// Credit increases available, registering the asset on first touch.
func (b *TokenBook) Credit(asset AssetID, amount int64) {
	if amount < 0 {
		panic(fmt.Sprintf("FATAL: negative credit %d %s", amount, asset))
	}
	if amount == 0 {
		return
	}
	b.Register(asset)
	info := b.infos[asset]
	info.Available = fpmath.CheckedAdd(info.Available, amount)
	b.infos[asset] = info
}

// Debit decreases available without touching debt.
func (b *TokenBook) Debit(asset AssetID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("debit %d %s: %w", amount, asset, ErrInvalidAmount)
	}
	if amount == 0 {
		return nil
	}
	info := b.infos[asset]
	if info.Available < amount {
		return fmt.Errorf("debit %d %s (available=%d): %w", amount, asset, info.Available, ErrInsufficientAvailable)
	}
	info.Available -= amount
	b.infos[asset] = info
	return nil
}

// AdjustOpenNotional adds a signed delta to the asset's open notional.
func (b *TokenBook) AdjustOpenNotional(asset AssetID, delta int64) {
	if delta == 0 {
		return
	}
	b.Register(asset)
	info := b.infos[asset]
	info.OpenNotional = fpmath.CheckedAdd(info.OpenNotional, delta)
	b.infos[asset] = info
}

// Restore installs a holding verbatim (snapshot load and state-delta replay).
func (b *TokenBook) Restore(asset AssetID, info TokenInfo) {
	b.Register(asset)
	b.infos[asset] = info
}

// Validate checks the non-negativity invariants of every holding.
func (b *TokenBook) Validate() error {
	for _, asset := range b.registered {
		info := b.infos[asset]
		if info.Available < 0 {
			return fmt.Errorf("%s available is negative: %d", asset, info.Available)
		}
		if info.Debt < 0 {
			return fmt.Errorf("%s debt is negative: %d", asset, info.Debt)
		}
	}
	if len(b.registered) != len(b.infos) {
		return fmt.Errorf("registration list has %d entries for %d holdings", len(b.registered), len(b.infos))
	}
	return nil
}
