package state

import (
	"fmt"

	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/holiman/uint256"
)

// PositionManager applies liquidity operations to an account clone. Pool
// mutations happen last so that a rejected operation leaves the pool untouched.
type PositionManager struct {
	markets *MarketRegistry
	pool    Pool
}

func NewPositionManager(markets *MarketRegistry, pool Pool) *PositionManager {
	return &PositionManager{
		markets: markets,
		pool:    pool,
	}
}

// LiquidityChange is the outcome of one add or remove.
type LiquidityChange struct {
	Key       PositionKey
	Liquidity uint256.Int // delta
	Amount0   int64       // principal of the priced asset moved
	Amount1   int64       // principal of the quote asset moved
	Fee0      int64       // fees collected before the resize
	Fee1      int64
	Created   bool
	Closed    bool
}

func (pm *PositionManager) checkRange(asset ledger.AssetID, lower, upper int32) (Market, error) {
	market, ok := pm.markets.PricedMarket(asset)
	if !ok {
		return Market{}, fmt.Errorf("asset %s has no pool: %w", asset, ledger.ErrInvalidAsset)
	}
	if lower >= upper {
		return Market{}, fmt.Errorf("lower %d >= upper %d: %w", lower, upper, ErrInvalidTickRange)
	}
	if !fpmath.ValidTick(lower, market.TickSpacing) || !fpmath.ValidTick(upper, market.TickSpacing) {
		return Market{}, fmt.Errorf("ticks [%d, %d] not aligned to spacing %d: %w",
			lower, upper, market.TickSpacing, ErrInvalidTickRange)
	}
	return market, nil
}

// collect credits the fees owed on pos at the given growth and advances its snapshot.
func (pm *PositionManager) collect(acct *Account, pos *LiquidityPosition, g0, g1 *uint256.Int) (int64, int64) {
	fee0, fee1 := pos.PendingFees(g0, g1)
	acct.Tokens.Credit(pos.Asset, fee0)
	acct.Tokens.Credit(pm.markets.Quote(), fee1)
	pos.FeeGrowthInside0LastX128.Set(g0)
	pos.FeeGrowthInside1LastX128.Set(g1)
	return fee0, fee1
}

// PlanAdd applies an add-liquidity to acct without touching the pool: fees on an
// existing position are collected first, then the actual token amounts are debited
// from available and the position grows. The caller validates solvency and then
// calls CommitAdd.
func (pm *PositionManager) PlanAdd(acct *Account, asset ledger.AssetID, lower, upper int32, desired0, desired1 int64) (*LiquidityChange, error) {
	if _, err := pm.checkRange(asset, lower, upper); err != nil {
		return nil, err
	}
	if desired0 < 0 || desired1 < 0 || (desired0 == 0 && desired1 == 0) {
		return nil, fmt.Errorf("desired amounts (%d, %d): %w", desired0, desired1, ledger.ErrInvalidAmount)
	}

	sqrtP, err := pm.pool.SqrtPriceX96(asset)
	if err != nil {
		return nil, fmt.Errorf("pool price %s: %w", asset, err)
	}
	liquidity := fpmath.TickRangeLiquidity(sqrtP, lower, upper, desired0, desired1)
	if liquidity.IsZero() {
		return nil, fmt.Errorf("desired amounts (%d, %d) fund no liquidity in [%d, %d]: %w",
			desired0, desired1, lower, upper, ledger.ErrInvalidAmount)
	}
	amount0, amount1 := fpmath.TickRangeAmounts(sqrtP, lower, upper, liquidity, true)

	g0, g1, err := pm.pool.FeeGrowthInside(asset, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("fee growth %s [%d, %d]: %w", asset, lower, upper, err)
	}

	key := PositionKey{Asset: asset, LowerTick: lower, UpperTick: upper}
	change := &LiquidityChange{Key: key, Amount0: amount0, Amount1: amount1}
	change.Liquidity.Set(liquidity)

	pos, exists := acct.Positions.Get(key)
	if exists {
		change.Fee0, change.Fee1 = pm.collect(acct, &pos, g0, g1)
	} else {
		pos = LiquidityPosition{PositionKey: key}
		pos.FeeGrowthInside0LastX128.Set(g0)
		pos.FeeGrowthInside1LastX128.Set(g1)
		change.Created = true
	}

	acct.Tokens.Register(asset)
	if err := acct.Tokens.Debit(asset, amount0); err != nil {
		return nil, err
	}
	if err := acct.Tokens.Debit(pm.markets.Quote(), amount1); err != nil {
		return nil, err
	}

	pos.Liquidity.Add(&pos.Liquidity, liquidity)
	if pos.Liquidity.Gt(fpmath.MaxUint128) {
		panic(fmt.Sprintf("FATAL: position %+v liquidity overflows uint128", key))
	}
	acct.Positions.Put(pos)
	return change, nil
}

// CommitAdd mints the planned liquidity on the pool. A new position's fee snapshot
// is retaken after the mint, once the pool has initialised the range's ticks.
func (pm *PositionManager) CommitAdd(acct *Account, change *LiquidityChange) error {
	k := change.Key
	amount0, amount1, err := pm.pool.MintLiquidity(k.Asset, k.LowerTick, k.UpperTick, &change.Liquidity)
	if err != nil {
		return fmt.Errorf("pool mint: %w", err)
	}
	if amount0 != change.Amount0 || amount1 != change.Amount1 {
		if _, _, undoErr := pm.pool.BurnLiquidity(k.Asset, k.LowerTick, k.UpperTick, &change.Liquidity); undoErr != nil {
			return fmt.Errorf("pool took (%d, %d), planned (%d, %d), undo failed (%v): %w",
				amount0, amount1, change.Amount0, change.Amount1, undoErr, ErrPriceMoved)
		}
		return fmt.Errorf("pool took (%d, %d), planned (%d, %d): %w",
			amount0, amount1, change.Amount0, change.Amount1, ErrPriceMoved)
	}

	if change.Created {
		g0, g1, err := pm.pool.FeeGrowthInside(k.Asset, k.LowerTick, k.UpperTick)
		if err != nil {
			if _, _, undoErr := pm.pool.BurnLiquidity(k.Asset, k.LowerTick, k.UpperTick, &change.Liquidity); undoErr != nil {
				return fmt.Errorf("fee growth after mint: %w (undo failed: %v)", err, undoErr)
			}
			return fmt.Errorf("fee growth after mint: %w", err)
		}
		pos, _ := acct.Positions.Get(k)
		pos.FeeGrowthInside0LastX128.Set(g0)
		pos.FeeGrowthInside1LastX128.Set(g1)
		acct.Positions.Put(pos)
	}
	return nil
}

// Remove applies a remove-liquidity to acct: (1) collect fees with the current
// liquidity and advance the snapshot, (2) burn on the pool and credit the returned
// principal, (3) shrink the position, (4) drop it once empty. liquidity may be zero,
// which only collects fees.
func (pm *PositionManager) Remove(acct *Account, asset ledger.AssetID, lower, upper int32, liquidity *uint256.Int) (*LiquidityChange, error) {
	key := PositionKey{Asset: asset, LowerTick: lower, UpperTick: upper}
	pos, ok := acct.Positions.Get(key)
	if !ok {
		return nil, fmt.Errorf("position %s [%d, %d]: %w", asset, lower, upper, ErrPositionNotFound)
	}
	if liquidity.Gt(&pos.Liquidity) {
		return nil, fmt.Errorf("remove %s of %s: %w", liquidity.ToBig(), pos.Liquidity.ToBig(), ErrInsufficientLiquidity)
	}

	g0, g1, err := pm.pool.FeeGrowthInside(asset, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("fee growth %s [%d, %d]: %w", asset, lower, upper, err)
	}

	change := &LiquidityChange{Key: key}
	change.Liquidity.Set(liquidity)
	change.Fee0, change.Fee1 = pm.collect(acct, &pos, g0, g1)

	if !liquidity.IsZero() {
		change.Amount0, change.Amount1, err = pm.pool.BurnLiquidity(asset, lower, upper, liquidity)
		if err != nil {
			return nil, fmt.Errorf("pool burn: %w", err)
		}
		acct.Tokens.Credit(asset, change.Amount0)
		acct.Tokens.Credit(pm.markets.Quote(), change.Amount1)
		pos.Liquidity.Sub(&pos.Liquidity, liquidity)
	}

	if pos.Liquidity.IsZero() {
		acct.Positions.Delete(key)
		change.Closed = true
	} else {
		acct.Positions.Put(pos)
	}
	return change, nil
}
