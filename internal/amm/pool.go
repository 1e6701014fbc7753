// Package amm is an in-memory concentrated-liquidity pool per priced asset.
// It tracks what the ledger needs from the exchange: the current sqrt price,
// active liquidity, global fee growth and per-tick outside accumulators.
package amm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/holiman/uint256"
)

var (
	ErrUnknownPool = errors.New("unknown pool")
	ErrPoolExists  = errors.New("pool already exists")
	ErrBadRange    = errors.New("invalid liquidity range")
)

type tickInfo struct {
	liquidityGross    uint256.Int
	liquidityNet      uint256.Int // two's complement
	feeGrowthOutside0 uint256.Int
	feeGrowthOutside1 uint256.Int
}

type pool struct {
	sqrtPrice        uint256.Int
	tick             int32
	liquidity        uint256.Int
	feeGrowthGlobal0 uint256.Int
	feeGrowthGlobal1 uint256.Int
	ticks            map[int32]*tickInfo
}

// Pools holds one pool per priced asset. All methods are safe for concurrent use.
type Pools struct {
	mu    sync.RWMutex
	pools map[ledger.AssetID]*pool
}

func NewPools() *Pools {
	return &Pools{pools: make(map[ledger.AssetID]*pool)}
}

// CreatePool initialises asset's pool at sqrtPriceX96.
func (p *Pools) CreatePool(asset ledger.AssetID, sqrtPriceX96 *uint256.Int) error {
	if sqrtPriceX96.Lt(fpmath.MinSqrtRatio) || !sqrtPriceX96.Lt(fpmath.MaxSqrtRatio) {
		return fmt.Errorf("create pool %s: sqrt price %s out of range", asset, sqrtPriceX96.ToBig())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pools[asset]; ok {
		return fmt.Errorf("create pool %s: %w", asset, ErrPoolExists)
	}
	pl := &pool{ticks: make(map[int32]*tickInfo)}
	pl.sqrtPrice.Set(sqrtPriceX96)
	pl.tick = fpmath.GetTickAtSqrtRatio(sqrtPriceX96)
	p.pools[asset] = pl
	return nil
}

func (p *Pools) get(asset ledger.AssetID) (*pool, error) {
	pl, ok := p.pools[asset]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", asset, ErrUnknownPool)
	}
	return pl, nil
}

func (p *Pools) SqrtPriceX96(asset ledger.AssetID) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, err := p.get(asset)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(&pl.sqrtPrice), nil
}

// Tick returns the pool's current tick.
func (p *Pools) Tick(asset ledger.AssetID) (int32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, err := p.get(asset)
	if err != nil {
		return 0, err
	}
	return pl.tick, nil
}

// ActiveLiquidity returns the liquidity in range at the current price.
func (p *Pools) ActiveLiquidity(asset ledger.AssetID) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, err := p.get(asset)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(&pl.liquidity), nil
}

// FeeGrowthInside returns the fee growth per unit of liquidity accrued inside
// [lower, upper]. Only differences between readings are meaningful.
func (p *Pools) FeeGrowthInside(asset ledger.AssetID, lower, upper int32) (*uint256.Int, *uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, err := p.get(asset)
	if err != nil {
		return nil, nil, err
	}
	g0, g1 := pl.feeGrowthInside(lower, upper)
	return g0, g1, nil
}

func (pl *pool) outside(tick int32) (*uint256.Int, *uint256.Int) {
	if info, ok := pl.ticks[tick]; ok {
		return &info.feeGrowthOutside0, &info.feeGrowthOutside1
	}
	return new(uint256.Int), new(uint256.Int)
}

func (pl *pool) feeGrowthInside(lower, upper int32) (*uint256.Int, *uint256.Int) {
	lo0, lo1 := pl.outside(lower)
	up0, up1 := pl.outside(upper)

	below0, below1 := new(uint256.Int), new(uint256.Int)
	if pl.tick >= lower {
		below0.Set(lo0)
		below1.Set(lo1)
	} else {
		below0.Sub(&pl.feeGrowthGlobal0, lo0)
		below1.Sub(&pl.feeGrowthGlobal1, lo1)
	}

	above0, above1 := new(uint256.Int), new(uint256.Int)
	if pl.tick < upper {
		above0.Set(up0)
		above1.Set(up1)
	} else {
		above0.Sub(&pl.feeGrowthGlobal0, up0)
		above1.Sub(&pl.feeGrowthGlobal1, up1)
	}

	inside0 := new(uint256.Int).Sub(&pl.feeGrowthGlobal0, below0)
	inside0.Sub(inside0, above0)
	inside1 := new(uint256.Int).Sub(&pl.feeGrowthGlobal1, below1)
	inside1.Sub(inside1, above1)
	return inside0, inside1
}

func checkRange(lower, upper int32) error {
	if lower >= upper || lower < fpmath.MinTick || upper > fpmath.MaxTick {
		return fmt.Errorf("[%d, %d]: %w", lower, upper, ErrBadRange)
	}
	return nil
}

// updateTick adds (or with remove, subtracts) liquidity on one boundary.
func (pl *pool) updateTick(tick int32, liquidity *uint256.Int, isUpper, remove bool) error {
	info, ok := pl.ticks[tick]
	if !ok {
		if remove {
			return fmt.Errorf("tick %d not initialised: %w", tick, ErrBadRange)
		}
		info = &tickInfo{}
		// By convention all growth before initialisation happened below the tick.
		if tick <= pl.tick {
			info.feeGrowthOutside0.Set(&pl.feeGrowthGlobal0)
			info.feeGrowthOutside1.Set(&pl.feeGrowthGlobal1)
		}
		pl.ticks[tick] = info
	}

	if remove {
		if info.liquidityGross.Lt(liquidity) {
			return fmt.Errorf("tick %d gross liquidity below %s: %w", tick, liquidity.ToBig(), ErrBadRange)
		}
		info.liquidityGross.Sub(&info.liquidityGross, liquidity)
	} else {
		info.liquidityGross.Add(&info.liquidityGross, liquidity)
		if info.liquidityGross.Gt(fpmath.MaxUint128) {
			panic(fmt.Sprintf("FATAL: tick %d gross liquidity overflows uint128", tick))
		}
	}

	// lower adds net liquidity when crossed upward, upper removes it
	if isUpper == remove {
		info.liquidityNet.Add(&info.liquidityNet, liquidity)
	} else {
		info.liquidityNet.Sub(&info.liquidityNet, liquidity)
	}

	if info.liquidityGross.IsZero() {
		delete(pl.ticks, tick)
	}
	return nil
}

func (pl *pool) inRange(lower, upper int32) bool {
	return lower <= pl.tick && pl.tick < upper
}

// MintLiquidity adds liquidity to [lower, upper] and returns the token amounts the
// pool takes, rounded up.
func (p *Pools) MintLiquidity(asset ledger.AssetID, lower, upper int32, liquidity *uint256.Int) (int64, int64, error) {
	if err := checkRange(lower, upper); err != nil {
		return 0, 0, err
	}
	if liquidity.IsZero() {
		return 0, 0, fmt.Errorf("mint zero liquidity: %w", ErrBadRange)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(asset)
	if err != nil {
		return 0, 0, err
	}

	amount0, amount1 := fpmath.TickRangeAmounts(&pl.sqrtPrice, lower, upper, liquidity, true)

	if err := pl.updateTick(lower, liquidity, false, false); err != nil {
		return 0, 0, err
	}
	if err := pl.updateTick(upper, liquidity, true, false); err != nil {
		return 0, 0, err
	}
	if pl.inRange(lower, upper) {
		pl.liquidity.Add(&pl.liquidity, liquidity)
	}
	return amount0, amount1, nil
}

// BurnLiquidity removes liquidity from [lower, upper] and returns the token amounts
// paid out, rounded down.
func (p *Pools) BurnLiquidity(asset ledger.AssetID, lower, upper int32, liquidity *uint256.Int) (int64, int64, error) {
	if err := checkRange(lower, upper); err != nil {
		return 0, 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(asset)
	if err != nil {
		return 0, 0, err
	}
	if liquidity.IsZero() {
		return 0, 0, nil
	}
	for _, t := range []int32{lower, upper} {
		info, ok := pl.ticks[t]
		if !ok || info.liquidityGross.Lt(liquidity) {
			return 0, 0, fmt.Errorf("burn %s at tick %d exceeds pool liquidity: %w", liquidity.ToBig(), t, ErrBadRange)
		}
	}

	amount0, amount1, err := fpmath.TryTickRangeAmounts(&pl.sqrtPrice, lower, upper, liquidity, false)
	if err != nil {
		return 0, 0, fmt.Errorf("burn %s [%d, %d]: %w", asset, lower, upper, err)
	}

	if pl.inRange(lower, upper) {
		pl.liquidity.Sub(&pl.liquidity, liquidity)
	}
	if err := pl.updateTick(lower, liquidity, false, true); err != nil {
		return 0, 0, err
	}
	if err := pl.updateTick(upper, liquidity, true, true); err != nil {
		return 0, 0, err
	}
	return amount0, amount1, nil
}

// AccrueFees spreads swap fees over the active liquidity. With no active
// liquidity the fees are not attributable and are ignored.
func (p *Pools) AccrueFees(asset ledger.AssetID, fee0, fee1 int64) error {
	if fee0 < 0 || fee1 < 0 {
		return fmt.Errorf("negative fees (%d, %d)", fee0, fee1)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(asset)
	if err != nil {
		return err
	}
	if pl.liquidity.IsZero() {
		return nil
	}
	pl.feeGrowthGlobal0.Add(&pl.feeGrowthGlobal0, fpmath.FeeGrowthDelta(fee0, &pl.liquidity))
	pl.feeGrowthGlobal1.Add(&pl.feeGrowthGlobal1, fpmath.FeeGrowthDelta(fee1, &pl.liquidity))
	return nil
}

// MoveTo sets the pool price, crossing every initialised tick in between.
func (p *Pools) MoveTo(asset ledger.AssetID, sqrtPriceX96 *uint256.Int) error {
	if sqrtPriceX96.Lt(fpmath.MinSqrtRatio) || !sqrtPriceX96.Lt(fpmath.MaxSqrtRatio) {
		return fmt.Errorf("move pool %s: sqrt price %s out of range", asset, sqrtPriceX96.ToBig())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, err := p.get(asset)
	if err != nil {
		return err
	}

	target := fpmath.GetTickAtSqrtRatio(sqrtPriceX96)
	ticks := pl.sortedTicks()
	if target > pl.tick {
		for _, t := range ticks {
			if t > pl.tick && t <= target {
				pl.cross(t, true)
			}
		}
	} else if target < pl.tick {
		for i := len(ticks) - 1; i >= 0; i-- {
			t := ticks[i]
			if t <= pl.tick && t > target {
				pl.cross(t, false)
			}
		}
	}
	pl.tick = target
	pl.sqrtPrice.Set(sqrtPriceX96)
	return nil
}

func (pl *pool) cross(tick int32, up bool) {
	info := pl.ticks[tick]
	info.feeGrowthOutside0.Sub(&pl.feeGrowthGlobal0, &info.feeGrowthOutside0)
	info.feeGrowthOutside1.Sub(&pl.feeGrowthGlobal1, &info.feeGrowthOutside1)
	if up {
		pl.liquidity.Add(&pl.liquidity, &info.liquidityNet)
	} else {
		pl.liquidity.Sub(&pl.liquidity, &info.liquidityNet)
	}
}

func (pl *pool) sortedTicks() []int32 {
	out := make([]int32, 0, len(pl.ticks))
	for t := range pl.ticks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
