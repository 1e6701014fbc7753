package amm

import (
	"fmt"

	"CurieLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// TickState is one initialised tick.
type TickState struct {
	Tick              int32       `json:"tick"`
	LiquidityGross    uint256.Int `json:"liquidity_gross"`
	LiquidityNet      uint256.Int `json:"liquidity_net"`
	FeeGrowthOutside0 uint256.Int `json:"fee_growth_outside0"`
	FeeGrowthOutside1 uint256.Int `json:"fee_growth_outside1"`
}

// PoolState is a full image of one pool, used for snapshots and event replay.
type PoolState struct {
	Asset            ledger.AssetID `json:"asset"`
	SqrtPriceX96     uint256.Int    `json:"sqrt_price_x96"`
	Tick             int32          `json:"tick"`
	Liquidity        uint256.Int    `json:"liquidity"`
	FeeGrowthGlobal0 uint256.Int    `json:"fee_growth_global0"`
	FeeGrowthGlobal1 uint256.Int    `json:"fee_growth_global1"`
	Ticks            []TickState    `json:"ticks"`
}

// Export returns an image of asset's pool with ticks in ascending order.
func (p *Pools) Export(asset ledger.AssetID) (PoolState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, err := p.get(asset)
	if err != nil {
		return PoolState{}, err
	}
	st := PoolState{
		Asset:            asset,
		SqrtPriceX96:     pl.sqrtPrice,
		Tick:             pl.tick,
		Liquidity:        pl.liquidity,
		FeeGrowthGlobal0: pl.feeGrowthGlobal0,
		FeeGrowthGlobal1: pl.feeGrowthGlobal1,
		Ticks:            make([]TickState, 0, len(pl.ticks)),
	}
	for _, t := range pl.sortedTicks() {
		info := pl.ticks[t]
		st.Ticks = append(st.Ticks, TickState{
			Tick:              t,
			LiquidityGross:    info.liquidityGross,
			LiquidityNet:      info.liquidityNet,
			FeeGrowthOutside0: info.feeGrowthOutside0,
			FeeGrowthOutside1: info.feeGrowthOutside1,
		})
	}
	return st, nil
}

// Import installs an image, creating or replacing the asset's pool.
func (p *Pools) Import(st PoolState) error {
	pl := &pool{
		sqrtPrice:        st.SqrtPriceX96,
		tick:             st.Tick,
		liquidity:        st.Liquidity,
		feeGrowthGlobal0: st.FeeGrowthGlobal0,
		feeGrowthGlobal1: st.FeeGrowthGlobal1,
		ticks:            make(map[int32]*tickInfo, len(st.Ticks)),
	}
	for _, t := range st.Ticks {
		if t.LiquidityGross.IsZero() {
			return fmt.Errorf("import pool %s: tick %d has no liquidity: %w", st.Asset, t.Tick, ErrBadRange)
		}
		pl.ticks[t.Tick] = &tickInfo{
			liquidityGross:    t.LiquidityGross,
			liquidityNet:      t.LiquidityNet,
			feeGrowthOutside0: t.FeeGrowthOutside0,
			feeGrowthOutside1: t.FeeGrowthOutside1,
		}
	}
	p.mu.Lock()
	p.pools[st.Asset] = pl
	p.mu.Unlock()
	return nil
}

// Assets lists the assets with a pool.
func (p *Pools) Assets() []ledger.AssetID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ledger.AssetID, 0, len(p.pools))
	for a := range p.pools {
		out = append(out, a)
	}
	return out
}
