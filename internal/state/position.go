package state

import (
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/google/btree"
	"github.com/holiman/uint256"
)

// PositionKey identifies a liquidity position within an account.
type PositionKey struct {
	Asset     ledger.AssetID
	LowerTick int32
	UpperTick int32
}

func (k PositionKey) Less(o PositionKey) bool {
	if k.Asset != o.Asset {
		return k.Asset < o.Asset
	}
	if k.LowerTick != o.LowerTick {
		return k.LowerTick < o.LowerTick
	}
	return k.UpperTick < o.UpperTick
}

// LiquidityPosition is a maker range on the asset's pool. It is a value type:
// copying it copies the uint256 words, which keeps tree clones independent.
type LiquidityPosition struct {
	PositionKey
	Liquidity                uint256.Int // uint128 magnitude
	FeeGrowthInside0LastX128 uint256.Int
	FeeGrowthInside1LastX128 uint256.Int
}

// PendingFees returns fees accrued since the snapshot at the given fee growth inside.
func (p *LiquidityPosition) PendingFees(growth0, growth1 *uint256.Int) (fee0, fee1 int64) {
	fee0 = fpmath.FeesOwedAmount(growth0, &p.FeeGrowthInside0LastX128, &p.Liquidity)
	fee1 = fpmath.FeesOwedAmount(growth1, &p.FeeGrowthInside1LastX128, &p.Liquidity)
	return fee0, fee1
}

// PositionBook is the ordered set of an account's liquidity positions.
type PositionBook struct {
	tree *btree.BTreeG[LiquidityPosition]
}

func lessPosition(a, b LiquidityPosition) bool {
	return a.PositionKey.Less(b.PositionKey)
}

func NewPositionBook() *PositionBook {
	return &PositionBook{tree: btree.NewG(8, lessPosition)}
}

// Clone returns a copy-on-write clone.
func (pb *PositionBook) Clone() *PositionBook {
	return &PositionBook{tree: pb.tree.Clone()}
}

func (pb *PositionBook) Len() int {
	return pb.tree.Len()
}

func (pb *PositionBook) Get(key PositionKey) (LiquidityPosition, bool) {
	return pb.tree.Get(LiquidityPosition{PositionKey: key})
}

func (pb *PositionBook) Put(p LiquidityPosition) {
	pb.tree.ReplaceOrInsert(p)
}

func (pb *PositionBook) Delete(key PositionKey) {
	pb.tree.Delete(LiquidityPosition{PositionKey: key})
}

// Ascend visits every position in key order until fn returns false.
func (pb *PositionBook) Ascend(fn func(LiquidityPosition) bool) {
	pb.tree.Ascend(fn)
}

// All returns the positions in key order.
func (pb *PositionBook) All() []LiquidityPosition {
	out := make([]LiquidityPosition, 0, pb.tree.Len())
	pb.tree.Ascend(func(p LiquidityPosition) bool {
		out = append(out, p)
		return true
	})
	return out
}
