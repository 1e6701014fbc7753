package state

import (
	"errors"
	"time"

	"CurieLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// Pool is the concentrated-liquidity AMM of each priced asset against the quote
// asset. token0 is the priced asset, token1 the quote asset.
type Pool interface {
	SqrtPriceX96(asset ledger.AssetID) (*uint256.Int, error)
	FeeGrowthInside(asset ledger.AssetID, lower, upper int32) (growth0, growth1 *uint256.Int, err error)
	// MintLiquidity adds liquidity and returns the token amounts it takes (rounded up).
	MintLiquidity(asset ledger.AssetID, lower, upper int32, liquidity *uint256.Int) (amount0, amount1 int64, err error)
	// BurnLiquidity removes liquidity and returns the token amounts it pays out (rounded down).
	BurnLiquidity(asset ledger.AssetID, lower, upper int32, liquidity *uint256.Int) (amount0, amount1 int64, err error)
}

// Oracle supplies index prices (PriceConfig scale).
type Oracle interface {
	IndexPrice(asset ledger.AssetID) (price int64, at time.Time, err error)
}

var (
	ErrPriceUnavailable = errors.New("index price unavailable")
	ErrPoolUnavailable  = errors.New("pool unavailable")
)
