package state

import (
	"fmt"
	"math/big"

	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/holiman/uint256"
)

// Valuator prices an account against the current pool and oracle state.
// It only reads: valuation has no side effects and follows the account's
// registration order and the position key order.
type Valuator struct {
	markets *MarketRegistry
	pool    Pool
	oracle  Oracle
}

func NewValuator(markets *MarketRegistry, pool Pool, oracle Oracle) *Valuator {
	return &Valuator{
		markets: markets,
		pool:    pool,
		oracle:  oracle,
	}
}

// PositionQuote is a liquidity position marked at the pool's current price.
type PositionQuote struct {
	Amount0     *big.Int // priced asset, rounded down
	Amount1     *big.Int // quote asset, rounded down
	PendingFee0 int64
	PendingFee1 int64
}

// QuotePosition converts a position into token amounts at the current price plus
// the fees accrued since its snapshot.
func (v *Valuator) QuotePosition(p LiquidityPosition) (PositionQuote, error) {
	sqrtP, err := v.pool.SqrtPriceX96(p.Asset)
	if err != nil {
		return PositionQuote{}, fmt.Errorf("pool price %s: %w", p.Asset, err)
	}
	return v.quoteAt(p, sqrtP)
}

func (v *Valuator) quoteAt(p LiquidityPosition, sqrtP *uint256.Int) (PositionQuote, error) {
	var q PositionQuote
	q.Amount0, q.Amount1 = fpmath.TickRangeAmountsBig(sqrtP, p.LowerTick, p.UpperTick, &p.Liquidity, false)
	g0, g1, err := v.pool.FeeGrowthInside(p.Asset, p.LowerTick, p.UpperTick)
	if err != nil {
		return PositionQuote{}, fmt.Errorf("fee growth %s [%d, %d]: %w", p.Asset, p.LowerTick, p.UpperTick, err)
	}
	q.PendingFee0, q.PendingFee1 = p.PendingFees(g0, g1)
	return q, nil
}

// AssetValuation is the valuation of one asset held by an account.
type AssetValuation struct {
	Asset         ledger.AssetID
	Kind          AssetKind
	Price         int64    // index price, PriceConfig scale; 1.0 for the quote asset
	NetBalance    *big.Int // available + liquidity tokens and fees - debt
	PositionValue *big.Int // NetBalance priced in quote
	DebtValue     *big.Int // debt priced in quote, rounded up
	OpenNotional  int64
	UnrealizedPnl *big.Int // PositionValue - OpenNotional
}

// Valuation is the full mark of one account.
type Valuation struct {
	Collateral            int64
	Assets                []AssetValuation
	AccountValue          *big.Int
	TotalAbsPositionValue *big.Int
	TotalDebtValue        *big.Int
}

// Asset returns the valuation row of asset.
func (val *Valuation) Asset(asset ledger.AssetID) (AssetValuation, bool) {
	for _, a := range val.Assets {
		if a.Asset == asset {
			return a, true
		}
	}
	return AssetValuation{}, false
}

// Value marks acct. Aggregates are big integers so extreme prices cannot overflow.
func (v *Valuator) Value(acct *Account) (*Valuation, error) {
	quote := v.markets.Quote()

	// Liquidity tokens and pending fees, grouped by asset in position key order.
	liquidityBase := make(map[ledger.AssetID]*big.Int)
	var positionAssets []ledger.AssetID
	liquidityQuote := new(big.Int)
	sqrtCache := make(map[ledger.AssetID]*uint256.Int)

	var posErr error
	acct.Positions.Ascend(func(p LiquidityPosition) bool {
		sqrtP, ok := sqrtCache[p.Asset]
		if !ok {
			sqrtP, posErr = v.pool.SqrtPriceX96(p.Asset)
			if posErr != nil {
				posErr = fmt.Errorf("pool price %s: %w", p.Asset, posErr)
				return false
			}
			sqrtCache[p.Asset] = sqrtP
		}
		var q PositionQuote
		q, posErr = v.quoteAt(p, sqrtP)
		if posErr != nil {
			return false
		}
		base, ok := liquidityBase[p.Asset]
		if !ok {
			base = new(big.Int)
			liquidityBase[p.Asset] = base
			positionAssets = append(positionAssets, p.Asset)
		}
		base.Add(base, q.Amount0)
		base.Add(base, big.NewInt(q.PendingFee0))
		liquidityQuote.Add(liquidityQuote, q.Amount1)
		liquidityQuote.Add(liquidityQuote, big.NewInt(q.PendingFee1))
		return true
	})
	if posErr != nil {
		return nil, posErr
	}

	assets := acct.Tokens.RegisteredAssets()
	for _, a := range positionAssets {
		if !acct.Tokens.IsRegistered(a) {
			assets = append(assets, a)
		}
	}
	if !acct.Tokens.IsRegistered(quote) && liquidityQuote.Sign() != 0 {
		assets = append(assets, quote)
	}

	val := &Valuation{
		Collateral:            acct.Collateral,
		Assets:                make([]AssetValuation, 0, len(assets)),
		AccountValue:          big.NewInt(acct.Collateral),
		TotalAbsPositionValue: new(big.Int),
		TotalDebtValue:        new(big.Int),
	}

	for _, asset := range assets {
		info := acct.Tokens.TokenInfo(asset)
		row := AssetValuation{
			Asset:        asset,
			OpenNotional: info.OpenNotional,
			NetBalance:   big.NewInt(info.Available),
		}
		row.NetBalance.Sub(row.NetBalance, big.NewInt(info.Debt))

		if asset == quote {
			row.Kind = AssetKindQuote
			row.Price = fpmath.PriceConfig.Scale
			row.NetBalance.Add(row.NetBalance, liquidityQuote)
			row.PositionValue = new(big.Int).Set(row.NetBalance)
			row.DebtValue = big.NewInt(info.Debt)
		} else {
			if _, ok := v.markets.PricedMarket(asset); !ok {
				return nil, fmt.Errorf("account %s holds unconfigured asset %s: %w", acct.ID, asset, ledger.ErrInvalidAsset)
			}
			price, _, err := v.oracle.IndexPrice(asset)
			if err != nil {
				return nil, fmt.Errorf("index price %s: %w", asset, err)
			}
			if price <= 0 {
				return nil, fmt.Errorf("index price %s is %d: %w", asset, price, ErrPriceUnavailable)
			}
			row.Kind = AssetKindPriced
			row.Price = price
			if base, ok := liquidityBase[asset]; ok {
				row.NetBalance.Add(row.NetBalance, base)
			}
			row.PositionValue = fpmath.ValueAt(row.NetBalance, price, fpmath.RoundDown)
			row.DebtValue = fpmath.ValueAt(big.NewInt(info.Debt), price, fpmath.RoundUp)
		}

		row.UnrealizedPnl = new(big.Int).Sub(row.PositionValue, big.NewInt(info.OpenNotional))
		val.AccountValue.Add(val.AccountValue, row.UnrealizedPnl)
		val.TotalAbsPositionValue.Add(val.TotalAbsPositionValue, new(big.Int).Abs(row.PositionValue))
		val.TotalDebtValue.Add(val.TotalDebtValue, row.DebtValue)
		val.Assets = append(val.Assets, row)
	}

	return val, nil
}

// AccountValue returns collateral + sum of unrealized PnL.
func (v *Valuator) AccountValue(acct *Account) (*big.Int, error) {
	val, err := v.Value(acct)
	if err != nil {
		return nil, err
	}
	return val.AccountValue, nil
}

// PositionValue returns the signed quote value of one asset; zero when not held.
func (v *Valuator) PositionValue(acct *Account, asset ledger.AssetID) (*big.Int, error) {
	if _, ok := v.markets.Market(asset); !ok {
		return nil, fmt.Errorf("asset %s: %w", asset, ledger.ErrInvalidAsset)
	}
	val, err := v.Value(acct)
	if err != nil {
		return nil, err
	}
	if row, ok := val.Asset(asset); ok {
		return row.PositionValue, nil
	}
	return new(big.Int), nil
}
