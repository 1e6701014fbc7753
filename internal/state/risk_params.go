package state

import (
	"fmt"
	"sync"

	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"
)

// AssetKind distinguishes the cash-like quote asset from priced synthetic assets.
type AssetKind uint8

const (
	AssetKindQuote AssetKind = iota
	AssetKindPriced
)

func (k AssetKind) String() string {
	switch k {
	case AssetKindQuote:
		return "quote"
	case AssetKindPriced:
		return "priced"
	default:
		return "unknown"
	}
}

// Market describes one tradeable asset. Priced markets have an index price and a
// concentrated-liquidity pool against the quote asset.
type Market struct {
	Asset       ledger.AssetID
	Symbol      string
	Kind        AssetKind
	TickSpacing int32
}

// RiskParams are account-wide margin parameters.
type RiskParams struct {
	IMRatio      int64 `json:"im_ratio" toml:"im_ratio"`           // Initial margin (decimal_precision=6, scale=1_000_000)
	EffectiveSeq int64 `json:"effective_seq" toml:"effective_seq"` // Sequence at which params take effect
}

var (
	DefaultRiskParams = RiskParams{IMRatio: 100_000} // 10%

	DefaultMarkets = []Market{
		{Asset: 1, Symbol: "USDC", Kind: AssetKindQuote},
		{Asset: 2, Symbol: "BTC", Kind: AssetKindPriced, TickSpacing: 60},
		{Asset: 3, Symbol: "ETH", Kind: AssetKindPriced, TickSpacing: 60},
	}
)

// MarketRegistry holds the configured markets and risk parameters.
// Markets are fixed at construction; risk params may be updated at runtime.
type MarketRegistry struct {
	quote   ledger.AssetID
	markets map[ledger.AssetID]Market
	order   []ledger.AssetID

	mu     sync.RWMutex
	params RiskParams
}

func NewMarketRegistry(markets []Market, params RiskParams) (*MarketRegistry, error) {
	if err := ValidateRiskParams(params); err != nil {
		return nil, err
	}
	r := &MarketRegistry{
		markets: make(map[ledger.AssetID]Market, len(markets)),
		params:  params,
	}
	quotes := 0
	for _, m := range markets {
		if _, dup := r.markets[m.Asset]; dup {
			return nil, fmt.Errorf("market %s configured twice", m.Symbol)
		}
		if name, ok := ledger.GetAssetName(m.Asset); !ok || name != m.Symbol {
			return nil, fmt.Errorf("market %s does not match asset id %d", m.Symbol, m.Asset)
		}
		switch m.Kind {
		case AssetKindQuote:
			quotes++
			r.quote = m.Asset
		case AssetKindPriced:
			if m.TickSpacing <= 0 || m.TickSpacing > fpmath.MaxTick {
				return nil, fmt.Errorf("market %s tick spacing must be in (0, %d], got %d", m.Symbol, fpmath.MaxTick, m.TickSpacing)
			}
		default:
			return nil, fmt.Errorf("market %s has unknown kind %d", m.Symbol, m.Kind)
		}
		r.markets[m.Asset] = m
		r.order = append(r.order, m.Asset)
	}
	if quotes != 1 {
		return nil, fmt.Errorf("exactly one quote asset required, got %d", quotes)
	}
	return r, nil
}

// MustDefaultRegistry builds the registry from DefaultMarkets.
func MustDefaultRegistry() *MarketRegistry {
	r, err := NewMarketRegistry(DefaultMarkets, DefaultRiskParams)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *MarketRegistry) Quote() ledger.AssetID {
	return r.quote
}

func (r *MarketRegistry) Market(asset ledger.AssetID) (Market, bool) {
	m, ok := r.markets[asset]
	return m, ok
}

// PricedMarket returns asset's market if it is priced.
func (r *MarketRegistry) PricedMarket(asset ledger.AssetID) (Market, bool) {
	m, ok := r.markets[asset]
	if !ok || m.Kind != AssetKindPriced {
		return Market{}, false
	}
	return m, true
}

// Markets returns the configured markets in configuration order.
func (r *MarketRegistry) Markets() []Market {
	out := make([]Market, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, r.markets[a])
	}
	return out
}

func (r *MarketRegistry) RiskParams() RiskParams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params
}

// ValidateRiskParams checks that risk parameters are within valid ranges.
func ValidateRiskParams(params RiskParams) error {
	if params.IMRatio <= 0 {
		return fmt.Errorf("im_ratio must be > 0, got %d", params.IMRatio)
	}
	if params.IMRatio > fpmath.RatioConfig.Scale {
		return fmt.Errorf("im_ratio must be <= %d, got %d", fpmath.RatioConfig.Scale, params.IMRatio)
	}
	return nil
}

// UpdateRiskParams installs new params unless they are older than the current ones.
func (r *MarketRegistry) UpdateRiskParams(params RiskParams) error {
	if err := ValidateRiskParams(params); err != nil {
		return fmt.Errorf("invalid risk params: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if params.EffectiveSeq < r.params.EffectiveSeq {
		return fmt.Errorf("risk params seq %d older than current %d", params.EffectiveSeq, r.params.EffectiveSeq)
	}
	r.params = params
	return nil
}
