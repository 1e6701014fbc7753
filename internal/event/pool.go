package event

import (
	"fmt"

	"CurieLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// PoolUpdate mirrors swap activity on an AMM pool: trading fees accrued to
// in-range liquidity at the pre-swap price, then the price move. Either part
// may be absent.
type PoolUpdate struct {
	Asset          ledger.AssetID `json:"asset"`
	Fee0           int64          `json:"fee0"`
	Fee1           int64          `json:"fee1"`
	SqrtPriceX96   *uint256.Int   `json:"sqrt_price_x96,omitempty"`
	UpdateSequence int64          `json:"update_sequence"`
	Timestamp      int64          `json:"timestamp"`
}

func (p *PoolUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:pool:%d", p.Asset, p.UpdateSequence)
}

func (p *PoolUpdate) EventType() EventType {
	return EventTypePoolUpdate
}

func (p *PoolUpdate) AssetID() *ledger.AssetID {
	return assetRef(p.Asset)
}

func (p *PoolUpdate) SourceSequence() int64 {
	return p.UpdateSequence
}

func (p *PoolUpdate) EventTime() int64 {
	return p.Timestamp
}
