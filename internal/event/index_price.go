package event

import (
	"fmt"

	"CurieLedger/internal/ledger"
)

// IndexPriceUpdate is an oracle observation for a priced asset.
type IndexPriceUpdate struct {
	Asset          ledger.AssetID `json:"asset"`
	Price          int64          `json:"price"`           // PriceConfig scale
	PriceSequence  int64          `json:"price_sequence"`  // monotonic per asset
	PriceTimestamp int64          `json:"price_timestamp"` // epoch microseconds (versioned input)
}

func (p *IndexPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:index:%d", p.Asset, p.PriceSequence)
}

func (p *IndexPriceUpdate) EventType() EventType {
	return EventTypeIndexPriceUpdate
}

func (p *IndexPriceUpdate) AssetID() *ledger.AssetID {
	return assetRef(p.Asset)
}

func (p *IndexPriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *IndexPriceUpdate) EventTime() int64 {
	return p.PriceTimestamp
}
