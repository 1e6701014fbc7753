package event

import (
	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
)

// Mint manufactures equal available and debt of a synthetic asset.
type Mint struct {
	RequestID uuid.UUID        `json:"request_id"`
	Account   ledger.AccountID `json:"account"`
	Asset     ledger.AssetID   `json:"asset"`
	Amount    int64            `json:"amount"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
}

func (m *Mint) IdempotencyKey() string      { return m.RequestID.String() }
func (m *Mint) EventType() EventType        { return EventTypeMint }
func (m *Mint) AssetID() *ledger.AssetID    { return assetRef(m.Asset) }
func (m *Mint) SourceSequence() int64       { return m.Sequence }
func (m *Mint) EventTime() int64            { return m.Timestamp }
func (m *Mint) AccountID() ledger.AccountID { return m.Account }

// Burn retires equal available and debt.
type Burn struct {
	RequestID uuid.UUID        `json:"request_id"`
	Account   ledger.AccountID `json:"account"`
	Asset     ledger.AssetID   `json:"asset"`
	Amount    int64            `json:"amount"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
}

func (b *Burn) IdempotencyKey() string      { return b.RequestID.String() }
func (b *Burn) EventType() EventType        { return EventTypeBurn }
func (b *Burn) AssetID() *ledger.AssetID    { return assetRef(b.Asset) }
func (b *Burn) SourceSequence() int64       { return b.Sequence }
func (b *Burn) EventTime() int64            { return b.Timestamp }
func (b *Burn) AccountID() ledger.AccountID { return b.Account }

// SwapSettle reports a fill executed by the exchange against the account.
// BaseDelta is signed (positive on buys); NotionalDelta is the signed quote
// cost accumulated into open notional.
type SwapSettle struct {
	FillID        uuid.UUID        `json:"fill_id"`
	Account       ledger.AccountID `json:"account"`
	Asset         ledger.AssetID   `json:"asset"`
	BaseDelta     int64            `json:"base_delta"`
	NotionalDelta int64            `json:"notional_delta"`
	Sequence      int64            `json:"sequence"`
	Timestamp     int64            `json:"timestamp"`
}

func (s *SwapSettle) IdempotencyKey() string      { return s.FillID.String() }
func (s *SwapSettle) EventType() EventType        { return EventTypeSwapSettle }
func (s *SwapSettle) AssetID() *ledger.AssetID    { return assetRef(s.Asset) }
func (s *SwapSettle) SourceSequence() int64       { return s.Sequence }
func (s *SwapSettle) EventTime() int64            { return s.Timestamp }
func (s *SwapSettle) AccountID() ledger.AccountID { return s.Account }
