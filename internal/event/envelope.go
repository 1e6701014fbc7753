package event

import (
	"time"

	"CurieLedger/internal/ledger"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeMint
	EventTypeBurn
	EventTypeLiquidityAdd
	EventTypeLiquidityRemove
	EventTypeSwapSettle
	EventTypeIndexPriceUpdate
	EventTypePoolUpdate
	EventTypeRiskParamUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Account the event mutated; nil for market-wide events
	Account *ledger.AccountID

	// Asset context (nil for account-only and global events)
	Asset *ledger.AssetID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// AssetID returns the asset context (nil for collateral-only and global events)
	AssetID() *ledger.AssetID

	// SourceSequence returns upstream ordering key; zero means unsequenced
	SourceSequence() int64

	// EventTime returns the versioned input timestamp in epoch microseconds
	EventTime() int64
}

// AccountEvent is an event that mutates exactly one account.
type AccountEvent interface {
	Event
	AccountID() ledger.AccountID
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeMint:
		return "Mint"
	case EventTypeBurn:
		return "Burn"
	case EventTypeLiquidityAdd:
		return "LiquidityAdd"
	case EventTypeLiquidityRemove:
		return "LiquidityRemove"
	case EventTypeSwapSettle:
		return "SwapSettle"
	case EventTypeIndexPriceUpdate:
		return "IndexPriceUpdate"
	case EventTypePoolUpdate:
		return "PoolUpdate"
	case EventTypeRiskParamUpdate:
		return "RiskParamUpdate"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeDeposit; et <= EventTypeRiskParamUpdate; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

func assetRef(a ledger.AssetID) *ledger.AssetID {
	return &a
}
