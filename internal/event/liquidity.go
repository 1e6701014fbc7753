package event

import (
	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// AddLiquidity contributes up to the desired amounts to a tick range.
type AddLiquidity struct {
	RequestID      uuid.UUID        `json:"request_id"`
	Account        ledger.AccountID `json:"account"`
	Asset          ledger.AssetID   `json:"asset"`
	LowerTick      int32            `json:"lower_tick"`
	UpperTick      int32            `json:"upper_tick"`
	Amount0Desired int64            `json:"amount0_desired"`
	Amount1Desired int64            `json:"amount1_desired"`
	Sequence       int64            `json:"sequence"`
	Timestamp      int64            `json:"timestamp"`
}

func (a *AddLiquidity) IdempotencyKey() string      { return a.RequestID.String() }
func (a *AddLiquidity) EventType() EventType        { return EventTypeLiquidityAdd }
func (a *AddLiquidity) AssetID() *ledger.AssetID    { return assetRef(a.Asset) }
func (a *AddLiquidity) SourceSequence() int64       { return a.Sequence }
func (a *AddLiquidity) EventTime() int64            { return a.Timestamp }
func (a *AddLiquidity) AccountID() ledger.AccountID { return a.Account }

// RemoveLiquidity withdraws liquidity from a tick range. Zero liquidity only
// collects fees.
type RemoveLiquidity struct {
	RequestID uuid.UUID        `json:"request_id"`
	Account   ledger.AccountID `json:"account"`
	Asset     ledger.AssetID   `json:"asset"`
	LowerTick int32            `json:"lower_tick"`
	UpperTick int32            `json:"upper_tick"`
	Liquidity *uint256.Int     `json:"liquidity"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
}

func (r *RemoveLiquidity) IdempotencyKey() string      { return r.RequestID.String() }
func (r *RemoveLiquidity) EventType() EventType        { return EventTypeLiquidityRemove }
func (r *RemoveLiquidity) AssetID() *ledger.AssetID    { return assetRef(r.Asset) }
func (r *RemoveLiquidity) SourceSequence() int64       { return r.Sequence }
func (r *RemoveLiquidity) EventTime() int64            { return r.Timestamp }
func (r *RemoveLiquidity) AccountID() ledger.AccountID { return r.Account }
