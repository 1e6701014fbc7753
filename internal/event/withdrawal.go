package event

import (
	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
)

// Withdraw releases free collateral through custody.
type Withdraw struct {
	WithdrawalID uuid.UUID        `json:"withdrawal_id"`
	Account      ledger.AccountID `json:"account"`
	Amount       int64            `json:"amount"`
	Sequence     int64            `json:"sequence"`
	Timestamp    int64            `json:"timestamp"`
}

func (w *Withdraw) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) AssetID() *ledger.AssetID {
	return nil
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}

func (w *Withdraw) EventTime() int64 {
	return w.Timestamp
}

func (w *Withdraw) AccountID() ledger.AccountID {
	return w.Account
}
