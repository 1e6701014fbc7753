package event

import (
	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
)

// Deposit credits real collateral to an account once custody has received it.
type Deposit struct {
	DepositID uuid.UUID        `json:"deposit_id"`
	Account   ledger.AccountID `json:"account"`
	Amount    int64            `json:"amount"` // AmountConfig scale
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"` // epoch microseconds
}

func (d *Deposit) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) AssetID() *ledger.AssetID {
	return nil // collateral only
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *Deposit) EventTime() int64 {
	return d.Timestamp
}

func (d *Deposit) AccountID() ledger.AccountID {
	return d.Account
}
