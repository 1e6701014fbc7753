package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Instruction is a custody settlement request.
type Instruction struct {
	InstructionID string    `json:"instruction_id"`
	Direction     string    `json:"direction"` // credit | debit
	Account       string    `json:"account"`
	Amount        string    `json:"amount"`
	IssuedAt      time.Time `json:"issued_at"`
}

// SettlementPublisher is the custody collaborator of the core. Each
// instruction is published to curie.custody.{direction}.{account} and is
// settled once the stream acknowledges it; a missing ack within the timeout
// rejects the collateral move.
type SettlementPublisher struct {
	js      jetstream.JetStream
	timeout time.Duration
	logger  zerolog.Logger
}

func NewSettlementPublisher(js jetstream.JetStream, timeout time.Duration, logger zerolog.Logger) *SettlementPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SettlementPublisher{js: js, timeout: timeout, logger: logger}
}

func (s *SettlementPublisher) CreditCollateral(ctx context.Context, account ledger.AccountID, amount int64) error {
	return s.instruct(ctx, "credit", account, amount)
}

func (s *SettlementPublisher) DebitCollateral(ctx context.Context, account ledger.AccountID, amount int64) error {
	return s.instruct(ctx, "debit", account, amount)
}

func (s *SettlementPublisher) instruct(ctx context.Context, direction string, account ledger.AccountID, amount int64) error {
	ins := Instruction{
		InstructionID: uuid.NewString(),
		Direction:     direction,
		Account:       account.String(),
		Amount:        fpmath.FormatAmount(amount),
		IssuedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("marshal instruction: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	subject := fmt.Sprintf("curie.custody.%s.%s", direction, ins.Account)
	ack, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(ins.InstructionID))
	if err != nil {
		return fmt.Errorf("publish %s instruction: %w", direction, err)
	}
	s.logger.Debug().
		Str("instruction_id", ins.InstructionID).
		Str("subject", subject).
		Uint64("stream_seq", ack.Sequence).
		Msg("custody instruction acknowledged")
	return nil
}
