package ingestion

import (
	"context"
	"fmt"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
)

// GRPCIngestService injects events for operators. Unlike the NATS path it
// applies synchronously and returns the core's decision to the caller.
type GRPCIngestService struct {
	proc Processor
}

func NewGRPCIngestService(proc Processor) *GRPCIngestService {
	return &GRPCIngestService{proc: proc}
}

// Submit parses a wire-format payload of the named event type and applies it.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) (*core.CoreOutput, error) {
	evt, err := ParseRawEvent(RawEvent{Subject: "grpc", Data: payload, Timestamp: time.Now()}, eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return s.proc.ProcessEvent(ctx, evt)
}

// InjectDeposit credits collateral with a fresh deposit id. The command is
// unsequenced.
func (s *GRPCIngestService) InjectDeposit(ctx context.Context, account ledger.AccountID, amount int64) (*core.CoreOutput, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit %d: %w", amount, ledger.ErrInvalidAmount)
	}
	return s.proc.ProcessEvent(ctx, &event.Deposit{
		DepositID: uuid.New(),
		Account:   account,
		Amount:    amount,
		Timestamp: time.Now().UnixMicro(),
	})
}

// InjectIndexPrice applies an operator price. priceSequence must be newer
// than the last feed update of the asset.
func (s *GRPCIngestService) InjectIndexPrice(ctx context.Context, asset ledger.AssetID, price, priceSequence int64) (*core.CoreOutput, error) {
	if price <= 0 {
		return nil, fmt.Errorf("index price %d: %w", price, ledger.ErrInvalidAmount)
	}
	return s.proc.ProcessEvent(ctx, &event.IndexPriceUpdate{
		Asset:          asset,
		Price:          price,
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().UnixMicro(),
	})
}
