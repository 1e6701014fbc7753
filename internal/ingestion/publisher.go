package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"CurieLedger/internal/core"
	fpmath "CurieLedger/internal/math"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes logged outputs for downstream consumers on
// curie.ledger.events.{event_type}[.{asset}]. It reads from the persistence
// worker, so only durable outputs are published.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of one output.
type PublishableEvent struct {
	Sequence       int64              `json:"sequence"`
	EventType      string             `json:"event_type"`
	IdempotencyKey string             `json:"idempotency_key"`
	Account        string             `json:"account,omitempty"`
	Asset          string             `json:"asset,omitempty"`
	Payload        json.RawMessage    `json:"payload"`
	Journals       []PublishedJournal `json:"journals"`
	StateHash      string             `json:"state_hash"`
	Timestamp      time.Time          `json:"timestamp"`
}

type PublishedJournal struct {
	Debit  string `json:"debit"`
	Credit string `json:"credit"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Type   string `json:"type"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until ctx ends or the channel closes. Publish failures are
// logged and skipped; consumers can read the event log to catch up.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			evt := NewPublishableEvent(out)
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// NewPublishableEvent converts an output to its outbound form.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		Journals:       make([]PublishedJournal, 0),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if len(evt.Payload) == 0 {
		evt.Payload = json.RawMessage("{}")
	}
	if env.Account != nil {
		evt.Account = env.Account.String()
	}
	if env.Asset != nil {
		evt.Asset = env.Asset.String()
	}
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			evt.Journals = append(evt.Journals, PublishedJournal{
				Debit:  j.DebitAccount.AccountPath(),
				Credit: j.CreditAccount.AccountPath(),
				Asset:  j.AssetID.String(),
				Amount: fpmath.FormatAmount(j.Amount),
				Type:   j.JournalType.String(),
			})
		}
	}
	return evt
}

// Subject returns the outbound subject of evt.
func (evt PublishableEvent) Subject() string {
	subject := "curie.ledger.events." + evt.EventType
	if evt.Asset != "" {
		subject += "." + evt.Asset
	}
	return subject
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence doubles as the JetStream dedup id.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(fmt.Sprintf("ledger-%d", evt.Sequence)))
	return err
}
