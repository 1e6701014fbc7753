package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CurieLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes JetStream subjects and hands each message to the
// dispatcher through eventChan. JetStream is the high-throughput command
// surface; gRPC ingest is for operators.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is a received message before parsing.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed or permanently rejected
	NakFunc   func() // redeliver
}

// SubjectConfig maps a subject filter to the event type its messages carry.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	streamCommands = "CURIE_COMMANDS"
	streamPrices   = "CURIE_PRICES"
	streamPools    = "CURIE_POOLS"
	streamRisk     = "CURIE_RISK"
	streamOutbound = "CURIE_LEDGER_EVENTS"
	streamCustody  = "CURIE_CUSTODY"

	streamMaxAge = 72 * time.Hour
)

// DefaultSubjects returns one subject per event type. Command subjects end in
// the account address so consumers can be partitioned by account later.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "curie.commands.deposit.>", EventType: event.EventTypeDeposit.String(), ConsumerName: "ledger-deposit", StreamName: streamCommands},
		{Subject: "curie.commands.withdraw.>", EventType: event.EventTypeWithdraw.String(), ConsumerName: "ledger-withdraw", StreamName: streamCommands},
		{Subject: "curie.commands.mint.>", EventType: event.EventTypeMint.String(), ConsumerName: "ledger-mint", StreamName: streamCommands},
		{Subject: "curie.commands.burn.>", EventType: event.EventTypeBurn.String(), ConsumerName: "ledger-burn", StreamName: streamCommands},
		{Subject: "curie.commands.liquidity.add.>", EventType: event.EventTypeLiquidityAdd.String(), ConsumerName: "ledger-liquidity-add", StreamName: streamCommands},
		{Subject: "curie.commands.liquidity.remove.>", EventType: event.EventTypeLiquidityRemove.String(), ConsumerName: "ledger-liquidity-remove", StreamName: streamCommands},
		{Subject: "curie.commands.swap.>", EventType: event.EventTypeSwapSettle.String(), ConsumerName: "ledger-swap", StreamName: streamCommands},
		{Subject: "curie.prices.index.>", EventType: event.EventTypeIndexPriceUpdate.String(), ConsumerName: "ledger-index-prices", StreamName: streamPrices},
		{Subject: "curie.pools.>", EventType: event.EventTypePoolUpdate.String(), ConsumerName: "ledger-pools", StreamName: streamPools},
		{Subject: "curie.risk.params.>", EventType: event.EventTypeRiskParamUpdate.String(), ConsumerName: "ledger-risk-params", StreamName: streamRisk},
	}
}

// ResolveEventType returns the event type of the longest subject filter that
// matches subject, or "" when none does.
func ResolveEventType(subject string, subjects []SubjectConfig) string {
	best, bestType := "", ""
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(best) {
			best, bestType = prefix, cfg.EventType
		}
	}
	return bestType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates a durable consumer per subject. Consumers use explicit
// ack, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound, outbound and custody streams if missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		streamConfig(streamCommands, "curie.commands.>"),
		streamConfig(streamPrices, "curie.prices.>"),
		streamConfig(streamPools, "curie.pools.>"),
		streamConfig(streamRisk, "curie.risk.>"),
		streamConfig(streamOutbound, "curie.ledger.events.>"),
		streamConfig(streamCustody, "curie.custody.>"),
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop stops every consumer. Messages in flight are redelivered.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS connects with unlimited reconnects and returns a JetStream handle.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("curieledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
