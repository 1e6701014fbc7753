package ingestion

import (
	"context"
	"errors"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Processor is the part of the clearinghouse the ingestion shell drives.
type Processor interface {
	ProcessEvent(ctx context.Context, evt event.Event) (*core.CoreOutput, error)
}

// Dispatcher parses raw messages, applies them to the core and settles the
// message with the broker. A message is acked once the core has decided on
// it, whether it was applied or rejected; only a custody failure or shutdown
// naks it, since those may succeed on redelivery.
type Dispatcher struct {
	proc     Processor
	subjects []SubjectConfig
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewDispatcher(proc Processor, subjects []SubjectConfig, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		proc:     proc,
		subjects: subjects,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run drains rawChan until ctx ends or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and acks or naks it.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) {
	eventType := ResolveEventType(raw.Subject, d.subjects)
	if eventType == "" {
		// Unroutable messages are acked so they do not loop.
		d.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		settle(raw.AckFunc)
		return
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
		settle(raw.AckFunc)
		return
	}

	_, err = d.proc.ProcessEvent(ctx, evt)
	switch {
	case err == nil:
		if d.metrics != nil && !raw.Timestamp.IsZero() {
			d.metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(raw.Timestamp).Seconds())
		}
		settle(raw.AckFunc)
	case errors.Is(err, core.ErrCustody), ctx.Err() != nil:
		d.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("event deferred for redelivery")
		settle(raw.NakFunc)
	default:
		// The core already logged the rejection reason.
		settle(raw.AckFunc)
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}
