package persistence

import (
	"context"
	"database/sql"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core blocks on this channel, so a stalled worker stalls the core and no
// output is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	db           *sql.DB
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// newBackOff builds the retry policy of one batch.
	newBackOff func() backoff.BackOff

	// committed receives outputs once they are durable; nil disables it.
	committed chan<- core.CoreOutput
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0 // never give up while running
			return b
		},
	}
}

// ForwardCommitted sends every durably written output to ch, dropping when
// ch is full. Used to publish outbound events only after they are logged.
func (pw *PersistenceWorker) ForwardCommitted(ch chan<- core.CoreOutput) {
	pw.committed = ch
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, pw.batchSize)
	journals := make([]JournalRow, 0, pw.batchSize*4)
	outputs := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(events) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, events, journals); err != nil {
			pw.logger.Error().Err(err).
				Int64("first_sequence", events[0].Sequence).
				Int("events", len(events)).
				Msg("batch flush failed")
		} else {
			pw.forward(outputs)
		}
		events = events[:0]
		journals = journals[:0]
		outputs = outputs[:0]
	}

	// The final flush outlives the run context but not by much.
	finalFlush := func() {
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		flush(fctx)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				finalFlush()
				return nil
			}
			row, rows := RowsFromOutput(output)
			events = append(events, row)
			journals = append(journals, rows...)
			if pw.committed != nil {
				outputs = append(outputs, output)
			}
			if pw.metrics != nil {
				pw.metrics.ApplyToPersist.Observe(time.Since(output.Envelope.Timestamp).Seconds())
			}

			if len(events) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries the batch with exponential backoff until it is
// written or ctx ends.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	attempts := 0
	op := func() error {
		attempts++
		return pw.flush(ctx, events, journals)
	}
	notify := func(err error, wait time.Duration) {
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
		pw.logger.Warn().Err(err).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Int("events", len(events)).
			Msg("persistence retry")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(pw.newBackOff(), ctx), notify); err != nil {
		return err
	}
	if attempts > 1 {
		pw.logger.Info().Int("retries", attempts-1).Msg("persistence flush succeeded after retries")
	}
	return nil
}

// flush writes events and journals in one transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) forward(outputs []core.CoreOutput) {
	if pw.committed == nil {
		return
	}
	for _, out := range outputs {
		select {
		case pw.committed <- out:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
