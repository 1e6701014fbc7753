package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/observability"
	"CurieLedger/internal/persistence"
	"CurieLedger/internal/state"

	"github.com/rs/zerolog"
)

const watermarkName = "main"

// ProjectionWorker keeps the read-side tables current. The core sends to it
// without blocking, so it may miss outputs; a gap is logged and the tables can
// be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until ctx ends or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := Watermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if seq != pw.lastSeq+1 && pw.lastSeq != 0 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, rebuild to repair")
			}

			start := time.Now()
			if err := Apply(ctx, pw.db, output); err != nil {
				// Projections are eventually consistent and rebuildable.
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(watermarkName).Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = seq
		}
	}
}

// Apply folds one output into every projection in a single transaction.
func Apply(ctx context.Context, db *sql.DB, output core.CoreOutput) error {
	env := output.Envelope

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Batch.Journals {
		if err := applyJournal(ctx, tx, j, env.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	var delta core.StateDelta
	if err := json.Unmarshal(output.StateDelta, &delta); err != nil {
		return fmt.Errorf("decode state delta: %w", err)
	}
	if delta.Account != nil {
		if err := applyAccount(ctx, tx, delta.Account, env.Sequence); err != nil {
			return fmt.Errorf("account projection: %w", err)
		}
	}

	if isLiquidityOp(env.EventType) {
		if fee, ok := feesFromOutput(env, output.Batch); ok {
			if err := insertFeeEntry(ctx, tx, fee); err != nil {
				return fmt.Errorf("fee history: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func isLiquidityOp(t event.EventType) bool {
	return t == event.EventTypeLiquidityAdd || t == event.EventTypeLiquidityRemove
}

// applyJournal books a debit as an increase and a credit as a decrease.
func applyJournal(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	const upsert = `
		INSERT INTO projections.balances (account_path, balance, last_seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_seq = $3
	`
	if _, err := tx.ExecContext(ctx, upsert, j.DebitAccount.AccountPath(), j.Amount, seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, upsert, j.CreditAccount.AccountPath(), -j.Amount, seq)
	return err
}

// applyAccount replaces the account's rows with its post-operation image.
func applyAccount(ctx context.Context, tx *sql.Tx, img *state.AccountImage, seq int64) error {
	id := img.ID.String()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.collateral (account_id, collateral, last_seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET collateral = $2, last_seq = $3
	`, id, img.Collateral, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM projections.token_balances WHERE account_id = $1`, id); err != nil {
		return err
	}
	for _, t := range img.Tokens {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.token_balances (account_id, asset_id, available, debt, open_notional, last_seq)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, int16(t.Asset), t.Available, t.Debt, t.OpenNotional, seq); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM projections.positions WHERE account_id = $1`, id); err != nil {
		return err
	}
	for _, p := range img.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (account_id, asset_id, lower_tick, upper_tick, liquidity, last_seq)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, int16(p.Asset), p.LowerTick, p.UpperTick, p.Liquidity.Dec(), seq); err != nil {
			return err
		}
	}
	return nil
}

// Watermark returns the last sequence applied to the projections, 0 if none.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`, watermarkName,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// RebuildProjections truncates every projection and replays the event log
// into them, page by page.
func RebuildProjections(ctx context.Context, db *sql.DB, events *persistence.SnapshotManager, logger zerolog.Logger) error {
	for _, table := range []string{
		"projections.balances",
		"projections.token_balances",
		"projections.collateral",
		"projections.positions",
		"projections.fee_history",
		"projections.watermark",
	} {
		if _, err := db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}

	const page = 1000
	next, applied := int64(1), 0
	for {
		records, err := events.LoadEventsFrom(ctx, next, page)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", next, err)
		}
		for _, rec := range records {
			out := core.CoreOutput{Envelope: rec.Envelope, Batch: rec.Batch, StateDelta: rec.Delta}
			if err := Apply(ctx, db, out); err != nil {
				return fmt.Errorf("apply sequence %d: %w", rec.Envelope.Sequence, err)
			}
			next = rec.Envelope.Sequence + 1
			applied++
		}
		if len(records) < page {
			break
		}
	}

	logger.Info().Int("events", applied).Msg("projection rebuild complete")
	return nil
}
