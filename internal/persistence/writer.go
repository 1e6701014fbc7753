package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CurieLedger/internal/core"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres with multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row of event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	AccountID      *string
	AssetID        *int16
	BatchID        string
	Payload        []byte
	StateDelta     []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow is a row of event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string // account path
	CreditAccount string
	AssetID       int16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens one core output into its event and journal rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow) {
	env := out.Envelope
	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		BatchID:        out.Batch.BatchID.String(),
		Payload:        env.Payload,
		StateDelta:     out.StateDelta,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
	if env.Account != nil {
		id := env.Account.String()
		row.AccountID = &id
	}
	if env.Asset != nil {
		asset := int16(*env.Asset)
		row.AssetID = &asset
	}
	if len(row.Payload) == 0 {
		row.Payload = []byte("{}")
	}

	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       int16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return row, journals
}

// WriteEventBatch inserts events; sequences already present are skipped.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	const cols = 12

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, account_id, asset_id, batch_id,
		 payload, state_delta, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.AccountID, e.AssetID, e.BatchID,
			e.Payload, e.StateDelta, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts journal entries; ids already present are skipped.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	const cols = 10

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
