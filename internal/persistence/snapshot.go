package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: JSON-encoded core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores snapshots and reads the event log back for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// ReplayRecord is one logged output in the shape core.Replay takes.
type ReplayRecord struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Delta    []byte
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists snap unverified and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format %d not supported", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks the snapshot at sequence as usable for recovery.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit outputs starting at fromSequence, each with
// its journal batch.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]ReplayRecord, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, account_id, asset_id, batch_id,
		       payload, state_delta, state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ReplayRecord
	bySeq := make(map[int64]*ledger.Batch)
	for rows.Next() {
		var (
			e         EventRow
			accountID sql.NullString
			assetID   sql.NullInt16
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &accountID, &assetID, &e.BatchID,
			&e.Payload, &e.StateDelta, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		if accountID.Valid {
			e.AccountID = &accountID.String
		}
		if assetID.Valid {
			e.AssetID = &assetID.Int16
		}
		rec, err := recordFromRow(e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		bySeq[e.Sequence] = rec.Batch
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	last := records[len(records)-1].Envelope.Sequence
	if err := sm.loadJournals(ctx, fromSequence, last, bySeq); err != nil {
		return nil, err
	}
	return records, nil
}

func (sm *SnapshotManager) loadJournals(ctx context.Context, from, to int64, bySeq map[int64]*ledger.Batch) error {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence ASC, journal_id ASC
	`, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r JournalRow
		if err := rows.Scan(
			&r.JournalID, &r.BatchID, &r.EventRef, &r.Sequence, &r.DebitAccount, &r.CreditAccount,
			&r.AssetID, &r.Amount, &r.JournalType, &r.Timestamp,
		); err != nil {
			return err
		}
		batch, ok := bySeq[r.Sequence]
		if !ok {
			return fmt.Errorf("journal %s references unknown sequence %d", r.JournalID, r.Sequence)
		}
		j, err := journalFromRow(r)
		if err != nil {
			return err
		}
		batch.Journals = append(batch.Journals, j)
	}
	return rows.Err()
}

func recordFromRow(e EventRow) (ReplayRecord, error) {
	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      event.ParseEventType(e.EventType),
		Timestamp:      e.Timestamp.UTC(),
		SourceSequence: e.SourceSequence,
		Payload:        e.Payload,
	}
	if env.EventType == event.EventTypeUnknown {
		return ReplayRecord{}, fmt.Errorf("event %d: unknown type %q", e.Sequence, e.EventType)
	}
	if e.AccountID != nil {
		id, err := ledger.ParseAccountID(*e.AccountID)
		if err != nil {
			return ReplayRecord{}, fmt.Errorf("event %d: %w", e.Sequence, err)
		}
		env.Account = &id
	}
	if e.AssetID != nil {
		asset := ledger.AssetID(*e.AssetID)
		env.Asset = &asset
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return ReplayRecord{}, fmt.Errorf("event %d: malformed hash", e.Sequence)
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)

	batchID, err := uuid.Parse(e.BatchID)
	if err != nil {
		return ReplayRecord{}, fmt.Errorf("event %d batch id: %w", e.Sequence, err)
	}
	batch := &ledger.Batch{
		BatchID:   batchID,
		EventRef:  e.IdempotencyKey,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UnixMicro(),
	}
	return ReplayRecord{Envelope: env, Batch: batch, Delta: e.StateDelta}, nil
}

func journalFromRow(r JournalRow) (ledger.Journal, error) {
	journalID, err := uuid.Parse(r.JournalID)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("journal id %q: %w", r.JournalID, err)
	}
	batchID, err := uuid.Parse(r.BatchID)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("journal %s batch id: %w", r.JournalID, err)
	}
	debit, err := ledger.ParseAccountPath(r.DebitAccount)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("journal %s: %w", r.JournalID, err)
	}
	credit, err := ledger.ParseAccountPath(r.CreditAccount)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("journal %s: %w", r.JournalID, err)
	}
	return ledger.Journal{
		JournalID:     journalID,
		BatchID:       batchID,
		EventRef:      r.EventRef,
		Sequence:      r.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       ledger.AssetID(r.AssetID),
		Amount:        r.Amount,
		JournalType:   ledger.JournalType(r.JournalType),
		Timestamp:     r.Timestamp,
	}, nil
}

// GetLatestSequence returns the highest sequence in the event log, 0 if empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// RecentIdempotencyKeys returns the composite keys of the last limit events,
// oldest first, for warming the dedup cache on a cold start.
func (sm *SnapshotManager) RecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key FROM (
			SELECT sequence, event_type, idempotency_key FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, eventType+":"+key)
	}
	return keys, rows.Err()
}
