package projection

import (
	"context"
	"database/sql"

	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
)

// FeeEntry is one collection of maker fees by a liquidity operation.
type FeeEntry struct {
	Sequence  int64
	Account   ledger.AccountID
	Asset     ledger.AssetID // the pool's priced asset
	FeeBase   int64
	FeeQuote  int64
	Timestamp int64 // epoch microseconds
}

// feesFromOutput extracts the fee collection of a liquidity operation, if any.
func feesFromOutput(env *event.EventEnvelope, batch *ledger.Batch) (FeeEntry, bool) {
	if env.Account == nil || env.Asset == nil {
		return FeeEntry{}, false
	}
	entry := FeeEntry{
		Sequence:  env.Sequence,
		Account:   *env.Account,
		Asset:     *env.Asset,
		Timestamp: batch.Timestamp,
	}
	found := false
	for _, j := range batch.Journals {
		if j.JournalType != ledger.JournalTypeFeeCollect {
			continue
		}
		found = true
		if j.AssetID == entry.Asset {
			entry.FeeBase += j.Amount
		} else {
			entry.FeeQuote += j.Amount
		}
	}
	return entry, found
}

func insertFeeEntry(ctx context.Context, tx *sql.Tx, e FeeEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.fee_history (sequence, account_id, asset_id, fee_base, fee_quote, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence, asset_id) DO NOTHING
	`, e.Sequence, e.Account.String(), int16(e.Asset), e.FeeBase, e.FeeQuote, e.Timestamp)
	return err
}

// QueryFeeHistory returns the account's most recent fee collections, newest first.
func QueryFeeHistory(ctx context.Context, db *sql.DB, account ledger.AccountID, limit int) ([]FeeEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, asset_id, fee_base, fee_quote, timestamp
		FROM projections.fee_history
		WHERE account_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, account.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeeEntry
	for rows.Next() {
		e := FeeEntry{Account: account}
		var asset int16
		if err := rows.Scan(&e.Sequence, &asset, &e.FeeBase, &e.FeeQuote, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Asset = ledger.AssetID(asset)
		out = append(out, e)
	}
	return out, rows.Err()
}
