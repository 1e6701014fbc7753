package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/observability"
	"CurieLedger/internal/projection"
	"CurieLedger/internal/state"
)

// Ledger is the read-only view of the clearinghouse the service needs.
type Ledger interface {
	GetSequence() int64
	TokenInfo(id ledger.AccountID, asset ledger.AssetID) ledger.TokenInfo
	PositionValue(id ledger.AccountID, asset ledger.AssetID) (*big.Int, error)
	Summary(id ledger.AccountID) (*state.MarginSummary, error)
	OpenOrders(id ledger.AccountID) ([]core.OpenOrder, error)
	LedgerBalance(key ledger.AccountKey) int64
}

// QueryService answers account reads from the live core and history reads
// from the event log and projection tables. Every live response carries
// as_of_sequence, the last output applied when it was read.
type QueryService struct {
	core    Ledger
	db      *sql.DB // nil disables history and integrity queries
	metrics *observability.Metrics
}

func NewQueryService(l Ledger, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{core: l, db: db, metrics: metrics}
}

func (qs *QueryService) observe(method string) func(err *error) {
	start := time.Now()
	return func(err *error) {
		if qs.metrics == nil {
			return
		}
		qs.metrics.QueryRequests.WithLabelValues(method).Inc()
		qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if *err != nil {
			qs.metrics.QueryErrors.WithLabelValues(method, "error").Inc()
		}
	}
}

func (qs *QueryService) asOf() int64 {
	return qs.core.GetSequence() - 1
}

// GetBalance returns one asset of an account.
func (qs *QueryService) GetBalance(_ context.Context, id ledger.AccountID, asset ledger.AssetID) (_ *BalanceResponse, err error) {
	defer qs.observe("GetBalance")(&err)

	asOf := qs.asOf()
	info := qs.core.TokenInfo(id, asset)
	value, err := qs.core.PositionValue(id, asset)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		Account:       id.String(),
		Asset:         asset.String(),
		Available:     fixed(info.Available),
		Debt:          fixed(info.Debt),
		OpenNotional:  fixed(info.OpenNotional),
		PositionValue: fixedBig(value),
		AsOfSequence:  asOf,
	}, nil
}

// GetAccount values the account and reports its margin figures.
func (qs *QueryService) GetAccount(_ context.Context, id ledger.AccountID) (_ *AccountResponse, err error) {
	defer qs.observe("GetAccount")(&err)

	asOf := qs.asOf()
	s, err := qs.core.Summary(id)
	if err != nil {
		return nil, err
	}
	resp := &AccountResponse{
		Account:           id.String(),
		Collateral:        fixed(s.Collateral),
		AccountValue:      fixedBig(s.AccountValue),
		MarginRequirement: fixedBig(s.MarginRequirement),
		FreeCollateral:    fixed(s.FreeCollateral),
		TotalDebtValue:    fixedBig(s.TotalDebtValue),
		Status:            s.Status.String(),
		Assets:            make([]AssetValueEntry, 0, len(s.Assets)),
		AsOfSequence:      asOf,
	}
	for _, a := range s.Assets {
		resp.Assets = append(resp.Assets, AssetValueEntry{
			Asset:         a.Asset.String(),
			Price:         fixed(a.Price),
			NetBalance:    fixedBig(a.NetBalance),
			PositionValue: fixedBig(a.PositionValue),
			DebtValue:     fixedBig(a.DebtValue),
			OpenNotional:  fixed(a.OpenNotional),
			UnrealizedPnl: fixedBig(a.UnrealizedPnl),
		})
	}
	return resp, nil
}

// GetOpenOrders lists the account's liquidity positions.
func (qs *QueryService) GetOpenOrders(_ context.Context, id ledger.AccountID) (_ []OpenOrderResponse, err error) {
	defer qs.observe("GetOpenOrders")(&err)

	orders, err := qs.core.OpenOrders(id)
	if err != nil {
		return nil, err
	}
	out := make([]OpenOrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, OpenOrderResponse{
			Asset:       o.Asset.String(),
			LowerTick:   o.LowerTick,
			UpperTick:   o.UpperTick,
			Liquidity:   o.Liquidity.Dec(),
			Amount0:     fixedBig(o.Amount0),
			Amount1:     fixedBig(o.Amount1),
			PendingFee0: fixed(o.PendingFee0),
			PendingFee1: fixed(o.PendingFee1),
		})
	}
	return out, nil
}

// GetFeeHistory returns the account's latest fee collections, newest first.
func (qs *QueryService) GetFeeHistory(ctx context.Context, id ledger.AccountID, limit int) (_ []FeeHistoryResponse, err error) {
	defer qs.observe("GetFeeHistory")(&err)
	if qs.db == nil {
		return nil, ErrNoDatabase
	}

	entries, err := projection.QueryFeeHistory(ctx, qs.db, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]FeeHistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, FeeHistoryResponse{
			Sequence:  e.Sequence,
			Asset:     e.Asset.String(),
			FeeBase:   fixed(e.FeeBase),
			FeeQuote:  fixed(e.FeeQuote),
			Timestamp: e.Timestamp,
		})
	}
	return out, nil
}

// GetJournalHistory returns journal entries touching the account, newest
// first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(ctx context.Context, id ledger.AccountID, limit int, afterSequence *int64) (_ []JournalHistoryEntry, err error) {
	defer qs.observe("GetJournalHistory")(&err)
	if qs.db == nil {
		return nil, ErrNoDatabase
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{fmt.Sprintf("user:%s:%%", id)}
	if afterSequence != nil {
		query += " AND sequence < $2"
		args = append(args, *afterSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e           JournalHistoryEntry
			asset       int16
			amount      int64
			journalType int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &asset, &amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Asset = ledger.AssetID(asset).String()
		e.Amount = fixed(amount)
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the logged hash chain, that projected balances sum to
// zero per asset, and, when the projections are current, that they match the
// core's audit mirror.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer qs.observe("VerifyIntegrity")(&err)
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The mirror comparison is only meaningful when no output is in flight.
	watermark, err := projection.Watermark(ctx, qs.db)
	if err != nil {
		return nil, err
	}
	current := watermark == qs.asOf()

	balRows, err := qs.db.QueryContext(ctx, `SELECT account_path, balance FROM projections.balances`)
	if err != nil {
		return nil, err
	}
	defer balRows.Close()

	sums := make(map[ledger.AssetID]int64)
	var order []ledger.AssetID
	for balRows.Next() {
		var (
			path    string
			balance int64
		)
		if err := balRows.Scan(&path, &balance); err != nil {
			return nil, err
		}
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		if _, seen := sums[key.AssetID]; !seen {
			order = append(order, key.AssetID)
		}
		sums[key.AssetID] += balance
		if current && qs.core.LedgerBalance(key) != balance {
			report.MirrorMismatches = append(report.MirrorMismatches, path)
		}
	}
	if err := balRows.Err(); err != nil {
		return nil, err
	}
	for _, asset := range order {
		if sums[asset] != 0 {
			report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
				Asset:     asset.String(),
				Imbalance: fixed(sums[asset]),
			})
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.MirrorMismatches) == 0
	return report, nil
}
