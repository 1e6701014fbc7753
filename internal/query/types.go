package query

import "errors"

var ErrNoDatabase = errors.New("history queries need a database")

// OpenOrderResponse is a liquidity position with its current amounts.
type OpenOrderResponse struct {
	Asset       string `json:"asset"`
	LowerTick   int32  `json:"lower_tick"`
	UpperTick   int32  `json:"upper_tick"`
	Liquidity   string `json:"liquidity"`
	Amount0     string `json:"amount0"`
	Amount1     string `json:"amount1"`
	PendingFee0 string `json:"pending_fee0"`
	PendingFee1 string `json:"pending_fee1"`
}

// FeeHistoryResponse is one fee collection from the fee_history projection.
type FeeHistoryResponse struct {
	Sequence  int64  `json:"sequence"`
	Asset     string `json:"asset"`
	FeeBase   string `json:"fee_base"`
	FeeQuote  string `json:"fee_quote"`
	Timestamp int64  `json:"timestamp"`
}

// JournalHistoryEntry is a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	MirrorMismatches []string          `json:"mirror_mismatches,omitempty"`
}

// UnbalancedAsset is an asset whose projected balances do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
