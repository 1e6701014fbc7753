package query

import (
	fpmath "CurieLedger/internal/math"
)

// Amounts leave the service as decimal strings so clients never see the
// internal fixed-point scale.
var (
	fixed    = fpmath.FormatAmount
	fixedBig = fpmath.FormatBigAmount
)

// BalanceResponse is one asset of an account.
type BalanceResponse struct {
	Account       string `json:"account"`
	Asset         string `json:"asset"`
	Available     string `json:"available"`
	Debt          string `json:"debt"`
	OpenNotional  string `json:"open_notional"`
	PositionValue string `json:"position_value"` // in quote, at the index price
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// AccountResponse is the live margin picture of an account.
type AccountResponse struct {
	Account           string            `json:"account"`
	Collateral        string            `json:"collateral"`
	AccountValue      string            `json:"account_value"`
	MarginRequirement string            `json:"margin_requirement"`
	FreeCollateral    string            `json:"free_collateral"`
	TotalDebtValue    string            `json:"total_debt_value"`
	Status            string            `json:"status"`
	Assets            []AssetValueEntry `json:"assets"`
	AsOfSequence      int64             `json:"as_of_sequence"`
}

// AssetValueEntry is one row of the account valuation.
type AssetValueEntry struct {
	Asset         string `json:"asset"`
	Price         string `json:"price"`
	NetBalance    string `json:"net_balance"`
	PositionValue string `json:"position_value"`
	DebtValue     string `json:"debt_value"`
	OpenNotional  string `json:"open_notional"`
	UnrealizedPnl string `json:"unrealized_pnl"`
}
