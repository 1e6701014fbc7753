package ingestion

import (
	"encoding/json"
	"fmt"

	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"
	"CurieLedger/internal/oracle"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ParseRawEvent converts the JSON body of a command or feed message into a
// typed event. eventType is an event.EventType name. Amounts arrive as decimal
// strings and are converted to fixed point here, so the core never sees a
// float or an unscaled value.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch event.ParseEventType(eventType) {
	case event.EventTypeDeposit:
		return parseDeposit(raw.Data)
	case event.EventTypeWithdraw:
		return parseWithdraw(raw.Data)
	case event.EventTypeMint:
		return parseMint(raw.Data)
	case event.EventTypeBurn:
		return parseBurn(raw.Data)
	case event.EventTypeSwapSettle:
		return parseSwapSettle(raw.Data)
	case event.EventTypeLiquidityAdd:
		return parseAddLiquidity(raw.Data)
	case event.EventTypeLiquidityRemove:
		return parseRemoveLiquidity(raw.Data)
	case event.EventTypeIndexPriceUpdate:
		return parseIndexPrice(raw.Data)
	case event.EventTypePoolUpdate:
		return parsePoolUpdate(raw.Data)
	case event.EventTypeRiskParamUpdate:
		return parseRiskParamUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// snake_case to match upstream producers; amounts are decimal strings.

type collateralJSON struct {
	DepositID    string `json:"deposit_id,omitempty"`
	WithdrawalID string `json:"withdrawal_id,omitempty"`
	Account      string `json:"account"`
	Amount       string `json:"amount"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

// header holds the fields every account command shares once parsed.
type header struct {
	id      uuid.UUID
	account ledger.AccountID
}

func parseHeader(idField, id, account string) (header, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return header{}, fmt.Errorf("parse %s: %w", idField, err)
	}
	acct, err := ledger.ParseAccountID(account)
	if err != nil {
		return header{}, fmt.Errorf("parse account: %w", err)
	}
	return header{id: reqID, account: acct}, nil
}

func parseAsset(s string) (ledger.AssetID, error) {
	asset, err := ledger.ParseAssetID(s)
	if err != nil {
		return 0, fmt.Errorf("parse asset: %w", err)
	}
	return asset, nil
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j collateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	h, err := parseHeader("deposit_id", j.DepositID, j.Account)
	if err != nil {
		return nil, err
	}
	amount, err := fpmath.ParseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Deposit{
		DepositID: h.id,
		Account:   h.account,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j collateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	h, err := parseHeader("withdrawal_id", j.WithdrawalID, j.Account)
	if err != nil {
		return nil, err
	}
	amount, err := fpmath.ParseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Withdraw{
		WithdrawalID: h.id,
		Account:      h.account,
		Amount:       amount,
		Sequence:     j.Sequence,
		Timestamp:    j.TimestampUs,
	}, nil
}

type tokenJSON struct {
	RequestID   string `json:"request_id"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j tokenJSON) parse() (header, ledger.AssetID, int64, error) {
	h, err := parseHeader("request_id", j.RequestID, j.Account)
	if err != nil {
		return header{}, 0, 0, err
	}
	asset, err := parseAsset(j.Asset)
	if err != nil {
		return header{}, 0, 0, err
	}
	amount, err := fpmath.ParseAmount(j.Amount)
	if err != nil {
		return header{}, 0, 0, err
	}
	return h, asset, amount, nil
}

func parseMint(data []byte) (*event.Mint, error) {
	var j tokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Mint: %w", err)
	}
	h, asset, amount, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.Mint{
		RequestID: h.id,
		Account:   h.account,
		Asset:     asset,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

func parseBurn(data []byte) (*event.Burn, error) {
	var j tokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Burn: %w", err)
	}
	h, asset, amount, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.Burn{
		RequestID: h.id,
		Account:   h.account,
		Asset:     asset,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type swapSettleJSON struct {
	FillID        string `json:"fill_id"`
	Account       string `json:"account"`
	Asset         string `json:"asset"`
	BaseDelta     string `json:"base_delta"`
	NotionalDelta string `json:"notional_delta"`
	Sequence      int64  `json:"sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseSwapSettle(data []byte) (*event.SwapSettle, error) {
	var j swapSettleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SwapSettle: %w", err)
	}
	h, err := parseHeader("fill_id", j.FillID, j.Account)
	if err != nil {
		return nil, err
	}
	asset, err := parseAsset(j.Asset)
	if err != nil {
		return nil, err
	}
	base, err := fpmath.ParseAmount(j.BaseDelta)
	if err != nil {
		return nil, fmt.Errorf("parse base_delta: %w", err)
	}
	notional, err := fpmath.ParseAmount(j.NotionalDelta)
	if err != nil {
		return nil, fmt.Errorf("parse notional_delta: %w", err)
	}
	return &event.SwapSettle{
		FillID:        h.id,
		Account:       h.account,
		Asset:         asset,
		BaseDelta:     base,
		NotionalDelta: notional,
		Sequence:      j.Sequence,
		Timestamp:     j.TimestampUs,
	}, nil
}

type liquidityJSON struct {
	RequestID      string `json:"request_id"`
	Account        string `json:"account"`
	Asset          string `json:"asset"`
	LowerTick      int32  `json:"lower_tick"`
	UpperTick      int32  `json:"upper_tick"`
	Amount0Desired string `json:"amount0_desired,omitempty"`
	Amount1Desired string `json:"amount1_desired,omitempty"`
	Liquidity      string `json:"liquidity,omitempty"` // raw integer, removals only
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func (j liquidityJSON) parse() (header, ledger.AssetID, error) {
	h, err := parseHeader("request_id", j.RequestID, j.Account)
	if err != nil {
		return header{}, 0, err
	}
	asset, err := parseAsset(j.Asset)
	if err != nil {
		return header{}, 0, err
	}
	return h, asset, nil
}

// optionalAmount treats a missing desired amount as zero.
func optionalAmount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return fpmath.ParseAmount(s)
}

func parseAddLiquidity(data []byte) (*event.AddLiquidity, error) {
	var j liquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AddLiquidity: %w", err)
	}
	h, asset, err := j.parse()
	if err != nil {
		return nil, err
	}
	amount0, err := optionalAmount(j.Amount0Desired)
	if err != nil {
		return nil, fmt.Errorf("parse amount0_desired: %w", err)
	}
	amount1, err := optionalAmount(j.Amount1Desired)
	if err != nil {
		return nil, fmt.Errorf("parse amount1_desired: %w", err)
	}
	return &event.AddLiquidity{
		RequestID:      h.id,
		Account:        h.account,
		Asset:          asset,
		LowerTick:      j.LowerTick,
		UpperTick:      j.UpperTick,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Sequence:       j.Sequence,
		Timestamp:      j.TimestampUs,
	}, nil
}

func parseRemoveLiquidity(data []byte) (*event.RemoveLiquidity, error) {
	var j liquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveLiquidity: %w", err)
	}
	h, asset, err := j.parse()
	if err != nil {
		return nil, err
	}
	liquidity := new(uint256.Int)
	if j.Liquidity != "" {
		if liquidity, err = uint256.FromDecimal(j.Liquidity); err != nil {
			return nil, fmt.Errorf("parse liquidity: %w", err)
		}
	}
	return &event.RemoveLiquidity{
		RequestID: h.id,
		Account:   h.account,
		Asset:     asset,
		LowerTick: j.LowerTick,
		UpperTick: j.UpperTick,
		Liquidity: liquidity,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type indexPriceJSON struct {
	Asset            string `json:"asset"`
	Price            string `json:"price"`
	PriceSequence    int64  `json:"price_sequence"`
	PriceTimestampUs int64  `json:"price_timestamp_us"`
}

func parseIndexPrice(data []byte) (*event.IndexPriceUpdate, error) {
	var j indexPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse IndexPriceUpdate: %w", err)
	}
	asset, err := parseAsset(j.Asset)
	if err != nil {
		return nil, err
	}
	price, err := oracle.ParsePrice(j.Price)
	if err != nil {
		return nil, err
	}
	return &event.IndexPriceUpdate{
		Asset:          asset,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestampUs,
	}, nil
}

type poolUpdateJSON struct {
	Asset          string `json:"asset"`
	Fee0           string `json:"fee0,omitempty"`
	Fee1           string `json:"fee1,omitempty"`
	SqrtPriceX96   string `json:"sqrt_price_x96,omitempty"`
	UpdateSequence int64  `json:"update_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parsePoolUpdate(data []byte) (*event.PoolUpdate, error) {
	var j poolUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolUpdate: %w", err)
	}
	asset, err := parseAsset(j.Asset)
	if err != nil {
		return nil, err
	}
	fee0, err := optionalAmount(j.Fee0)
	if err != nil {
		return nil, fmt.Errorf("parse fee0: %w", err)
	}
	fee1, err := optionalAmount(j.Fee1)
	if err != nil {
		return nil, fmt.Errorf("parse fee1: %w", err)
	}
	upd := &event.PoolUpdate{
		Asset:          asset,
		Fee0:           fee0,
		Fee1:           fee1,
		UpdateSequence: j.UpdateSequence,
		Timestamp:      j.TimestampUs,
	}
	if j.SqrtPriceX96 != "" {
		if upd.SqrtPriceX96, err = uint256.FromDecimal(j.SqrtPriceX96); err != nil {
			return nil, fmt.Errorf("parse sqrt_price_x96: %w", err)
		}
	}
	return upd, nil
}

type riskParamUpdateJSON struct {
	IMRatio      string `json:"im_ratio"`
	EffectiveSeq int64  `json:"effective_seq"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseRiskParamUpdate(data []byte) (*event.RiskParamUpdate, error) {
	var j riskParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdate: %w", err)
	}
	// RatioConfig shares the amount scale.
	ratio, err := fpmath.ParseAmount(j.IMRatio)
	if err != nil {
		return nil, fmt.Errorf("parse im_ratio: %w", err)
	}
	return &event.RiskParamUpdate{
		IMRatio:      ratio,
		EffectiveSeq: j.EffectiveSeq,
		Timestamp:    j.TimestampUs,
	}, nil
}
