package core

import (
	"context"
	"fmt"
	"time"

	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"
	"CurieLedger/internal/oracle"
	"CurieLedger/internal/state"
)

// accountOp mutates the account clone next and books its journals. It returns
// the asset whose pool it touched, if any.
type accountOp func(ctx context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error)

// marketAccess is how an operation uses pool and oracle state.
type marketAccess uint8

const (
	marketNone  marketAccess = iota
	marketRead               // valued by a margin check
	marketWrite              // mutates the pool
)

func (c *Clearinghouse) accountHandler(evt event.AccountEvent) (op accountOp, access marketAccess, err error) {
	switch e := evt.(type) {
	case *event.Deposit:
		return func(ctx context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return nil, c.deposit(ctx, next, jg, e)
		}, marketNone, nil
	case *event.Withdraw:
		return func(ctx context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return nil, c.withdraw(ctx, next, jg, e)
		}, marketRead, nil
	case *event.Mint:
		return func(_ context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return nil, c.mint(next, jg, e)
		}, marketRead, nil
	case *event.Burn:
		return func(_ context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return nil, c.burn(next, jg, e)
		}, marketNone, nil
	case *event.SwapSettle:
		return func(_ context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return nil, c.settleSwap(next, jg, e)
		}, marketRead, nil
	case *event.AddLiquidity:
		return func(_ context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return &e.Asset, c.addLiquidity(next, jg, e)
		}, marketWrite, nil
	case *event.RemoveLiquidity:
		return func(_ context.Context, next *state.Account, jg *ledger.JournalGenerator) (*ledger.AssetID, error) {
			return &e.Asset, c.removeLiquidity(next, jg, e)
		}, marketWrite, nil
	default:
		return nil, marketNone, fmt.Errorf("%T: %w", evt, ErrUnknownEvent)
	}
}

// === Collateral ===

func (c *Clearinghouse) deposit(ctx context.Context, next *state.Account, jg *ledger.JournalGenerator, e *event.Deposit) error {
	if e.Amount <= 0 {
		return fmt.Errorf("deposit %d: %w", e.Amount, ledger.ErrInvalidAmount)
	}
	next.Collateral = fpmath.CheckedAdd(next.Collateral, e.Amount)

	if c.custody != nil {
		if err := c.custody.CreditCollateral(ctx, e.Account, e.Amount); err != nil {
			c.recordCustody("credit", "failed")
			return fmt.Errorf("credit %d to %s: %v: %w", e.Amount, e.Account, err, ErrCustody)
		}
		c.recordCustody("credit", "ok")
	}

	jg.Deposit(e.Account, e.Amount)
	return nil
}

// withdraw checks the request against the committed state, settles it with
// custody, and only then reduces collateral.
func (c *Clearinghouse) withdraw(ctx context.Context, next *state.Account, jg *ledger.JournalGenerator, e *event.Withdraw) error {
	if e.Amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", e.Amount, ledger.ErrInvalidAmount)
	}
	if err := c.margin.CheckWithdrawable(next, e.Amount); err != nil {
		return err
	}
	next.Collateral -= e.Amount

	if c.custody != nil {
		if err := c.custody.DebitCollateral(ctx, e.Account, e.Amount); err != nil {
			c.recordCustody("debit", "failed")
			return fmt.Errorf("debit %d from %s: %v: %w", e.Amount, e.Account, err, ErrCustody)
		}
		c.recordCustody("debit", "ok")
	}

	jg.Withdrawal(e.Account, e.Amount)
	return nil
}

func (c *Clearinghouse) recordCustody(direction, outcome string) {
	if c.metrics != nil {
		c.metrics.CustodyInstructions.WithLabelValues(direction, outcome).Inc()
	}
}

// === Synthetic tokens ===

func (c *Clearinghouse) mint(next *state.Account, jg *ledger.JournalGenerator, e *event.Mint) error {
	if _, ok := c.markets.Market(e.Asset); !ok {
		return fmt.Errorf("mint %s: %w", e.Asset, ledger.ErrInvalidAsset)
	}
	if err := next.Tokens.Mint(e.Asset, e.Amount); err != nil {
		return err
	}
	if err := c.margin.CheckSolvency(next); err != nil {
		return fmt.Errorf("mint %d %s: %w", e.Amount, e.Asset, err)
	}
	jg.Mint(e.Account, e.Asset, e.Amount)
	return nil
}

// burn never needs a solvency check: retiring equal available and debt
// cannot lower account value.
func (c *Clearinghouse) burn(next *state.Account, jg *ledger.JournalGenerator, e *event.Burn) error {
	if err := next.Tokens.Burn(e.Asset, e.Amount); err != nil {
		return err
	}
	jg.Burn(e.Account, e.Asset, e.Amount)
	return nil
}

func (c *Clearinghouse) settleSwap(next *state.Account, jg *ledger.JournalGenerator, e *event.SwapSettle) error {
	if _, ok := c.markets.PricedMarket(e.Asset); !ok {
		return fmt.Errorf("swap %s: %w", e.Asset, ledger.ErrInvalidAsset)
	}
	if e.BaseDelta == 0 && e.NotionalDelta == 0 {
		return fmt.Errorf("empty swap fill: %w", ledger.ErrInvalidAmount)
	}

	switch {
	case e.BaseDelta > 0:
		next.Tokens.Credit(e.Asset, e.BaseDelta)
	case e.BaseDelta < 0:
		next.Tokens.Register(e.Asset)
		if err := next.Tokens.Debit(e.Asset, -e.BaseDelta); err != nil {
			return fmt.Errorf("swap sells more than held: %w", err)
		}
	}
	next.Tokens.AdjustOpenNotional(e.Asset, e.NotionalDelta)

	if err := c.margin.CheckSolvency(next); err != nil {
		return fmt.Errorf("swap %s: %w", e.Asset, err)
	}
	jg.SwapSettled(e.Account, e.Asset, e.BaseDelta, e.NotionalDelta)
	return nil
}

// === Liquidity ===

func (c *Clearinghouse) addLiquidity(next *state.Account, jg *ledger.JournalGenerator, e *event.AddLiquidity) error {
	change, err := c.positions.PlanAdd(next, e.Asset, e.LowerTick, e.UpperTick, e.Amount0Desired, e.Amount1Desired)
	if err != nil {
		return err
	}
	if err := c.margin.CheckSolvency(next); err != nil {
		return fmt.Errorf("add liquidity %s [%d, %d]: %w", e.Asset, e.LowerTick, e.UpperTick, err)
	}
	if err := c.positions.CommitAdd(next, change); err != nil {
		return err
	}

	symbol := c.symbol(e.Asset)
	jg.FeesCollected(e.Account, symbol, e.Asset, change.Fee0, change.Fee1)
	jg.LiquidityAdded(e.Account, symbol, e.Asset, change.Amount0, change.Amount1)
	c.recordLiquidity(e.Asset, "add", change)
	return nil
}

// removeLiquidity collects fees, burns and credits principal. It has no
// solvency check; the pool burn is its last fallible step.
func (c *Clearinghouse) removeLiquidity(next *state.Account, jg *ledger.JournalGenerator, e *event.RemoveLiquidity) error {
	if e.Liquidity == nil {
		return fmt.Errorf("remove liquidity without amount: %w", ledger.ErrInvalidAmount)
	}
	change, err := c.positions.Remove(next, e.Asset, e.LowerTick, e.UpperTick, e.Liquidity)
	if err != nil {
		return err
	}

	symbol := c.symbol(e.Asset)
	jg.FeesCollected(e.Account, symbol, e.Asset, change.Fee0, change.Fee1)
	jg.LiquidityRemoved(e.Account, symbol, e.Asset, change.Amount0, change.Amount1)
	c.recordLiquidity(e.Asset, "remove", change)
	return nil
}

func (c *Clearinghouse) symbol(asset ledger.AssetID) string {
	if m, ok := c.markets.Market(asset); ok {
		return m.Symbol
	}
	return asset.String()
}

func (c *Clearinghouse) recordLiquidity(asset ledger.AssetID, op string, change *state.LiquidityChange) {
	if c.metrics == nil {
		return
	}
	c.metrics.LiquidityOps.WithLabelValues(asset.String(), op).Inc()
	if change.Fee0 > 0 {
		c.metrics.FeesCollected.WithLabelValues(asset.String()).Add(float64(change.Fee0))
	}
	if change.Fee1 > 0 {
		c.metrics.FeesCollected.WithLabelValues(c.markets.Quote().String()).Add(float64(change.Fee1))
	}
}

// === Feeds ===

func (c *Clearinghouse) applyIndexPrice(e *event.IndexPriceUpdate) (*StateDelta, error) {
	if _, ok := c.markets.PricedMarket(e.Asset); !ok {
		return nil, fmt.Errorf("index price for %s: %w", e.Asset, ledger.ErrInvalidAsset)
	}
	if e.Price <= 0 {
		return nil, fmt.Errorf("index price %d: %w", e.Price, ledger.ErrInvalidAmount)
	}
	sink, ok := c.oracle.(PriceSink)
	if !ok {
		return nil, ErrNoPriceSink
	}
	if !c.sequenceValidator.ValidateFeedSequence(feedPartition(e.EventType(), e.Asset), e.PriceSequence) {
		return nil, fmt.Errorf("%s price sequence %d superseded: %w", e.Asset, e.PriceSequence, ErrDuplicate)
	}

	img := PriceImage{Asset: e.Asset, Price: e.Price, Sequence: e.PriceSequence, Timestamp: e.PriceTimestamp}
	sink.Set(e.Asset, quoteOf(img))
	return &StateDelta{IndexPrice: &img}, nil
}

func quoteOf(img PriceImage) oracle.Quote {
	return oracle.Quote{
		Price:     img.Price,
		Timestamp: time.UnixMicro(img.Timestamp).UTC(),
		Sequence:  img.Sequence,
	}
}

// applyPoolUpdate accrues fees to the liquidity in range at the old price,
// then moves the price.
func (c *Clearinghouse) applyPoolUpdate(e *event.PoolUpdate) (*StateDelta, error) {
	if _, ok := c.markets.PricedMarket(e.Asset); !ok {
		return nil, fmt.Errorf("pool update for %s: %w", e.Asset, ledger.ErrInvalidAsset)
	}
	if e.Fee0 < 0 || e.Fee1 < 0 {
		return nil, fmt.Errorf("pool fees (%d, %d): %w", e.Fee0, e.Fee1, ledger.ErrInvalidAmount)
	}
	if e.SqrtPriceX96 != nil && (e.SqrtPriceX96.Lt(fpmath.MinSqrtRatio) || !e.SqrtPriceX96.Lt(fpmath.MaxSqrtRatio)) {
		return nil, fmt.Errorf("sqrt price %s out of range: %w", e.SqrtPriceX96.Dec(), ledger.ErrInvalidAmount)
	}
	if _, err := c.pool.SqrtPriceX96(e.Asset); err != nil {
		return nil, fmt.Errorf("pool %s: %w", e.Asset, err)
	}
	if !c.sequenceValidator.ValidateFeedSequence(feedPartition(e.EventType(), e.Asset), e.UpdateSequence) {
		return nil, fmt.Errorf("%s pool sequence %d superseded: %w", e.Asset, e.UpdateSequence, ErrDuplicate)
	}

	if err := c.pool.AccrueFees(e.Asset, e.Fee0, e.Fee1); err != nil {
		panic(fmt.Sprintf("FATAL: accrue fees on validated pool %s: %v", e.Asset, err))
	}
	if e.SqrtPriceX96 != nil {
		if err := c.pool.MoveTo(e.Asset, e.SqrtPriceX96); err != nil {
			panic(fmt.Sprintf("FATAL: move validated pool %s: %v", e.Asset, err))
		}
	}
	st, err := c.pool.Export(e.Asset)
	if err != nil {
		panic(fmt.Sprintf("FATAL: export pool %s: %v", e.Asset, err))
	}
	return &StateDelta{Pool: &st}, nil
}

func (c *Clearinghouse) applyRiskParams(e *event.RiskParamUpdate) (*StateDelta, error) {
	params := state.RiskParams{IMRatio: e.IMRatio, EffectiveSeq: e.EffectiveSeq}
	if err := state.ValidateRiskParams(params); err != nil {
		return nil, fmt.Errorf("risk params: %v: %w", err, ledger.ErrInvalidAmount)
	}
	if cur := c.markets.RiskParams(); e.EffectiveSeq <= cur.EffectiveSeq {
		return nil, fmt.Errorf("risk params seq %d, current %d: %w", e.EffectiveSeq, cur.EffectiveSeq, ErrDuplicate)
	}
	if err := c.markets.UpdateRiskParams(params); err != nil {
		return nil, err
	}
	return &StateDelta{RiskParams: &params}, nil
}
