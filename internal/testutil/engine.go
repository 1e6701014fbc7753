package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"CurieLedger/internal/amm"
	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"
	"CurieLedger/internal/oracle"
	"CurieLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	USDC = mustAsset("USDC")
	BTC  = mustAsset("BTC")
	ETH  = mustAsset("ETH")
)

const (
	ETHPrice int64 = 3_000_000_000  // 3000.0
	BTCPrice int64 = 60_000_000_000 // 60000.0

	// Pool ticks near the index prices, aligned to the default spacing of 60.
	ETHTick int32 = 80_040
	BTCTick int32 = 109_980
)

func mustAsset(symbol string) ledger.AssetID {
	id, ok := ledger.GetAssetID(symbol)
	if !ok {
		panic("unknown asset " + symbol)
	}
	return id
}

// Instruction is one recorded custody call.
type Instruction struct {
	Account ledger.AccountID
	Amount  int64
}

// Custody records settlement instructions and can be told to fail them.
type Custody struct {
	mu      sync.Mutex
	credits []Instruction
	debits  []Instruction
	err     error

	hold    chan struct{}
	entered chan struct{}
}

func (c *Custody) CreditCollateral(_ context.Context, account ledger.AccountID, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.credits = append(c.credits, Instruction{Account: account, Amount: amount})
	return nil
}

func (c *Custody) DebitCollateral(_ context.Context, account ledger.AccountID, amount int64) error {
	c.mu.Lock()
	hold, entered := c.hold, c.entered
	c.mu.Unlock()
	if hold != nil {
		entered <- struct{}{}
		<-hold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.debits = append(c.debits, Instruction{Account: account, Amount: amount})
	return nil
}

// FailWith makes every later call return err; nil restores success.
func (c *Custody) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// HoldDebits parks the next debit until release is called. entered receives
// once the debit is parked.
func (c *Custody) HoldDebits() (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
	c.entered = make(chan struct{}, 1)
	hold := c.hold
	return c.entered, func() {
		c.mu.Lock()
		c.hold, c.entered = nil, nil
		c.mu.Unlock()
		close(hold)
	}
}

func (c *Custody) Credits() []Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Instruction(nil), c.credits...)
}

func (c *Custody) Debits() []Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Instruction(nil), c.debits...)
}

// Engine is a clearinghouse wired to in-memory collaborators.
type Engine struct {
	*core.Clearinghouse
	Pools      *amm.Pools
	Oracle     *oracle.Static
	Custody    *Custody
	Persist    chan core.CoreOutput
	Projection chan core.CoreOutput

	ts atomic.Int64
}

// NewPools returns the ETH and BTC pools at ETHTick and BTCTick.
func NewPools(t testing.TB) *amm.Pools {
	t.Helper()
	pools := amm.NewPools()
	if err := pools.CreatePool(ETH, fpmath.GetSqrtRatioAtTick(ETHTick)); err != nil {
		t.Fatalf("create ETH pool: %v", err)
	}
	if err := pools.CreatePool(BTC, fpmath.GetSqrtRatioAtTick(BTCTick)); err != nil {
		t.Fatalf("create BTC pool: %v", err)
	}
	return pools
}

// NewEngine builds an engine with default markets, pools, index prices at
// ETHPrice and BTCPrice, and buffered output channels. configure may adjust
// the config before construction.
func NewEngine(t testing.TB, configure ...func(*core.Config)) *Engine {
	t.Helper()
	e := &Engine{
		Pools:      NewPools(t),
		Oracle:     oracle.NewStatic(),
		Custody:    &Custody{},
		Persist:    make(chan core.CoreOutput, 1024),
		Projection: make(chan core.CoreOutput, 1024),
	}
	e.Oracle.SetPrice(ETH, ETHPrice)
	e.Oracle.SetPrice(BTC, BTCPrice)

	cfg := core.Config{
		Markets:        state.MustDefaultRegistry(),
		Pool:           e.Pools,
		Oracle:         e.Oracle,
		Custody:        e.Custody,
		PersistChan:    e.Persist,
		ProjectionChan: e.Projection,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	e.Clearinghouse = core.NewClearinghouse(cfg)
	return e
}

func (e *Engine) now() int64 {
	return 1_700_000_000_000_000 + e.ts.Add(1_000)
}

// Apply processes evt and fails the test on error.
func (e *Engine) Apply(t testing.TB, evt event.Event) *core.CoreOutput {
	t.Helper()
	out, err := e.ProcessEvent(context.Background(), evt)
	if err != nil {
		t.Fatalf("%s: %v", evt.EventType(), err)
	}
	return out
}

// === Command builders (unsequenced) ===

func (e *Engine) Deposit(account ledger.AccountID, amount int64) *event.Deposit {
	return &event.Deposit{DepositID: uuid.New(), Account: account, Amount: amount, Timestamp: e.now()}
}

func (e *Engine) Withdraw(account ledger.AccountID, amount int64) *event.Withdraw {
	return &event.Withdraw{WithdrawalID: uuid.New(), Account: account, Amount: amount, Timestamp: e.now()}
}

func (e *Engine) Mint(account ledger.AccountID, asset ledger.AssetID, amount int64) *event.Mint {
	return &event.Mint{RequestID: uuid.New(), Account: account, Asset: asset, Amount: amount, Timestamp: e.now()}
}

func (e *Engine) Burn(account ledger.AccountID, asset ledger.AssetID, amount int64) *event.Burn {
	return &event.Burn{RequestID: uuid.New(), Account: account, Asset: asset, Amount: amount, Timestamp: e.now()}
}

func (e *Engine) Swap(account ledger.AccountID, asset ledger.AssetID, baseDelta, notionalDelta int64) *event.SwapSettle {
	return &event.SwapSettle{
		FillID:        uuid.New(),
		Account:       account,
		Asset:         asset,
		BaseDelta:     baseDelta,
		NotionalDelta: notionalDelta,
		Timestamp:     e.now(),
	}
}

func (e *Engine) AddLiquidity(account ledger.AccountID, asset ledger.AssetID, lower, upper int32, amount0, amount1 int64) *event.AddLiquidity {
	return &event.AddLiquidity{
		RequestID:      uuid.New(),
		Account:        account,
		Asset:          asset,
		LowerTick:      lower,
		UpperTick:      upper,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Timestamp:      e.now(),
	}
}

func (e *Engine) RemoveLiquidity(account ledger.AccountID, asset ledger.AssetID, lower, upper int32, liquidity *uint256.Int) *event.RemoveLiquidity {
	return &event.RemoveLiquidity{
		RequestID: uuid.New(),
		Account:   account,
		Asset:     asset,
		LowerTick: lower,
		UpperTick: upper,
		Liquidity: liquidity,
		Timestamp: e.now(),
	}
}

func (e *Engine) IndexPrice(asset ledger.AssetID, price, seq int64) *event.IndexPriceUpdate {
	return &event.IndexPriceUpdate{Asset: asset, Price: price, PriceSequence: seq, PriceTimestamp: e.now()}
}

func (e *Engine) PoolUpdate(asset ledger.AssetID, fee0, fee1 int64, sqrtPriceX96 *uint256.Int, seq int64) *event.PoolUpdate {
	return &event.PoolUpdate{
		Asset:          asset,
		Fee0:           fee0,
		Fee1:           fee1,
		SqrtPriceX96:   sqrtPriceX96,
		UpdateSequence: seq,
		Timestamp:      e.now(),
	}
}

// NewAccountID returns a random account id.
func NewAccountID() ledger.AccountID {
	var id ledger.AccountID
	u1, u2 := uuid.New(), uuid.New()
	copy(id[:16], u1[:])
	copy(id[16:], u2[:len(id)-16])
	return id
}
