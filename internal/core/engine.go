package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"CurieLedger/internal/amm"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/observability"
	"CurieLedger/internal/oracle"
	"CurieLedger/internal/state"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Custody settles the real backing collateral of deposits and withdrawals.
type Custody interface {
	CreditCollateral(ctx context.Context, account ledger.AccountID, amount int64) error
	DebitCollateral(ctx context.Context, account ledger.AccountID, amount int64) error
}

// PoolBackend is the AMM collaborator plus the hooks used to sequence pool
// updates and to record pool state in the event log.
type PoolBackend interface {
	state.Pool
	AccrueFees(asset ledger.AssetID, fee0, fee1 int64) error
	MoveTo(asset ledger.AssetID, sqrtPriceX96 *uint256.Int) error
	Export(asset ledger.AssetID) (amm.PoolState, error)
	Import(st amm.PoolState) error
	Assets() []ledger.AssetID
}

// PriceSink is implemented by oracles that take sequenced index prices.
type PriceSink interface {
	Set(asset ledger.AssetID, q oracle.Quote) bool
	Snapshot() map[ledger.AssetID]oracle.Quote
}

type Config struct {
	StartSequence       int64 // first output sequence; 0 means 1
	Markets             *state.MarketRegistry
	Pool                PoolBackend
	Oracle              state.Oracle
	Custody             Custody // nil: collateral moves are not settled externally
	PersistChan         chan<- CoreOutput
	ProjectionChan      chan<- CoreOutput
	DBChecker           DBIdempotencyChecker
	IdempotencyCapacity int
	Metrics             *observability.Metrics
	Logger              *zerolog.Logger
}

// Clearinghouse is the ledger core. Each account has a single writer: an
// operation holds the account's lock while it mutates a clone, validates it,
// and commits it. Emission (global sequence, hash chain, journals) and every
// pool mutation run under the sequencer lock.
//
// marketMu guards pool and oracle state. Feed updates and liquidity changes
// hold it exclusively; margin-checked operations hold it shared from check to
// commit, so no market move is sequenced between the two. Lock order is
// account, marketMu, seqMu.
type Clearinghouse struct {
	markets   *state.MarketRegistry
	pool      PoolBackend
	oracle    state.Oracle
	custody   Custody
	positions *state.PositionManager
	valuator  *state.Valuator
	margin    *state.MarginEngine

	accounts          *accountStore
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	marketMu       sync.RWMutex
	seqMu          sync.Mutex
	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	validator      *ledger.InvariantValidator

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// StateDelta is the post-event state recorded with every output. Replaying the
// deltas in sequence order rebuilds the clearinghouse without the collaborators.
type StateDelta struct {
	Account    *state.AccountImage `json:"account,omitempty"`
	Pool       *amm.PoolState      `json:"pool,omitempty"`
	IndexPrice *PriceImage         `json:"index_price,omitempty"`
	RiskParams *state.RiskParams   `json:"risk_params,omitempty"`
}

type PriceImage struct {
	Asset     ledger.AssetID `json:"asset"`
	Price     int64          `json:"price"`
	Sequence  int64          `json:"sequence"`
	Timestamp int64          `json:"timestamp"` // epoch microseconds
}

func NewClearinghouse(cfg Config) *Clearinghouse {
	markets := cfg.Markets
	if markets == nil {
		markets = state.MustDefaultRegistry()
	}
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	startSequence := cfg.StartSequence
	if startSequence <= 0 {
		startSequence = 1
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	balanceTracker := ledger.NewBalanceTracker()
	valuator := state.NewValuator(markets, cfg.Pool, cfg.Oracle)

	return &Clearinghouse{
		markets:           markets,
		pool:              cfg.Pool,
		oracle:            cfg.Oracle,
		custody:           cfg.Custody,
		positions:         state.NewPositionManager(markets, cfg.Pool),
		valuator:          valuator,
		margin:            state.NewMarginEngine(markets, valuator),
		accounts:          newAccountStore(),
		idempotency:       NewIdempotencyChecker(capacity, cfg.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		metrics:           cfg.Metrics,
		logger:            logger,
		persistChan:       cfg.PersistChan,
		projectionChan:    cfg.ProjectionChan,
	}
}

// ProcessEvent runs one command or feed update through the pipeline and
// returns the emitted output. Rejections return an error and leave no trace.
func (c *Clearinghouse) ProcessEvent(ctx context.Context, evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()

	var out *CoreOutput
	var err error
	if ae, ok := evt.(event.AccountEvent); ok {
		out, err = c.processAccountEvent(ctx, ae)
	} else {
		out, err = c.processFeedEvent(evt)
	}
	if err != nil {
		c.reject(evt, err)
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreAccounts.Set(float64(c.accounts.len()))
	}
	return out, nil
}

func (c *Clearinghouse) reject(evt event.Event, err error) {
	eventType := evt.EventType().String()
	reason := rejectReason(err)
	c.logger.Debug().
		Str("event_type", eventType).
		Str("idempotency_key", evt.IdempotencyKey()).
		Str("reason", reason).
		Err(err).
		Msg("event rejected")
	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	switch {
	case errors.Is(err, state.ErrMarginInsufficient):
		c.metrics.MarginRejections.WithLabelValues(eventType, "margin_insufficient").Inc()
	case errors.Is(err, state.ErrInsufficientFreeCollateral):
		c.metrics.MarginRejections.WithLabelValues(eventType, "free_collateral").Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrOutOfOrder), errors.Is(err, ErrSequenceGap):
		return "sequence"
	case errors.Is(err, state.ErrMarginInsufficient), errors.Is(err, state.ErrInsufficientFreeCollateral):
		return "margin"
	case errors.Is(err, ErrCustody):
		return "custody"
	case errors.Is(err, state.ErrPriceUnavailable), errors.Is(err, state.ErrPoolUnavailable), errors.Is(err, state.ErrPriceMoved),
		errors.Is(err, oracle.ErrNoPrice), errors.Is(err, oracle.ErrStalePrice), errors.Is(err, amm.ErrUnknownPool):
		return "market_data"
	default:
		return "validation"
	}
}

func accountPartition(id ledger.AccountID) string {
	return "account:" + id.String()
}

func feedPartition(et event.EventType, asset ledger.AssetID) string {
	switch et {
	case event.EventTypeIndexPriceUpdate:
		return "price:" + asset.String()
	case event.EventTypePoolUpdate:
		return "pool:" + asset.String()
	}
	return "global"
}

func (c *Clearinghouse) processAccountEvent(ctx context.Context, evt event.AccountEvent) (*CoreOutput, error) {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	id := evt.AccountID()

	slot := c.accounts.slot(id)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	// Step 1: Idempotency check (two-tier)
	if dup, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey); dup {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		return nil, fmt.Errorf("%s %s: %w", eventType, idempotencyKey, ErrDuplicate)
	}

	// Step 2: Sequence validation
	partition := accountPartition(id)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence()); err != nil {
		if c.metrics != nil {
			if errors.Is(err, ErrSequenceGap) {
				c.metrics.EventSequenceGap.WithLabelValues("account").Inc()
			} else {
				c.metrics.EventOutOfOrder.WithLabelValues("account").Inc()
			}
		}
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}

	// Step 3: tentative mutation of a clone. Operations that touch the pool
	// run under the sequencer so the pool state they read is the state they
	// record.
	handle, access, err := c.accountHandler(evt)
	if err != nil {
		return nil, err
	}
	switch access {
	case marketRead:
		c.marketMu.RLock()
		defer c.marketMu.RUnlock()
	case marketWrite:
		c.marketMu.Lock()
		defer c.marketMu.Unlock()
	}
	touchesPool := access == marketWrite

	next := slot.load().Clone()
	jg := ledger.NewJournalGenerator(idempotencyKey, evt.EventTime(), c.markets.Quote())
	if !touchesPool {
		if _, err := handle(ctx, next, jg); err != nil {
			return nil, err
		}
	}

	out, err := c.sequenced(evt, &id, payload, func() (*ledger.Batch, *StateDelta, error) {
		var poolAsset *ledger.AssetID
		if touchesPool {
			asset, err := handle(ctx, next, jg)
			if err != nil {
				return nil, nil, err
			}
			poolAsset = asset
		}

		img := next.Image()
		delta := &StateDelta{Account: &img}
		if poolAsset != nil {
			st, err := c.pool.Export(*poolAsset)
			if err != nil {
				panic(fmt.Sprintf("FATAL: export pool %s after %s: %v", *poolAsset, eventType, err))
			}
			delta.Pool = &st
		}

		// Step 4: commit
		slot.store(next)
		return jg.Batch(), delta, nil
	})
	if err != nil {
		return nil, err
	}
	c.sequenceValidator.Advance(partition, evt.SourceSequence())
	return out, nil
}

func (c *Clearinghouse) processFeedEvent(evt event.Event) (*CoreOutput, error) {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}

	c.marketMu.Lock()
	defer c.marketMu.Unlock()

	return c.sequenced(evt, nil, payload, func() (*ledger.Batch, *StateDelta, error) {
		if dup, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey); dup {
			if c.metrics != nil {
				c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
			}
			return nil, nil, fmt.Errorf("%s %s: %w", eventType, idempotencyKey, ErrDuplicate)
		}

		var delta *StateDelta
		var err error
		switch e := evt.(type) {
		case *event.IndexPriceUpdate:
			delta, err = c.applyIndexPrice(e)
		case *event.PoolUpdate:
			delta, err = c.applyPoolUpdate(e)
		case *event.RiskParamUpdate:
			delta, err = c.applyRiskParams(e)
		default:
			err = fmt.Errorf("%T: %w", evt, ErrUnknownEvent)
		}
		if err != nil {
			return nil, nil, err
		}
		// feed updates move no balances
		batch := ledger.NewJournalGenerator(idempotencyKey, evt.EventTime(), c.markets.Quote()).Batch()
		return batch, delta, nil
	})
}

// sequenced runs apply under the sequencer lock and emits its result as the
// next output in the chain.
func (c *Clearinghouse) sequenced(
	evt event.Event,
	account *ledger.AccountID,
	payload []byte,
	apply func() (*ledger.Batch, *StateDelta, error),
) (*CoreOutput, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	batch, delta, err := apply()
	if err != nil {
		return nil, err
	}

	deltaBytes, err := json.Marshal(delta)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode state delta: %v", err))
	}

	// Step 5: journals into the audit mirror
	stateHash, prevHash := c.record(batch, deltaBytes)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Account:        account,
		Asset:          evt.AssetID(),
		Timestamp:      time.UnixMicro(evt.EventTime()).UTC(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	batch.Stamp(c.sequence)

	// Step 6: post-checks
	if account != nil {
		acct := c.accounts.get(*account)
		if err := c.validator.ValidateAccountMirror(acct.ID, acct.Collateral, acct.Tokens, c.markets.Quote()); err != nil {
			c.logger.Error().Err(err).Int64("sequence", c.sequence).Msg("ledger mirror diverged")
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: deltaBytes,
	}
	c.sequence++

	// Step 7: emit. Persistence blocks (no output may be lost); projections
	// drop on full and rebuild from the log.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	// Step 8: mark as processed
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())

	if c.metrics != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
	}
	return &output, nil
}

// record applies a batch to the balance tracker and advances the hash chain.
// Callers hold seqMu.
func (c *Clearinghouse) record(batch *ledger.Batch, delta []byte) (stateHash, prevHash [32]byte) {
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
	}
	prevHash = c.hasher.GetPrevHash()
	stateHash = c.hasher.ComputeHash(c.sequence, c.computeStateDigest(batch, delta))
	return stateHash, prevHash
}

// computeStateDigest creates canonical bytes for the state hash: the state
// delta followed by the post-batch balance of every touched ledger account.
func (c *Clearinghouse) computeStateDigest(batch *ledger.Batch, delta []byte) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affectedAccounts[j.DebitAccount] = true
		affectedAccounts[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(delta)+len(accounts)*64)
	digest = append(digest, delta...)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// GetSequence returns the next global sequence number.
func (c *Clearinghouse) GetSequence() int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Clearinghouse) GetStateHash() [32]byte {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.hasher.GetPrevHash()
}

// Markets exposes the market registry.
func (c *Clearinghouse) Markets() *state.MarketRegistry {
	return c.markets
}
