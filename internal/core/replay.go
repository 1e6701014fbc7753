package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"CurieLedger/internal/amm"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/state"
)

// SnapshotState is the full in-memory state at one output sequence.
type SnapshotState struct {
	Sequence         int64                       `json:"sequence"` // last applied output
	StateHash        [32]byte                    `json:"state_hash"`
	Accounts         []state.AccountImage        `json:"accounts"`
	AccountsChecksum [32]byte                    `json:"accounts_checksum"`
	Pools            []amm.PoolState             `json:"pools"`
	Prices           []PriceImage                `json:"prices"`
	RiskParams       state.RiskParams            `json:"risk_params"`
	Balances         map[ledger.AccountKey]int64 `json:"balances"`
	SequenceState    map[string]int64            `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys  []string                    `json:"idempotency_keys"` // oldest first
	CreatedAt        time.Time                   `json:"created_at"`
}

// accountsChecksum hashes the canonical bytes of every account in id order.
func accountsChecksum(accounts []*state.Account) [32]byte {
	h := sha256.New()
	for _, a := range accounts {
		h.Write(a.CanonicalBytes())
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// CreateSnapshotState captures the clearinghouse between two outputs. It holds
// the sequencer for the duration, so no commit or pool change interleaves.
func (c *Clearinghouse) CreateSnapshotState() (*SnapshotState, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return nil, fmt.Errorf("refusing snapshot: %w", err)
	}

	ids := c.accounts.ids()
	accounts := make([]*state.Account, 0, len(ids))
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Accounts:        make([]state.AccountImage, 0, len(ids)),
		RiskParams:      c.markets.RiskParams(),
		Balances:        c.balanceTracker.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
		CreatedAt:       time.Now().UTC(),
	}
	for _, id := range ids {
		acct := c.accounts.get(id)
		accounts = append(accounts, acct)
		snap.Accounts = append(snap.Accounts, acct.Image())
	}
	snap.AccountsChecksum = accountsChecksum(accounts)

	if c.pool != nil {
		assets := c.pool.Assets()
		sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
		for _, asset := range assets {
			st, err := c.pool.Export(asset)
			if err != nil {
				return nil, fmt.Errorf("export pool %s: %w", asset, err)
			}
			snap.Pools = append(snap.Pools, st)
		}
	}

	if sink, ok := c.oracle.(PriceSink); ok {
		for asset, q := range sink.Snapshot() {
			snap.Prices = append(snap.Prices, PriceImage{
				Asset:     asset,
				Price:     q.Price,
				Sequence:  q.Sequence,
				Timestamp: q.Timestamp.UnixMicro(),
			})
		}
		sort.Slice(snap.Prices, func(i, j int) bool { return snap.Prices[i].Asset < snap.Prices[j].Asset })
	}
	return snap, nil
}

// RestoreFromSnapshot replaces all state with snap. It is used at startup,
// before any event is processed.
func (c *Clearinghouse) RestoreFromSnapshot(snap *SnapshotState) error {
	c.marketMu.Lock()
	defer c.marketMu.Unlock()
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	accounts := make([]*state.Account, 0, len(snap.Accounts))
	for _, img := range snap.Accounts {
		acct, err := state.AccountFromImage(img)
		if err != nil {
			return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
		}
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return bytes.Compare(accounts[i].ID[:], accounts[j].ID[:]) < 0 })
	if accountsChecksum(accounts) != snap.AccountsChecksum {
		return fmt.Errorf("snapshot %d accounts checksum: %w", snap.Sequence, ErrReplayMismatch)
	}

	c.accounts.reset()
	for _, acct := range accounts {
		c.accounts.replace(acct)
	}
	for _, st := range snap.Pools {
		if err := c.pool.Import(st); err != nil {
			return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
		}
	}
	if err := c.installPrices(snap.Prices); err != nil {
		return err
	}
	if err := c.markets.UpdateRiskParams(snap.RiskParams); err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}

	c.balanceTracker.Restore(snap.Balances)
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("snapshot %d: %v: %w", snap.Sequence, err, ErrReplayMismatch)
	}
	for _, acct := range accounts {
		if err := c.validator.ValidateAccountMirror(acct.ID, acct.Collateral, acct.Tokens, c.markets.Quote()); err != nil {
			return fmt.Errorf("snapshot %d: %v: %w", snap.Sequence, err, ErrReplayMismatch)
		}
	}

	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.WarmFromKeys(snap.IdempotencyKeys)
	c.hasher.SetPrevHash(snap.StateHash)
	c.sequence = snap.Sequence + 1

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("accounts", len(accounts)).
		Int("pools", len(snap.Pools)).
		Msg("state restored from snapshot")
	return nil
}

func (c *Clearinghouse) installPrices(prices []PriceImage) error {
	if len(prices) == 0 {
		return nil
	}
	sink, ok := c.oracle.(PriceSink)
	if !ok {
		return ErrNoPriceSink
	}
	for _, p := range prices {
		sink.Set(p.Asset, quoteOf(p))
	}
	return nil
}

// Replay applies one logged output. The recorded state images are installed
// verbatim, the journals go through the audit mirror, and the recomputed hash
// must match the logged one. Outputs must be replayed in sequence order.
func (c *Clearinghouse) Replay(env *event.EventEnvelope, batch *ledger.Batch, delta []byte) error {
	c.marketMu.Lock()
	defer c.marketMu.Unlock()
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay sequence %d, expected %d: %w", env.Sequence, c.sequence, ErrReplayMismatch)
	}
	if env.PrevHash != c.hasher.GetPrevHash() {
		return fmt.Errorf("replay sequence %d prev hash: %w", env.Sequence, ErrReplayMismatch)
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("replay sequence %d: %v: %w", env.Sequence, err, ErrReplayMismatch)
	}

	var sd StateDelta
	if err := json.Unmarshal(delta, &sd); err != nil {
		return fmt.Errorf("replay sequence %d: decode delta: %w", env.Sequence, err)
	}
	if err := c.installDelta(&sd); err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}

	stateHash, _ := c.record(batch, delta)
	if stateHash != env.StateHash {
		return fmt.Errorf("replay sequence %d state hash: %w", env.Sequence, ErrReplayMismatch)
	}
	if env.Account != nil {
		acct := c.accounts.get(*env.Account)
		if err := c.validator.ValidateAccountMirror(acct.ID, acct.Collateral, acct.Tokens, c.markets.Quote()); err != nil {
			return fmt.Errorf("replay sequence %d: %v: %w", env.Sequence, err, ErrReplayMismatch)
		}
		c.sequenceValidator.Advance(accountPartition(*env.Account), env.SourceSequence)
	} else if env.Asset != nil {
		c.sequenceValidator.ValidateFeedSequence(feedPartition(env.EventType, *env.Asset), env.SourceSequence)
	}

	c.idempotency.MarkProcessed(env.EventType.String(), env.IdempotencyKey)
	c.sequence++
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	return nil
}

func (c *Clearinghouse) installDelta(sd *StateDelta) error {
	if sd.Account != nil {
		acct, err := state.AccountFromImage(*sd.Account)
		if err != nil {
			return err
		}
		c.accounts.replace(acct)
	}
	if sd.Pool != nil {
		if err := c.pool.Import(*sd.Pool); err != nil {
			return err
		}
	}
	if sd.IndexPrice != nil {
		if err := c.installPrices([]PriceImage{*sd.IndexPrice}); err != nil {
			return err
		}
	}
	if sd.RiskParams != nil {
		if err := c.markets.UpdateRiskParams(*sd.RiskParams); err != nil {
			return err
		}
	}
	return nil
}

// WarmLRU loads recently applied idempotency keys (composite, oldest first).
func (c *Clearinghouse) WarmLRU(keys []string) {
	c.idempotency.WarmFromKeys(keys)
}

// IdempotencyStats returns the LRU and database duplicate counts.
func (c *Clearinghouse) IdempotencyStats() (lru, postgres int64) {
	return c.idempotency.GetMetrics().GetDuplicates()
}
