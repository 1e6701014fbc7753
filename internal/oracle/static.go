// Package oracle provides index price feeds for priced assets.
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"CurieLedger/internal/ledger"
)

var (
	ErrNoPrice    = errors.New("no index price")
	ErrStalePrice = errors.New("stale index price")
)

// Quote is one index price observation.
type Quote struct {
	Price     int64 // PriceConfig scale
	Timestamp time.Time
	Sequence  int64
}

// Static is an in-memory feed, updated by the price subscriber or by tests.
type Static struct {
	mu     sync.RWMutex
	prices map[ledger.AssetID]Quote
}

func NewStatic() *Static {
	return &Static{prices: make(map[ledger.AssetID]Quote)}
}

// Set records a price. Updates with a sequence not above the stored one are
// ignored and reported as not applied; sequence 0 always applies.
func (s *Static) Set(asset ledger.AssetID, q Quote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.prices[asset]; ok && q.Sequence != 0 && q.Sequence <= cur.Sequence {
		return false
	}
	s.prices[asset] = q
	return true
}

// SetPrice is Set with the current time and no sequence.
func (s *Static) SetPrice(asset ledger.AssetID, price int64) {
	s.Set(asset, Quote{Price: price, Timestamp: time.Now().UTC()})
}

func (s *Static) IndexPrice(asset ledger.AssetID) (int64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.prices[asset]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%s: %w", asset, ErrNoPrice)
	}
	return q.Price, q.Timestamp, nil
}

// Snapshot returns all stored quotes.
func (s *Static) Snapshot() map[ledger.AssetID]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ledger.AssetID]Quote, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}
