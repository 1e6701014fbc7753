package core

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU of
// recently applied keys, backed by the persisted event log.
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU
	lru *lru.Cache[string, struct{}]

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   &IdempotencyMetrics{},
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate checks if event has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, string) {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.metrics.lruHits.Add(1)
		return true, "lru"
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// a DB outage must not block processing; the key is treated as new
			ic.metrics.tier2Errors.Add(1)
			return false, ""
		}
		if isDup {
			ic.metrics.dbHits.Add(1)
			ic.lru.Add(key, struct{}{})
			return true, "postgres"
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey), struct{}{})
}

// WarmFromKeys loads composite keys (oldest first) so that recently applied
// commands are rejected without a database round trip after restart.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

// Keys returns the cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// IdempotencyMetrics tracks dedup stats.
type IdempotencyMetrics struct {
	lruHits     atomic.Int64
	dbHits      atomic.Int64
	tier2Errors atomic.Int64
}

func (m *IdempotencyMetrics) GetDuplicates() (lru int64, postgres int64) {
	return m.lruHits.Load(), m.dbHits.Load()
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors.Load()
}
