package oracle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisFeed reads index prices published by the price service into Redis hashes
// at curie:index:{SYMBOL} with fields "price" (decimal string) and "ts" (unix
// microseconds). Reads are cached locally for cacheTTL.
type RedisFeed struct {
	rdb      *redis.Client
	timeout  time.Duration
	cacheTTL time.Duration

	// MaxAge rejects quotes older than this; zero disables the check.
	MaxAge time.Duration

	mu    sync.Mutex
	cache map[ledger.AssetID]cachedQuote
	now   func() time.Time
}

type cachedQuote struct {
	quote   Quote
	fetched time.Time
}

func NewRedisFeed(rdb *redis.Client, timeout, cacheTTL, maxAge time.Duration) *RedisFeed {
	return &RedisFeed{
		rdb:      rdb,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		MaxAge:   maxAge,
		cache:    make(map[ledger.AssetID]cachedQuote),
		now:      time.Now,
	}
}

func indexKey(asset ledger.AssetID) string {
	return "curie:index:" + asset.String()
}

func (f *RedisFeed) IndexPrice(asset ledger.AssetID) (int64, time.Time, error) {
	now := f.now()

	f.mu.Lock()
	c, ok := f.cache[asset]
	f.mu.Unlock()

	if !ok || now.Sub(c.fetched) > f.cacheTTL {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		q, err := f.fetch(ctx, asset)
		cancel()
		if err != nil {
			return 0, time.Time{}, err
		}
		c = cachedQuote{quote: q, fetched: now}
		f.mu.Lock()
		f.cache[asset] = c
		f.mu.Unlock()
	}

	if f.MaxAge > 0 && now.Sub(c.quote.Timestamp) > f.MaxAge {
		return 0, time.Time{}, fmt.Errorf("%s quoted at %s: %w", asset, c.quote.Timestamp.Format(time.RFC3339), ErrStalePrice)
	}
	return c.quote.Price, c.quote.Timestamp, nil
}

func (f *RedisFeed) fetch(ctx context.Context, asset ledger.AssetID) (Quote, error) {
	fields, err := f.rdb.HGetAll(ctx, indexKey(asset)).Result()
	if err != nil {
		return Quote{}, fmt.Errorf("redis %s: %w", indexKey(asset), err)
	}
	raw, ok := fields["price"]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", asset, ErrNoPrice)
	}
	price, err := ParsePrice(raw)
	if err != nil {
		return Quote{}, fmt.Errorf("%s: %w", asset, err)
	}
	var ts time.Time
	if rawTS, ok := fields["ts"]; ok {
		micros, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("%s timestamp %q: %w", asset, rawTS, err)
		}
		ts = time.UnixMicro(micros).UTC()
	}
	return Quote{Price: price, Timestamp: ts}, nil
}

// Publish writes a quote; used by operators and integration tests.
func (f *RedisFeed) Publish(ctx context.Context, asset ledger.AssetID, price int64, at time.Time) error {
	return f.rdb.HSet(ctx, indexKey(asset),
		"price", FormatPrice(price),
		"ts", strconv.FormatInt(at.UnixMicro(), 10),
	).Err()
}

// ParsePrice converts a decimal string into PriceConfig fixed point, rounding half-even.
func ParsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", s, err)
	}
	scaled := d.Shift(int32(fpmath.PriceConfig.DecimalPrecision)).RoundBank(0)
	if !scaled.IsPositive() || !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %q out of range", s)
	}
	return scaled.IntPart(), nil
}

// FormatPrice renders a PriceConfig fixed-point price as a decimal string.
func FormatPrice(price int64) string {
	return decimal.New(price, -int32(fpmath.PriceConfig.DecimalPrecision)).String()
}
