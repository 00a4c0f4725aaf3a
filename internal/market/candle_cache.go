package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

// CandleSeries is a cached series tagged with the resolver generation it
// was fetched under.
type CandleSeries struct {
	Generation uint64          `json:"generation"`
	Candles    []common.Candle `json:"candles"`
}

func (s CandleSeries) clone() CandleSeries {
	s.Candles = append([]common.Candle(nil), s.Candles...)
	return s
}

// CandleCache stores the latest series per (symbol, timeframe). Set always
// overwrites.
type CandleCache interface {
	Get(ctx context.Context, symbol, timeframe string) (CandleSeries, bool, error)
	Set(ctx context.Context, symbol, timeframe string, series CandleSeries) error
	Clear(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
}

// MemoryCandleCache keeps series in process memory.
type MemoryCandleCache struct {
	items *cache.Sharded[CandleSeries]
}

func NewMemoryCandleCache() *MemoryCandleCache {
	return &MemoryCandleCache{items: cache.NewSharded[CandleSeries]()}
}

func (m *MemoryCandleCache) Get(_ context.Context, symbol, timeframe string) (CandleSeries, bool, error) {
	v, ok := m.items.Get(candleKey(symbol, timeframe))
	if !ok {
		return CandleSeries{}, false, nil
	}
	return v.clone(), true, nil
}

func (m *MemoryCandleCache) Set(_ context.Context, symbol, timeframe string, series CandleSeries) error {
	m.items.Set(candleKey(symbol, timeframe), series.clone())
	return nil
}

func (m *MemoryCandleCache) Clear(context.Context) (int, error) {
	return m.items.Clear(), nil
}

func (m *MemoryCandleCache) Len(context.Context) (int, error) {
	return m.items.Len(), nil
}

func candleKey(symbol, timeframe string) string {
	return symbol + ":" + timeframe
}

// RedisCandleCache stores JSON-encoded series in Redis under
// "<namespace>:<symbol>:<timeframe>". Redis is shared across processes, so
// the generation tag only fences readers of this process; account switches
// clear the namespace.
type RedisCandleCache struct {
	rdb       redis.Cmdable
	ttl       time.Duration
	namespace string
}

// NewRedisCandleCache builds a Redis-backed cache. ttl defaults to 5 minutes
// and namespace to "candles".
func NewRedisCandleCache(rdb redis.Cmdable, ttl time.Duration, namespace string) *RedisCandleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if namespace == "" {
		namespace = "candles"
	}
	return &RedisCandleCache{rdb: rdb, ttl: ttl, namespace: namespace}
}

func (r *RedisCandleCache) key(symbol, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s", r.namespace, safeKey(symbol), safeKey(timeframe))
}

func (r *RedisCandleCache) Get(ctx context.Context, symbol, timeframe string) (CandleSeries, bool, error) {
	key := r.key(symbol, timeframe)
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CandleSeries{}, false, nil
	}
	if err != nil {
		return CandleSeries{}, false, err
	}
	var out CandleSeries
	if err := json.Unmarshal(b, &out); err != nil {
		// Corrupted entry; drop it and report a miss.
		_ = r.rdb.Del(ctx, key).Err()
		return CandleSeries{}, false, nil
	}
	return out, true, nil
}

func (r *RedisCandleCache) Set(ctx context.Context, symbol, timeframe string, series CandleSeries) error {
	b, err := json.Marshal(series)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(symbol, timeframe), b, r.ttl).Err()
}

func (r *RedisCandleCache) Clear(ctx context.Context) (int, error) {
	removed := 0
	err := r.scan(ctx, func(keys []string) error {
		n, err := r.rdb.Del(ctx, keys...).Result()
		removed += int(n)
		return err
	})
	return removed, err
}

func (r *RedisCandleCache) Len(ctx context.Context) (int, error) {
	total := 0
	err := r.scan(ctx, func(keys []string) error {
		total += len(keys)
		return nil
	})
	return total, err
}

func (r *RedisCandleCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.namespace+":*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func safeKey(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ":", "_")
}
