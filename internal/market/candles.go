package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"execution-core/internal/gateway"
	"execution-core/internal/monitor"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
)

const (
	DefaultCandleCount = 100
	MaxCandleCount     = 5000
)

var ErrInvalidTimeframe = errors.New("invalid timeframe")

var timeframes = []string{
	"1m", "2m", "3m", "4m", "5m", "6m", "10m", "12m", "15m", "20m", "30m",
	"1h", "2h", "3h", "4h", "6h", "8h", "12h", "1d", "1w", "1mn",
}

var validTimeframes = func() map[string]struct{} {
	m := make(map[string]struct{}, len(timeframes))
	for _, tf := range timeframes {
		m[tf] = struct{}{}
	}
	return m
}()

// Timeframes lists the supported timeframes, shortest first.
func Timeframes() []string {
	return append([]string(nil), timeframes...)
}

// ValidTimeframe reports whether tf is supported.
func ValidTimeframe(tf string) bool {
	_, ok := validTimeframes[tf]
	return ok
}

// NormalizeCount applies the default and cap to a requested candle count.
func NormalizeCount(count int) int {
	if count <= 0 {
		return DefaultCandleCount
	}
	if count > MaxCandleCount {
		return MaxCandleCount
	}
	return count
}

// CandleStore fetches OHLCV series and keeps the latest per (symbol,
// timeframe) for fallback.
type CandleStore struct {
	source   gateway.Source
	resolver *symbols.Resolver
	cache    CandleCache
	metrics  *monitor.Metrics
	log      zerolog.Logger
}

func NewCandleStore(source gateway.Source, resolver *symbols.Resolver, cc CandleCache, metrics *monitor.Metrics, log zerolog.Logger) *CandleStore {
	if cc == nil {
		cc = NewMemoryCandleCache()
	}
	return &CandleStore{
		source:   source,
		resolver: resolver,
		cache:    cc,
		metrics:  metrics,
		log:      log.With().Str("component", "candle_store").Logger(),
	}
}

// GetCandles returns up to count candles in ascending time order. When the
// live fetch fails, the last cached series for the key is returned instead.
func (cs *CandleStore) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]common.Candle, error) {
	canonical := strings.ToUpper(strings.TrimSpace(symbol))
	if canonical == "" {
		return nil, symbols.ErrEmptySymbol
	}
	if !ValidTimeframe(timeframe) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}
	count = NormalizeCount(count)

	sess, err := cs.source.Active()
	if err != nil {
		return cs.fallback(ctx, canonical, timeframe, err)
	}
	res, err := cs.resolver.Resolve(ctx, sess.AccountID, sess.Conn, canonical)
	if err != nil {
		return cs.fallback(ctx, canonical, timeframe, err)
	}
	candles, err := cs.fetch(ctx, sess.Conn, res, timeframe, count)
	if err != nil {
		return cs.fallback(ctx, canonical, timeframe, err)
	}
	return candles, nil
}

// GetMultiTimeframe fetches several timeframes concurrently. The first
// failure cancels the others and fails the whole call.
func (cs *CandleStore) GetMultiTimeframe(ctx context.Context, symbol string, tfs []string, count int) (map[string][]common.Candle, error) {
	canonical := strings.ToUpper(strings.TrimSpace(symbol))
	if canonical == "" {
		return nil, symbols.ErrEmptySymbol
	}
	if len(tfs) == 0 {
		return nil, fmt.Errorf("%w: no timeframes requested", ErrInvalidTimeframe)
	}
	for _, tf := range tfs {
		if !ValidTimeframe(tf) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
		}
	}
	count = NormalizeCount(count)

	sess, err := cs.source.Active()
	if err != nil {
		return nil, err
	}
	res, err := cs.resolver.Resolve(ctx, sess.AccountID, sess.Conn, canonical)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string][]common.Candle, len(tfs))
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[string]struct{}, len(tfs))
	for _, tf := range tfs {
		if _, dup := seen[tf]; dup {
			continue
		}
		seen[tf] = struct{}{}
		g.Go(func() error {
			candles, err := cs.fetch(gctx, sess.Conn, res, tf, count)
			if err != nil {
				return fmt.Errorf("timeframe %s: %w", tf, err)
			}
			mu.Lock()
			out[tf] = candles
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetch retrieves and caches one series. The write is skipped when an
// account switch happened since res was resolved.
func (cs *CandleStore) fetch(ctx context.Context, conn common.Connection, res symbols.Resolution, timeframe string, count int) ([]common.Candle, error) {
	raw, err := conn.GetCandles(ctx, res.BrokerSymbol, timeframe, count)
	if err != nil {
		cs.metrics.CandleRequest("error")
		return nil, err
	}
	candles := normalizeCandles(raw, res.Canonical, timeframe, count)
	if res.Generation == cs.resolver.Generation() {
		series := CandleSeries{Generation: res.Generation, Candles: candles}
		if err := cs.cache.Set(ctx, res.Canonical, timeframe, series); err != nil {
			cs.log.Warn().Err(err).Str("symbol", res.Canonical).Str("timeframe", timeframe).Msg("candle cache write failed")
		}
	}
	cs.metrics.CandleRequest("fetched")
	return append([]common.Candle(nil), candles...), nil
}

// fallback serves the cached series for the key when it belongs to the
// current account generation; otherwise cause is returned.
func (cs *CandleStore) fallback(ctx context.Context, canonical, timeframe string, cause error) ([]common.Candle, error) {
	cached, ok, err := cs.cache.Get(ctx, canonical, timeframe)
	if err != nil {
		cs.log.Warn().Err(err).Msg("candle cache read failed")
	}
	if !ok {
		return nil, cause
	}
	if cached.Generation != cs.resolver.Generation() {
		cs.log.Debug().Str("symbol", canonical).Str("timeframe", timeframe).Msg("cached series belongs to a previous account")
		return nil, cause
	}
	cs.metrics.CandleRequest("fallback")
	cs.log.Warn().Err(cause).Str("symbol", canonical).Str("timeframe", timeframe).Msg("candle fetch failed, serving cached series")
	return cached.Candles, nil
}

// Clear drops every cached series.
func (cs *CandleStore) Clear(ctx context.Context) (int, error) {
	return cs.cache.Clear(ctx)
}

// CachedSeries reports how many series are cached.
func (cs *CandleStore) CachedSeries(ctx context.Context) (int, error) {
	return cs.cache.Len(ctx)
}

// normalizeCandles copies, tags and sorts a raw series, keeping the most
// recent count bars with UTC times.
func normalizeCandles(raw []common.Candle, canonical, timeframe string, count int) []common.Candle {
	out := make([]common.Candle, len(raw))
	for i, c := range raw {
		c.Symbol = canonical
		c.Timeframe = timeframe
		c.Time = c.Time.UTC()
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return out
}
