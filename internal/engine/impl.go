package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/indicators"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
)

const switchCleanupTimeout = 5 * time.Second

// Impl implements the Service interface by composing the execution modules.
type Impl struct {
	accounts *gateway.Manager
	resolver *symbols.Resolver
	prices   *market.PriceCache
	candles  *market.CandleStore
	executor *order.Executor
	bus      *events.Bus
	metrics  *monitor.Metrics
	log      zerolog.Logger

	// System metadata
	meta SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Accounts *gateway.Manager
	Resolver *symbols.Resolver
	Prices   *market.PriceCache
	Candles  *market.CandleStore
	Executor *order.Executor
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Meta     SystemStatus
	Log      zerolog.Logger
}

// NewImpl creates a new engine implementation and hooks cache invalidation
// into account switches.
func NewImpl(cfg Config) *Impl {
	e := &Impl{
		accounts: cfg.Accounts,
		resolver: cfg.Resolver,
		prices:   cfg.Prices,
		candles:  cfg.Candles,
		executor: cfg.Executor,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		log:      cfg.Log.With().Str("component", "engine").Logger(),
		meta:     cfg.Meta,
	}
	if e.accounts != nil {
		e.accounts.OnSwitch(e.onSwitch)
	}
	return e
}

var _ Service = (*Impl)(nil)

// --- Trading ---

func (e *Impl) PlaceTrade(ctx context.Context, intent order.TradeIntent) order.TradeOutcome {
	return e.executor.PlaceTrade(ctx, intent)
}

func (e *Impl) PlaceBatchTrades(ctx context.Context, intents []order.TradeIntent) []order.TradeOutcome {
	return e.executor.PlaceBatchTrades(ctx, intents)
}

func (e *Impl) CloseTrade(ctx context.Context, positionID string) order.CloseOutcome {
	return e.executor.CloseTrade(ctx, positionID)
}

func (e *Impl) ModifyTrade(ctx context.Context, positionID string, req order.ModifyRequest) order.ModifyOutcome {
	return e.executor.ModifyTrade(ctx, positionID, req)
}

// --- Position & Order Queries ---

func (e *Impl) GetOpenOrders(ctx context.Context) ([]order.OpenOrder, error) {
	return e.executor.GetOpenOrders(ctx)
}

func (e *Impl) GetTradeHistory(ctx context.Context, opts order.HistoryOptions) ([]order.HistoryRecord, error) {
	return e.executor.GetTradeHistory(ctx, opts)
}

// --- Market data ---

func (e *Impl) GetCurrentPrice(ctx context.Context, symbol string) (market.Quote, error) {
	return e.prices.GetCurrentPrice(ctx, symbol)
}

func (e *Impl) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]common.Candle, error) {
	return e.candles.GetCandles(ctx, symbol, timeframe, count)
}

func (e *Impl) GetMultiTimeframeData(ctx context.Context, symbol string, timeframes []string, count int) (map[string][]common.Candle, error) {
	return e.candles.GetMultiTimeframe(ctx, symbol, timeframes, count)
}

// CalculateIndicator fetches candles and runs the named indicator over their
// closes. Unknown indicator names fail before any broker call.
func (e *Impl) CalculateIndicator(ctx context.Context, req IndicatorRequest) (IndicatorResult, error) {
	var unsupported *indicators.UnsupportedIndicatorError
	if _, err := indicators.Calculate(req.Name, nil, req.Params); errors.As(err, &unsupported) {
		return IndicatorResult{}, err
	}
	candles, err := e.candles.GetCandles(ctx, req.Symbol, req.Timeframe, req.Count)
	if err != nil {
		return IndicatorResult{}, err
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	res, err := indicators.Calculate(req.Name, closes, req.Params)
	if err != nil {
		return IndicatorResult{}, err
	}

	out := IndicatorResult{
		Symbol:    candles[0].Symbol,
		Timeframe: req.Timeframe,
		Candles:   len(candles),
		From:      candles[0].Time,
		To:        candles[len(candles)-1].Time,
		Result:    res,
		Latest:    make(map[string]float64, len(res.Series)),
	}
	for name, series := range res.Series {
		out.Latest[name] = series[len(series)-1]
	}
	return out, nil
}

func (e *Impl) SubscribeToPrices(ctx context.Context, symbol string, onUpdate func(market.Quote)) (string, error) {
	return e.prices.Subscribe(ctx, symbol, onUpdate)
}

func (e *Impl) UnsubscribeFromPrices(id string) error {
	return e.prices.Unsubscribe(id)
}

// --- Cache & account ---

// ClearCache empties the quote, resolution and candle caches. Live
// subscriptions are left running.
func (e *Impl) ClearCache(ctx context.Context) (ClearResult, error) {
	res := ClearResult{Prices: e.prices.Clear()}
	e.resolver.Invalidate()
	res.Resolutions = e.resolver.Purge()
	n, err := e.candles.Clear(ctx)
	res.Candles = n
	if err != nil {
		return res, fmt.Errorf("clear candle cache: %w", err)
	}
	e.log.Info().Int("prices", res.Prices).Int("resolutions", res.Resolutions).Int("candles", res.Candles).Msg("caches cleared")
	return res, nil
}

func (e *Impl) GetCacheStats(ctx context.Context) CacheStats {
	stats := CacheStats{
		Prices:      e.prices.Stats(),
		Symbols:     e.resolver.Stats(),
		Subscribers: e.prices.Subscriptions(),
	}
	if e.metrics != nil {
		stats.Execution = e.metrics.ExecutionLatency.Stats()
	}
	if e.accounts != nil {
		stats.Pool = e.accounts.Stats()
	}
	n, err := e.candles.CachedSeries(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("count cached candle series")
	}
	stats.CandleSeries = n
	return stats
}

// SwitchAccount makes accountID the active account, connecting it first if
// needed. Caches and subscriptions of the previous account are dropped by
// the switch hook.
func (e *Impl) SwitchAccount(ctx context.Context, accountID string) (AccountInfo, error) {
	if e.accounts == nil {
		return AccountInfo{}, &gateway.GatewayUnavailableError{AccountID: accountID, Reason: "account switching not configured"}
	}
	prev := e.accounts.ActiveAccount()
	sess, err := e.accounts.Use(ctx, accountID)
	if err != nil {
		return AccountInfo{AccountID: prev}, err
	}
	return AccountInfo{AccountID: sess.AccountID, Previous: prev, Switched: prev != sess.AccountID}, nil
}

func (e *Impl) onSwitch(from, to string) {
	e.resolver.Invalidate()
	purged := e.resolver.Purge()
	prices := e.prices.Clear()
	subs := e.prices.UnsubscribeAll()

	ctx, cancel := context.WithTimeout(context.Background(), switchCleanupTimeout)
	defer cancel()
	candles, err := e.candles.Clear(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("clear candle cache on account switch")
	}

	e.log.Info().
		Str("from", from).
		Str("to", to).
		Int("resolutions", purged).
		Int("prices", prices).
		Int("candles", candles).
		Int("subscriptions", subs).
		Msg("account switched, caches reset")
	e.bus.Publish(events.EventAccountSwitched, events.AccountSwitch{From: from, To: to})
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.ServerTime = time.Now().UTC()
	status.Timeframes = market.Timeframes()
	status.Indicators = indicators.Supported()
	if e.accounts != nil {
		status.ActiveAccount = e.accounts.ActiveAccount()
		_, err := e.accounts.Active()
		status.Connected = err == nil
	}
	return &status
}
