package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/indicators"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
)

type fixture struct {
	svc      *Impl
	accounts *gateway.Manager
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	mgr := gateway.NewManager(gateway.PaperFactory(paper.Config{}), gateway.Config{}, log)
	_, err := mgr.Use(context.Background(), "acc-a")
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Stop(context.Background()) })

	bus := events.NewBus()
	metrics := monitor.NewMetrics(prometheus.NewRegistry())
	res := symbols.NewResolver(nil, log, metrics)
	prices := market.NewPriceCache(mgr, res, log, market.WithBus(bus))
	candles := market.NewCandleStore(mgr, res, market.NewMemoryCandleCache(), nil, log)
	calc := risk.NewCalculator(risk.DefaultConfig(), log)
	exec := order.NewExecutor(mgr, res, calc, order.Config{}, log, order.WithBus(bus), order.WithMetrics(metrics))

	svc := NewImpl(Config{
		Accounts: mgr,
		Resolver: res,
		Prices:   prices,
		Candles:  candles,
		Executor: exec,
		Bus:      bus,
		Metrics:  metrics,
		Meta:     SystemStatus{Mode: "paper", Version: "test"},
		Log:      log,
	})
	return &fixture{svc: svc, accounts: mgr, bus: bus}
}

func (f *fixture) paper(t *testing.T, accountID string) *paper.Gateway {
	t.Helper()
	gw, ok := f.accounts.Gateway(accountID)
	require.True(t, ok)
	p, ok := gw.(*paper.Gateway)
	require.True(t, ok)
	return p
}

func hourlyCandles(closes ...float64) []common.Candle {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]common.Candle, len(closes))
	for i, c := range closes {
		out[i] = common.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestPlaceTradeRecordsExecutionLatency(t *testing.T) {
	f := newFixture(t)

	out := f.svc.PlaceTrade(context.Background(), order.TradeIntent{Symbol: "XAUUSD", Side: common.SideBuy, Volume: 0.1})
	require.True(t, out.Success, out.Error)
	assert.Equal(t, order.StatusFilled, out.Status)

	outs := f.svc.PlaceBatchTrades(context.Background(), []order.TradeIntent{
		{Symbol: "EURUSD", Side: common.SideSell, Volume: 0.2},
		{Symbol: "NOPE", Side: common.SideBuy, Volume: 0.1},
	})
	require.Len(t, outs, 2)
	assert.True(t, outs[0].Success)
	assert.False(t, outs[1].Success)

	assert.Equal(t, 3, f.svc.GetCacheStats(context.Background()).Execution.Count)

	open, err := f.svc.GetOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestSwitchAccountResetsCachesAndSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	switched, unsub := f.bus.Subscribe(events.EventAccountSwitched, 4)
	defer unsub()

	_, err := f.svc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)
	_, err = f.svc.GetCandles(ctx, "XAUUSD", "1h", 10)
	require.NoError(t, err)
	_, err = f.svc.SubscribeToPrices(ctx, "XAUUSD", func(market.Quote) {})
	require.NoError(t, err)

	before := f.svc.GetCacheStats(ctx)
	assert.Equal(t, 1, before.Prices.Entries)
	assert.Equal(t, 1, before.Symbols.Entries)
	assert.Equal(t, 1, before.CandleSeries)
	assert.Len(t, before.Subscribers, 1)
	assert.Equal(t, 1, f.paper(t, "acc-a").ListenerCount())

	info, err := f.svc.SwitchAccount(ctx, "acc-b")
	require.NoError(t, err)
	assert.Equal(t, AccountInfo{AccountID: "acc-b", Previous: "acc-a", Switched: true}, info)

	after := f.svc.GetCacheStats(ctx)
	assert.Zero(t, after.Prices.Entries)
	assert.Zero(t, after.Symbols.Entries)
	assert.Zero(t, after.Symbols.Stale)
	assert.Zero(t, after.CandleSeries)
	assert.Empty(t, after.Subscribers)
	assert.Equal(t, "acc-b", after.Pool.ActiveAccount)
	assert.Zero(t, f.paper(t, "acc-a").ListenerCount())

	select {
	case payload := <-switched:
		assert.Equal(t, events.AccountSwitch{From: "acc-a", To: "acc-b"}, payload)
	case <-time.After(time.Second):
		t.Fatal("account switch not published")
	}

	require.NoError(t, f.paper(t, "acc-b").SetPrice("XAUUSD", 2100, 2100.5))
	q, err := f.svc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 2100.0, q.Bid)
}

func TestSwitchAccountToActiveKeepsCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)

	info, err := f.svc.SwitchAccount(ctx, "acc-a")
	require.NoError(t, err)
	assert.False(t, info.Switched)
	assert.Equal(t, 1, f.svc.GetCacheStats(ctx).Prices.Entries)
}

func TestSwitchAccountRejectsEmptyID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SwitchAccount(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrGatewayUnavailable))
	assert.Equal(t, "acc-a", f.accounts.ActiveAccount())
}

func TestCalculateIndicator(t *testing.T) {
	f := newFixture(t)
	f.paper(t, "acc-a").SetCandles("XAUUSD", "1h", hourlyCandles(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))

	res, err := f.svc.CalculateIndicator(context.Background(), IndicatorRequest{
		Symbol:    "xauusd",
		Timeframe: "1h",
		Count:     10,
		Name:      "SMA",
		Params:    indicators.Params{Period: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", res.Symbol)
	assert.Equal(t, 10, res.Candles)
	assert.Equal(t, "sma", res.Result.Name)
	assert.Len(t, res.Result.Series["sma"], 6)
	assert.InDelta(t, 8.0, res.Latest["sma"], 1e-9)
	assert.True(t, res.From.Before(res.To))
}

func TestCalculateIndicatorUnknownSkipsBroker(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CalculateIndicator(context.Background(), IndicatorRequest{Symbol: "XAUUSD", Timeframe: "1h", Name: "ichimoku"})
	var unsupported *indicators.UnsupportedIndicatorError
	require.ErrorAs(t, err, &unsupported)
	assert.Zero(t, f.paper(t, "acc-a").TotalCalls("GetCandles"))
}

func TestCalculateIndicatorInsufficientData(t *testing.T) {
	f := newFixture(t)
	f.paper(t, "acc-a").SetCandles("XAUUSD", "1h", hourlyCandles(1, 2, 3))

	_, err := f.svc.CalculateIndicator(context.Background(), IndicatorRequest{
		Symbol: "XAUUSD", Timeframe: "1h", Count: 3, Name: "rsi",
	})
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)
}

func TestClearCacheKeepsSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)
	_, err = f.svc.GetCandles(ctx, "XAUUSD", "1h", 10)
	require.NoError(t, err)
	id, err := f.svc.SubscribeToPrices(ctx, "EURUSD", func(market.Quote) {})
	require.NoError(t, err)

	res, err := f.svc.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Prices)
	assert.Equal(t, 1, res.Candles)
	assert.Equal(t, 2, res.Resolutions)

	stats := f.svc.GetCacheStats(ctx)
	assert.Zero(t, stats.Prices.Entries)
	assert.Len(t, stats.Subscribers, 1)

	require.NoError(t, f.svc.UnsubscribeFromPrices(id))
	assert.ErrorIs(t, f.svc.UnsubscribeFromPrices(id), market.ErrSubscriptionNotFound)
}

func TestGetSystemStatus(t *testing.T) {
	f := newFixture(t)

	st := f.svc.GetSystemStatus(context.Background())
	assert.Equal(t, "paper", st.Mode)
	assert.Equal(t, "acc-a", st.ActiveAccount)
	assert.True(t, st.Connected)
	assert.False(t, st.ServerTime.IsZero())
	assert.Contains(t, st.Timeframes, "1h")
	assert.Contains(t, st.Timeframes, "1mn")
	assert.ElementsMatch(t, []string{"sma", "ema", "rsi", "macd", "bollinger"}, st.Indicators)
}
