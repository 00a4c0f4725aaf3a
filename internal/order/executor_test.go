package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/risk"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
)

func newPaper(t *testing.T, cfg paper.Config) *paper.Gateway {
	t.Helper()
	g := paper.New("acc-1", cfg)
	require.NoError(t, g.Connect(context.Background()))
	return g
}

func newExecutorFor(src gateway.Source, cfg Config, opts ...Option) *Executor {
	r := symbols.NewResolver(nil, zerolog.Nop(), nil)
	calc := risk.NewCalculator(risk.Config{MinLot: 0.01, MaxLot: 100}, zerolog.Nop())
	return NewExecutor(src, r, calc, cfg, zerolog.Nop(), opts...)
}

func newExecutor(t *testing.T, opts ...Option) (*Executor, *paper.Gateway) {
	t.Helper()
	g := newPaper(t, paper.Config{})
	return newExecutorFor(gateway.GatewaySource(g), Config{}, opts...), g
}

// stubConn overrides selected trade calls of a paper account.
type stubConn struct {
	*paper.Gateway
	marketBuy func(req common.OrderRequest) (common.TradeResponse, error)
}

func (s stubConn) CreateMarketBuyOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	if s.marketBuy != nil {
		return s.marketBuy(req)
	}
	return s.Gateway.CreateMarketBuyOrder(ctx, req)
}

func stubSource(g *paper.Gateway, marketBuy func(common.OrderRequest) (common.TradeResponse, error)) gateway.Source {
	return gateway.SourceFunc(func() (gateway.Session, error) {
		return gateway.Session{AccountID: g.AccountID(), Conn: stubConn{Gateway: g, marketBuy: marketBuy}}, nil
	})
}

func TestPlaceTradeMarketBuyFilled(t *testing.T) {
	e, g := newExecutor(t)

	out := e.PlaceTrade(context.Background(), TradeIntent{
		Symbol: "xauusd",
		Side:   "buy",
		Volume: 0.1,
		Stop:   &risk.StopSpec{Kind: risk.KindPoints, Value: 50},
		Target: &risk.TargetSpec{Kind: risk.KindPoints, Value: 100},
	})

	require.True(t, out.Success, out.Error)
	assert.Equal(t, StatusFilled, out.Status)
	assert.Equal(t, StageFilled, out.Stage)
	assert.Equal(t, "XAUUSD", out.Symbol)
	assert.Equal(t, "XAUUSD", out.BrokerSymbol)
	assert.Equal(t, common.SideBuy, out.Side)
	assert.Equal(t, 2000.30, out.FilledPrice)
	assert.Equal(t, 1999.8, out.StopPrice)
	assert.Equal(t, 2001.3, out.TargetPrice)
	assert.NotEmpty(t, out.BrokerOrderID)
	assert.NotEmpty(t, out.PositionID)
	assert.NotEmpty(t, out.ClientID)
	assert.Nil(t, out.ErrorDetails)
	assert.Equal(t, 1, g.Calls("CreateMarketBuyOrder", "XAUUSD"))

	open, err := e.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 1999.8, open[0].StopLoss)
	assert.Equal(t, 2001.3, open[0].TakeProfit)
}

func TestPlaceTradeMarketSellUsesBid(t *testing.T) {
	e, _ := newExecutor(t)
	out := e.PlaceTrade(context.Background(), TradeIntent{
		Symbol: "XAUUSD", Side: common.SideSell, Volume: 0.2,
		Stop: &risk.StopSpec{Kind: risk.KindPoints, Value: 50},
	})
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 2000.0, out.FilledPrice)
	assert.Equal(t, 2000.5, out.StopPrice)
	assert.Zero(t, out.TargetPrice)
}

func TestPlaceTradeResolvesBrokerVariant(t *testing.T) {
	e, g := newExecutor(t)
	inst := paper.DefaultInstruments()["XAUUSD"]
	g.RemoveSymbol("XAUUSD")
	g.AddSymbol("GOLD", inst)

	out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "XAUUSD", Side: common.SideBuy, Volume: 0.1})
	require.True(t, out.Success, out.Error)
	assert.Equal(t, "XAUUSD", out.Symbol)
	assert.Equal(t, "GOLD", out.BrokerSymbol)
	assert.Equal(t, 1, g.Calls("CreateMarketBuyOrder", "GOLD"))

	open, err := e.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "XAUUSD", open[0].Symbol)
	assert.Equal(t, "GOLD", open[0].BrokerSymbol)
}

func TestPlaceTradeLimitPending(t *testing.T) {
	e, g := newExecutor(t)
	out := e.PlaceTrade(context.Background(), TradeIntent{
		Symbol: "EURUSD", Side: common.SideBuy, Volume: 1, Kind: KindLimit, EntryPrice: 1.08,
		Target: &risk.TargetSpec{Kind: risk.KindPercentage, Value: 1},
	})
	require.True(t, out.Success, out.Error)
	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, StagePendingBroker, out.Stage)
	assert.NotEmpty(t, out.BrokerOrderID)
	assert.Empty(t, out.PositionID)
	assert.Zero(t, out.FilledPrice)
	assert.Equal(t, 1.0908, out.TargetPrice)
	assert.Equal(t, 1, g.Calls("CreateLimitBuyOrder", "EURUSD"))
}

func TestPlaceTradeValidation(t *testing.T) {
	tests := []struct {
		name   string
		intent TradeIntent
		field  string
	}{
		{"missing symbol", TradeIntent{Side: common.SideBuy, Volume: 1}, "symbol"},
		{"bad side", TradeIntent{Symbol: "EURUSD", Side: "HOLD", Volume: 1}, "side"},
		{"zero volume", TradeIntent{Symbol: "EURUSD", Side: common.SideBuy}, "volume"},
		{"negative volume", TradeIntent{Symbol: "EURUSD", Side: common.SideSell, Volume: -1}, "volume"},
		{"unknown kind", TradeIntent{Symbol: "EURUSD", Side: common.SideSell, Volume: 1, Kind: "stop"}, "orderKind"},
		{"limit without price", TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1, Kind: KindLimit}, "entryPrice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, g := newExecutor(t)
			out := e.PlaceTrade(context.Background(), tt.intent)
			assert.False(t, out.Success)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, StageValidating, out.Stage)
			require.NotNil(t, out.ErrorDetails)
			assert.Equal(t, ErrorKindValidation, out.ErrorDetails.Kind)
			assert.Equal(t, tt.field, out.ErrorDetails.Field)
			assert.Zero(t, g.TotalCalls("GetSymbolPrice"))
		})
	}
}

func TestPlaceTradeClampsSmallVolume(t *testing.T) {
	e, _ := newExecutor(t)
	out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 0.001})
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 0.01, out.Volume)
}

func TestPlaceTradeFailureKinds(t *testing.T) {
	t.Run("unknown symbol", func(t *testing.T) {
		e, _ := newExecutor(t)
		out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "NOPE", Side: common.SideBuy, Volume: 1})
		require.NotNil(t, out.ErrorDetails)
		assert.Equal(t, ErrorKindSymbolResolution, out.ErrorDetails.Kind)
		assert.Equal(t, StageSymbolResolving, out.Stage)
		assert.Equal(t, []string{"NOPE"}, out.ErrorDetails.Tried)
	})

	t.Run("gateway disconnected", func(t *testing.T) {
		e, g := newExecutor(t)
		require.NoError(t, g.Disconnect(context.Background()))
		out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1})
		require.NotNil(t, out.ErrorDetails)
		assert.Equal(t, ErrorKindGatewayUnavailable, out.ErrorDetails.Kind)
	})

	t.Run("gateway error on submit", func(t *testing.T) {
		e, g := newExecutor(t)
		g.FailTrade(errors.New("terminal offline"))
		out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1})
		require.NotNil(t, out.ErrorDetails)
		assert.Equal(t, ErrorKindGateway, out.ErrorDetails.Kind)
		assert.Equal(t, StageSubmitting, out.Stage)
		assert.Contains(t, out.Error, "terminal offline")
	})

	t.Run("invalid risk spec", func(t *testing.T) {
		e, g := newExecutor(t)
		out := e.PlaceTrade(context.Background(), TradeIntent{
			Symbol: "EURUSD", Side: common.SideBuy, Volume: 1,
			Stop: &risk.StopSpec{Kind: "atr", Value: 2},
		})
		require.NotNil(t, out.ErrorDetails)
		assert.Equal(t, ErrorKindInvalidRiskSpec, out.ErrorDetails.Kind)
		assert.Equal(t, StageRiskDeriving, out.Stage)
		assert.Zero(t, g.Calls("CreateMarketBuyOrder", "EURUSD"))
	})

	t.Run("broker rejection", func(t *testing.T) {
		g := newPaper(t, paper.Config{})
		e := newExecutorFor(stubSource(g, func(common.OrderRequest) (common.TradeResponse, error) {
			return common.TradeResponse{StringCode: common.CodeNoMoney, NumericCode: common.NumericNoMoney, Message: "No money"}, nil
		}), Config{})
		out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1})
		require.NotNil(t, out.ErrorDetails)
		assert.Equal(t, ErrorKindBrokerRejection, out.ErrorDetails.Kind)
		assert.Equal(t, common.CodeNoMoney, out.ErrorDetails.BrokerCode)
		assert.Equal(t, common.NumericNoMoney, out.ErrorDetails.NumericCode)
	})

	t.Run("timeout", func(t *testing.T) {
		g := newPaper(t, paper.Config{LatencyMinMs: 300, LatencyMaxMs: 300})
		e := newExecutorFor(gateway.GatewaySource(g), Config{ExecutionTimeout: 20 * time.Millisecond})
		out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1})
		assert.False(t, out.Success)
		require.NotNil(t, out.ErrorDetails)
		assert.Equal(t, ErrorKindTimeout, out.ErrorDetails.Kind)
		assert.Less(t, out.ExecutionTimeMs, int64(300))
	})
}

func TestPlaceTradeForwardsSlippageAndClientID(t *testing.T) {
	g := newPaper(t, paper.Config{})
	var seen common.OrderRequest
	e := newExecutorFor(stubSource(g, func(req common.OrderRequest) (common.TradeResponse, error) {
		seen = req
		return common.TradeResponse{OrderID: "o-1", PositionID: "p-1", Price: 1.0851}, nil
	}), Config{SlippagePoints: 3})

	out := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1, Comment: "grid-7"})
	require.True(t, out.Success, out.Error)
	assert.Equal(t, StatusFilled, out.Status)
	assert.Equal(t, 3.0, seen.Slippage)
	assert.Equal(t, out.ClientID, seen.ClientID)
	assert.Equal(t, "grid-7", seen.Comment)
	assert.Equal(t, "EURUSD", seen.Symbol)
}

func TestPlaceTradeRecoversAdapterPanic(t *testing.T) {
	g := newPaper(t, paper.Config{})
	e := newExecutorFor(stubSource(g, func(common.OrderRequest) (common.TradeResponse, error) {
		panic("nil response from terminal")
	}), Config{})

	var out TradeOutcome
	require.NotPanics(t, func() {
		out = e.PlaceTrade(context.Background(), TradeIntent{Symbol: "XAUUSD", Side: common.SideBuy, Volume: 0.1})
	})
	assert.False(t, out.Success)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StageSubmitting, out.Stage)
	require.NotNil(t, out.ErrorDetails)
	assert.Equal(t, ErrorKindInternal, out.ErrorDetails.Kind)
	assert.Contains(t, out.Error, "nil response from terminal")
}

func TestPlaceTradePublishesOutcomes(t *testing.T) {
	bus := events.NewBus()
	filled, unsubF := bus.Subscribe(events.EventOrderFilled, 4)
	defer unsubF()
	rejected, unsubR := bus.Subscribe(events.EventOrderRejected, 4)
	defer unsubR()
	e, _ := newExecutor(t, WithBus(bus))

	ok := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "EURUSD", Side: common.SideBuy, Volume: 1})
	bad := e.PlaceTrade(context.Background(), TradeIntent{Symbol: "", Side: common.SideBuy, Volume: 1})

	select {
	case v := <-filled:
		assert.Equal(t, ok.ClientID, v.(TradeOutcome).ClientID)
	case <-time.After(time.Second):
		t.Fatal("no fill event")
	}
	select {
	case v := <-rejected:
		o := v.(TradeOutcome)
		assert.Equal(t, bad.ClientID, o.ClientID)
		assert.Contains(t, o.AlertSummary(), "validation")
	case <-time.After(time.Second):
		t.Fatal("no rejection event")
	}
}
