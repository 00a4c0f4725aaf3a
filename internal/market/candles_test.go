package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/gateway"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
)

func newCandleStore(t *testing.T) (*CandleStore, *paper.Gateway) {
	t.Helper()
	g := connectedPaper(t, "acc-a")
	return NewCandleStore(gateway.GatewaySource(g), newResolver(), nil, nil, zerolog.Nop()), g
}

func TestGetCandlesNormalizesSeries(t *testing.T) {
	cs, g := newCandleStore(t)
	tokyo := time.FixedZone("JST", 9*3600)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, tokyo)
	g.SetCandles("XAUUSD", "1h", []common.Candle{
		{Time: base.Add(2 * time.Hour), Close: 3},
		{Time: base, Close: 1},
		{Time: base.Add(time.Hour), Close: 2},
	})

	got, err := cs.GetCandles(context.Background(), "xauusd", "1h", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, float64(i+1), c.Close)
		assert.Equal(t, time.UTC, c.Time.Location())
		assert.Equal(t, "XAUUSD", c.Symbol)
		assert.Equal(t, "1h", c.Timeframe)
	}
	assert.True(t, got[0].Time.Equal(base))
}

func TestGetCandlesSynthesizedCount(t *testing.T) {
	cs, _ := newCandleStore(t)
	got, err := cs.GetCandles(context.Background(), "EURUSD", "15m", 50)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Time.Before(got[i].Time))
	}
}

func TestGetCandlesRejectsInvalidTimeframe(t *testing.T) {
	cs, g := newCandleStore(t)
	_, err := cs.GetCandles(context.Background(), "XAUUSD", "7m", 10)
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
	assert.Zero(t, g.Calls("GetCandles", "XAUUSD"))
}

func TestGetCandlesFallsBackToCachedSeries(t *testing.T) {
	cs, g := newCandleStore(t)
	ctx := context.Background()

	first, err := cs.GetCandles(ctx, "XAUUSD", "1h", 20)
	require.NoError(t, err)

	// Callers own the returned slice.
	first[0].Close = -1

	g.FailCandles(errors.New("terminal busy"))
	again, err := cs.GetCandles(ctx, "XAUUSD", "1h", 20)
	require.NoError(t, err)
	require.Len(t, again, 20)
	assert.NotEqual(t, -1.0, again[0].Close)

	_, err = cs.GetCandles(ctx, "XAUUSD", "4h", 20)
	assert.Error(t, err)

	n, err := cs.CachedSeries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	removed, err := cs.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = cs.GetCandles(ctx, "XAUUSD", "1h", 20)
	assert.Error(t, err)
}

func TestGetCandlesFallbackStaysOnAccount(t *testing.T) {
	a, b := connectedPaper(t, "acc-a"), connectedPaper(t, "acc-b")
	src := &switchableSource{cur: a}
	cs := NewCandleStore(src, newResolver(), nil, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := cs.GetCandles(ctx, "XAUUSD", "1h", 20)
	require.NoError(t, err)

	src.set(b)
	b.FailCandles(errors.New("terminal busy"))
	_, err = cs.GetCandles(ctx, "XAUUSD", "1h", 20)
	assert.Error(t, err)

	// Back on the first account the series is still not served: the switch
	// moved the generation on.
	src.set(a)
	a.FailCandles(errors.New("terminal busy"))
	_, err = cs.GetCandles(ctx, "XAUUSD", "1h", 20)
	assert.Error(t, err)
}

// switchingConn invalidates the resolver while a candle fetch is in flight.
type switchingConn struct {
	*paper.Gateway
	resolver *symbols.Resolver
}

func (c switchingConn) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]common.Candle, error) {
	out, err := c.Gateway.GetCandles(ctx, symbol, timeframe, count)
	c.resolver.Invalidate()
	return out, err
}

func TestGetCandlesSkipsCacheWriteAfterSwitch(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	r := newResolver()
	src := gateway.SourceFunc(func() (gateway.Session, error) {
		return gateway.Session{AccountID: g.AccountID(), Conn: switchingConn{Gateway: g, resolver: r}}, nil
	})
	cs := NewCandleStore(src, r, nil, nil, zerolog.Nop())
	ctx := context.Background()

	got, err := cs.GetCandles(ctx, "XAUUSD", "1h", 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	n, err := cs.CachedSeries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetMultiTimeframe(t *testing.T) {
	cs, g := newCandleStore(t)
	got, err := cs.GetMultiTimeframe(context.Background(), "XAUUSD", []string{"1m", "1h", "1m"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got["1m"], 10)
	assert.Len(t, got["1h"], 10)
	assert.Equal(t, 1, g.Calls("GetSymbolPrice", "XAUUSD"))
	assert.Equal(t, 2, g.Calls("GetCandles", "XAUUSD"))
}

func TestGetMultiTimeframeFailsFast(t *testing.T) {
	cs, g := newCandleStore(t)
	ctx := context.Background()
	_, err := cs.GetCandles(ctx, "XAUUSD", "1h", 10)
	require.NoError(t, err)

	g.FailCandles(errors.New("terminal busy"))
	got, err := cs.GetMultiTimeframe(ctx, "XAUUSD", []string{"1h", "4h"}, 10)
	assert.Error(t, err)
	assert.Nil(t, got)

	_, err = cs.GetMultiTimeframe(ctx, "XAUUSD", []string{"1h", "bogus"}, 10)
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
	_, err = cs.GetMultiTimeframe(ctx, "XAUUSD", nil, 10)
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
}

func TestNormalizeCount(t *testing.T) {
	assert.Equal(t, DefaultCandleCount, NormalizeCount(0))
	assert.Equal(t, DefaultCandleCount, NormalizeCount(-5))
	assert.Equal(t, 250, NormalizeCount(250))
	assert.Equal(t, MaxCandleCount, NormalizeCount(MaxCandleCount+1))
	assert.True(t, ValidTimeframe("1mn"))
	assert.False(t, ValidTimeframe("1M"))
	assert.Len(t, Timeframes(), 21)
}
