package market

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
	"execution-core/internal/symbols"
)

func TestGetCurrentPriceServesFreshQuoteWithinTTL(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	clock := newFakeClock()
	catalog := symbols.NewCatalog()
	require.NoError(t, catalog.Set("XAUUSD", []string{"XAUUSD"}))
	resolver := symbols.NewResolver(catalog, zerolog.Nop(), nil)
	pc := NewPriceCache(gateway.GatewaySource(g), resolver, zerolog.Nop(), WithClock(clock.Now), WithTTL(time.Second))
	ctx := context.Background()

	q, err := pc.GetCurrentPrice(ctx, "xauusd")
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", q.Symbol)
	assert.False(t, q.Stale)
	assert.Equal(t, 1, g.TotalCalls("GetSymbolPrice"))

	// 500ms later the feed breaks; the cached quote is still fresh.
	clock.Advance(500 * time.Millisecond)
	g.FailPrice("XAUUSD", errors.New("feed down"))
	q2, err := pc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, q, q2)
	assert.Equal(t, 1, g.TotalCalls("GetSymbolPrice"))

	// Past the TTL exactly one new call is made and the stale quote is served.
	clock.Advance(600 * time.Millisecond)
	q3, err := pc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.True(t, q3.Stale)
	assert.Equal(t, q.Bid, q3.Bid)
	assert.Equal(t, 2, g.TotalCalls("GetSymbolPrice"))

	s := pc.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.Equal(t, uint64(1), s.StaleServes)
}

func TestGetCurrentPriceRefreshesAfterTTL(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	clock := newFakeClock()
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	_, err := pc.GetCurrentPrice(ctx, "EURUSD")
	require.NoError(t, err)
	require.NoError(t, g.SetPrice("EURUSD", 1.1, 1.1002))

	clock.Advance(DefaultPriceTTL)
	q, err := pc.GetCurrentPrice(ctx, "EURUSD")
	require.NoError(t, err)
	assert.False(t, q.Stale)
	assert.Equal(t, 1.1, q.Bid)
	assert.InDelta(t, 0.0002, q.Spread, 1e-12)
	assert.InDelta(t, 1.1001, q.Last, 1e-12)
	assert.Equal(t, clock.Now(), q.ObservedAt)
}

func TestGetCurrentPriceErrorsWithoutAnyQuote(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop())

	_, err := pc.GetCurrentPrice(context.Background(), "NOSUCH")
	var rerr *symbols.SymbolResolutionError
	assert.ErrorAs(t, err, &rerr)

	_, err = pc.GetCurrentPrice(context.Background(), "  ")
	assert.ErrorIs(t, err, symbols.ErrEmptySymbol)
}

func TestGetCurrentPriceStaleWhenGatewayDisconnects(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	clock := newFakeClock()
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop(), WithClock(clock.Now))

	_, err := pc.GetCurrentPrice(context.Background(), "XAUUSD")
	require.NoError(t, err)

	require.NoError(t, g.Disconnect(context.Background()))
	clock.Advance(5 * time.Second)
	q, err := pc.GetCurrentPrice(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.True(t, q.Stale)

	_, err = pc.GetCurrentPrice(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
}

func TestAccountSwitchHidesQuotesOfPreviousAccount(t *testing.T) {
	a := connectedPaper(t, "acc-a")
	b := connectedPaper(t, "acc-b")
	src := &switchableSource{}
	src.set(a)
	clock := newFakeClock()
	pc := NewPriceCache(src, newResolver(), zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	_, err := pc.GetCurrentPrice(ctx, "XAUUSD")
	require.NoError(t, err)

	// Account B cannot price gold at all; A's quote must not leak through.
	b.RemoveSymbol("XAUUSD")
	src.set(b)
	_, err = pc.GetCurrentPrice(ctx, "XAUUSD")
	var rerr *symbols.SymbolResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "acc-b", rerr.AccountID)
	assert.Zero(t, pc.Stats().Entries)
}

func TestPriceCachePublishesTicks(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 4)
	defer unsub()
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop(), WithBus(bus))

	_, err := pc.GetCurrentPrice(context.Background(), "GBPUSD")
	require.NoError(t, err)
	select {
	case v := <-ticks:
		assert.Equal(t, "GBPUSD", v.(Quote).Symbol)
	case <-time.After(time.Second):
		t.Fatal("no price tick published")
	}

	q, ok := pc.Peek("gbpusd")
	assert.True(t, ok)
	assert.Equal(t, "GBPUSD", q.BrokerSymbol)
	assert.Equal(t, 1, pc.Clear())
	_, ok = pc.Peek("GBPUSD")
	assert.False(t, ok)
}
