package market

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/gateway"
)

func TestSubscribeDeliversAndUpdatesCache(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop())
	got := make(chan Quote, 8)

	id, err := pc.Subscribe(context.Background(), "xauusd", func(q Quote) { got <- q })
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD-1", id)

	require.NoError(t, g.SetPrice("EURUSD", 1.2, 1.2001)) // other symbol, ignored
	require.NoError(t, g.SetPrice("XAUUSD", 2010, 2010.5))

	select {
	case q := <-got:
		assert.Equal(t, "XAUUSD", q.Symbol)
		assert.Equal(t, 2010.0, q.Bid)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
	q, ok := pc.Peek("XAUUSD")
	require.True(t, ok)
	assert.Equal(t, 2010.0, q.Bid)

	require.NoError(t, pc.Unsubscribe(id))
	assert.Zero(t, g.ListenerCount())
	assert.ErrorIs(t, pc.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop())
	noop := func(Quote) {}

	id1, err := pc.Subscribe(context.Background(), "XAUUSD", noop)
	require.NoError(t, err)
	id2, err := pc.Subscribe(context.Background(), "XAUUSD", noop)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, g.ListenerCount())
	assert.Len(t, pc.Subscriptions(), 2)

	assert.Equal(t, 2, pc.UnsubscribeAll())
	assert.Zero(t, g.ListenerCount())
	assert.Zero(t, pc.Stats().Subscriptions)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop())
	ctx := context.Background()

	release := make(chan struct{})
	slowID, err := pc.Subscribe(ctx, "XAUUSD", func(Quote) { <-release })
	require.NoError(t, err)

	var last atomic.Value
	_, err = pc.Subscribe(ctx, "XAUUSD", func(q Quote) { last.Store(q.Bid) })
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		require.NoError(t, g.SetPrice("XAUUSD", 2000+float64(i), 2000.5+float64(i)))
	}

	assert.Eventually(t, func() bool {
		v, ok := last.Load().(float64)
		return ok && v == 2100
	}, 2*time.Second, 5*time.Millisecond)

	var slowDropped uint64
	for _, s := range pc.Subscriptions() {
		if s.ID == slowID {
			slowDropped = s.Dropped
		}
	}
	assert.Greater(t, slowDropped, uint64(0))
	assert.Greater(t, pc.Stats().Dropped, uint64(0))
	close(release)
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop())
	ctx := context.Background()

	_, err := pc.Subscribe(ctx, "EURUSD", func(Quote) { panic("boom") })
	require.NoError(t, err)

	var mu sync.Mutex
	var count int
	_, err = pc.Subscribe(ctx, "EURUSD", func(Quote) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, g.SetPrice("EURUSD", 1.1, 1.1001))
	require.NoError(t, g.SetPrice("EURUSD", 1.2, 1.2001))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeRequiresConnectedGateway(t *testing.T) {
	g := connectedPaper(t, "acc-a")
	require.NoError(t, g.Disconnect(context.Background()))
	pc := NewPriceCache(gateway.GatewaySource(g), newResolver(), zerolog.Nop())
	_, err := pc.Subscribe(context.Background(), "XAUUSD", func(Quote) {})
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
}
