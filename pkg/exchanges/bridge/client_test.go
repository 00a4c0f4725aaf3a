package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/exchanges/common"
)

const accountPrefix = "/users/current/accounts/acc-1"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:   srv.URL,
		StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:     "secret",
		AccountID: "acc-1",
	}, zerolog.Nop())
}

func bridgeMux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(accountPrefix, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("auth-token"))
		_ = json.NewEncoder(w).Encode(map[string]string{"connectionStatus": "CONNECTED"})
	})
	mux.HandleFunc(accountPrefix+"/server-time", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"time": time.Now().UTC().Format(time.RFC3339Nano)})
	})
	return mux
}

func TestConnectAndPrice(t *testing.T) {
	mux := bridgeMux(t)
	mux.HandleFunc(accountPrefix+"/symbols/GOLD/current-price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"GOLD","bid":2000.1,"ask":2000.4,"time":"2024-05-01T12:00:00Z"}`))
	})
	mux.HandleFunc(accountPrefix+"/symbols/XAUUSD/current-price", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Symbol not found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	_, err := c.Connection()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsActive())

	p, err := c.GetSymbolPrice(context.Background(), "GOLD")
	require.NoError(t, err)
	assert.Equal(t, "GOLD", p.Symbol)
	assert.Equal(t, 2000.1, p.Bid)
	assert.Equal(t, 2000.4, p.Ask)

	_, err = c.GetSymbolPrice(context.Background(), "XAUUSD")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)

	admitted, _ := c.RateLimitUsage()
	assert.GreaterOrEqual(t, admitted, uint64(4))
}

func TestConnectRejectsDisconnectedTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(accountPrefix, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"connectionStatus":"DISCONNECTED"}`))
	})
	c := newTestClient(t, mux)
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.IsActive())
}

func TestSpecificationAndCandles(t *testing.T) {
	mux := bridgeMux(t)
	mux.HandleFunc(accountPrefix+"/symbols/EURUSD/specification", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"EURUSD","tickSize":0.00001,"digits":5,"minVolume":0.01,"maxVolume":200,"volumeStep":0.01}`))
	})
	mux.HandleFunc(accountPrefix+"/historical-market-data/symbols/EURUSD/timeframes/1h/candles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"time":"2024-05-01T11:00:00Z","open":1.1,"high":1.2,"low":1.0,"close":1.15,"tickVolume":10,"spread":1},
			{"time":"2024-05-01T10:00:00Z","open":1.0,"high":1.1,"low":0.9,"close":1.1,"tickVolume":12,"spread":2}
		]`))
	})
	c := newTestClient(t, mux)
	require.NoError(t, c.Connect(context.Background()))

	spec, err := c.GetSymbolSpecification(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, common.SymbolSpecification{Symbol: "EURUSD", Point: 0.00001, Digits: 5, MinLot: 0.01, MaxLot: 200, LotStep: 0.01}, spec)

	candles, err := c.GetCandles(context.Background(), "EURUSD", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.15, candles[0].Close)
	assert.Equal(t, 10.0, candles[0].Volume)
}

func TestTradeRequestPayloads(t *testing.T) {
	var mu sync.Mutex
	var got []map[string]any
	mux := bridgeMux(t)
	mux.HandleFunc(accountPrefix+"/trade", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"numericCode":10009,"stringCode":"TRADE_RETCODE_DONE","orderId":"46870472","positionId":"46870472"}`))
	})
	c := newTestClient(t, mux)
	require.NoError(t, c.Connect(context.Background()))
	ctx := context.Background()

	resp, err := c.CreateMarketBuyOrder(ctx, common.OrderRequest{Symbol: "GOLD", Volume: 0.1, StopLoss: 1990, Slippage: 2, ClientID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, common.NumericDone, resp.NumericCode)
	assert.Equal(t, "46870472", resp.PositionID)

	_, err = c.CreateLimitSellOrder(ctx, common.OrderRequest{Symbol: "GOLD", Volume: 0.1, OpenPrice: 2050})
	require.NoError(t, err)
	_, err = c.ClosePosition(ctx, "46870472")
	require.NoError(t, err)
	tp := 2100.0
	_, err = c.ModifyPosition(ctx, "46870472", nil, &tp)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	assert.Equal(t, "ORDER_TYPE_BUY", got[0]["actionType"])
	assert.Equal(t, 1990.0, got[0]["stopLoss"])
	assert.NotContains(t, got[0], "takeProfit")
	assert.Equal(t, "ORDER_TYPE_SELL_LIMIT", got[1]["actionType"])
	assert.Equal(t, 2050.0, got[1]["openPrice"])
	assert.Equal(t, "POSITION_CLOSE_ID", got[2]["actionType"])
	assert.Equal(t, "POSITION_MODIFY", got[3]["actionType"])
	assert.Equal(t, 2100.0, got[3]["takeProfit"])
	assert.NotContains(t, got[3], "stopLoss")
}

func TestPositionsAndHistory(t *testing.T) {
	mux := bridgeMux(t)
	mux.HandleFunc(accountPrefix+"/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1","symbol":"GOLD","type":"POSITION_TYPE_SELL","volume":0.2,"openPrice":2000,"profit":-3}]`))
	})
	mux.HandleFunc(accountPrefix+"/history-orders/time/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"id":"9","positionId":"1","symbol":"GOLD","type":"ORDER_TYPE_BUY","state":"ORDER_STATE_FILLED","volume":0.2,"openPrice":2000,"donePrice":2005}]`))
	})
	c := newTestClient(t, mux)
	require.NoError(t, c.Connect(context.Background()))

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, common.SideSell, positions[0].Side)

	history, err := c.GetHistoryOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2005.0, history[0].ClosePrice)
	assert.Equal(t, common.SideBuy, history[0].Side)
}

func TestServerNowFollowsTerminalClock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(accountPrefix, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"connectionStatus":"CONNECTED"}`))
	})
	mux.HandleFunc(accountPrefix+"/server-time", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"time": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339Nano)})
	})
	c := newTestClient(t, mux)
	require.NoError(t, c.Connect(context.Background()))

	assert.WithinDuration(t, time.Now().Add(2*time.Hour), c.ServerNow(), time.Minute)
}

func TestPriceStreamDispatchesToListeners(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := bridgeMux(t)
	mux.HandleFunc("/accounts/acc-1/prices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("auth-token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"prices","prices":[{"symbol":"GOLD","bid":2001,"ask":2001.3}]}`))
		// Hold the socket until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	c := newTestClient(t, mux)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan common.Price, 1)
	id, err := c.AddSynchronizationListener(common.PriceListenerFunc(func(p common.Price) {
		select {
		case got <- p:
		default:
		}
	}))
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, "GOLD", p.Symbol)
		assert.Equal(t, 2001.0, p.Bid)
	case <-time.After(2 * time.Second):
		t.Fatal("no streamed price")
	}

	c.RemoveSynchronizationListener(id)
	c.mu.RLock()
	assert.Nil(t, c.stream)
	c.mu.RUnlock()
}

func TestPriceStreamRedialsAfterTerminalClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials atomic.Int32
	mux := bridgeMux(t)
	mux.HandleFunc("/accounts/acc-1/prices", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if dials.Add(1) == 1 {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "terminal restart"))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"prices","prices":[{"symbol":"GOLD","bid":2002,"ask":2002.3}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:          srv.URL,
		StreamURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:            "secret",
		AccountID:        "acc-1",
		StreamRetryDelay: 10 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })

	got := make(chan common.Price, 1)
	_, err := c.AddSynchronizationListener(common.PriceListenerFunc(func(p common.Price) {
		select {
		case got <- p:
		default:
		}
	}))
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, 2002.0, p.Bid)
	case <-time.After(3 * time.Second):
		t.Fatal("no price after the terminal closed the stream")
	}
	assert.Equal(t, int32(2), dials.Load())

	c.mu.RLock()
	assert.NotNil(t, c.stream)
	c.mu.RUnlock()
}

func TestAddListenerDialsWithoutHoldingClientLock(t *testing.T) {
	upgrader := websocket.Upgrader{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	mux := bridgeMux(t)
	mux.HandleFunc("/accounts/acc-1/prices", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	c := newTestClient(t, mux)
	t.Cleanup(unblock)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })

	added := make(chan error, 1)
	go func() {
		_, err := c.AddSynchronizationListener(common.PriceListenerFunc(func(common.Price) {}))
		added <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never dialed")
	}
	answered := make(chan bool, 1)
	go func() { answered <- c.IsActive() }()
	select {
	case active := <-answered:
		assert.True(t, active)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("IsActive blocked while the stream was dialing")
	}

	unblock()
	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not added")
	}
}
