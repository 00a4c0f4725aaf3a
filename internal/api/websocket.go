package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"execution-core/internal/events"
	"execution-core/internal/market"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsQueue      = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var orderEvents = []events.Event{
	events.EventOrderSubmitted,
	events.EventOrderFilled,
	events.EventOrderPending,
	events.EventOrderRejected,
	events.EventPositionClosed,
	events.EventPositionModified,
	events.EventAccountSwitched,
}

// streamPrices pushes quotes for ?symbol= until the client goes away. The
// subscription is made before the upgrade so resolution errors come back
// as plain HTTP errors.
func (s *Server) streamPrices(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "symbol query parameter is required")
		return
	}

	quotes := make(chan market.Quote, wsQueue)
	id, err := s.Engine.SubscribeToPrices(c.Request.Context(), symbol, func(q market.Quote) {
		select {
		case quotes <- q:
		default:
		}
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	defer func() {
		if err := s.Engine.UnsubscribeFromPrices(id); err != nil {
			s.Log.Debug().Err(err).Str("subscription", id).Msg("price stream already unsubscribed")
		}
	}()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	done := readPump(conn)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case q := <-quotes:
			if err := writeJSON(conn, gin.H{"subscription": id, "quote": q}); err != nil {
				s.Log.Debug().Err(err).Str("subscription", id).Msg("ws write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// streamOrders relays order lifecycle events from the bus.
func (s *Server) streamOrders(c *gin.Context) {
	if s.Bus == nil {
		respondError(c, http.StatusServiceUnavailable, "bus_unavailable", "event bus not ready")
		return
	}
	stream, unsub := s.Bus.SubscribeMany(100, orderEvents...)
	defer unsub()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	done := readPump(conn)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			if err := writeJSON(conn, env); err != nil {
				s.Log.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are handled, and
// closes the returned channel when the peer disconnects.
func readPump(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
