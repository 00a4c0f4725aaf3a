package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"execution-core/pkg/exchanges/common"
)

const (
	streamDialTimeout = 10 * time.Second
	maxStreamRetry    = time.Minute
)

type priceStream struct {
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

// stop closes done before the socket so the read loop can tell a
// deliberate stop from a dropped connection.
func (s *priceStream) stop() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func (s *priceStream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// AddSynchronizationListener registers l for streamed prices. The first
// listener opens the price socket. Dialing happens outside the client lock.
func (c *Client) AddSynchronizationListener(l common.SynchronizationListener) (common.ListenerID, error) {
	if l == nil {
		return "", errors.New("bridge: nil listener")
	}
	c.mu.RLock()
	active, need := c.active, c.stream == nil
	c.mu.RUnlock()
	if !active {
		return "", ErrNotConnected
	}

	var fresh *priceStream
	if need {
		s, err := c.openStream()
		if err != nil {
			return "", err
		}
		fresh = s
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		if fresh != nil {
			fresh.stop()
		}
		return "", ErrNotConnected
	}
	var extra *priceStream
	switch {
	case fresh != nil && c.stream == nil:
		c.stream = fresh
		go c.readLoop(fresh)
	case fresh != nil:
		// Another caller installed a stream while we were dialing.
		extra = fresh
	}
	c.nextID++
	id := common.ListenerID(fmt.Sprintf("%s-%d", c.cfg.AccountID, c.nextID))
	c.listeners[id] = l
	// The stream seen above may have dropped before this listener counted.
	redial := c.stream == nil && !c.redialing
	if redial {
		c.redialing = true
	}
	c.mu.Unlock()

	if extra != nil {
		extra.stop()
	}
	if redial {
		go c.redial()
	}
	return id, nil
}

// RemoveSynchronizationListener drops a listener; removing the last one
// closes the socket.
func (c *Client) RemoveSynchronizationListener(id common.ListenerID) {
	c.mu.Lock()
	delete(c.listeners, id)
	var s *priceStream
	if len(c.listeners) == 0 && c.stream != nil {
		s = c.stream
		c.stream = nil
	}
	c.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

func (c *Client) openStream() (*priceStream, error) {
	if c.cfg.StreamURL == "" {
		return nil, errors.New("bridge: stream url not configured")
	}
	u := c.cfg.StreamURL + "/accounts/" + url.PathEscape(c.cfg.AccountID) + "/prices"
	header := http.Header{}
	header.Set("auth-token", c.cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), streamDialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial bridge price stream: %w", err)
	}
	return &priceStream{conn: conn, done: make(chan struct{})}, nil
}

func (c *Client) readLoop(s *priceStream) {
	defer s.stop()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Err(err).Msg("price stream closed by terminal")
			} else {
				c.log.Warn().Err(err).Msg("price stream read error")
			}
			c.streamLost(s)
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.log.Debug().Err(err).Msg("price stream parse error")
			continue
		}
		if frame.Type != "prices" {
			continue
		}
		c.dispatch(frame.Prices)
	}
}

// streamLost forgets a dropped stream and starts redialing while listeners
// remain.
func (c *Client) streamLost(s *priceStream) {
	c.mu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	start := c.active && len(c.listeners) > 0 && !c.redialing
	if start {
		c.redialing = true
	}
	c.mu.Unlock()
	if start {
		go c.redial()
	}
}

func (c *Client) redial() {
	delay := c.cfg.StreamRetryDelay
	for attempt := 1; ; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if !c.active || len(c.listeners) == 0 || c.stream != nil {
			c.redialing = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		s, err := c.openStream()
		if err != nil {
			delay = min(delay*2, maxStreamRetry)
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("price stream redial failed")
			continue
		}

		c.mu.Lock()
		c.redialing = false
		if !c.active || len(c.listeners) == 0 || c.stream != nil {
			c.mu.Unlock()
			s.stop()
			return
		}
		c.stream = s
		c.mu.Unlock()
		go c.readLoop(s)
		c.log.Info().Int("attempt", attempt).Msg("price stream reconnected")
		return
	}
}

func (c *Client) dispatch(prices []priceDTO) {
	c.mu.RLock()
	listeners := make([]common.SynchronizationListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()
	for _, p := range prices {
		price := p.toCommon()
		for _, l := range listeners {
			l.OnSymbolPriceUpdated(price)
		}
	}
}
