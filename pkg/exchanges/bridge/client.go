// Package bridge talks to a trading-terminal bridge over REST and receives
// streamed prices over a websocket.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"execution-core/pkg/exchanges/common"
)

var ErrNotConnected = errors.New("bridge: account not connected")

// Config holds bridge endpoint settings for one account.
type Config struct {
	BaseURL   string
	StreamURL string
	Token     string
	AccountID string
	RPS       float64
	Timeout   time.Duration

	StreamRetryDelay time.Duration // first redial delay after the price socket drops, doubles up to a minute
}

// Client is a Gateway and Connection for one bridge account.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	timeSync    *common.TimeSync
	log         zerolog.Logger

	mu        sync.RWMutex
	active    bool
	listeners map[common.ListenerID]common.SynchronizationListener
	nextID    uint64
	stream    *priceStream
	redialing bool
}

// NewClient creates a bridge client. Call Connect before use.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.StreamRetryDelay <= 0 {
		cfg.StreamRetryDelay = time.Second
	}
	c := &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: common.NewRateLimiter(cfg.RPS, max(1, int(cfg.RPS))),
		log:         log.With().Str("component", "bridge").Str("account", cfg.AccountID).Logger(),
		listeners:   make(map[common.ListenerID]common.SynchronizationListener),
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime)
	return c
}

var (
	_ common.Gateway     = (*Client)(nil)
	_ common.Connection  = (*Client)(nil)
	_ common.ServerClock = (*Client)(nil)
)

func (c *Client) AccountID() string { return c.cfg.AccountID }

// Connect checks the account state and marks the client active when the
// terminal reports CONNECTED.
func (c *Client) Connect(ctx context.Context) error {
	var st accountState
	if err := c.do(ctx, http.MethodGet, "", nil, nil, &st); err != nil {
		return fmt.Errorf("bridge connect: %w", err)
	}
	if st.ConnectionStatus != "CONNECTED" {
		return fmt.Errorf("bridge connect: account %s status %q", c.cfg.AccountID, st.ConnectionStatus)
	}
	if err := c.timeSync.Sync(ctx); err != nil {
		c.log.Warn().Err(err).Msg("server time sync failed")
	}
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.active = false
	c.listeners = make(map[common.ListenerID]common.SynchronizationListener)
	c.mu.Unlock()
	if stream != nil {
		stream.stop()
	}
	return nil
}

func (c *Client) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Client) Connection() (common.Connection, error) {
	if !c.IsActive() {
		return nil, ErrNotConnected
	}
	return c, nil
}

// RateLimitUsage reports admitted and denied request counts.
func (c *Client) RateLimitUsage() (admitted, denied uint64) {
	return c.rateLimiter.GetUsage()
}

// GetServerTime returns the terminal's clock.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		Time time.Time `json:"time"`
	}
	if err := c.do(ctx, http.MethodGet, "/server-time", nil, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.Time, nil
}

func (c *Client) GetSymbolPrice(ctx context.Context, symbol string) (common.Price, error) {
	var p priceDTO
	if err := c.do(ctx, http.MethodGet, "/symbols/"+url.PathEscape(symbol)+"/current-price", nil, nil, &p); err != nil {
		return common.Price{}, err
	}
	if p.Symbol == "" {
		p.Symbol = symbol
	}
	return p.toCommon(), nil
}

func (c *Client) GetSymbolSpecification(ctx context.Context, symbol string) (common.SymbolSpecification, error) {
	var s specDTO
	if err := c.do(ctx, http.MethodGet, "/symbols/"+url.PathEscape(symbol)+"/specification", nil, nil, &s); err != nil {
		return common.SymbolSpecification{}, err
	}
	return common.SymbolSpecification{
		Symbol:  symbol,
		Point:   s.TickSize,
		Digits:  s.Digits,
		MinLot:  s.MinVolume,
		MaxLot:  s.MaxVolume,
		LotStep: s.VolumeStep,
	}, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]common.Candle, error) {
	q := url.Values{}
	if count > 0 {
		q.Set("limit", strconv.Itoa(count))
	}
	path := "/historical-market-data/symbols/" + url.PathEscape(symbol) + "/timeframes/" + url.PathEscape(timeframe) + "/candles"
	var raw []candleDTO
	if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Candle, 0, len(raw))
	for _, k := range raw {
		out = append(out, common.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Time:      k.Time,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.TickVolume,
			Spread:    k.Spread,
		})
	}
	return out, nil
}

func (c *Client) CreateMarketBuyOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return c.trade(ctx, orderPayload("ORDER_TYPE_BUY", req))
}

func (c *Client) CreateMarketSellOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return c.trade(ctx, orderPayload("ORDER_TYPE_SELL", req))
}

func (c *Client) CreateLimitBuyOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return c.trade(ctx, orderPayload("ORDER_TYPE_BUY_LIMIT", req))
}

func (c *Client) CreateLimitSellOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return c.trade(ctx, orderPayload("ORDER_TYPE_SELL_LIMIT", req))
}

func (c *Client) ClosePosition(ctx context.Context, positionID string) (common.TradeResponse, error) {
	return c.trade(ctx, tradeRequest{ActionType: "POSITION_CLOSE_ID", PositionID: positionID})
}

func (c *Client) ModifyPosition(ctx context.Context, positionID string, stopLoss, takeProfit *float64) (common.TradeResponse, error) {
	return c.trade(ctx, tradeRequest{ActionType: "POSITION_MODIFY", PositionID: positionID, StopLoss: stopLoss, TakeProfit: takeProfit})
}

func orderPayload(action string, req common.OrderRequest) tradeRequest {
	tr := tradeRequest{
		ActionType: action,
		Symbol:     req.Symbol,
		Volume:     req.Volume,
		OpenPrice:  req.OpenPrice,
		Slippage:   req.Slippage,
		Comment:    req.Comment,
		ClientID:   req.ClientID,
	}
	if req.StopLoss > 0 {
		sl := req.StopLoss
		tr.StopLoss = &sl
	}
	if req.TakeProfit > 0 {
		tp := req.TakeProfit
		tr.TakeProfit = &tp
	}
	return tr
}

func (c *Client) trade(ctx context.Context, req tradeRequest) (common.TradeResponse, error) {
	var resp tradeResponseDTO
	if err := c.do(ctx, http.MethodPost, "/trade", nil, req, &resp); err != nil {
		return common.TradeResponse{}, err
	}
	return common.TradeResponse{
		StringCode:  resp.StringCode,
		NumericCode: resp.NumericCode,
		Message:     resp.Message,
		OrderID:     resp.OrderID,
		PositionID:  resp.PositionID,
		Price:       resp.Price,
		Profit:      resp.Profit,
	}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	var raw []positionDTO
	if err := c.do(ctx, http.MethodGet, "/positions", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, common.Position{
			ID:           p.ID,
			Symbol:       p.Symbol,
			Side:         sideFromType(p.Type),
			Volume:       p.Volume,
			OpenPrice:    p.OpenPrice,
			CurrentPrice: p.CurrentPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Profit:       p.Profit,
			Swap:         p.Swap,
			Commission:   p.Commission,
			Comment:      p.Comment,
			OpenTime:     p.Time,
		})
	}
	return out, nil
}

func (c *Client) GetHistoryOrders(ctx context.Context, start, end time.Time, limit int) ([]common.HistoryOrder, error) {
	if err := c.timeSync.SyncIfStale(ctx); err != nil {
		c.log.Debug().Err(err).Msg("server time resync failed")
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/history-orders/time/" + url.PathEscape(start.UTC().Format(time.RFC3339)) + "/" + url.PathEscape(end.UTC().Format(time.RFC3339))
	var raw []historyOrderDTO
	if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]common.HistoryOrder, 0, len(raw))
	for _, h := range raw {
		out = append(out, common.HistoryOrder{
			ID:         h.ID,
			PositionID: h.PositionID,
			Symbol:     h.Symbol,
			Side:       sideFromType(h.Type),
			Type:       h.Type,
			State:      h.State,
			Volume:     h.Volume,
			OpenPrice:  h.OpenPrice,
			ClosePrice: h.DonePrice,
			StopLoss:   h.StopLoss,
			TakeProfit: h.TakeProfit,
			Profit:     h.Profit,
			OpenTime:   h.Time,
			DoneTime:   h.DoneTime,
		})
	}
	return out, nil
}

// ServerNow returns the local clock corrected by the last server time sync.
// The executor builds default history windows on it.
func (c *Client) ServerNow() time.Time {
	return c.timeSync.Now()
}

func (c *Client) accountURL() string {
	return c.cfg.BaseURL + "/users/current/accounts/" + url.PathEscape(c.cfg.AccountID)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.accountURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("auth-token", c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPError{Method: method, Path: path, Status: res.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// HTTPError is returned for non-2xx bridge responses.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bridge %s %s status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
