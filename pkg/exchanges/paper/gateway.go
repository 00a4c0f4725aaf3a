// Package paper implements an in-memory simulated broker account. It fills
// market orders immediately against seeded quotes, keeps limit orders
// pending and records positions and history, so the execution layer can run
// end-to-end without a live terminal.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"execution-core/pkg/exchanges/common"
)

var (
	ErrNotConnected     = errors.New("paper: account not connected")
	ErrUnknownSymbol    = errors.New("paper: unknown symbol")
	ErrPositionNotFound = errors.New("paper: position not found")
)

// Instrument is a seeded broker symbol.
type Instrument struct {
	Bid          float64
	Ask          float64
	Spec         common.SymbolSpecification
	ContractSize float64
}

// Config controls the simulation.
type Config struct {
	SlippageBps  float64 // random adverse slippage applied on market fills
	LatencyMinMs int
	LatencyMaxMs int
	Instruments  map[string]Instrument // nil = DefaultInstruments()
}

// DefaultInstruments returns a small catalog using common retail broker names.
func DefaultInstruments() map[string]Instrument {
	return map[string]Instrument{
		"XAUUSD": {Bid: 2000.00, Ask: 2000.30, ContractSize: 100, Spec: common.SymbolSpecification{Point: 0.01, Digits: 2, MinLot: 0.01, MaxLot: 50, LotStep: 0.01}},
		"XAGUSD": {Bid: 24.10, Ask: 24.13, ContractSize: 5000, Spec: common.SymbolSpecification{Point: 0.001, Digits: 3, MinLot: 0.01, MaxLot: 50, LotStep: 0.01}},
		"EURUSD": {Bid: 1.08500, Ask: 1.08512, ContractSize: 100000, Spec: common.SymbolSpecification{Point: 0.00001, Digits: 5, MinLot: 0.01, MaxLot: 100, LotStep: 0.01}},
		"GBPUSD": {Bid: 1.26400, Ask: 1.26415, ContractSize: 100000, Spec: common.SymbolSpecification{Point: 0.00001, Digits: 5, MinLot: 0.01, MaxLot: 100, LotStep: 0.01}},
		"USDJPY": {Bid: 149.500, Ask: 149.514, ContractSize: 100000, Spec: common.SymbolSpecification{Point: 0.001, Digits: 3, MinLot: 0.01, MaxLot: 100, LotStep: 0.01}},
		"US30":   {Bid: 38500.0, Ask: 38502.0, ContractSize: 1, Spec: common.SymbolSpecification{Point: 0.1, Digits: 1, MinLot: 0.1, MaxLot: 100, LotStep: 0.1}},
		"BTCUSD": {Bid: 64000.00, Ask: 64025.00, ContractSize: 1, Spec: common.SymbolSpecification{Point: 0.01, Digits: 2, MinLot: 0.01, MaxLot: 10, LotStep: 0.01}},
	}
}

// Gateway is a simulated account; it is its own Connection.
type Gateway struct {
	accountID string
	cfg       Config

	mu          sync.RWMutex
	connected   bool
	instruments map[string]Instrument
	candles     map[string][]common.Candle
	positions   map[string]*common.Position
	pending     map[string]*common.HistoryOrder
	history     []common.HistoryOrder
	listeners   map[common.ListenerID]common.SynchronizationListener
	nextID      uint64

	failPrice   map[string]error
	failTrade   error
	failCandles error
	calls       map[string]int

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// New creates a disconnected paper account.
func New(accountID string, cfg Config) *Gateway {
	instruments := cfg.Instruments
	if instruments == nil {
		instruments = DefaultInstruments()
	}
	seeded := make(map[string]Instrument, len(instruments))
	for sym, inst := range instruments {
		seeded[strings.ToUpper(sym)] = normalizeInstrument(sym, inst)
	}
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	return &Gateway{
		accountID:   accountID,
		cfg:         cfg,
		instruments: seeded,
		candles:     make(map[string][]common.Candle),
		positions:   make(map[string]*common.Position),
		pending:     make(map[string]*common.HistoryOrder),
		listeners:   make(map[common.ListenerID]common.SynchronizationListener),
		failPrice:   make(map[string]error),
		calls:       make(map[string]int),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
}

func normalizeInstrument(sym string, inst Instrument) Instrument {
	inst.Spec.Symbol = strings.ToUpper(sym)
	if inst.ContractSize <= 0 {
		inst.ContractSize = 1
	}
	return inst
}

// WithClock overrides the time source used for quotes, candles and history.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

func (g *Gateway) AccountID() string { return g.accountID }

func (g *Gateway) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	g.connected = false
	g.listeners = make(map[common.ListenerID]common.SynchronizationListener)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) IsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *Gateway) Connection() (common.Connection, error) {
	if !g.IsActive() {
		return nil, ErrNotConnected
	}
	return g, nil
}

// --- simulation controls ---

// AddSymbol seeds or replaces a broker symbol.
func (g *Gateway) AddSymbol(symbol string, inst Instrument) {
	g.mu.Lock()
	g.instruments[strings.ToUpper(symbol)] = normalizeInstrument(symbol, inst)
	g.mu.Unlock()
}

// RemoveSymbol drops a broker symbol so price and spec queries fail for it.
func (g *Gateway) RemoveSymbol(symbol string) {
	g.mu.Lock()
	delete(g.instruments, strings.ToUpper(symbol))
	g.mu.Unlock()
}

// SetPrice updates a quote and pushes it to every listener.
func (g *Gateway) SetPrice(symbol string, bid, ask float64) error {
	symbol = strings.ToUpper(symbol)
	g.mu.Lock()
	inst, ok := g.instruments[symbol]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	inst.Bid, inst.Ask = bid, ask
	g.instruments[symbol] = inst
	listeners := make([]common.SynchronizationListener, 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l)
	}
	price := common.Price{Symbol: symbol, Bid: bid, Ask: ask, Time: g.now()}
	g.mu.Unlock()

	for _, l := range listeners {
		l.OnSymbolPriceUpdated(price)
	}
	return nil
}

// SetCandles seeds the series returned for (symbol, timeframe).
func (g *Gateway) SetCandles(symbol, timeframe string, candles []common.Candle) {
	g.mu.Lock()
	g.candles[candleKey(symbol, timeframe)] = append([]common.Candle(nil), candles...)
	g.mu.Unlock()
}

// FailPrice makes price queries for symbol return err. A nil err clears it.
func (g *Gateway) FailPrice(symbol string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failPrice, strings.ToUpper(symbol))
		return
	}
	g.failPrice[strings.ToUpper(symbol)] = err
}

// FailTrade makes every trade call return err. A nil err clears it.
func (g *Gateway) FailTrade(err error) {
	g.mu.Lock()
	g.failTrade = err
	g.mu.Unlock()
}

// FailCandles makes candle queries return err. A nil err clears it.
func (g *Gateway) FailCandles(err error) {
	g.mu.Lock()
	g.failCandles = err
	g.mu.Unlock()
}

// Calls returns how often method was invoked for symbol.
func (g *Gateway) Calls(method, symbol string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.calls[method+"|"+strings.ToUpper(symbol)]
}

// TotalCalls returns how often method was invoked across all symbols.
func (g *Gateway) TotalCalls(method string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	prefix := method + "|"
	for k, v := range g.calls {
		if strings.HasPrefix(k, prefix) {
			n += v
		}
	}
	return n
}

// ListenerCount returns the number of registered synchronization listeners.
func (g *Gateway) ListenerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.listeners)
}

func (g *Gateway) record(method, symbol string) {
	g.mu.Lock()
	g.calls[method+"|"+strings.ToUpper(symbol)]++
	g.mu.Unlock()
}

// simulateLatency sleeps a random duration within the configured range.
func (g *Gateway) simulateLatency(ctx context.Context) error {
	minMs, maxMs := g.cfg.LatencyMinMs, g.cfg.LatencyMaxMs
	if maxMs <= 0 {
		return ctx.Err()
	}
	if minMs < 0 {
		minMs = 0
	}
	delayMs := minMs
	if span := maxMs - minMs; span > 0 {
		g.rngMu.Lock()
		delayMs += g.rng.Intn(span + 1)
		g.rngMu.Unlock()
	}
	if delayMs == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) instrument(symbol string) (Instrument, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	inst, ok := g.instruments[strings.ToUpper(symbol)]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return inst, nil
}

// --- market data ---

func (g *Gateway) GetSymbolPrice(ctx context.Context, symbol string) (common.Price, error) {
	g.record("GetSymbolPrice", symbol)
	if err := g.simulateLatency(ctx); err != nil {
		return common.Price{}, err
	}
	g.mu.RLock()
	failErr := g.failPrice[strings.ToUpper(symbol)]
	g.mu.RUnlock()
	if failErr != nil {
		return common.Price{}, failErr
	}
	inst, err := g.instrument(symbol)
	if err != nil {
		return common.Price{}, err
	}
	return common.Price{Symbol: strings.ToUpper(symbol), Bid: inst.Bid, Ask: inst.Ask, Time: g.now()}, nil
}

func (g *Gateway) GetSymbolSpecification(ctx context.Context, symbol string) (common.SymbolSpecification, error) {
	g.record("GetSymbolSpecification", symbol)
	if err := g.simulateLatency(ctx); err != nil {
		return common.SymbolSpecification{}, err
	}
	inst, err := g.instrument(symbol)
	if err != nil {
		return common.SymbolSpecification{}, err
	}
	return inst.Spec, nil
}

func (g *Gateway) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]common.Candle, error) {
	g.record("GetCandles", symbol)
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	failErr := g.failCandles
	seeded, hasSeed := g.candles[candleKey(symbol, timeframe)]
	g.mu.RUnlock()
	if failErr != nil {
		return nil, failErr
	}
	if hasSeed {
		if count > 0 && len(seeded) > count {
			seeded = seeded[len(seeded)-count:]
		}
		return append([]common.Candle(nil), seeded...), nil
	}
	inst, err := g.instrument(symbol)
	if err != nil {
		return nil, err
	}
	return synthesizeCandles(strings.ToUpper(symbol), timeframe, count, inst, g.now()), nil
}

// synthesizeCandles builds a deterministic oscillating series ending at the
// current quote.
func synthesizeCandles(symbol, timeframe string, count int, inst Instrument, now time.Time) []common.Candle {
	if count <= 0 {
		return nil
	}
	step := timeframeDuration(timeframe)
	end := now.UTC().Truncate(step)
	mid := (inst.Bid + inst.Ask) / 2
	spread := inst.Ask - inst.Bid
	out := make([]common.Candle, count)
	prev := mid
	for i := 0; i < count; i++ {
		back := count - 1 - i
		closePrice := mid * (1 + 0.002*math.Sin(float64(back)/3))
		high := math.Max(prev, closePrice) + spread
		low := math.Min(prev, closePrice) - spread
		out[i] = common.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Time:      end.Add(-time.Duration(back) * step),
			Open:      prev,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    float64(100 + (i*37)%250),
			Spread:    spread,
		}
		prev = closePrice
	}
	return out
}

func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "1mn":
		return 30 * 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	if strings.HasSuffix(tf, "h") {
		var n int
		if _, err := fmt.Sscanf(tf, "%dh", &n); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
	}
	if strings.HasSuffix(tf, "m") {
		var n int
		if _, err := fmt.Sscanf(tf, "%dm", &n); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return time.Minute
}

func candleKey(symbol, timeframe string) string {
	return strings.ToUpper(symbol) + "|" + timeframe
}

// --- listeners ---

func (g *Gateway) AddSynchronizationListener(l common.SynchronizationListener) (common.ListenerID, error) {
	if l == nil {
		return "", errors.New("paper: nil listener")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return "", ErrNotConnected
	}
	g.nextID++
	id := common.ListenerID(fmt.Sprintf("paper-listener-%d", g.nextID))
	g.listeners[id] = l
	return id, nil
}

func (g *Gateway) RemoveSynchronizationListener(id common.ListenerID) {
	g.mu.Lock()
	delete(g.listeners, id)
	g.mu.Unlock()
}
