// Package order turns broker-agnostic trade intents into gateway calls and
// classifies the results into uniform outcomes.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/monitor"
	"execution-core/internal/risk"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
)

// Config tunes the executor.
type Config struct {
	ExecutionTimeout time.Duration // per gateway call
	SlippagePoints   float64
	BatchConcurrency int           // 0 = one goroutine per intent
	HistoryWindow    time.Duration // default lookback for GetTradeHistory
}

const (
	defaultExecutionTimeout = 5 * time.Second
	defaultHistoryWindow    = 7 * 24 * time.Hour
	defaultHistoryLimit     = 100
)

// Executor places, closes and modifies trades on the active account.
type Executor struct {
	source   gateway.Source
	resolver *symbols.Resolver
	risk     *risk.Calculator
	cfg      Config
	bus      *events.Bus
	metrics  *monitor.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Executor)

func WithBus(bus *events.Bus) Option { return func(e *Executor) { e.bus = bus } }

func WithMetrics(m *monitor.Metrics) Option { return func(e *Executor) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

func NewExecutor(source gateway.Source, resolver *symbols.Resolver, calc *risk.Calculator, cfg Config, log zerolog.Logger, opts ...Option) *Executor {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = defaultExecutionTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.SlippagePoints < 0 {
		cfg.SlippagePoints = 0
	}
	e := &Executor{
		source:   source,
		resolver: resolver,
		risk:     calc,
		cfg:      cfg,
		log:      log.With().Str("component", "executor").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.risk == nil {
		e.risk = risk.NewCalculator(risk.DefaultConfig(), log)
	}
	return e
}

func (e *Executor) Config() Config { return e.cfg }

func (e *Executor) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
}

// placement carries one intent through the state machine.
type placement struct {
	intent TradeIntent
	out    TradeOutcome
}

func (p *placement) enter(s Stage) { p.out.Stage = s }

// PlaceTrade never returns an error: every failure is folded into the
// outcome together with the stage it happened in.
func (e *Executor) PlaceTrade(ctx context.Context, intent TradeIntent) TradeOutcome {
	start := time.Now()
	p := &placement{intent: intent, out: TradeOutcome{
		ClientID: uuid.NewString(),
		Symbol:   strings.ToUpper(strings.TrimSpace(intent.Symbol)),
		Side:     common.Side(strings.ToUpper(strings.TrimSpace(string(intent.Side)))),
		Volume:   intent.Volume,
		Stage:    StageValidating,
	}}
	err := e.placeRecovered(ctx, p)
	return e.finish(p, err, time.Since(start))
}

func (e *Executor) placeRecovered(ctx context.Context, p *placement) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("client_id", p.out.ClientID).Str("stage", string(p.out.Stage)).
				Interface("panic", r).Msg("placement panicked")
			err = &PanicError{Value: r}
		}
	}()
	return e.place(ctx, p)
}

func (e *Executor) place(ctx context.Context, p *placement) error {
	in, err := normalizeIntent(p.intent)
	if err != nil {
		return err
	}
	p.intent = in

	p.enter(StageSymbolResolving)
	sess, err := e.source.Active()
	if err != nil {
		return err
	}
	rctx, cancel := e.call(ctx)
	res, err := e.resolver.Resolve(rctx, sess.AccountID, sess.Conn, in.Symbol)
	cancel()
	if err != nil {
		return err
	}
	p.out.BrokerSymbol = res.BrokerSymbol

	p.enter(StagePriceFetching)
	base := in.EntryPrice
	if base <= 0 {
		base = sidePrice(res.Price, in.Side)
	}
	if base <= 0 {
		return fmt.Errorf("no usable %s price for %s", in.Side, res.BrokerSymbol)
	}

	p.enter(StageRiskDeriving)
	spec := e.symbolSpec(ctx, sess.Conn, res.BrokerSymbol)
	volume := e.risk.Volume(in.Volume, spec)
	if volume != in.Volume {
		e.log.Debug().Str("symbol", in.Symbol).Float64("requested", in.Volume).Float64("volume", volume).Msg("volume normalised")
	}
	p.out.Volume = volume
	prot, err := e.risk.Protect(base, in.Side, in.Stop, in.Target, spec)
	if err != nil {
		return err
	}
	p.out.StopPrice, p.out.TargetPrice = prot.StopLoss, prot.TakeProfit

	p.enter(StageSubmitting)
	req := common.OrderRequest{
		Symbol:     res.BrokerSymbol,
		Volume:     volume,
		StopLoss:   prot.StopLoss,
		TakeProfit: prot.TakeProfit,
		Comment:    in.Comment,
		ClientID:   p.out.ClientID,
	}
	if in.Kind == KindLimit {
		req.OpenPrice = in.EntryPrice
	} else {
		req.Slippage = e.cfg.SlippagePoints
	}
	e.publish(events.EventOrderSubmitted, p.out)

	sctx, cancel := e.call(ctx)
	defer cancel()
	resp, err := submit(sctx, sess.Conn, in, req)
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}
	status, err := Classify(resp)
	if err != nil {
		return err
	}

	p.out.Status = status
	p.out.BrokerOrderID = resp.OrderID
	p.out.PositionID = resp.PositionID
	if status == StatusFilled {
		p.out.FilledPrice = resp.Price
		if p.out.FilledPrice <= 0 {
			p.out.FilledPrice = base
		}
		p.enter(StageFilled)
	} else {
		p.enter(StagePendingBroker)
	}
	return nil
}

func (e *Executor) finish(p *placement, err error, elapsed time.Duration) TradeOutcome {
	out := p.out
	out.ExecutionTimeMs = elapsed.Milliseconds()
	if err != nil {
		out.Success = false
		out.Status = StatusFailed
		out.Error = err.Error()
		out.ErrorDetails = detailsFor(err, out.Stage)
		e.metrics.ObserveOrder(string(StatusFailed), string(out.ErrorDetails.Kind), elapsed)
		e.log.Warn().Str("client_id", out.ClientID).Str("symbol", out.Symbol).
			Str("stage", string(out.Stage)).Str("kind", string(out.ErrorDetails.Kind)).
			Err(err).Msg("trade failed")
	} else {
		out.Success = true
		e.metrics.ObserveOrder(string(out.Status), "", elapsed)
		e.log.Info().Str("client_id", out.ClientID).Str("symbol", out.Symbol).
			Str("broker_symbol", out.BrokerSymbol).Str("side", string(out.Side)).
			Float64("volume", out.Volume).Str("status", string(out.Status)).
			Int64("ms", out.ExecutionTimeMs).Msg("trade placed")
	}
	e.publish(outcomeEvent(out), out)
	return out
}

func normalizeIntent(in TradeIntent) (TradeIntent, error) {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Symbol == "" {
		return in, &ValidationError{Field: "symbol", Reason: "required"}
	}
	in.Side = common.Side(strings.ToUpper(strings.TrimSpace(string(in.Side))))
	if in.Side != common.SideBuy && in.Side != common.SideSell {
		return in, &ValidationError{Field: "side", Reason: fmt.Sprintf("must be BUY or SELL, got %q", in.Side)}
	}
	if in.Volume <= 0 {
		return in, &ValidationError{Field: "volume", Reason: "must be positive"}
	}
	in.Kind = Kind(strings.ToLower(strings.TrimSpace(string(in.Kind))))
	switch in.Kind {
	case "":
		in.Kind = KindMarket
	case KindMarket, KindLimit:
	default:
		return in, &ValidationError{Field: "orderKind", Reason: fmt.Sprintf("unknown kind %q", in.Kind)}
	}
	if in.EntryPrice < 0 {
		return in, &ValidationError{Field: "entryPrice", Reason: "must not be negative"}
	}
	if in.Kind == KindLimit && in.EntryPrice == 0 {
		return in, &ValidationError{Field: "entryPrice", Reason: "required for limit orders"}
	}
	return in, nil
}

// sidePrice is the price a market order on side would trade at: ask for a
// buy, bid for a sell, falling back to whichever side is quoted.
func sidePrice(p common.Price, side common.Side) float64 {
	first, second := p.Ask, p.Bid
	if side == common.SideSell {
		first, second = p.Bid, p.Ask
	}
	if first > 0 {
		return first
	}
	return second
}

func (e *Executor) symbolSpec(ctx context.Context, conn common.Connection, broker string) risk.SymbolSpec {
	cctx, cancel := e.call(ctx)
	defer cancel()
	s, err := conn.GetSymbolSpecification(cctx, broker)
	if err != nil {
		e.log.Warn().Err(err).Str("broker_symbol", broker).Msg("symbol specification unavailable, using defaults")
		return risk.DefaultSymbolSpec()
	}
	return risk.FromBroker(s)
}

func submit(ctx context.Context, conn common.Connection, in TradeIntent, req common.OrderRequest) (common.TradeResponse, error) {
	switch {
	case in.Kind == KindLimit && in.Side == common.SideBuy:
		return conn.CreateLimitBuyOrder(ctx, req)
	case in.Kind == KindLimit:
		return conn.CreateLimitSellOrder(ctx, req)
	case in.Side == common.SideBuy:
		return conn.CreateMarketBuyOrder(ctx, req)
	default:
		return conn.CreateMarketSellOrder(ctx, req)
	}
}
