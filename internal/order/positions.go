package order

import (
	"context"
	"strings"
	"time"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

// CloseTrade closes a position. Open price context comes from the broker's
// position list when available; otherwise the close response alone is used.
func (e *Executor) CloseTrade(ctx context.Context, positionID string) CloseOutcome {
	start := time.Now()
	out := CloseOutcome{PositionID: strings.TrimSpace(positionID)}
	fail := func(err error, stage Stage) CloseOutcome {
		elapsed := time.Since(start)
		out.ExecutionTimeMs = elapsed.Milliseconds()
		out.Error = err.Error()
		out.ErrorDetails = detailsFor(err, stage)
		e.metrics.ObserveOrder("CLOSE_FAILED", string(out.ErrorDetails.Kind), elapsed)
		e.log.Warn().Str("position_id", out.PositionID).Err(err).Msg("close failed")
		e.publish(events.EventOrderRejected, out)
		return out
	}
	if out.PositionID == "" {
		return fail(&ValidationError{Field: "positionId", Reason: "required"}, StageValidating)
	}
	sess, err := e.source.Active()
	if err != nil {
		return fail(err, StageSubmitting)
	}

	var pos *common.Position
	lctx, cancel := e.call(ctx)
	positions, err := sess.Conn.GetPositions(lctx)
	cancel()
	if err != nil {
		e.log.Warn().Err(err).Str("position_id", out.PositionID).Msg("position lookup failed, closing without local context")
	}
	for i := range positions {
		if positions[i].ID == out.PositionID {
			pos = &positions[i]
			break
		}
	}

	cctx, cancel := e.call(ctx)
	resp, err := sess.Conn.ClosePosition(cctx, out.PositionID)
	cancel()
	if err != nil {
		return fail(err, StageSubmitting)
	}
	if _, err := Classify(resp); err != nil {
		return fail(err, StageSubmitting)
	}

	out.Success = true
	out.BrokerOrderID = resp.OrderID
	out.ClosePrice = resp.Price
	out.Profit = resp.Profit
	if pos != nil {
		out.Symbol = e.resolver.BrokerToCanonical(sess.AccountID, pos.Symbol)
		out.OpenPrice = pos.OpenPrice
		if out.ClosePrice <= 0 {
			out.ClosePrice = pos.CurrentPrice
		}
		if resp.Profit == 0 {
			out.Profit = pos.Profit
		}
		out.ProfitPercent = MovePercent(pos.Side, pos.OpenPrice, out.ClosePrice)
	}
	elapsed := time.Since(start)
	out.ExecutionTimeMs = elapsed.Milliseconds()
	e.metrics.ObserveOrder("CLOSED", "", elapsed)
	e.log.Info().Str("position_id", out.PositionID).Float64("close_price", out.ClosePrice).
		Float64("profit", out.Profit).Msg("position closed")
	e.publish(events.EventPositionClosed, out)
	return out
}

// ModifyTrade changes the stop and/or target of a position or pending
// order. Failures are reported, never retried.
func (e *Executor) ModifyTrade(ctx context.Context, positionID string, req ModifyRequest) ModifyOutcome {
	start := time.Now()
	out := ModifyOutcome{PositionID: strings.TrimSpace(positionID), StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}
	fail := func(err error, stage Stage) ModifyOutcome {
		out.ExecutionTimeMs = time.Since(start).Milliseconds()
		out.Error = err.Error()
		out.ErrorDetails = detailsFor(err, stage)
		e.log.Warn().Str("position_id", out.PositionID).Err(err).Msg("modify failed")
		e.publish(events.EventOrderRejected, out)
		return out
	}
	switch {
	case out.PositionID == "":
		return fail(&ValidationError{Field: "positionId", Reason: "required"}, StageValidating)
	case req.StopLoss == nil && req.TakeProfit == nil:
		return fail(&ValidationError{Field: "stopLoss", Reason: "stop loss or take profit required"}, StageValidating)
	case req.StopLoss != nil && *req.StopLoss < 0:
		return fail(&ValidationError{Field: "stopLoss", Reason: "must not be negative"}, StageValidating)
	case req.TakeProfit != nil && *req.TakeProfit < 0:
		return fail(&ValidationError{Field: "takeProfit", Reason: "must not be negative"}, StageValidating)
	}

	sess, err := e.source.Active()
	if err != nil {
		return fail(err, StageSubmitting)
	}
	cctx, cancel := e.call(ctx)
	resp, err := sess.Conn.ModifyPosition(cctx, out.PositionID, req.StopLoss, req.TakeProfit)
	cancel()
	if err != nil {
		return fail(err, StageSubmitting)
	}
	if _, err := Classify(resp); err != nil {
		return fail(err, StageSubmitting)
	}
	out.Success = true
	out.ExecutionTimeMs = time.Since(start).Milliseconds()
	e.log.Info().Str("position_id", out.PositionID).Msg("position modified")
	e.publish(events.EventPositionModified, out)
	return out
}

// GetOpenOrders lists open positions with canonical symbols.
func (e *Executor) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	sess, err := e.source.Active()
	if err != nil {
		return nil, err
	}
	cctx, cancel := e.call(ctx)
	defer cancel()
	positions, err := sess.Conn.GetPositions(cctx)
	if err != nil {
		return nil, err
	}
	out := make([]OpenOrder, 0, len(positions))
	for _, p := range positions {
		out = append(out, OpenOrder{
			PositionID:    p.ID,
			Symbol:        e.resolver.BrokerToCanonical(sess.AccountID, p.Symbol),
			BrokerSymbol:  p.Symbol,
			Side:          p.Side,
			Volume:        p.Volume,
			OpenPrice:     p.OpenPrice,
			CurrentPrice:  p.CurrentPrice,
			StopLoss:      p.StopLoss,
			TakeProfit:    p.TakeProfit,
			Profit:        p.Profit,
			ProfitPercent: ExposurePercent(p.Profit, p.OpenPrice, p.Volume),
			Swap:          p.Swap,
			Commission:    p.Commission,
			Comment:       p.Comment,
			OpenTime:      p.OpenTime,
		})
	}
	return out, nil
}

// GetTradeHistory lists completed orders in [Start, End]. The window
// defaults to the configured lookback ending now, on the broker clock when
// the connection tracks it.
func (e *Executor) GetTradeHistory(ctx context.Context, opts HistoryOptions) ([]HistoryRecord, error) {
	if !opts.Start.IsZero() && !opts.End.IsZero() && opts.Start.After(opts.End) {
		return nil, &ValidationError{Field: "start", Reason: "must not be after end"}
	}
	sess, err := e.source.Active()
	if err != nil {
		return nil, err
	}
	if opts.End.IsZero() {
		opts.End = e.serverNow(sess.Conn)
	}
	if opts.Start.IsZero() {
		opts.Start = opts.End.Add(-e.cfg.HistoryWindow)
	}
	if opts.Start.After(opts.End) {
		return nil, &ValidationError{Field: "start", Reason: "must not be after end"}
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultHistoryLimit
	}
	filter := strings.ToUpper(strings.TrimSpace(opts.Symbol))

	cctx, cancel := e.call(ctx)
	defer cancel()
	orders, err := sess.Conn.GetHistoryOrders(cctx, opts.Start, opts.End, opts.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, 0, len(orders))
	for _, h := range orders {
		canonical := e.resolver.BrokerToCanonical(sess.AccountID, h.Symbol)
		if filter != "" && canonical != filter {
			continue
		}
		out = append(out, HistoryRecord{
			OrderID:       h.ID,
			PositionID:    h.PositionID,
			Symbol:        canonical,
			BrokerSymbol:  h.Symbol,
			Side:          h.Side,
			Type:          h.Type,
			State:         h.State,
			Volume:        h.Volume,
			OpenPrice:     h.OpenPrice,
			ClosePrice:    h.ClosePrice,
			StopLoss:      h.StopLoss,
			TakeProfit:    h.TakeProfit,
			Profit:        h.Profit,
			ProfitPercent: ExposurePercent(h.Profit, h.OpenPrice, h.Volume),
			OpenTime:      h.OpenTime,
			DoneTime:      h.DoneTime,
		})
	}
	return out, nil
}

func (e *Executor) serverNow(conn common.Connection) time.Time {
	if clock, ok := conn.(common.ServerClock); ok {
		return clock.ServerNow()
	}
	return e.now()
}
