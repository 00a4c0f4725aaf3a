package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"execution-core/pkg/exchanges/common"
)

func (g *Gateway) CreateMarketBuyOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return g.marketOrder(ctx, common.SideBuy, req)
}

func (g *Gateway) CreateMarketSellOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return g.marketOrder(ctx, common.SideSell, req)
}

func (g *Gateway) CreateLimitBuyOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return g.limitOrder(ctx, common.SideBuy, req)
}

func (g *Gateway) CreateLimitSellOrder(ctx context.Context, req common.OrderRequest) (common.TradeResponse, error) {
	return g.limitOrder(ctx, common.SideSell, req)
}

func (g *Gateway) beginTrade(ctx context.Context, method, symbol string) error {
	g.record(method, symbol)
	if err := g.simulateLatency(ctx); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.connected {
		return ErrNotConnected
	}
	return g.failTrade
}

func invalid(msg string) common.TradeResponse {
	return common.TradeResponse{StringCode: common.CodeInvalid, NumericCode: common.NumericInvalid, Message: msg}
}

func (g *Gateway) marketOrder(ctx context.Context, side common.Side, req common.OrderRequest) (common.TradeResponse, error) {
	method := "CreateMarketBuyOrder"
	if side == common.SideSell {
		method = "CreateMarketSellOrder"
	}
	if err := g.beginTrade(ctx, method, req.Symbol); err != nil {
		return common.TradeResponse{}, err
	}
	inst, err := g.instrument(req.Symbol)
	if err != nil {
		return invalid("Invalid symbol"), nil
	}
	if req.Volume <= 0 || (inst.Spec.MaxLot > 0 && req.Volume > inst.Spec.MaxLot) {
		return invalid("Invalid volume"), nil
	}

	price := inst.Ask
	if side == common.SideSell {
		price = inst.Bid
	}
	if frac := g.cfg.SlippageBps / 10000.0; frac > 0 {
		g.rngMu.Lock()
		noise := g.rng.Float64() * frac
		g.rngMu.Unlock()
		if side == common.SideBuy {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}

	now := g.now()
	orderID := uuid.NewString()
	positionID := uuid.NewString()
	pos := &common.Position{
		ID:           positionID,
		Symbol:       strings.ToUpper(req.Symbol),
		Side:         side,
		Volume:       req.Volume,
		OpenPrice:    price,
		CurrentPrice: price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Comment:      req.Comment,
		OpenTime:     now,
	}

	g.mu.Lock()
	g.positions[positionID] = pos
	g.history = append(g.history, common.HistoryOrder{
		ID:         orderID,
		PositionID: positionID,
		Symbol:     pos.Symbol,
		Side:       side,
		Type:       "ORDER_TYPE_" + string(side),
		State:      "ORDER_STATE_FILLED",
		Volume:     req.Volume,
		OpenPrice:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   now,
		DoneTime:   now,
	})
	g.mu.Unlock()

	return common.TradeResponse{
		StringCode:  common.CodeDone,
		NumericCode: common.NumericDone,
		Message:     "Request completed",
		OrderID:     orderID,
		PositionID:  positionID,
		Price:       price,
	}, nil
}

func (g *Gateway) limitOrder(ctx context.Context, side common.Side, req common.OrderRequest) (common.TradeResponse, error) {
	method := "CreateLimitBuyOrder"
	if side == common.SideSell {
		method = "CreateLimitSellOrder"
	}
	if err := g.beginTrade(ctx, method, req.Symbol); err != nil {
		return common.TradeResponse{}, err
	}
	if _, err := g.instrument(req.Symbol); err != nil {
		return invalid("Invalid symbol"), nil
	}
	if req.Volume <= 0 {
		return invalid("Invalid volume"), nil
	}
	if req.OpenPrice <= 0 {
		return invalid("Invalid price"), nil
	}

	orderID := uuid.NewString()
	g.mu.Lock()
	g.pending[orderID] = &common.HistoryOrder{
		ID:         orderID,
		Symbol:     strings.ToUpper(req.Symbol),
		Side:       side,
		Type:       "ORDER_TYPE_" + string(side) + "_LIMIT",
		State:      "ORDER_STATE_PLACED",
		Volume:     req.Volume,
		OpenPrice:  req.OpenPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   g.now(),
	}
	g.mu.Unlock()

	return common.TradeResponse{
		StringCode:  common.CodePlaced,
		NumericCode: common.NumericPlaced,
		Message:     "Request placed",
		OrderID:     orderID,
	}, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, positionID string) (common.TradeResponse, error) {
	if err := g.beginTrade(ctx, "ClosePosition", ""); err != nil {
		return common.TradeResponse{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[positionID]
	if !ok {
		return common.TradeResponse{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	inst := g.instruments[pos.Symbol]
	closePrice := inst.Bid
	if pos.Side == common.SideSell {
		closePrice = inst.Ask
	}
	profit := positionProfit(pos, closePrice, inst.ContractSize)
	delete(g.positions, positionID)

	now := g.now()
	orderID := uuid.NewString()
	closeSide := common.SideSell
	if pos.Side == common.SideSell {
		closeSide = common.SideBuy
	}
	g.history = append(g.history, common.HistoryOrder{
		ID:         orderID,
		PositionID: positionID,
		Symbol:     pos.Symbol,
		Side:       closeSide,
		Type:       "ORDER_TYPE_" + string(closeSide),
		State:      "ORDER_STATE_FILLED",
		Volume:     pos.Volume,
		OpenPrice:  pos.OpenPrice,
		ClosePrice: closePrice,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		Profit:     profit,
		OpenTime:   pos.OpenTime,
		DoneTime:   now,
	})

	return common.TradeResponse{
		StringCode:  common.CodeDone,
		NumericCode: common.NumericDone,
		Message:     "Position closed",
		OrderID:     orderID,
		PositionID:  positionID,
		Price:       closePrice,
		Profit:      profit,
	}, nil
}

func (g *Gateway) ModifyPosition(ctx context.Context, positionID string, stopLoss, takeProfit *float64) (common.TradeResponse, error) {
	if err := g.beginTrade(ctx, "ModifyPosition", ""); err != nil {
		return common.TradeResponse{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if pos, ok := g.positions[positionID]; ok {
		if stopLoss != nil {
			pos.StopLoss = *stopLoss
		}
		if takeProfit != nil {
			pos.TakeProfit = *takeProfit
		}
		return common.TradeResponse{StringCode: common.CodeDone, NumericCode: common.NumericDone, Message: "Position modified", PositionID: positionID}, nil
	}
	if o, ok := g.pending[positionID]; ok {
		if stopLoss != nil {
			o.StopLoss = *stopLoss
		}
		if takeProfit != nil {
			o.TakeProfit = *takeProfit
		}
		return common.TradeResponse{StringCode: common.CodeDone, NumericCode: common.NumericDone, Message: "Order modified", OrderID: positionID}, nil
	}
	return common.TradeResponse{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
}

func (g *Gateway) GetPositions(ctx context.Context) ([]common.Position, error) {
	g.record("GetPositions", "")
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.connected {
		return nil, ErrNotConnected
	}
	out := make([]common.Position, 0, len(g.positions))
	for _, p := range g.positions {
		inst := g.instruments[p.Symbol]
		cur := inst.Bid
		if p.Side == common.SideSell {
			cur = inst.Ask
		}
		snapshot := *p
		snapshot.CurrentPrice = cur
		snapshot.Profit = positionProfit(p, cur, inst.ContractSize)
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func (g *Gateway) GetHistoryOrders(ctx context.Context, start, end time.Time, limit int) ([]common.HistoryOrder, error) {
	g.record("GetHistoryOrders", "")
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.connected {
		return nil, ErrNotConnected
	}
	out := make([]common.HistoryOrder, 0)
	for _, h := range g.history {
		if h.DoneTime.Before(start) || h.DoneTime.After(end) {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func positionProfit(p *common.Position, price, contractSize float64) float64 {
	diff := price - p.OpenPrice
	if p.Side == common.SideSell {
		diff = -diff
	}
	if contractSize <= 0 {
		contractSize = 1
	}
	return diff * p.Volume * contractSize
}
