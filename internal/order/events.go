package order

import (
	"github.com/shopspring/decimal"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

func (e *Executor) publish(ev events.Event, payload any) {
	e.bus.Publish(ev, payload)
}

func outcomeEvent(o TradeOutcome) events.Event {
	switch o.Status {
	case StatusFilled:
		return events.EventOrderFilled
	case StatusPending:
		return events.EventOrderPending
	}
	return events.EventOrderRejected
}

// ExposurePercent is profit relative to the notional open value,
// profit / (openPrice * volume) * 100.
func ExposurePercent(profit, openPrice, volume float64) float64 {
	if openPrice <= 0 || volume <= 0 {
		return 0
	}
	notional := decimal.NewFromFloat(openPrice).Mul(decimal.NewFromFloat(volume))
	return decimal.NewFromFloat(profit).Div(notional).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}

// MovePercent is the price move from open to close in percent, signed so a
// favourable move is positive for either side.
func MovePercent(side common.Side, openPrice, closePrice float64) float64 {
	if openPrice <= 0 || closePrice <= 0 {
		return 0
	}
	open := decimal.NewFromFloat(openPrice)
	move := decimal.NewFromFloat(closePrice).Sub(open).Div(open).Mul(decimal.NewFromInt(100))
	if side == common.SideSell {
		move = move.Neg()
	}
	return move.Round(4).InexactFloat64()
}
