package bridge

import (
	"time"

	"execution-core/pkg/exchanges/common"
)

// Wire shapes of the terminal bridge REST API.

type accountState struct {
	ID               string `json:"_id"`
	State            string `json:"state"`
	ConnectionStatus string `json:"connectionStatus"`
}

type priceDTO struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

func (p priceDTO) toCommon() common.Price {
	return common.Price{Symbol: p.Symbol, Bid: p.Bid, Ask: p.Ask, Last: p.Last, Time: p.Time}
}

type specDTO struct {
	Symbol     string  `json:"symbol"`
	TickSize   float64 `json:"tickSize"`
	Digits     int     `json:"digits"`
	MinVolume  float64 `json:"minVolume"`
	MaxVolume  float64 `json:"maxVolume"`
	VolumeStep float64 `json:"volumeStep"`
}

type candleDTO struct {
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	TickVolume float64   `json:"tickVolume"`
	Spread     float64   `json:"spread"`
}

type tradeRequest struct {
	ActionType string   `json:"actionType"`
	Symbol     string   `json:"symbol,omitempty"`
	Volume     float64  `json:"volume,omitempty"`
	OpenPrice  float64  `json:"openPrice,omitempty"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
	Slippage   float64  `json:"slippage,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	ClientID   string   `json:"clientId,omitempty"`
	PositionID string   `json:"positionId,omitempty"`
}

type tradeResponseDTO struct {
	NumericCode int     `json:"numericCode"`
	StringCode  string  `json:"stringCode"`
	Message     string  `json:"message"`
	OrderID     string  `json:"orderId"`
	PositionID  string  `json:"positionId"`
	Price       float64 `json:"price"`
	Profit      float64 `json:"profit"`
}

type positionDTO struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     float64   `json:"stopLoss"`
	TakeProfit   float64   `json:"takeProfit"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	Comment      string    `json:"comment"`
	Time         time.Time `json:"time"`
}

type historyOrderDTO struct {
	ID         string    `json:"id"`
	PositionID string    `json:"positionId"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"openPrice"`
	DonePrice  float64   `json:"donePrice"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	Profit     float64   `json:"profit"`
	Time       time.Time `json:"time"`
	DoneTime   time.Time `json:"doneTime"`
}

type streamFrame struct {
	Type   string     `json:"type"`
	Prices []priceDTO `json:"prices"`
}

// sideFromType maps POSITION_TYPE_BUY / ORDER_TYPE_SELL_LIMIT style values.
func sideFromType(t string) common.Side {
	switch t {
	case "POSITION_TYPE_SELL", "ORDER_TYPE_SELL", "ORDER_TYPE_SELL_LIMIT", "ORDER_TYPE_SELL_STOP":
		return common.SideSell
	default:
		return common.SideBuy
	}
}
