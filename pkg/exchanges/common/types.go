package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Broker string codes returned with trade responses.
const (
	CodeDone        = "TRADE_RETCODE_DONE"
	CodeDonePartial = "TRADE_RETCODE_DONE_PARTIAL"
	CodePlaced      = "TRADE_RETCODE_PLACED"
	CodeRejected    = "TRADE_RETCODE_REJECT"
	CodeInvalid     = "TRADE_RETCODE_INVALID"
	CodeNoMoney     = "TRADE_RETCODE_NO_MONEY"
)

// Broker numeric codes matching the string codes above.
const (
	NumericPlaced      = 10008
	NumericDone        = 10009
	NumericDonePartial = 10010
	NumericRejected    = 10006
	NumericInvalid     = 10013
	NumericNoMoney     = 10019
)

// Price is a raw quote as reported by the broker for its own symbol name.
type Price struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Time   time.Time
}

// HasQuote reports whether at least one side of the book is present.
func (p Price) HasQuote() bool {
	return p.Bid > 0 || p.Ask > 0
}

// SymbolSpecification carries tick and lot metadata for a broker symbol.
// Zero values mean the broker did not report the field.
type SymbolSpecification struct {
	Symbol  string
	Point   float64
	Digits  int
	MinLot  float64
	MaxLot  float64
	LotStep float64
}

// Candle is one OHLCV bar as delivered by the gateway.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Spread    float64   `json:"spread"`
}

// OrderRequest captures an order intent to be sent to a broker.
type OrderRequest struct {
	Symbol     string
	Volume     float64
	OpenPrice  float64 // limit orders only
	StopLoss   float64 // absolute price, 0 = none
	TakeProfit float64 // absolute price, 0 = none
	Slippage   float64 // points
	Comment    string
	ClientID   string
}

// TradeResponse is the unnormalized broker answer to a trade call. Brokers
// populate different subsets of these fields.
type TradeResponse struct {
	StringCode  string
	NumericCode int
	Message     string
	OrderID     string
	PositionID  string
	Price       float64
	Profit      float64
}

// Position is an open position held at the broker.
type Position struct {
	ID           string
	Symbol       string
	Side         Side
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Profit       float64
	Swap         float64
	Commission   float64
	Comment      string
	OpenTime     time.Time
}

// HistoryOrder is a completed or cancelled order from the broker history.
type HistoryOrder struct {
	ID         string
	PositionID string
	Symbol     string
	Side       Side
	Type       string
	State      string
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
	OpenTime   time.Time
	DoneTime   time.Time
}
