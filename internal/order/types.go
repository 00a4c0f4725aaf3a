package order

import (
	"fmt"
	"time"

	"execution-core/internal/risk"
	"execution-core/pkg/exchanges/common"
)

// Kind is the order type of an intent.
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
)

// TradeIntent is a broker-agnostic request to open a position.
type TradeIntent struct {
	Symbol     string           `json:"symbol"`
	Side       common.Side      `json:"side"`
	Volume     float64          `json:"volume"`
	Kind       Kind             `json:"orderKind,omitempty"`
	EntryPrice float64          `json:"entryPrice,omitempty"`
	Stop       *risk.StopSpec   `json:"stop,omitempty"`
	Target     *risk.TargetSpec `json:"target,omitempty"`
	Comment    string           `json:"comment,omitempty"`
}

// Status is the terminal classification of an outcome.
type Status string

const (
	StatusFilled  Status = "FILLED"
	StatusPending Status = "PENDING"
	StatusFailed  Status = "FAILED"
)

// Stage is the last placement step an intent reached.
type Stage string

const (
	StageValidating      Stage = "validating"
	StageSymbolResolving Stage = "symbol_resolving"
	StagePriceFetching   Stage = "price_fetching"
	StageRiskDeriving    Stage = "risk_deriving"
	StageSubmitting      Stage = "submitting"
	StageFilled          Stage = "filled"
	StagePendingBroker   Stage = "pending_broker"
	StageFailed          Stage = "failed"
)

// ErrorDetails is the structured part of a failed outcome.
type ErrorDetails struct {
	Kind        ErrorKind `json:"kind"`
	Stage       Stage     `json:"stage,omitempty"`
	Field       string    `json:"field,omitempty"`
	Tried       []string  `json:"tried,omitempty"`
	BrokerCode  string    `json:"brokerCode,omitempty"`
	NumericCode int       `json:"numericCode,omitempty"`
}

// TradeOutcome is produced exactly once per intent.
type TradeOutcome struct {
	Success         bool          `json:"success"`
	ClientID        string        `json:"clientId"`
	Symbol          string        `json:"symbol"`
	BrokerSymbol    string        `json:"brokerSymbol,omitempty"`
	Side            common.Side   `json:"side,omitempty"`
	Volume          float64       `json:"volume,omitempty"`
	BrokerOrderID   string        `json:"brokerOrderId,omitempty"`
	PositionID      string        `json:"positionId,omitempty"`
	FilledPrice     float64       `json:"filledPrice,omitempty"`
	StopPrice       float64       `json:"stopPrice,omitempty"`
	TargetPrice     float64       `json:"targetPrice,omitempty"`
	Status          Status        `json:"status"`
	Stage           Stage         `json:"stage"`
	ExecutionTimeMs int64         `json:"executionTimeMs"`
	Error           string        `json:"error,omitempty"`
	ErrorDetails    *ErrorDetails `json:"errorDetails,omitempty"`
}

// AlertSummary is a one-line description for alert sinks.
func (o TradeOutcome) AlertSummary() string {
	if o.Success {
		return fmt.Sprintf("%s %s %.2f %s", o.Side, o.Symbol, o.Volume, o.Status)
	}
	kind := ErrorKindInternal
	if o.ErrorDetails != nil {
		kind = o.ErrorDetails.Kind
	}
	return fmt.Sprintf("order %s %s %s rejected at %s [%s]: %s", o.ClientID, o.Side, o.Symbol, o.Stage, kind, o.Error)
}

// CloseOutcome reports a position close.
type CloseOutcome struct {
	Success         bool          `json:"success"`
	PositionID      string        `json:"positionId"`
	Symbol          string        `json:"symbol,omitempty"`
	BrokerOrderID   string        `json:"brokerOrderId,omitempty"`
	OpenPrice       float64       `json:"openPrice,omitempty"`
	ClosePrice      float64       `json:"closePrice,omitempty"`
	Profit          float64       `json:"profit"`
	ProfitPercent   float64       `json:"profitPercent"`
	ExecutionTimeMs int64         `json:"executionTimeMs"`
	Error           string        `json:"error,omitempty"`
	ErrorDetails    *ErrorDetails `json:"errorDetails,omitempty"`
}

func (o CloseOutcome) AlertSummary() string {
	return fmt.Sprintf("close %s failed: %s", o.PositionID, o.Error)
}

// ModifyRequest carries new absolute protective levels. Nil leaves a level
// unchanged.
type ModifyRequest struct {
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

// ModifyOutcome reports a stop/target change.
type ModifyOutcome struct {
	Success         bool          `json:"success"`
	PositionID      string        `json:"positionId"`
	StopLoss        *float64      `json:"stopLoss,omitempty"`
	TakeProfit      *float64      `json:"takeProfit,omitempty"`
	ExecutionTimeMs int64         `json:"executionTimeMs"`
	Error           string        `json:"error,omitempty"`
	ErrorDetails    *ErrorDetails `json:"errorDetails,omitempty"`
}

func (o ModifyOutcome) AlertSummary() string {
	return fmt.Sprintf("modify %s failed: %s", o.PositionID, o.Error)
}

// OpenOrder is an open position in canonical terms.
type OpenOrder struct {
	PositionID    string      `json:"positionId"`
	Symbol        string      `json:"symbol"`
	BrokerSymbol  string      `json:"brokerSymbol"`
	Side          common.Side `json:"side"`
	Volume        float64     `json:"volume"`
	OpenPrice     float64     `json:"openPrice"`
	CurrentPrice  float64     `json:"currentPrice"`
	StopLoss      float64     `json:"stopLoss,omitempty"`
	TakeProfit    float64     `json:"takeProfit,omitempty"`
	Profit        float64     `json:"profit"`
	ProfitPercent float64     `json:"profitPercent"`
	Swap          float64     `json:"swap,omitempty"`
	Commission    float64     `json:"commission,omitempty"`
	Comment       string      `json:"comment,omitempty"`
	OpenTime      time.Time   `json:"openTime"`
}

// HistoryOptions bounds a history query. Zero values take defaults.
type HistoryOptions struct {
	Start  time.Time
	End    time.Time
	Limit  int
	Symbol string // canonical filter, optional
}

// HistoryRecord is a completed order in canonical terms.
type HistoryRecord struct {
	OrderID       string      `json:"orderId"`
	PositionID    string      `json:"positionId,omitempty"`
	Symbol        string      `json:"symbol"`
	BrokerSymbol  string      `json:"brokerSymbol"`
	Side          common.Side `json:"side"`
	Type          string      `json:"type"`
	State         string      `json:"state"`
	Volume        float64     `json:"volume"`
	OpenPrice     float64     `json:"openPrice"`
	ClosePrice    float64     `json:"closePrice,omitempty"`
	StopLoss      float64     `json:"stopLoss,omitempty"`
	TakeProfit    float64     `json:"takeProfit,omitempty"`
	Profit        float64     `json:"profit"`
	ProfitPercent float64     `json:"profitPercent"`
	OpenTime      time.Time   `json:"openTime"`
	DoneTime      time.Time   `json:"doneTime"`
}
