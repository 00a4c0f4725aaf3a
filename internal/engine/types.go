package engine

import (
	"time"

	"execution-core/internal/gateway"
	"execution-core/internal/indicators"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/symbols"
)

// IndicatorRequest selects the candles an indicator is computed over.
type IndicatorRequest struct {
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Count     int               `json:"count"`
	Name      string            `json:"name"`
	Params    indicators.Params `json:"params"`
}

// IndicatorResult is an indicator series with the candle window it covers.
type IndicatorResult struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Candles   int                `json:"candles"`
	From      time.Time          `json:"from"`
	To        time.Time          `json:"to"`
	Result    indicators.Result  `json:"result"`
	Latest    map[string]float64 `json:"latest"`
}

// CacheStats aggregates the caches and pools behind the service.
type CacheStats struct {
	Prices       market.PriceStats         `json:"prices"`
	Symbols      symbols.Stats             `json:"symbols"`
	CandleSeries int                       `json:"candleSeries"`
	Subscribers  []market.SubscriptionInfo `json:"subscribers"`
	Pool         gateway.PoolStats         `json:"pool"`
	Execution    monitor.LatencyStats      `json:"executionLatencyMs"`
}

// ClearResult reports what ClearCache removed.
type ClearResult struct {
	Prices      int `json:"prices"`
	Resolutions int `json:"resolutions"`
	Candles     int `json:"candles"`
}

// AccountInfo describes the active account after a switch.
type AccountInfo struct {
	AccountID string `json:"accountId"`
	Previous  string `json:"previous,omitempty"`
	Switched  bool   `json:"switched"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode          string    `json:"mode"`
	ActiveAccount string    `json:"activeAccount"`
	Connected     bool      `json:"connected"`
	Symbols       []string  `json:"symbols"`
	Timeframes    []string  `json:"timeframes"`
	Indicators    []string  `json:"indicators"`
	UseMockFeed   bool      `json:"useMockFeed"`
	Version       string    `json:"version"`
	ServerTime    time.Time `json:"serverTime"`
}
