// Package engine is the single entry point of the execution core. The HTTP
// layer talks to brokers only through Service.
package engine

import (
	"context"

	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/pkg/exchanges/common"
)

// Service defines the execution operations exposed to transports.
type Service interface {
	// Trading
	PlaceTrade(ctx context.Context, intent order.TradeIntent) order.TradeOutcome
	PlaceBatchTrades(ctx context.Context, intents []order.TradeIntent) []order.TradeOutcome
	CloseTrade(ctx context.Context, positionID string) order.CloseOutcome
	ModifyTrade(ctx context.Context, positionID string, req order.ModifyRequest) order.ModifyOutcome

	// Position & Order Queries
	GetOpenOrders(ctx context.Context) ([]order.OpenOrder, error)
	GetTradeHistory(ctx context.Context, opts order.HistoryOptions) ([]order.HistoryRecord, error)

	// Market data
	GetCurrentPrice(ctx context.Context, symbol string) (market.Quote, error)
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]common.Candle, error)
	GetMultiTimeframeData(ctx context.Context, symbol string, timeframes []string, count int) (map[string][]common.Candle, error)
	CalculateIndicator(ctx context.Context, req IndicatorRequest) (IndicatorResult, error)
	SubscribeToPrices(ctx context.Context, symbol string, onUpdate func(market.Quote)) (string, error)
	UnsubscribeFromPrices(id string) error

	// Cache & account
	ClearCache(ctx context.Context) (ClearResult, error)
	GetCacheStats(ctx context.Context) CacheStats
	SwitchAccount(ctx context.Context, accountID string) (AccountInfo, error)

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
