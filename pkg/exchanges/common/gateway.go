package common

import (
	"context"
	"time"
)

// Gateway abstracts a broker account connection.
type Gateway interface {
	AccountID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsActive() bool
	Connection() (Connection, error)
}

// Connection exposes the per-account remote procedures.
type Connection interface {
	GetSymbolPrice(ctx context.Context, symbol string) (Price, error)
	GetSymbolSpecification(ctx context.Context, symbol string) (SymbolSpecification, error)
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)

	CreateMarketBuyOrder(ctx context.Context, req OrderRequest) (TradeResponse, error)
	CreateMarketSellOrder(ctx context.Context, req OrderRequest) (TradeResponse, error)
	CreateLimitBuyOrder(ctx context.Context, req OrderRequest) (TradeResponse, error)
	CreateLimitSellOrder(ctx context.Context, req OrderRequest) (TradeResponse, error)
	ClosePosition(ctx context.Context, positionID string) (TradeResponse, error)
	ModifyPosition(ctx context.Context, positionID string, stopLoss, takeProfit *float64) (TradeResponse, error)

	GetPositions(ctx context.Context) ([]Position, error)
	GetHistoryOrders(ctx context.Context, start, end time.Time, limit int) ([]HistoryOrder, error)

	AddSynchronizationListener(l SynchronizationListener) (ListenerID, error)
	RemoveSynchronizationListener(id ListenerID)
}

// ServerClock is implemented by connections that track the broker server
// clock. History windows are computed on it when available.
type ServerClock interface {
	ServerNow() time.Time
}

// ListenerID identifies a registered synchronization listener.
type ListenerID string

// SynchronizationListener receives streamed broker events.
type SynchronizationListener interface {
	OnSymbolPriceUpdated(p Price)
}

// PriceListenerFunc adapts a function to SynchronizationListener.
type PriceListenerFunc func(p Price)

func (f PriceListenerFunc) OnSymbolPriceUpdated(p Price) { f(p) }
