package domain

import (
	"context"
	"time"
)

// Broker is the narrow surface of the broker REST API that the trading
// modules consume. The ingestion, execution and monitor components share one
// implementation but depend only on this interface.
type Broker interface {
	// EnsureSession establishes or refreshes the authenticated session
	EnsureSession(ctx context.Context) error

	// Quotes fetches last price and traded value for up to 250 tokens
	Quotes(ctx context.Context, exchange string, tokens []string) ([]Quote, error)

	// DailyCandles fetches daily OHLCV bars for one token
	DailyCandles(ctx context.Context, exchange, token string, from, to time.Time) ([]Candle, error)

	// PlaceOrder places a limit order and returns the broker order id
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// AvailableCash returns the free cash balance
	AvailableCash(ctx context.Context) (float64, error)

	// Holdings returns current demat holdings
	Holdings(ctx context.Context) ([]Holding, error)
}

// Chat is the outbound side of the operator chat channel
type Chat interface {
	Send(text string) error
}

// TradeStore persists trade records across status transitions
type TradeStore interface {
	Create(t *TradeRecord) error
	Update(t *TradeRecord) error
	GetByID(tradeID string) (*TradeRecord, error)
	GetByStatus(status SignalStatus) ([]*TradeRecord, error)
	GetByStatusSince(status SignalStatus, since time.Time) ([]*TradeRecord, error)
	GetSince(since time.Time) ([]*TradeRecord, error)
	GetClosedBetween(from, to time.Time) ([]*TradeRecord, error)
	CountByStatus(status SignalStatus) (int, error)
	CountBuysSince(since time.Time) (int, error)
	ExistsOpen(symbol string) (bool, error)
	SectorExposure(sector string) (float64, error)
}
