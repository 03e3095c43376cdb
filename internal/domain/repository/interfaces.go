package repository

import (
	"context"
	"errors"
	"time"

	"ProxyTrader/internal/domain/models"
)

var (
	// ErrNotConnected is returned when a call requires an established session.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownSymbol is returned for symbols the venue does not list.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrOrderNotFound is returned by GetOrder/CancelOrder for unknown ids.
	ErrOrderNotFound = errors.New("order not found")
)

// Broker is the order-routing capability consumed by the chaser and engine.
type Broker interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
	// GetPosition returns nil when the symbol is not held.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	GetLatestPrice(ctx context.Context, symbol string) models.PriceResult
	ValidateSymbol(ctx context.Context, symbol string) bool
}

// MarketData is the streaming quote capability consumed by the live feed.
type MarketData interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(ctx context.Context, symbol string, isBenchmark bool) (<-chan models.PriceTick, error)
	Unsubscribe(symbol string) error
	// GetHistoricalPrices returns up to count closes, oldest first.
	GetHistoricalPrices(ctx context.Context, symbol string, count int) ([]float64, error)
	States() <-chan models.ConnectionEvent
	Errors() <-chan error
}

// StateStore persists the risk snapshot between restarts.
type StateStore interface {
	// Load returns (nil, nil) when nothing was saved for symbol.
	Load(ctx context.Context, symbol string) (*models.TradingState, error)
	Save(ctx context.Context, state models.TradingState) error
	Clear(ctx context.Context, symbol string) error
}

// TickArchive stores raw ticks for later replay.
type TickArchive interface {
	StoreBatch(ctx context.Context, ticks []models.PriceTick) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.PriceTick, error)
	Close() error
}

// SignalPublisher fans emitted signals out to other services.
type SignalPublisher interface {
	Publish(ctx context.Context, sig models.MarketRegime) error
	Close() error
}

// FillJournal keeps an audit trail of executions.
type FillJournal interface {
	RecordFill(ctx context.Context, f models.Fill) error
	RecordChase(ctx context.Context, symbol string, side models.OrderSide, res models.ChaseResult) error
	RecentFills(ctx context.Context, symbol string, limit int) ([]models.Fill, error)
	Close() error
}

type Metrics interface {
	RecordTick(symbol string, synthetic bool)
	RecordSignal(direction, mode string)
	RecordStopTrigger(symbol string)
	RecordLatchBlock(symbol string)
	RecordChase(side string, attempts int, aborted bool)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
