package service

import (
	"context"
	"time"

	"ProxyTrader/internal/domain/models"
)

// SignalSource turns benchmark ticks into regime signals.
type SignalSource interface {
	OnTick(t models.PriceTick) models.MarketRegime
	NotifyStopOut(dir models.Direction, price float64, eligibleAt time.Time)
	ClearStopOut()
	Bands() (upper, lower float64, ok bool)
	Seed(closes []float64)
}

// OrderExecutor works an order until filled or abandoned.
type OrderExecutor interface {
	Buy(ctx context.Context, symbol string, qty int64, ref float64) models.ChaseResult
	Sell(ctx context.Context, symbol string, qty int64, ref float64) models.ChaseResult
}
