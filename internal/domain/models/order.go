package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceGTC TimeInForce = "gtc"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the broker will not touch the order again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderRequest is an immutable instruction handed to a Broker.
type OrderRequest struct {
	Symbol        string
	Quantity      int64
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	ClientOrderID string
}

// Order is the broker's view of a submitted request.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Type          OrderType        `json:"type"`
	TimeInForce   TimeInForce      `json:"time_in_force"`
	Quantity      int64            `json:"quantity"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	FilledQty     int64            `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal  `json:"avg_fill_price"`
	Status        OrderStatus      `json:"status"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Position is a broker-side holding.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// Fill is one execution recorded in the journal.
type Fill struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Qty           int64           `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	At            time.Time       `json:"at"`
}

// ChaseResult summarizes one chase operation.
type ChaseResult struct {
	AttemptsUsed          int             `json:"attempts_used"`
	FilledQty             int64           `json:"filled_qty"`
	TotalProceeds         decimal.Decimal `json:"total_proceeds"`
	AvgPrice              decimal.Decimal `json:"avg_price"`
	AbortedDueToDeviation bool            `json:"aborted_due_to_deviation"`
	Exhausted             bool            `json:"exhausted"`
	FinalPriceAttempted   decimal.Decimal `json:"final_price_attempted"`
	Err                   error           `json:"-"`
}

// Complete reports whether the requested quantity was fully worked.
func (r ChaseResult) Complete(target int64) bool {
	return r.Err == nil && r.FilledQty >= target
}
