// Package paper is an in-memory Broker that fills orders against the last
// price it was told about. It backs replay runs and dry runs.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/pkg/logger"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type quote struct {
	price float64
	at    time.Time
}

// Broker simulates a venue. IOC limit orders fill immediately when the last
// price is at or through the limit; other limit orders rest until a price
// update crosses them.
type Broker struct {
	mu        sync.Mutex
	connected bool
	symbols   map[string]bool
	quotes    map[string]quote
	orders    map[string]*models.Order
	positions map[string]*models.Position
	cash      decimal.Decimal
	fillCap   int64
	now       time.Time
	log       *logger.Logger
}

type Option func(*Broker)

// WithCash sets the starting cash balance.
func WithCash(c decimal.Decimal) Option {
	return func(b *Broker) { b.cash = c }
}

// WithPartialFillCap limits how much of an order fills per match (0 = no cap).
func WithPartialFillCap(n int64) Option {
	return func(b *Broker) { b.fillCap = n }
}

func WithLogger(l *logger.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.log = l
		}
	}
}

func New(symbols []string, opts ...Option) *Broker {
	b := &Broker{
		symbols:   make(map[string]bool, len(symbols)),
		quotes:    make(map[string]quote),
		orders:    make(map[string]*models.Order),
		positions: make(map[string]*models.Position),
		cash:      decimal.NewFromInt(100_000),
		log:       logger.NewNop(),
	}
	for _, s := range symbols {
		b.symbols[strings.ToUpper(s)] = true
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Component("paper_broker")
	return b
}

func (b *Broker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// UpdatePrice records the latest trade for symbol and matches resting orders.
func (b *Broker) UpdatePrice(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	b.quotes[symbol] = quote{price: price, at: at}
	if at.After(b.now) {
		b.now = at
	}
	for _, o := range b.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			b.match(o, price)
		}
	}
}

func (b *Broker) SubmitOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return models.Order{}, domrepo.ErrNotConnected
	}
	symbol := strings.ToUpper(req.Symbol)
	if !b.symbols[symbol] {
		return models.Order{}, fmt.Errorf("%w: %s", domrepo.ErrUnknownSymbol, req.Symbol)
	}
	if req.Quantity <= 0 {
		return models.Order{}, fmt.Errorf("quantity must be > 0")
	}
	if req.Type == models.OrderTypeLimit && req.LimitPrice == nil {
		return models.Order{}, fmt.Errorf("limit order without limit price")
	}

	o := &models.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		Status:        models.OrderStatusNew,
		SubmittedAt:   b.now,
		UpdatedAt:     b.now,
	}
	b.orders[o.ID] = o

	if q, ok := b.quotes[symbol]; ok {
		b.match(o, q.price)
	} else if req.Type == models.OrderTypeMarket {
		o.Status = models.OrderStatusRejected
	}
	if req.TimeInForce == models.TimeInForceIOC && !o.Status.IsTerminal() {
		o.Status = models.OrderStatusCanceled
	}
	return *o, nil
}

// match fills o against price. Caller holds mu.
func (b *Broker) match(o *models.Order, price float64) {
	px := decimal.NewFromFloat(price).Round(4)
	if o.Type == models.OrderTypeLimit {
		if o.Side == models.SideBuy && px.GreaterThan(*o.LimitPrice) {
			return
		}
		if o.Side == models.SideSell && px.LessThan(*o.LimitPrice) {
			return
		}
	}

	qty := o.Quantity - o.FilledQty
	if b.fillCap > 0 && qty > b.fillCap {
		qty = b.fillCap
	}
	pos := b.positions[o.Symbol]
	notional := px.Mul(decimal.NewFromInt(qty))
	switch o.Side {
	case models.SideBuy:
		if notional.GreaterThan(b.cash) {
			o.Status = models.OrderStatusRejected
			b.log.Warn("order rejected", logger.String("order_id", o.ID), logger.Error(ErrInsufficientFunds))
			return
		}
	case models.SideSell:
		if pos == nil || pos.Quantity < qty {
			o.Status = models.OrderStatusRejected
			b.log.Warn("order rejected: sell exceeds position", logger.String("order_id", o.ID), logger.String("symbol", o.Symbol))
			return
		}
	}

	b.applyFill(o.Symbol, o.Side, qty, px)
	total := o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQty)).Add(notional)
	o.FilledQty += qty
	o.AvgFillPrice = total.Div(decimal.NewFromInt(o.FilledQty))
	o.UpdatedAt = b.now
	if o.FilledQty >= o.Quantity {
		o.Status = models.OrderStatusFilled
	} else {
		o.Status = models.OrderStatusPartiallyFilled
	}
}

func (b *Broker) applyFill(symbol string, side models.OrderSide, qty int64, px decimal.Decimal) {
	pos := b.positions[symbol]
	if pos == nil {
		pos = &models.Position{Symbol: symbol}
		b.positions[symbol] = pos
	}
	q := decimal.NewFromInt(qty)
	if side == models.SideBuy {
		cost := pos.AvgEntryPrice.Mul(decimal.NewFromInt(pos.Quantity)).Add(px.Mul(q))
		pos.Quantity += qty
		pos.AvgEntryPrice = cost.Div(decimal.NewFromInt(pos.Quantity))
		b.cash = b.cash.Sub(px.Mul(q))
		return
	}
	pos.Quantity -= qty
	b.cash = b.cash.Add(px.Mul(q))
	if pos.Quantity == 0 {
		delete(b.positions, symbol)
	}
}

func (b *Broker) GetOrder(_ context.Context, id string) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: %s", domrepo.ErrOrderNotFound, id)
	}
	return *o, nil
}

func (b *Broker) CancelOrder(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return false, domrepo.ErrNotConnected
	}
	o, ok := b.orders[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", domrepo.ErrOrderNotFound, id)
	}
	if o.Status.IsTerminal() {
		return false, nil
	}
	o.Status = models.OrderStatusCanceled
	o.UpdatedAt = b.now
	return true, nil
}

func (b *Broker) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, domrepo.ErrNotConnected
	}
	pos, ok := b.positions[strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (b *Broker) GetLatestPrice(_ context.Context, symbol string) models.PriceResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return models.NotReady("broker not connected")
	}
	q, ok := b.quotes[strings.ToUpper(symbol)]
	if !ok {
		return models.NotReady("no trade seen for " + symbol)
	}
	return models.Ready(q.price)
}

func (b *Broker) ValidateSymbol(_ context.Context, symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbols[strings.ToUpper(symbol)]
}

// Cash returns the current cash balance.
func (b *Broker) Cash() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

var _ domrepo.Broker = (*Broker)(nil)
