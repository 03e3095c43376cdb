// Package execution works orders against a Broker with a bounded
// immediate-or-cancel price chase.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/pkg/config"
	"ProxyTrader/pkg/logger"
)

var (
	ErrRejected       = errors.New("order rejected")
	ErrInvalidRequest = errors.New("invalid chase request")
)

// Request describes one chase.
type Request struct {
	Symbol     string
	Side       models.OrderSide
	Quantity   int64
	StartPrice decimal.Decimal
	Step       decimal.Decimal
	// MaxRetries bounds the number of submissions.
	MaxRetries int
	// MaxDeviationPct is a fraction of StartPrice, e.g. 0.005 for 0.5%.
	MaxDeviationPct decimal.Decimal
}

func (r Request) validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: symbol empty", ErrInvalidRequest)
	case r.Side != models.SideBuy && r.Side != models.SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidRequest, r.Side)
	case !r.StartPrice.IsPositive():
		return fmt.Errorf("%w: start price %s", ErrInvalidRequest, r.StartPrice)
	case !r.Step.IsPositive():
		return fmt.Errorf("%w: step %s", ErrInvalidRequest, r.Step)
	case r.MaxRetries < 1:
		return fmt.Errorf("%w: max retries %d", ErrInvalidRequest, r.MaxRetries)
	}
	return nil
}

// Chaser drives IOC limit orders until the quantity is filled, the retry
// budget is spent, or the next price would leave the deviation bound.
// One chase at a time per Chaser.
type Chaser struct {
	broker  domrepo.Broker
	cfg     config.ExecutionConfig
	journal domrepo.FillJournal
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Chaser)

func WithJournal(j domrepo.FillJournal) Option {
	return func(c *Chaser) { c.journal = j }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(c *Chaser) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Chaser) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the fill timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Chaser) { c.now = now }
}

func New(broker domrepo.Broker, cfg config.ExecutionConfig, opts ...Option) *Chaser {
	c := &Chaser{
		broker: broker,
		cfg:    cfg,
		log:    logger.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Component("chaser")
	return c
}

// Buy chases a buy starting at ref with the configured step and bounds.
func (c *Chaser) Buy(ctx context.Context, symbol string, qty int64, ref float64) models.ChaseResult {
	return c.Chase(ctx, c.request(symbol, models.SideBuy, qty, ref))
}

// Sell chases a sell starting at ref with the configured step and bounds.
func (c *Chaser) Sell(ctx context.Context, symbol string, qty int64, ref float64) models.ChaseResult {
	return c.Chase(ctx, c.request(symbol, models.SideSell, qty, ref))
}

func (c *Chaser) request(symbol string, side models.OrderSide, qty int64, ref float64) Request {
	return Request{
		Symbol:          symbol,
		Side:            side,
		Quantity:        qty,
		StartPrice:      decimal.NewFromFloat(ref).Round(2),
		Step:            decimal.NewFromFloat(c.cfg.PriceStep),
		MaxRetries:      c.cfg.MaxRetries,
		MaxDeviationPct: decimal.NewFromFloat(c.cfg.MaxDeviationPercent),
	}
}

// Chase runs one chase. Fills already received are always reported, also
// when the chase ends on an error or cancellation.
func (c *Chaser) Chase(ctx context.Context, req Request) models.ChaseResult {
	var res models.ChaseResult
	if req.Quantity <= 0 {
		return res
	}
	if err := req.validate(); err != nil {
		res.Err = err
		return res
	}

	log := c.log.With(logger.String("symbol", req.Symbol), logger.String("side", string(req.Side)))
	maxDev := req.StartPrice.Mul(req.MaxDeviationPct)
	step := req.Step
	if req.Side == models.SideSell {
		step = step.Neg()
	}

	remaining := req.Quantity
	price := req.StartPrice
	for attempt := 0; remaining > 0; attempt++ {
		if attempt >= req.MaxRetries {
			res.Exhausted = true
			break
		}
		if attempt > 0 {
			next := price.Add(step)
			if next.Sub(req.StartPrice).Abs().GreaterThan(maxDev) {
				res.AbortedDueToDeviation = true
				log.Warn("chase aborted on deviation",
					logger.String("next_price", next.String()),
					logger.String("start_price", req.StartPrice.String()),
					logger.Int("attempts", res.AttemptsUsed))
				break
			}
			price = next
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		res.AttemptsUsed++
		res.FinalPriceAttempted = price
		order, err := c.attempt(ctx, req, remaining, price)
		if order.FilledQty > 0 {
			c.recordFill(ctx, &res, order)
			remaining -= order.FilledQty
		}
		if err != nil {
			res.Err = err
			log.Error("chase attempt failed", logger.Int("attempt", res.AttemptsUsed), logger.Error(err))
			break
		}
		if order.Status == models.OrderStatusRejected {
			res.Err = fmt.Errorf("%w: %s at %s", ErrRejected, order.ID, price)
			log.Warn("order rejected", logger.String("order_id", order.ID), logger.String("price", price.String()))
			break
		}
		log.Debug("chase attempt",
			logger.Int("attempt", res.AttemptsUsed),
			logger.String("price", price.String()),
			logger.Int64("filled", order.FilledQty),
			logger.Int64("remaining", remaining))
	}

	if res.FilledQty > 0 {
		res.AvgPrice = res.TotalProceeds.Div(decimal.NewFromInt(res.FilledQty))
	}
	c.finish(ctx, req, res)
	return res
}

// attempt submits one IOC order and returns it in a terminal state when
// possible. The returned order carries the fills known so far even on error.
func (c *Chaser) attempt(ctx context.Context, req Request, qty int64, price decimal.Decimal) (models.Order, error) {
	limit := price
	order, err := c.broker.SubmitOrder(ctx, models.OrderRequest{
		Symbol:        req.Symbol,
		Quantity:      qty,
		Side:          req.Side,
		Type:          models.OrderTypeLimit,
		TimeInForce:   models.TimeInForceIOC,
		LimitPrice:    &limit,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("submit %s %d %s @ %s: %w", req.Side, qty, req.Symbol, price, err)
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	for i := 0; i < c.cfg.PollAttempts; i++ {
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return c.cancelDetached(ctx, order), err
		}
		latest, err := c.broker.GetOrder(ctx, order.ID)
		if err != nil {
			return order, fmt.Errorf("get order %s: %w", order.ID, err)
		}
		order = latest
		if order.Status.IsTerminal() {
			return order, nil
		}
	}

	if _, err := c.broker.CancelOrder(ctx, order.ID); err != nil {
		return order, fmt.Errorf("cancel order %s: %w", order.ID, err)
	}
	final, err := c.broker.GetOrder(ctx, order.ID)
	if err != nil {
		return order, fmt.Errorf("get order %s after cancel: %w", order.ID, err)
	}
	return final, nil
}

// cancelDetached pulls a resting order after ctx ended so nothing is left
// working at the venue, and returns its last known state.
func (c *Chaser) cancelDetached(ctx context.Context, order models.Order) models.Order {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.broker.CancelOrder(cctx, order.ID); err != nil {
		c.log.Error("cancel after interruption failed", logger.String("order_id", order.ID), logger.Error(err))
		return order
	}
	if final, err := c.broker.GetOrder(cctx, order.ID); err == nil {
		return final
	}
	return order
}

func (c *Chaser) recordFill(ctx context.Context, res *models.ChaseResult, o models.Order) {
	qty := decimal.NewFromInt(o.FilledQty)
	res.FilledQty += o.FilledQty
	res.TotalProceeds = res.TotalProceeds.Add(o.AvgFillPrice.Mul(qty))
	if c.journal == nil {
		return
	}
	f := models.Fill{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Qty:           o.FilledQty,
		Price:         o.AvgFillPrice,
		At:            c.now(),
	}
	if err := c.journal.RecordFill(context.WithoutCancel(ctx), f); err != nil {
		c.log.Warn("journal fill failed", logger.Error(err))
	}
}

func (c *Chaser) finish(ctx context.Context, req Request, res models.ChaseResult) {
	if c.metrics != nil {
		c.metrics.RecordChase(string(req.Side), res.AttemptsUsed, res.AbortedDueToDeviation)
	}
	if c.journal != nil {
		if err := c.journal.RecordChase(context.WithoutCancel(ctx), req.Symbol, req.Side, res); err != nil {
			c.log.Warn("journal chase failed", logger.Error(err))
		}
	}
	c.log.Info("chase finished",
		logger.String("symbol", req.Symbol),
		logger.String("side", string(req.Side)),
		logger.Int64("target", req.Quantity),
		logger.Int64("filled", res.FilledQty),
		logger.String("avg_price", res.AvgPrice.String()),
		logger.Int("attempts", res.AttemptsUsed),
		logger.Bool("aborted", res.AbortedDueToDeviation),
		logger.Bool("exhausted", res.Exhausted),
		logger.Error(res.Err))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
