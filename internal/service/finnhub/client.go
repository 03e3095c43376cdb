// Package finnhub streams trade prints from the Finnhub WebSocket API and
// serves candle history from its REST API.
package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ProxyTrader/internal/domain/models"
	drepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/pkg/config"
	xhttp "ProxyTrader/pkg/http"
	"ProxyTrader/pkg/logger"
)

type subscription struct {
	ch          chan models.PriceTick
	isBenchmark bool
}

// Client implements MarketData over one WebSocket. A dropped connection is
// redialed after ReconnectDelay and every live subscription is replayed.
type Client struct {
	cfg  config.FinnhubConfig
	log  *logger.Logger
	rest *xhttp.Client
	now  func() time.Time

	mu     sync.Mutex
	subs   map[string]subscription
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	states chan models.ConnectionEvent
	errs   chan error
}

func New(cfg config.FinnhubConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	log = log.Component("finnhub")
	return &Client{
		cfg: cfg,
		log: log,
		rest: xhttp.NewClient(
			xhttp.WithTimeout(10*time.Second),
			xhttp.WithRetry(2, time.Second),
			xhttp.WithClientLogger(log),
		),
		now:    time.Now,
		subs:   make(map[string]subscription),
		states: make(chan models.ConnectionEvent, 16),
		errs:   make(chan error, 16),
	}
}

// Connect dials the socket and starts the read and ping loops. The loops live
// until ctx is done or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.emitState(models.StateConnecting, nil)
	conn, err := c.dial(ctx)
	if err != nil {
		c.emitState(models.StateDisconnected, err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()
	c.emitState(models.StateConnected, nil)
	c.log.Info("connected", logger.String("url", c.cfg.WebSocketURL))

	c.wg.Add(2)
	go c.readLoop(runCtx, conn)
	go c.pingLoop(runCtx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.cfg.WebSocketURL
	if c.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, c.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("finnhub connect: %w", err)
	}
	return conn, nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	conn := c.conn
	c.cancel, c.conn = nil, nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	for sym, s := range c.subs {
		close(s.ch)
		delete(c.subs, sym)
	}
	c.mu.Unlock()
	c.emitState(models.StateDisconnected, nil)
	return err
}

// Subscribe registers symbol and returns its tick channel. Ticks for the
// benchmark carry IsBenchmark.
func (c *Client) Subscribe(_ context.Context, symbol string, isBenchmark bool) (<-chan models.PriceTick, error) {
	symbol = strings.ToUpper(symbol)
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil, drepo.ErrNotConnected
	}
	if _, ok := c.subs[symbol]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", symbol)
	}
	sub := subscription{ch: make(chan models.PriceTick, c.cfg.BufferSize), isBenchmark: isBenchmark}
	c.subs[symbol] = sub
	conn := c.conn
	c.mu.Unlock()

	// While reconnecting conn is nil; the redial replays every subscription.
	if conn == nil {
		return sub.ch, nil
	}
	if err := c.send(conn, "subscribe", symbol); err != nil {
		c.mu.Lock()
		delete(c.subs, symbol)
		c.mu.Unlock()
		close(sub.ch)
		return nil, err
	}
	c.log.Info("subscribed", logger.String("symbol", symbol), logger.Bool("benchmark", isBenchmark))
	return sub.ch, nil
}

func (c *Client) Unsubscribe(symbol string) error {
	symbol = strings.ToUpper(symbol)
	c.mu.Lock()
	sub, ok := c.subs[symbol]
	if ok {
		delete(c.subs, symbol)
		close(sub.ch)
	}
	conn := c.conn
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if conn == nil {
		return nil
	}
	return c.send(conn, "unsubscribe", symbol)
}

func (c *Client) send(conn *websocket.Conn, typ, symbol string) error {
	if conn == nil {
		return drepo.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(map[string]string{"type": typ, "symbol": symbol}); err != nil {
		return fmt.Errorf("%s %s: %w", typ, symbol, err)
	}
	return nil
}

func (c *Client) States() <-chan models.ConnectionEvent { return c.states }

func (c *Client) Errors() <-chan error { return c.errs }

func (c *Client) emitState(s models.ConnectionState, err error) {
	select {
	case c.states <- models.ConnectionEvent{State: s, At: c.now(), Err: err}:
	default:
	}
}

func (c *Client) emitErr(err error) {
	select {
	case c.errs <- err:
	default:
		c.log.Warn("error channel full", logger.Error(err))
	}
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
	Msg  string    `json:"msg"`
}

func (c *Client) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emitErr(fmt.Errorf("finnhub read: %w", err))
			_ = conn.Close()
			if conn = c.reconnect(ctx); conn == nil {
				return
			}
			continue
		}
		c.handleFrame(b)
	}
}

func (c *Client) handleFrame(b []byte) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil {
		c.log.Debug("ignoring frame", logger.Error(err))
		return
	}
	switch m.Type {
	case "trade":
	case "error":
		c.emitErr(fmt.Errorf("finnhub: %s", m.Msg))
		return
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range m.Data {
		sym := strings.ToUpper(d.S)
		sub, ok := c.subs[sym]
		if !ok {
			continue
		}
		tick := models.PriceTick{
			Symbol:      sym,
			Price:       d.P,
			Volume:      d.V,
			IsBenchmark: sub.isBenchmark,
			Timestamp:   time.UnixMilli(d.T).UTC(),
			Source:      "finnhub",
		}
		select {
		case sub.ch <- tick:
		default:
			c.log.Warn("dropping tick on backpressure", logger.String("symbol", sym))
		}
	}
}

// reconnect redials until it succeeds or ctx ends. It returns nil on ctx end.
func (c *Client) reconnect(ctx context.Context) *websocket.Conn {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		c.emitState(models.StateReconnecting, nil)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("reconnect failed", logger.Int("attempt", attempt), logger.Error(err))
			c.emitErr(err)
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		symbols := make([]string, 0, len(c.subs))
		for s := range c.subs {
			symbols = append(symbols, s)
		}
		c.mu.Unlock()

		for _, s := range symbols {
			if err := c.send(conn, "subscribe", s); err != nil {
				c.emitErr(err)
			}
		}
		c.emitState(models.StateConnected, nil)
		c.log.Info("reconnected", logger.Int("attempt", attempt), logger.Int("symbols", len(symbols)))
		return conn
	}
}

type candleResponse struct {
	Close  []float64 `json:"c"`
	Time   []int64   `json:"t"`
	Status string    `json:"s"`
}

var ErrNoHistory = errors.New("no candle history")

// GetHistoricalPrices fetches one-minute closes covering HistoryWindow and
// returns the last count of them, oldest first.
func (c *Client) GetHistoricalPrices(ctx context.Context, symbol string, count int) ([]float64, error) {
	if count <= 0 {
		return nil, nil
	}
	window := c.cfg.HistoryWindow
	if window <= 0 {
		window = 96 * time.Hour
	}
	to := c.now().UTC()
	from := to.Add(-window)

	var resp candleResponse
	err := c.rest.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    strings.TrimRight(c.cfg.RESTURL, "/") + "/stock/candle",
		QueryParams: map[string][]string{
			"symbol":     {strings.ToUpper(symbol)},
			"resolution": {"1"},
			"from":       {strconv.FormatInt(from.Unix(), 10)},
			"to":         {strconv.FormatInt(to.Unix(), 10)},
			"token":      {c.cfg.APIKey},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("finnhub candles %s: %w", symbol, err)
	}
	if resp.Status != "ok" || len(resp.Close) == 0 {
		return nil, fmt.Errorf("%w for %s (status %q)", ErrNoHistory, symbol, resp.Status)
	}
	closes := resp.Close
	if len(closes) > count {
		closes = closes[len(closes)-count:]
	}
	out := make([]float64, len(closes))
	copy(out, closes)
	return out, nil
}

var _ drepo.MarketData = (*Client)(nil)
