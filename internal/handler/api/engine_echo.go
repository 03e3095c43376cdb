package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/internal/service/ratelimit"
	"ProxyTrader/internal/usecase"
	xhttp "ProxyTrader/pkg/http"
	xlogger "ProxyTrader/pkg/logger"
)

// Engine is what the API needs from the trading engine.
type Engine interface {
	Status() usecase.Status
	RecentSignals(limit int, dir *models.Direction) []models.MarketRegime
	Flatten(ctx context.Context, reason string) (usecase.FlattenResult, error)
}

// History serves journal and archive queries.
type History interface {
	RecentFills(ctx context.Context, p usecase.GetFillsParams) ([]models.Fill, error)
	Ticks(ctx context.Context, p usecase.GetTicksParams) (*usecase.GetTicksResult, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// EngineEchoHandler exposes the engine over HTTP.
type EngineEchoHandler struct {
	logger  *xlogger.Logger
	engine  Engine
	history History
	limiter *ratelimit.Limiter
	checks  map[string]HealthCheck
}

func NewEngineEchoHandler(logger *xlogger.Logger, engine Engine, history History, limiter *ratelimit.Limiter) *EngineEchoHandler {
	if limiter == nil {
		limiter = ratelimit.New(3, 0.1)
	}
	return &EngineEchoHandler{
		logger:  logger.Component("api"),
		engine:  engine,
		history: history,
		limiter: limiter,
		checks:  map[string]HealthCheck{},
	}
}

// AddHealthCheck registers a dependency probe for /healthz.
func (h *EngineEchoHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	xhttp.Mount(e, "", xhttp.GET("/healthz", h.Healthz))
	xhttp.Mount(e, "/api",
		xhttp.GET("/status", h.Status),
		xhttp.GET("/signals", h.Signals),
		xhttp.GET("/fills", h.Fills),
		xhttp.GET("/ticks", h.Ticks),
		xhttp.POST("/flatten", h.Flatten, h.limiter.Middleware()),
	)
}

func (h *EngineEchoHandler) Status(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.engine.Status())
}

func (h *EngineEchoHandler) Signals(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.Bind(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var dir *models.Direction
	if req.Direction != "" {
		d, err := models.ParseDirection(req.Direction)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		dir = &d
	}
	rows := h.engine.RecentSignals(req.Limit, dir)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Fills(c echo.Context) error {
	req := &models.FillsRequest{}
	if verr := xhttp.Bind(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.history.RecentFills(c.Request().Context(), usecase.GetFillsParams{Symbol: req.Symbol, Limit: req.Limit})
	if err != nil {
		return h.usecaseError(c, "fills", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Ticks(c echo.Context) error {
	req := &models.TicksRequest{}
	if verr := xhttp.Bind(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := xhttp.ParseTime(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
	}
	to, ok := xhttp.ParseTime(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
	}
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be <= to"))
	}
	res, err := h.history.Ticks(c.Request().Context(), usecase.GetTicksParams{
		Symbol: req.Symbol,
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	if err != nil {
		return h.usecaseError(c, "ticks", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineEchoHandler) Flatten(c echo.Context) error {
	req := &models.FlattenRequest{}
	if verr := xhttp.Bind(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.logger.Warn("flatten requested", xlogger.String("reason", req.Reason), xlogger.String("remote", c.RealIP()))

	res, err := h.engine.Flatten(c.Request().Context(), req.Reason)
	switch {
	case errors.Is(err, usecase.ErrFlat):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("no open position"))
	case err != nil && res.Filled == 0:
		return h.usecaseError(c, "flatten", err)
	case err != nil:
		h.logger.Error("flatten incomplete", xlogger.Int64("remaining", res.Remaining), xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, res)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   time.Time         `json:"time"`
}

func (h *EngineEchoHandler) Healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	res := healthResponse{Status: "ok", Time: time.Now().UTC()}
	code := http.StatusOK
	for _, name := range names {
		if res.Checks == nil {
			res.Checks = make(map[string]string, len(names))
		}
		if err := h.checks[name](ctx); err != nil {
			res.Checks[name] = err.Error()
			res.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	return c.JSON(code, res)
}

func (h *EngineEchoHandler) usecaseError(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrUnavailable) {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}
