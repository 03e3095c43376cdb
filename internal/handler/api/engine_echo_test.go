package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/internal/service/ratelimit"
	"ProxyTrader/internal/usecase"
	xhttp "ProxyTrader/pkg/http"
	"ProxyTrader/pkg/logger"
)

type stubEngine struct {
	status     usecase.Status
	signals    []models.MarketRegime
	gotLimit   int
	gotDir     *models.Direction
	flatten    usecase.FlattenResult
	flattenErr error
	reasons    []string
}

func (s *stubEngine) Status() usecase.Status { return s.status }

func (s *stubEngine) RecentSignals(limit int, dir *models.Direction) []models.MarketRegime {
	s.gotLimit, s.gotDir = limit, dir
	return s.signals
}

func (s *stubEngine) Flatten(_ context.Context, reason string) (usecase.FlattenResult, error) {
	s.reasons = append(s.reasons, reason)
	return s.flatten, s.flattenErr
}

type stubHistory struct {
	fills    []models.Fill
	err      error
	gotFills usecase.GetFillsParams
	gotTicks usecase.GetTicksParams
}

func (s *stubHistory) RecentFills(_ context.Context, p usecase.GetFillsParams) ([]models.Fill, error) {
	s.gotFills = p
	return s.fills, s.err
}

func (s *stubHistory) Ticks(_ context.Context, p usecase.GetTicksParams) (*usecase.GetTicksResult, error) {
	s.gotTicks = p
	if s.err != nil {
		return nil, s.err
	}
	return &usecase.GetTicksResult{Symbol: p.Symbol, From: p.From, To: p.To}, nil
}

func newTestServer(eng *stubEngine, hist *stubHistory, limiter *ratelimit.Limiter) (*echo.Echo, *EngineEchoHandler) {
	e := echo.New()
	h := NewEngineEchoHandler(logger.NewNop(), eng, hist, limiter)
	h.RegisterRoutes(e)
	return e, h
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatus(t *testing.T) {
	eng := &stubEngine{status: usecase.Status{
		Benchmark:   "QQQ",
		Position:    usecase.PositionView{Direction: models.Bull, Symbol: "TQQQ", Quantity: 200, EntryPrice: decimal.NewFromInt(50)},
		RealizedPnL: decimal.RequireFromString("12.5"),
		Trades:      3,
	}}
	e, _ := newTestServer(eng, &stubHistory{}, nil)

	rec := do(e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "QQQ", data["benchmark"])
	pos := data["position"].(map[string]any)
	assert.Equal(t, "BULL", pos["direction"])
	assert.Equal(t, "TQQQ", pos["symbol"])
	assert.Equal(t, "12.5", data["realized_pnl"])
}

func TestSignalsDefaultsAndFilter(t *testing.T) {
	eng := &stubEngine{signals: []models.MarketRegime{{Direction: models.Bear, Symbol: "QQQ"}}}
	e, _ := newTestServer(eng, &stubHistory{}, nil)

	rec := do(e, http.MethodGet, "/api/signals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, eng.gotLimit)
	assert.Nil(t, eng.gotDir)
	data := decode(t, rec)["data"].(map[string]any)
	assert.EqualValues(t, 1, data["total"])

	rec = do(e, http.MethodGet, "/api/signals?limit=5&direction=MR_SHORT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, eng.gotLimit)
	require.NotNil(t, eng.gotDir)
	assert.Equal(t, models.MrShort, *eng.gotDir)
}

func TestSignalsRejectsBadQuery(t *testing.T) {
	e, _ := newTestServer(&stubEngine{}, &stubHistory{}, nil)

	rec := do(e, http.MethodGet, "/api/signals?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/signals?direction=SIDEWAYS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlatten(t *testing.T) {
	eng := &stubEngine{flatten: usecase.FlattenResult{Symbol: "TQQQ", Requested: 200, Filled: 200}}
	e, _ := newTestServer(eng, &stubHistory{}, nil)

	rec := do(e, http.MethodPost, "/api/flatten", `{"reason":"end of day"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"end of day"}, eng.reasons)

	rec = do(e, http.MethodPost, "/api/flatten", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, eng.reasons, 1)
}

func TestFlattenWhenFlatConflicts(t *testing.T) {
	eng := &stubEngine{flattenErr: usecase.ErrFlat}
	e, _ := newTestServer(eng, &stubHistory{}, nil)

	rec := do(e, http.MethodPost, "/api/flatten", `{"reason":"manual"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	errs := decode(t, rec)["data"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_CONFLICT", errs[0].(map[string]any)["code"])
}

func TestFlattenIsRateLimited(t *testing.T) {
	eng := &stubEngine{flatten: usecase.FlattenResult{Symbol: "SQQQ", Requested: 10, Filled: 10}}
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(1, 0.001, ratelimit.WithClock(func() time.Time { return now }))
	e, _ := newTestServer(eng, &stubHistory{}, limiter)

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/flatten", `{"reason":"first"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodPost, "/api/flatten", `{"reason":"second"}`).Code)
	assert.Len(t, eng.reasons, 1)
}

func TestFillsUnavailable(t *testing.T) {
	hist := &stubHistory{err: usecase.ErrUnavailable}
	e, _ := newTestServer(&stubEngine{}, hist, nil)

	rec := do(e, http.MethodGet, "/api/fills?symbol=TQQQ", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "TQQQ", hist.gotFills.Symbol)
	assert.Equal(t, 50, hist.gotFills.Limit)
}

func TestTicksParsesRange(t *testing.T) {
	hist := &stubHistory{}
	e, _ := newTestServer(&stubEngine{}, hist, nil)

	rec := do(e, http.MethodGet, "/api/ticks?symbol=QQQ&from=2024-03-01T14:30:00Z&to=2024-03-01T21:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "QQQ", hist.gotTicks.Symbol)
	assert.True(t, hist.gotTicks.From.Before(hist.gotTicks.To))

	rec = do(e, http.MethodGet, "/api/ticks?symbol=QQQ&from=2024-03-01T21:00:00Z&to=2024-03-01T14:30:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/ticks?symbol=QQQ&from=yesterday&to=2024-03-01T21:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	e, h := newTestServer(&stubEngine{}, &stubHistory{}, nil)
	h.AddHealthCheck("journal", func(context.Context) error { return nil })

	rec := do(e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	h.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = do(e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

var _ xhttp.Handler = (*EngineEchoHandler)(nil)
