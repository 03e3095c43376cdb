package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"ProxyTrader/pkg/logger"
)

// RequestLogging logs one line per request; 5xx at error level.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", status),
				logger.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Error("http request", append(fields, logger.Error(err))...)
			case req.URL.Path == "/healthz" || req.URL.Path == "/metrics":
				l.Debug("http request", fields...)
			default:
				l.Info("http request", fields...)
			}
			return nil
		}
	}
}
