package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labcore/lims/internal/platform/auth"
)

// RequestObserver receives the outcome of each request, e.g. a metrics
// histogram.
type RequestObserver func(method, route string, status int, latency time.Duration)

func Logger(logger zerolog.Logger, observers ...RequestObserver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the logged status is final.
				c.Error(err)
			}
			latency := time.Since(start)
			status := c.Response().Status

			evt := logger.Info()
			if status >= 500 {
				evt = logger.Error().Err(err)
			} else if err != nil {
				evt = logger.Warn().Err(err)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", latency).
				Str("remote_ip", c.RealIP()).
				Str("user", auth.UsernameFromContext(c.Request().Context())).
				Msg("request")

			for _, observe := range observers {
				observe(req.Method, c.Path(), status, latency)
			}
			return nil
		}
	}
}
