package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/auth"
)

// Logger writes one structured line per request. The error handler has not
// run yet when this fires, so failed requests log the status the error maps to.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			evt := logger.Info()
			if err != nil {
				status = statusOf(err)
				if status >= 500 {
					evt = logger.Error().Err(err)
				} else {
					evt = logger.Warn().Err(err)
				}
			}

			if id := auth.IdentityIDFromContext(req.Context()); id != "" {
				evt = evt.Str("identity_id", id).Str("role", string(auth.RoleFromContext(req.Context())))
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
