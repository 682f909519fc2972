package access

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

// ActorMiddleware turns the authenticated identity into an auth.Actor with
// permissions loaded from the database. It runs after the JWT middleware.
func ActorMiddleware(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth.IsPublicPath(c.Path()) {
				return next(c)
			}
			ctx := c.Request().Context()
			actor, err := svc.ResolveActor(ctx, auth.UserIDFromContext(ctx), auth.UsernameFromContext(ctx))
			var appErr *apperr.Error
			if errors.As(err, &appErr) && errors.Is(err, apperr.ErrUnauthorized) {
				return echo.NewHTTPError(http.StatusUnauthorized, appErr.Message)
			}
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(auth.WithActor(ctx, actor)))
			return next(c)
		}
	}
}
