package audit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequirePermission(auth.PermViewAuditLog))
	g.GET("/audit-logs", h.List)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Username: c.QueryParam("username"),
		Action:   Action(c.QueryParam("action")),
		EntityID: c.QueryParam("entity_id"),
	}
	var err error
	if f.From, err = parseTime(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	if f.To, err = parseTime(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
	}

	ctx := c.Request().Context()
	entries, total, err := h.svc.List(ctx, auth.ActorFromContext(ctx), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
