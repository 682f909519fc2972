package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labcore/lims/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequirePermission(auth.PermCreateVisit, auth.PermViewReception))
	g.POST("/billing/quote", h.Quote)
}

type quoteRequest struct {
	ClientID        *uuid.UUID  `json:"client_id"`
	TestTemplateIDs []uuid.UUID `json:"test_template_ids"`
}

func (h *Handler) Quote(c echo.Context) error {
	var req quoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	q, err := h.svc.PreviewQuote(ctx, auth.ActorFromContext(ctx), req.ClientID, req.TestTemplateIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}
