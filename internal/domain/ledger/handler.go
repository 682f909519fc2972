package ledger

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	read := api.Group("", auth.RequirePermission(auth.PermManageB2B, auth.PermViewReception))
	read.GET("/clients", h.ListClients)
	read.GET("/clients/:id", h.GetClient)

	b2b := api.Group("", auth.RequirePermission(auth.PermManageB2B))
	b2b.POST("/clients", h.CreateClient)
	b2b.GET("/clients/:id/prices", h.ListPrices)
	b2b.PUT("/clients/:id/prices", h.SetPrices)
	b2b.POST("/clients/:id/payments", h.AddPayment)
	b2b.POST("/clients/:id/adjustments", h.AddAdjustment)
	b2b.GET("/clients/:id/statement", h.Statement)
	b2b.GET("/clients/:id/reconciliation", h.Reconcile)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateClient(c echo.Context) error {
	var cl Client
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.CreateClient(ctx, auth.ActorFromContext(ctx), &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cl, err := h.svc.GetClient(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ClientFilter{
		Type:       ClientType(strings.ToUpper(c.QueryParam("type"))),
		ActiveOnly: c.QueryParam("include_inactive") != "true",
		Search:     c.QueryParam("q"),
	}
	ctx := c.Request().Context()
	items, total, err := h.svc.ListClients(ctx, auth.ActorFromContext(ctx), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type setPricesRequest struct {
	Prices []ClientPrice `json:"prices"`
}

func (h *Handler) SetPrices(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req setPricesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	kept, err := h.svc.SetClientPrices(ctx, auth.ActorFromContext(ctx), id, req.Prices)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, kept)
}

func (h *Handler) ListPrices(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	prices, err := h.svc.ListClientPrices(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prices)
}

type postingRequest struct {
	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) AddPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req postingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	e, err := h.svc.AddClientPayment(ctx, auth.ActorFromContext(ctx), id, req.Amount, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) AddAdjustment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req postingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	entryType := EntryType(strings.ToUpper(string(req.Type)))
	e, err := h.svc.AddAdjustment(ctx, auth.ActorFromContext(ctx), id, entryType, req.Amount, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Statement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	st, err := h.svc.Statement(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Reconcile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Reconcile(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}
