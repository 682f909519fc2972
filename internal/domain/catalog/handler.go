package catalog

import (
	"net/http"

	"github.com/google/uuid"
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
	// Reads are open to any signed-in user; reception needs the catalog to register visits.
	api.GET("/test-templates", h.ListTemplates)
	api.GET("/test-templates/:id", h.GetTemplate)
	api.GET("/antibiotics", h.ListAntibiotics)
	api.GET("/referral-doctors", h.ListDoctors)

	tests := api.Group("", auth.RequirePermission(auth.PermManageTests))
	tests.POST("/test-templates", h.CreateTemplate)
	tests.PUT("/test-templates/:id", h.UpdateTemplate)
	tests.DELETE("/test-templates/:id", h.DeactivateTemplate)

	api.PUT("/test-templates/prices", h.UpdatePrices, auth.RequirePermission(auth.PermManagePrices))

	abx := api.Group("", auth.RequirePermission(auth.PermManageAntibiotics))
	abx.POST("/antibiotics", h.CreateAntibiotic)
	abx.PUT("/antibiotics/:id", h.UpdateAntibiotic)

	docs := api.Group("", auth.RequirePermission(auth.PermViewAdminPanel))
	docs.POST("/referral-doctors", h.CreateDoctor)
	docs.PUT("/referral-doctors/:id", h.UpdateDoctor)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Test templates --

func (h *Handler) CreateTemplate(c echo.Context) error {
	var t TestTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.CreateTemplate(ctx, auth.ActorFromContext(ctx), &t); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := TemplateFilter{
		ActiveOnly: c.QueryParam("include_inactive") != "true",
		Category:   c.QueryParam("category"),
		Search:     c.QueryParam("q"),
	}
	items, total, err := h.svc.ListTemplates(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t TestTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	ctx := c.Request().Context()
	if err := h.svc.UpdateTemplate(ctx, auth.ActorFromContext(ctx), &t); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := h.svc.DeactivateTemplate(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type priceUpdateRequest struct {
	Updates []PriceUpdate `json:"updates"`
}

func (h *Handler) UpdatePrices(c echo.Context) error {
	var req priceUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	n, err := h.svc.UpdatePrices(ctx, auth.ActorFromContext(ctx), req.Updates)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

// -- Antibiotics --

func (h *Handler) ListAntibiotics(c echo.Context) error {
	items, err := h.svc.ListAntibiotics(c.Request().Context(), c.QueryParam("include_inactive") != "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateAntibiotic(c echo.Context) error {
	var a Antibiotic
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.CreateAntibiotic(ctx, auth.ActorFromContext(ctx), &a); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAntibiotic(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var a Antibiotic
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	ctx := c.Request().Context()
	if err := h.svc.UpdateAntibiotic(ctx, auth.ActorFromContext(ctx), &a); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// -- Referral doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	items, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("include_inactive") != "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d ReferralDoctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.CreateDoctor(ctx, auth.ActorFromContext(ctx), &d); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var d ReferralDoctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	ctx := c.Request().Context()
	if err := h.svc.UpdateDoctor(ctx, auth.ActorFromContext(ctx), &d); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
