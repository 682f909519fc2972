package visit

import (
	"net/http"
	"time"

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
	view := api.Group("", auth.RequirePermission(viewPermissions...))
	view.GET("/visits/:id", h.GetVisit)
	view.GET("/visit-tests/:id", h.GetTest)
	view.GET("/queues/:queue", h.Queue)

	desk := api.Group("", auth.RequirePermission(auth.PermViewReception, auth.PermCreateVisit))
	desk.GET("/patients", h.FindPatient)

	list := api.Group("", auth.RequirePermission(auth.PermViewReception, auth.PermViewApprover))
	list.GET("/visits", h.ListVisits)

	api.Group("", auth.RequirePermission(auth.PermCreateVisit)).POST("/visits", h.CreateVisit)
	api.Group("", auth.RequirePermission(auth.PermCollectDuePayment)).POST("/visits/:id/payments", h.CollectDuePayment)
	api.Group("", auth.RequirePermission(auth.PermCollectSample)).POST("/visit-tests/:id/collect", h.CollectSample)

	lab := api.Group("", auth.RequirePermission(auth.PermEnterResults))
	lab.POST("/visit-tests/:id/start", h.StartProcessing)
	lab.PUT("/visit-tests/:id/results", h.EnterResults)

	api.Group("", auth.RequirePermission(auth.PermApproveResults)).POST("/visit-tests/:id/approve", h.Approve)
	api.Group("", auth.RequirePermission(auth.PermEditApproved)).PUT("/visit-tests/:id/approved-results", h.EditApproved)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+" date, expected YYYY-MM-DD")
	}
	return &t, nil
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.CreateVisit(ctx, auth.ActorFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	v, err := h.svc.GetVisit(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Search: c.QueryParam("q")}
	if raw := c.QueryParam("ref_customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid ref_customer_id")
		}
		f.ClientID = &id
	}
	from, err := parseDate(c, "from")
	if err != nil {
		return err
	}
	to, err := parseDate(c, "to")
	if err != nil {
		return err
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	f.From, f.To = from, to

	ctx := c.Request().Context()
	items, total, err := h.svc.ListVisits(ctx, auth.ActorFromContext(ctx), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) FindPatient(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.FindPatient(ctx, auth.ActorFromContext(ctx), c.QueryParam("phone"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Queue(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.Queue(ctx, auth.ActorFromContext(ctx), Queue(c.Param("queue")), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := h.svc.GetTest(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentMode string          `json:"payment_mode"`
}

func (h *Handler) CollectDuePayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.CollectDuePayment(ctx, auth.ActorFromContext(ctx), id, req.Amount, req.PaymentMode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

type collectRequest struct {
	SpecimenType string `json:"specimen_type"`
}

func (h *Handler) CollectSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req collectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.svc.CollectSample(ctx, auth.ActorFromContext(ctx), id, req.SpecimenType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) StartProcessing(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := h.svc.StartProcessing(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) EnterResults(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.svc.EnterResults(ctx, auth.ActorFromContext(ctx), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := h.svc.Approve(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type editRequest struct {
	ResultInput
	Reason string `json:"reason"`
}

func (h *Handler) EditApproved(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.svc.EditApprovedResult(ctx, auth.ActorFromContext(ctx), id, req.ResultInput, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}
