package access

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labcore/lims/internal/platform/apperr"
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
	api.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me)

	users := api.Group("", auth.RequirePermission(auth.PermManageUsers))
	users.GET("/users", h.ListUsers)
	users.POST("/users", h.CreateUser)
	users.PUT("/users/:id/permissions", h.UpdateUserPermissions)
	users.PUT("/users/:id/status", h.SetUserStatus)

	roles := api.Group("", auth.RequirePermission(auth.PermManageRoles, auth.PermManageUsers))
	roles.GET("/roles", h.ListRoles)
	api.PUT("/roles/:role/permissions", h.UpdateRolePermissions, auth.RequirePermission(auth.PermManageRoles))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, apperr.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return c.JSON(http.StatusOK, actor)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	users, total, err := h.svc.ListUsers(ctx, auth.ActorFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in NewUser
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.CreateUser(ctx, auth.ActorFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

type permissionsRequest struct {
	// Permissions set to null resets a user to the role's set.
	Permissions []string `json:"permissions"`
}

func (h *Handler) UpdateUserPermissions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req permissionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateUserPermissions(ctx, auth.ActorFromContext(ctx), id, req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

type statusRequest struct {
	IsActive bool `json:"is_active"`
}

func (h *Handler) SetUserStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.SetUserActive(ctx, auth.ActorFromContext(ctx), id, req.IsActive); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListRoles(c echo.Context) error {
	ctx := c.Request().Context()
	roles, err := h.svc.ListRoles(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, roles)
}

func (h *Handler) UpdateRolePermissions(c echo.Context) error {
	var req permissionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rp, err := h.svc.UpdateRolePermissions(ctx, auth.ActorFromContext(ctx), c.Param("role"), req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rp)
}
