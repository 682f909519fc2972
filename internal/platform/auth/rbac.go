package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labcore/lims/internal/platform/apperr"
)

type Role string

const (
	RoleSudo       Role = "SUDO"
	RoleAdmin      Role = "ADMIN"
	RoleReception  Role = "RECEPTION"
	RolePhlebotomy Role = "PHLEBOTOMY"
	RoleLab        Role = "LAB"
	RoleApprover   Role = "APPROVER"
)

var AllRoles = []Role{RoleSudo, RoleAdmin, RoleReception, RolePhlebotomy, RoleLab, RoleApprover}

func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", apperr.Validation("unknown role %q", s)
	}
	return r, nil
}

type Permission string

const (
	PermViewReception     Permission = "VIEW_RECEPTION"
	PermCreateVisit       Permission = "CREATE_VISIT"
	PermCollectDuePayment Permission = "COLLECT_DUE_PAYMENT"
	PermViewPhlebotomy    Permission = "VIEW_PHLEBOTOMY"
	PermCollectSample     Permission = "COLLECT_SAMPLE"
	PermViewLab           Permission = "VIEW_LAB"
	PermEnterResults      Permission = "ENTER_RESULTS"
	PermViewApprover      Permission = "VIEW_APPROVER"
	PermApproveResults    Permission = "APPROVE_RESULTS"
	PermViewAdminPanel    Permission = "VIEW_ADMIN_PANEL"
	PermManageUsers       Permission = "MANAGE_USERS"
	PermManageRoles       Permission = "MANAGE_ROLES"
	PermManageTests       Permission = "MANAGE_TESTS"
	PermManagePrices      Permission = "MANAGE_PRICES"
	PermManageB2B         Permission = "MANAGE_B2B"
	PermManageAntibiotics Permission = "MANAGE_ANTIBIOTICS"
	PermEditApproved      Permission = "EDIT_APPROVED_REPORT"
	PermViewAuditLog      Permission = "VIEW_AUDIT_LOG"
)

var AllPermissions = []Permission{
	PermViewReception, PermCreateVisit, PermCollectDuePayment,
	PermViewPhlebotomy, PermCollectSample,
	PermViewLab, PermEnterResults,
	PermViewApprover, PermApproveResults,
	PermViewAdminPanel, PermManageUsers, PermManageRoles, PermManageTests,
	PermManagePrices, PermManageB2B, PermManageAntibiotics,
	PermEditApproved, PermViewAuditLog,
}

func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePermissions validates and de-duplicates a list of permission names.
func ParsePermissions(names []string) ([]Permission, error) {
	seen := make(map[Permission]bool, len(names))
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		p := Permission(strings.ToUpper(strings.TrimSpace(n)))
		if !p.Valid() {
			return nil, apperr.Validation("unknown permission %q", n)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

var defaultRolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermViewReception, PermCreateVisit, PermCollectDuePayment,
		PermViewPhlebotomy, PermCollectSample,
		PermViewLab, PermEnterResults,
		PermViewApprover, PermApproveResults,
		PermViewAdminPanel, PermManageTests, PermManagePrices, PermManageB2B, PermManageAntibiotics,
	},
	RoleReception:  {PermViewReception, PermCreateVisit, PermCollectDuePayment},
	RolePhlebotomy: {PermViewPhlebotomy, PermCollectSample},
	RoleLab:        {PermViewLab, PermEnterResults},
	RoleApprover:   {PermViewApprover, PermApproveResults},
}

// DefaultPermissions returns the factory permission set of a role. SUDO
// always holds every permission.
func DefaultPermissions(role Role) []Permission {
	if role == RoleSudo {
		return append([]Permission(nil), AllPermissions...)
	}
	return append([]Permission(nil), defaultRolePermissions[role]...)
}

// Actor is the authenticated user on whose behalf an operation runs. It is
// resolved server-side from the users table; Permissions is the effective set.
type Actor struct {
	ID          uuid.UUID    `json:"id"`
	Username    string       `json:"username"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

func (a *Actor) Has(p Permission) bool {
	if a == nil {
		return false
	}
	if a.Role == RoleSudo {
		return true
	}
	for _, held := range a.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// Authorize is the authoritative permission check each service performs
// before mutating state.
func Authorize(a *Actor, p Permission) error {
	if a == nil {
		return apperr.Unauthorized("no authenticated user")
	}
	if !a.Has(p) {
		return apperr.Unauthorized("user %s lacks permission %s", a.Username, p)
	}
	return nil
}

// AuthorizeAny passes when the actor holds at least one of perms.
func AuthorizeAny(a *Actor, perms ...Permission) error {
	for _, p := range perms {
		if a.Has(p) {
			return nil
		}
	}
	if a == nil {
		return apperr.Unauthorized("no authenticated user")
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return apperr.Unauthorized("user %s lacks permission %s", a.Username, strings.Join(names, " or "))
}

type actorKey struct{}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(actorKey{}).(*Actor)
	return a
}

// RequirePermission rejects requests whose actor holds none of perms. Route
// level checks only shape the API surface; services re-check on every call.
func RequirePermission(perms ...Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if actor == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, p := range perms {
				if actor.Has(p) {
					return next(c)
				}
			}
			names := make([]string, len(perms))
			for i, p := range perms {
				names[i] = string(p)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required permission: %s", strings.Join(names, " or ")))
		}
	}
}
