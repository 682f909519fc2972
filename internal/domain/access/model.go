package access

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

// User is a staff account. A nil Permissions means the role's set applies.
type User struct {
	ID           uuid.UUID         `json:"id"`
	Username     string            `json:"username"`
	PasswordHash string            `json:"-"`
	Role         auth.Role         `json:"role"`
	Permissions  []auth.Permission `json:"permissions,omitempty"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateUsername(s string) error {
	if len(s) < 3 || len(s) > 64 {
		return apperr.ValidationFields("invalid user", map[string]string{"username": "must be 3 to 64 characters"})
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return apperr.ValidationFields("invalid user", map[string]string{"username": "must not contain whitespace"})
	}
	return nil
}

// RolePermissions is a role's stored permission set.
type RolePermissions struct {
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
	Editable    bool              `json:"editable"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
