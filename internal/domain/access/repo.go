package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/labcore/lims/internal/platform/auth"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
	// UpdatePermissions stores a per-user override; nil clears it.
	UpdatePermissions(ctx context.Context, id uuid.UUID, perms []auth.Permission) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type RoleRepository interface {
	// Get returns the stored set of a role and whether one exists.
	Get(ctx context.Context, role auth.Role) ([]auth.Permission, bool, error)
	List(ctx context.Context) (map[auth.Role][]auth.Permission, error)
	Set(ctx context.Context, role auth.Role, perms []auth.Permission) error
}
