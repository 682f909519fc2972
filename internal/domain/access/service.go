package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db"
)

type Service struct {
	users  UserRepository
	roles  RoleRepository
	uow    db.UnitOfWork
	audit  audit.Recorder
	tokens *auth.TokenIssuer
	logger zerolog.Logger
	hash   func(string) (string, error)
}

func NewService(users UserRepository, roles RoleRepository, uow db.UnitOfWork, rec audit.Recorder, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		roles:  roles,
		uow:    uow,
		audit:  rec,
		tokens: tokens,
		logger: logger.With().Str("component", "access").Logger(),
		hash:   auth.HashPassword,
	}
}

var errBadCredentials = apperr.Unauthorized("invalid username or password")

// Login checks the password and issues a bearer token. Unknown users,
// inactive users and wrong passwords all fail the same way.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, normalizeUsername(username))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok || !u.IsActive {
		s.logger.Warn().Str("username", u.Username).Msg("failed login")
		return nil, errBadCredentials
	}
	token, exp, err := s.tokens.Issue(u.ID, u.Username, u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// EffectivePermissions resolves what a user may do: SUDO holds everything,
// then a per-user override, then the role's stored set, then the factory
// defaults of the role.
func (s *Service) EffectivePermissions(ctx context.Context, u *User) ([]auth.Permission, error) {
	if u.Role == auth.RoleSudo {
		return auth.DefaultPermissions(auth.RoleSudo), nil
	}
	if u.Permissions != nil {
		return u.Permissions, nil
	}
	perms, ok, err := s.roles.Get(ctx, u.Role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return auth.DefaultPermissions(u.Role), nil
	}
	return perms, nil
}

// ResolveActor loads the request's user from the database. The user id from
// the token wins; the username is used when no id is present (dev mode).
func (s *Service) ResolveActor(ctx context.Context, userID, username string) (*auth.Actor, error) {
	var u *User
	var err error
	switch {
	case userID != "":
		id, perr := uuid.Parse(userID)
		if perr != nil {
			return nil, apperr.Unauthorized("invalid user id")
		}
		u, err = s.users.GetByID(ctx, id)
	case username != "":
		u, err = s.users.GetByUsername(ctx, normalizeUsername(username))
	default:
		return nil, apperr.Unauthorized("no authenticated user")
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Unauthorized("unknown user")
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.Unauthorized("user %s is inactive", u.Username)
	}
	perms, err := s.EffectivePermissions(ctx, u)
	if err != nil {
		return nil, err
	}
	return &auth.Actor{ID: u.ID, Username: u.Username, Role: u.Role, Permissions: perms}, nil
}

func (s *Service) newUser(in NewUser) (*User, error) {
	username := normalizeUsername(in.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	var perms []auth.Permission
	if in.Permissions != nil {
		if perms, err = auth.ParsePermissions(in.Permissions); err != nil {
			return nil, err
		}
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	return &User{ID: uuid.New(), Username: username, PasswordHash: hash, Role: role, Permissions: perms, IsActive: true}, nil
}

func (s *Service) CreateUser(ctx context.Context, actor *auth.Actor, in NewUser) (*User, error) {
	if err := auth.Authorize(actor, auth.PermManageUsers); err != nil {
		return nil, err
	}
	u, err := s.newUser(in)
	if err != nil {
		return nil, err
	}
	if u.Role == auth.RoleSudo && actor.Role != auth.RoleSudo {
		return nil, apperr.Unauthorized("only SUDO users can create SUDO users")
	}
	if err := s.insertUser(ctx, actor, u); err != nil {
		return nil, err
	}
	return u, nil
}

// BootstrapUser creates an account without an acting user. It backs the
// `user create` command used to seed the first SUDO account.
func (s *Service) BootstrapUser(ctx context.Context, in NewUser) (*User, error) {
	u, err := s.newUser(in)
	if err != nil {
		return nil, err
	}
	if err := s.insertUser(ctx, nil, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) insertUser(ctx context.Context, actor *auth.Actor, u *User) error {
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			var appErr *apperr.Error
			if errors.As(err, &appErr) && appErr.Details["constraint"] == "users_username_key" {
				return apperr.ValidationFields("username already exists", map[string]string{"username": u.Username})
			}
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageUsers, "user", u.ID.String(),
			fmt.Sprintf("Created user: %s with role %s.", u.Username, u.Role))
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("username", u.Username).Str("role", string(u.Role)).Msg("user created")
	return nil
}

func (s *Service) ListUsers(ctx context.Context, actor *auth.Actor, limit, offset int) ([]*User, int, error) {
	if err := auth.Authorize(actor, auth.PermManageUsers); err != nil {
		return nil, 0, err
	}
	return s.users.List(ctx, limit, offset)
}

// UpdateUserPermissions sets or, with nil, clears a user's override list.
func (s *Service) UpdateUserPermissions(ctx context.Context, actor *auth.Actor, id uuid.UUID, names []string) (*User, error) {
	if err := auth.Authorize(actor, auth.PermManageUsers); err != nil {
		return nil, err
	}
	var perms []auth.Permission
	if names != nil {
		var err error
		if perms, err = auth.ParsePermissions(names); err != nil {
			return nil, err
		}
	}
	var u *User
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if u, err = s.users.GetByID(ctx, id); err != nil {
			return err
		}
		if u.Role == auth.RoleSudo {
			return apperr.Unauthorized("SUDO permissions cannot be edited")
		}
		if err := s.users.UpdatePermissions(ctx, id, perms); err != nil {
			return err
		}
		u.Permissions = perms
		detail := fmt.Sprintf("Updated permissions for user: %s.", u.Username)
		if perms == nil {
			detail = fmt.Sprintf("Reset permissions for user: %s to role defaults.", u.Username)
		}
		return s.audit.Record(ctx, actor, audit.ActionManageUsers, "user", id.String(), detail)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) SetUserActive(ctx context.Context, actor *auth.Actor, id uuid.UUID, active bool) error {
	if err := auth.Authorize(actor, auth.PermManageUsers); err != nil {
		return err
	}
	if id == actor.ID && !active {
		return apperr.Validation("you cannot deactivate your own account")
	}
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u.Role == auth.RoleSudo && actor.Role != auth.RoleSudo {
			return apperr.Unauthorized("only SUDO users can change SUDO accounts")
		}
		if err := s.users.SetActive(ctx, id, active); err != nil {
			return err
		}
		verb := "Activated"
		if !active {
			verb = "Deactivated"
		}
		return s.audit.Record(ctx, actor, audit.ActionManageUsers, "user", id.String(),
			fmt.Sprintf("%s user: %s.", verb, u.Username))
	})
}

// ListRoles returns every role with its effective stored set.
func (s *Service) ListRoles(ctx context.Context, actor *auth.Actor) ([]RolePermissions, error) {
	if err := auth.AuthorizeAny(actor, auth.PermManageRoles, auth.PermManageUsers); err != nil {
		return nil, err
	}
	stored, err := s.roles.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RolePermissions, 0, len(auth.AllRoles))
	for _, role := range auth.AllRoles {
		perms, ok := stored[role]
		if !ok || role == auth.RoleSudo {
			perms = auth.DefaultPermissions(role)
		}
		out = append(out, RolePermissions{Role: role, Permissions: perms, Editable: role != auth.RoleSudo})
	}
	return out, nil
}

func (s *Service) UpdateRolePermissions(ctx context.Context, actor *auth.Actor, roleName string, names []string) (*RolePermissions, error) {
	if err := auth.Authorize(actor, auth.PermManageRoles); err != nil {
		return nil, err
	}
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return nil, err
	}
	if role == auth.RoleSudo {
		return nil, apperr.Unauthorized("SUDO permissions cannot be edited")
	}
	perms, err := auth.ParsePermissions(names)
	if err != nil {
		return nil, err
	}
	err = s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.roles.Set(ctx, role, perms); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageRoles, "role", string(role),
			fmt.Sprintf("Updated permissions for role: %s.", role))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("role", string(role)).Str("actor", actor.Username).
		Str("permissions", joinPermissions(perms)).Msg("role permissions updated")
	return &RolePermissions{Role: role, Permissions: perms, Editable: true}, nil
}

func joinPermissions(perms []auth.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
