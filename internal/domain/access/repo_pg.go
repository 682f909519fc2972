package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db"
)

func toStrings(perms []auth.Permission) []string {
	if perms == nil {
		return nil
	}
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func toPermissions(s []string) []auth.Permission {
	out := make([]auth.Permission, len(s))
	for i, v := range s {
		out[i] = auth.Permission(v)
	}
	return out
}

// -- Users --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, username, password_hash, role, permissions, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var perms *[]string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &perms, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if perms != nil {
		u.Permissions = toPermissions(*perms)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash, role, permissions, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.PasswordHash, u.Role, toStrings(u.Permissions), u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", db.MapError(err))
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user", id)
	}
	return u, err
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user", username)
	}
	return u, err
}

func (r *userRepoPG) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY username LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (r *userRepoPG) UpdatePermissions(ctx context.Context, id uuid.UUID, perms []auth.Permission) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET permissions = $2, updated_at = NOW() WHERE id = $1`, id, toStrings(perms))
	if err != nil {
		return fmt.Errorf("update user permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}

// -- Role permissions --

type roleRepoPG struct {
	pool *pgxpool.Pool
}

func NewRoleRepo(pool *pgxpool.Pool) RoleRepository {
	return &roleRepoPG{pool: pool}
}

func (r *roleRepoPG) Get(ctx context.Context, role auth.Role) ([]auth.Permission, bool, error) {
	var perms []string
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT permissions FROM role_permissions WHERE role = $1`, role).Scan(&perms)
	if db.IsNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get role permissions: %w", err)
	}
	return toPermissions(perms), true, nil
}

func (r *roleRepoPG) List(ctx context.Context) (map[auth.Role][]auth.Permission, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT role, permissions FROM role_permissions`)
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	defer rows.Close()

	out := make(map[auth.Role][]auth.Permission)
	for rows.Next() {
		var role auth.Role
		var perms []string
		if err := rows.Scan(&role, &perms); err != nil {
			return nil, err
		}
		out[role] = toPermissions(perms)
	}
	return out, rows.Err()
}

func (r *roleRepoPG) Set(ctx context.Context, role auth.Role, perms []auth.Permission) error {
	s := toStrings(perms)
	if s == nil {
		s = []string{}
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO role_permissions (role, permissions, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (role) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()`,
		role, s)
	if err != nil {
		return fmt.Errorf("set role permissions: %w", db.MapError(err))
	}
	return nil
}
