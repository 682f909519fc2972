package access

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/domain/audit/audittest"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db/dbtest"
)

// -- Mock Repositories --

type mockUserRepo struct {
	store map[uuid.UUID]User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{store: make(map[uuid.UUID]User)}
}

func (m *mockUserRepo) Snapshot() func() {
	saved := make(map[uuid.UUID]User, len(m.store))
	for k, v := range m.store {
		saved[k] = v
	}
	return func() { m.store = saved }
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.store {
		if existing.Username == u.Username {
			return apperr.ValidationFields("duplicate value", map[string]string{"constraint": "users_username_key"})
		}
	}
	m.store[u.ID] = *u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return &u, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.store {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user", username)
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]*User, int, error) {
	var out []*User
	for _, u := range m.store {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, len(out), nil
}

func (m *mockUserRepo) UpdatePermissions(_ context.Context, id uuid.UUID, perms []auth.Permission) error {
	u, ok := m.store[id]
	if !ok {
		return apperr.NotFound("user", id)
	}
	u.Permissions = perms
	m.store[id] = u
	return nil
}

func (m *mockUserRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	u, ok := m.store[id]
	if !ok {
		return apperr.NotFound("user", id)
	}
	u.IsActive = active
	m.store[id] = u
	return nil
}

type mockRoleRepo struct {
	store map[auth.Role][]auth.Permission
}

func newMockRoleRepo() *mockRoleRepo {
	return &mockRoleRepo{store: make(map[auth.Role][]auth.Permission)}
}

func (m *mockRoleRepo) Snapshot() func() {
	saved := make(map[auth.Role][]auth.Permission, len(m.store))
	for k, v := range m.store {
		saved[k] = v
	}
	return func() { m.store = saved }
}

func (m *mockRoleRepo) Get(_ context.Context, role auth.Role) ([]auth.Permission, bool, error) {
	p, ok := m.store[role]
	return p, ok, nil
}

func (m *mockRoleRepo) List(_ context.Context) (map[auth.Role][]auth.Permission, error) {
	return m.store, nil
}

func (m *mockRoleRepo) Set(_ context.Context, role auth.Role, perms []auth.Permission) error {
	m.store[role] = perms
	return nil
}

type testEnv struct {
	svc    *Service
	users  *mockUserRepo
	roles  *mockRoleRepo
	audit  *audittest.Recorder
	tokens *auth.TokenIssuer
}

func newTestService() *testEnv {
	env := &testEnv{
		users:  newMockUserRepo(),
		roles:  newMockRoleRepo(),
		audit:  &audittest.Recorder{},
		tokens: auth.NewTokenIssuer(auth.JWTConfig{SigningKey: []byte("access-test-signing-key"), Issuer: "lims"}),
	}
	uow := dbtest.NewUnitOfWork(env.users, env.roles, env.audit)
	env.svc = NewService(env.users, env.roles, uow, env.audit, env.tokens, zerolog.Nop())
	return env
}

var (
	sudo  = &auth.Actor{ID: uuid.New(), Username: "root", Role: auth.RoleSudo}
	admin = &auth.Actor{ID: uuid.New(), Username: "admin1", Role: auth.RoleAdmin,
		Permissions: append(auth.DefaultPermissions(auth.RoleAdmin), auth.PermManageUsers, auth.PermManageRoles)}
	desk = &auth.Actor{ID: uuid.New(), Username: "desk1", Role: auth.RoleReception, Permissions: auth.DefaultPermissions(auth.RoleReception)}
)

func (env *testEnv) createUser(t *testing.T, username, role string) *User {
	t.Helper()
	u, err := env.svc.CreateUser(context.Background(), sudo, NewUser{Username: username, Password: "s3cret-pass", Role: role})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestCreateUser(t *testing.T) {
	env := newTestService()
	u, err := env.svc.CreateUser(context.Background(), admin, NewUser{Username: " Lab.Tech ", Password: "s3cret-pass", Role: "lab"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Username != "lab.tech" || u.Role != auth.RoleLab || !u.IsActive || u.Permissions != nil {
		t.Errorf("unexpected user %+v", u)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3cret-pass" {
		t.Error("expected password to be hashed")
	}
	got := env.audit.Details(audit.ActionManageUsers)
	if len(got) != 1 || got[0] != "Created user: lab.tech with role LAB." {
		t.Errorf("unexpected audit %v", got)
	}
}

func TestCreateUser_Rejections(t *testing.T) {
	env := newTestService()
	env.createUser(t, "taken", "LAB")
	ctx := context.Background()

	tests := []struct {
		name  string
		actor *auth.Actor
		in    NewUser
		kind  error
	}{
		{"no permission", desk, NewUser{Username: "x1x", Password: "s3cret-pass", Role: "LAB"}, apperr.ErrUnauthorized},
		{"admin creating sudo", admin, NewUser{Username: "boss", Password: "s3cret-pass", Role: "SUDO"}, apperr.ErrUnauthorized},
		{"bad role", admin, NewUser{Username: "x1x", Password: "s3cret-pass", Role: "DOCTOR"}, apperr.ErrValidation},
		{"short password", admin, NewUser{Username: "x1x", Password: "short", Role: "LAB"}, apperr.ErrValidation},
		{"short username", admin, NewUser{Username: "ab", Password: "s3cret-pass", Role: "LAB"}, apperr.ErrValidation},
		{"bad permission", admin, NewUser{Username: "x1x", Password: "s3cret-pass", Role: "LAB", Permissions: []string{"FLY"}}, apperr.ErrValidation},
		{"duplicate username", admin, NewUser{Username: "TAKEN", Password: "s3cret-pass", Role: "LAB"}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.users.store)
			if _, err := env.svc.CreateUser(ctx, tt.actor, tt.in); !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
			if len(env.users.store) != before {
				t.Error("rejected create must not store a user")
			}
		})
	}
}

func TestBootstrapUser_AuditedAsSystem(t *testing.T) {
	env := newTestService()
	if _, err := env.svc.BootstrapUser(context.Background(), NewUser{Username: "root", Password: "s3cret-pass", Role: "SUDO"}); err != nil {
		t.Fatalf("BootstrapUser: %v", err)
	}
	if env.audit.Entries[0].Username != audit.SystemUsername {
		t.Errorf("expected system attribution, got %q", env.audit.Entries[0].Username)
	}
}

func TestLogin(t *testing.T) {
	env := newTestService()
	u := env.createUser(t, "desk1", "RECEPTION")
	ctx := context.Background()

	res, err := env.svc.Login(ctx, "DESK1", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := env.tokens.Parse(res.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != u.ID.String() || claims.Role != auth.RoleReception {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := env.svc.Login(ctx, "desk1", "wrong-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "ghost", "s3cret-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized for unknown user, got %v", err)
	}
	_ = env.svc.SetUserActive(ctx, sudo, u.ID, false)
	if _, err := env.svc.Login(ctx, "desk1", "s3cret-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized for inactive user, got %v", err)
	}
}

func TestResolveActor_EffectivePermissions(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	lab := env.createUser(t, "lab1", "LAB")
	root := env.createUser(t, "root", "SUDO")

	// Factory defaults apply when nothing is stored.
	actor, err := env.svc.ResolveActor(ctx, lab.ID.String(), "")
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	if !actor.Has(auth.PermEnterResults) || actor.Has(auth.PermApproveResults) {
		t.Errorf("unexpected default permissions %v", actor.Permissions)
	}

	// The stored role set wins over the defaults.
	if _, err := env.svc.UpdateRolePermissions(ctx, sudo, "LAB", []string{"VIEW_LAB"}); err != nil {
		t.Fatalf("UpdateRolePermissions: %v", err)
	}
	actor, _ = env.svc.ResolveActor(ctx, lab.ID.String(), "")
	if actor.Has(auth.PermEnterResults) {
		t.Error("expected stored role set to apply")
	}

	// A user override wins over the role.
	if _, err := env.svc.UpdateUserPermissions(ctx, sudo, lab.ID, []string{"VIEW_LAB", "ENTER_RESULTS", "APPROVE_RESULTS"}); err != nil {
		t.Fatalf("UpdateUserPermissions: %v", err)
	}
	actor, _ = env.svc.ResolveActor(ctx, "", "lab1")
	if !actor.Has(auth.PermApproveResults) {
		t.Error("expected user override to apply")
	}

	// Clearing the override falls back to the role again.
	if _, err := env.svc.UpdateUserPermissions(ctx, sudo, lab.ID, nil); err != nil {
		t.Fatalf("UpdateUserPermissions(nil): %v", err)
	}
	actor, _ = env.svc.ResolveActor(ctx, lab.ID.String(), "")
	if actor.Has(auth.PermApproveResults) {
		t.Error("expected override to be cleared")
	}

	rootActor, _ := env.svc.ResolveActor(ctx, root.ID.String(), "")
	if len(rootActor.Permissions) != len(auth.AllPermissions) {
		t.Errorf("SUDO should hold every permission, got %d", len(rootActor.Permissions))
	}
}

func TestResolveActor_Rejections(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	u := env.createUser(t, "desk1", "RECEPTION")
	_ = env.svc.SetUserActive(ctx, sudo, u.ID, false)

	for name, args := range map[string][2]string{
		"inactive":     {u.ID.String(), ""},
		"unknown id":   {uuid.NewString(), ""},
		"malformed id": {"abc", ""},
		"unknown name": {"", "ghost"},
		"anonymous":    {"", ""},
	} {
		if _, err := env.svc.ResolveActor(ctx, args[0], args[1]); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestUpdateRolePermissions(t *testing.T) {
	env := newTestService()
	ctx := context.Background()

	rp, err := env.svc.UpdateRolePermissions(ctx, admin, "reception", []string{"VIEW_RECEPTION", "CREATE_VISIT"})
	if err != nil {
		t.Fatalf("UpdateRolePermissions: %v", err)
	}
	if rp.Role != auth.RoleReception || len(rp.Permissions) != 2 {
		t.Errorf("unexpected result %+v", rp)
	}
	got := env.audit.Details(audit.ActionManageRoles)
	if len(got) != 1 || got[0] != "Updated permissions for role: RECEPTION." {
		t.Errorf("unexpected audit %v", got)
	}

	if _, err := env.svc.UpdateRolePermissions(ctx, sudo, "SUDO", []string{"VIEW_LAB"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected SUDO edit to be rejected, got %v", err)
	}
	if _, err := env.svc.UpdateRolePermissions(ctx, desk, "LAB", nil); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestListRoles(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	_, _ = env.svc.UpdateRolePermissions(ctx, sudo, "APPROVER", []string{"VIEW_APPROVER"})

	roles, err := env.svc.ListRoles(ctx, admin)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != len(auth.AllRoles) {
		t.Fatalf("expected %d roles, got %d", len(auth.AllRoles), len(roles))
	}
	for _, r := range roles {
		switch r.Role {
		case auth.RoleSudo:
			if r.Editable || len(r.Permissions) != len(auth.AllPermissions) {
				t.Errorf("unexpected SUDO entry %+v", r)
			}
		case auth.RoleApprover:
			if len(r.Permissions) != 1 {
				t.Errorf("expected stored approver set, got %v", r.Permissions)
			}
		}
	}
}

func TestSetUserActive(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	root := env.createUser(t, "root2", "SUDO")

	if err := env.svc.SetUserActive(ctx, admin, root.ID, false); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected admin unable to deactivate SUDO, got %v", err)
	}
	if err := env.svc.SetUserActive(ctx, admin, admin.ID, false); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected self-deactivation rejection, got %v", err)
	}
	if err := env.svc.SetUserActive(ctx, sudo, uuid.New(), false); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
