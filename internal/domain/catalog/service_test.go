package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/domain/audit/audittest"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db/dbtest"
)

// -- Mock Repositories --

type mockTemplateRepo struct {
	store map[uuid.UUID]TestTemplate
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{store: make(map[uuid.UUID]TestTemplate)}
}

func (m *mockTemplateRepo) Snapshot() func() {
	saved := make(map[uuid.UUID]TestTemplate, len(m.store))
	for k, v := range m.store {
		saved[k] = v
	}
	return func() { m.store = saved }
}

func (m *mockTemplateRepo) Create(_ context.Context, t *TestTemplate) error {
	for _, existing := range m.store {
		if existing.Code == t.Code {
			return apperr.ValidationFields("duplicate value", map[string]string{"constraint": "test_templates_code_key"})
		}
	}
	m.store[t.ID] = *t
	return nil
}

func (m *mockTemplateRepo) Update(_ context.Context, t *TestTemplate) error {
	if _, ok := m.store[t.ID]; !ok {
		return apperr.NotFound("test template", t.ID)
	}
	m.store[t.ID] = *t
	return nil
}

func (m *mockTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*TestTemplate, error) {
	t, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("test template", id)
	}
	return &t, nil
}

func (m *mockTemplateRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*TestTemplate, error) {
	var out []*TestTemplate
	for _, id := range ids {
		if t, ok := m.store[id]; ok {
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *mockTemplateRepo) List(_ context.Context, f TemplateFilter, limit, offset int) ([]*TestTemplate, int, error) {
	var out []*TestTemplate
	for _, t := range m.store {
		t := t
		if f.ActiveOnly && !t.IsActive {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, &t)
	}
	return out, len(out), nil
}

func (m *mockTemplateRepo) UpdatePrices(_ context.Context, updates []PriceUpdate) (int, error) {
	n := 0
	for _, u := range updates {
		t, ok := m.store[u.TemplateID]
		if !ok {
			return n, apperr.NotFound("test template", u.TemplateID)
		}
		t.Price, t.B2BPrice = u.Price, u.B2BPrice
		m.store[u.TemplateID] = t
		n++
	}
	return n, nil
}

type mockAntibioticRepo struct {
	store map[uuid.UUID]Antibiotic
}

func newMockAntibioticRepo() *mockAntibioticRepo {
	return &mockAntibioticRepo{store: make(map[uuid.UUID]Antibiotic)}
}

func (m *mockAntibioticRepo) Snapshot() func() {
	saved := make(map[uuid.UUID]Antibiotic, len(m.store))
	for k, v := range m.store {
		saved[k] = v
	}
	return func() { m.store = saved }
}

func (m *mockAntibioticRepo) Create(_ context.Context, a *Antibiotic) error {
	m.store[a.ID] = *a
	return nil
}

func (m *mockAntibioticRepo) Update(_ context.Context, a *Antibiotic) error {
	if _, ok := m.store[a.ID]; !ok {
		return apperr.NotFound("antibiotic", a.ID)
	}
	m.store[a.ID] = *a
	return nil
}

func (m *mockAntibioticRepo) GetByID(_ context.Context, id uuid.UUID) (*Antibiotic, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("antibiotic", id)
	}
	return &a, nil
}

func (m *mockAntibioticRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*Antibiotic, error) {
	var out []*Antibiotic
	for _, id := range ids {
		if a, ok := m.store[id]; ok {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (m *mockAntibioticRepo) List(_ context.Context, activeOnly bool) ([]*Antibiotic, error) {
	var out []*Antibiotic
	for _, a := range m.store {
		a := a
		if activeOnly && !a.IsActive {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

type mockDoctorRepo struct {
	store map[uuid.UUID]ReferralDoctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{store: make(map[uuid.UUID]ReferralDoctor)}
}

func (m *mockDoctorRepo) Snapshot() func() {
	saved := make(map[uuid.UUID]ReferralDoctor, len(m.store))
	for k, v := range m.store {
		saved[k] = v
	}
	return func() { m.store = saved }
}

func (m *mockDoctorRepo) Create(_ context.Context, d *ReferralDoctor) error {
	m.store[d.ID] = *d
	return nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *ReferralDoctor) error {
	if _, ok := m.store[d.ID]; !ok {
		return apperr.NotFound("referral doctor", d.ID)
	}
	m.store[d.ID] = *d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*ReferralDoctor, error) {
	d, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("referral doctor", id)
	}
	return &d, nil
}

func (m *mockDoctorRepo) List(_ context.Context, activeOnly bool) ([]*ReferralDoctor, error) {
	var out []*ReferralDoctor
	for _, d := range m.store {
		d := d
		if activeOnly && !d.IsActive {
			continue
		}
		out = append(out, &d)
	}
	return out, nil
}

type testEnv struct {
	svc         *Service
	templates   *mockTemplateRepo
	antibiotics *mockAntibioticRepo
	doctors     *mockDoctorRepo
	audit       *audittest.Recorder
	uow         *dbtest.UnitOfWork
}

func newTestService() *testEnv {
	env := &testEnv{
		templates:   newMockTemplateRepo(),
		antibiotics: newMockAntibioticRepo(),
		doctors:     newMockDoctorRepo(),
		audit:       &audittest.Recorder{},
	}
	env.uow = dbtest.NewUnitOfWork(env.templates, env.antibiotics, env.doctors, env.audit)
	env.svc = NewService(env.templates, env.antibiotics, env.doctors, env.uow, env.audit)
	return env
}

var (
	admin     = &auth.Actor{ID: uuid.New(), Username: "admin1", Role: auth.RoleAdmin, Permissions: auth.DefaultPermissions(auth.RoleAdmin)}
	reception = &auth.Actor{ID: uuid.New(), Username: "desk1", Role: auth.RoleReception, Permissions: auth.DefaultPermissions(auth.RoleReception)}
)

func cbcTemplate() *TestTemplate {
	return &TestTemplate{
		Code:     " cbc ",
		Name:     "Complete Blood Count",
		Category: "Hematology",
		Price:    decimal.NewFromInt(300),
		B2BPrice: decimal.NewFromInt(200),
		Fields: []ResultField{
			{Name: "Hemoglobin", Type: FieldNumber, Unit: "g/dL", ReferenceRange: "13-17"},
			{Name: "Remarks"},
		},
	}
}

func TestCreateTemplate(t *testing.T) {
	env := newTestService()
	tmpl := cbcTemplate()

	if err := env.svc.CreateTemplate(context.Background(), admin, tmpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if tmpl.ID == uuid.Nil || !tmpl.IsActive {
		t.Errorf("expected id and active flag, got %+v", tmpl)
	}
	if tmpl.Code != "CBC" || tmpl.ReportType != ReportStandard || tmpl.Fields[1].Type != FieldText {
		t.Errorf("expected normalized template, got %+v", tmpl)
	}
	got := env.audit.Details(audit.ActionManageTests)
	if len(got) != 1 || got[0] != "Created new test template: Complete Blood Count." {
		t.Errorf("unexpected audit: %v", got)
	}
}

func TestCreateTemplate_Unauthorized(t *testing.T) {
	env := newTestService()
	err := env.svc.CreateTemplate(context.Background(), reception, cbcTemplate())
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(env.templates.store) != 0 || len(env.audit.Entries) != 0 {
		t.Error("nothing should be written")
	}
}

func TestCreateTemplate_Validation(t *testing.T) {
	env := newTestService()
	tmpl := &TestTemplate{Code: "X", Price: decimal.NewFromInt(-1), Fields: []ResultField{{Name: "A"}, {Name: "a"}}}

	err := env.svc.CreateTemplate(context.Background(), admin, tmpl)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, key := range []string{"name", "category", "price", "fields[1]"} {
		if _, ok := appErr.Details[key]; !ok {
			t.Errorf("expected detail for %s, got %v", key, appErr.Details)
		}
	}
}

func TestCreateTemplate_DuplicateCodeRollsBack(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	if err := env.svc.CreateTemplate(ctx, admin, cbcTemplate()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := env.svc.CreateTemplate(ctx, admin, cbcTemplate()); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error on duplicate code, got %v", err)
	}
	if len(env.templates.store) != 1 || len(env.audit.Entries) != 1 {
		t.Errorf("expected rollback, got %d templates, %d audit entries", len(env.templates.store), len(env.audit.Entries))
	}
}

func TestCreateTemplate_CultureDefaultsMustExist(t *testing.T) {
	env := newTestService()
	tmpl := cbcTemplate()
	tmpl.ReportType = ReportCulture
	tmpl.DefaultAntibioticIDs = []uuid.UUID{uuid.New()}

	if err := env.svc.CreateTemplate(context.Background(), admin, tmpl); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown antibiotic, got %v", err)
	}
}

func TestUpdateTemplate_NotFound(t *testing.T) {
	env := newTestService()
	tmpl := cbcTemplate()
	tmpl.ID = uuid.New()
	if err := env.svc.UpdateTemplate(context.Background(), admin, tmpl); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeactivateTemplate(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	tmpl := cbcTemplate()
	_ = env.svc.CreateTemplate(ctx, admin, tmpl)

	got, err := env.svc.DeactivateTemplate(ctx, admin, tmpl.ID)
	if err != nil {
		t.Fatalf("DeactivateTemplate: %v", err)
	}
	if got.IsActive || env.templates.store[tmpl.ID].IsActive {
		t.Error("expected template to be inactive")
	}
	// A second call is a no-op and writes no audit entry.
	if _, err := env.svc.DeactivateTemplate(ctx, admin, tmpl.ID); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if n := len(env.audit.Details(audit.ActionManageTests)); n != 2 {
		t.Errorf("expected 2 audit entries, got %d", n)
	}
}

func TestUpdatePrices(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	a, b := cbcTemplate(), cbcTemplate()
	b.Code = "LFT"
	_ = env.svc.CreateTemplate(ctx, admin, a)
	_ = env.svc.CreateTemplate(ctx, admin, b)

	n, err := env.svc.UpdatePrices(ctx, admin, []PriceUpdate{
		{TemplateID: a.ID, Price: decimal.NewFromInt(350), B2BPrice: decimal.NewFromInt(250)},
		{TemplateID: b.ID, Price: decimal.NewFromInt(500), B2BPrice: decimal.NewFromInt(400)},
	})
	if err != nil {
		t.Fatalf("UpdatePrices: %v", err)
	}
	if n != 2 || !env.templates.store[a.ID].Price.Equal(decimal.NewFromInt(350)) {
		t.Errorf("unexpected result: n=%d price=%s", n, env.templates.store[a.ID].Price)
	}
	got := env.audit.Details(audit.ActionManagePrices)
	if len(got) != 1 || got[0] != "Updated prices for 2 tests." {
		t.Errorf("unexpected audit: %v", got)
	}
}

func TestUpdatePrices_UnknownTemplateRollsBack(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	a := cbcTemplate()
	_ = env.svc.CreateTemplate(ctx, admin, a)

	_, err := env.svc.UpdatePrices(ctx, admin, []PriceUpdate{
		{TemplateID: a.ID, Price: decimal.NewFromInt(999), B2BPrice: decimal.NewFromInt(1)},
		{TemplateID: uuid.New(), Price: decimal.NewFromInt(1), B2BPrice: decimal.NewFromInt(1)},
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !env.templates.store[a.ID].Price.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected price rollback, got %s", env.templates.store[a.ID].Price)
	}
}

func TestUpdatePrices_Validation(t *testing.T) {
	env := newTestService()
	id := uuid.New()
	tests := []struct {
		name    string
		updates []PriceUpdate
	}{
		{"empty", nil},
		{"negative", []PriceUpdate{{TemplateID: id, Price: decimal.NewFromInt(-5)}}},
		{"duplicate", []PriceUpdate{{TemplateID: id}, {TemplateID: id}}},
		{"missing id", []PriceUpdate{{Price: decimal.NewFromInt(5)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.UpdatePrices(context.Background(), admin, tt.updates); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestActiveTemplates(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	a, b := cbcTemplate(), cbcTemplate()
	b.Code = "LFT"
	_ = env.svc.CreateTemplate(ctx, admin, a)
	_ = env.svc.CreateTemplate(ctx, admin, b)

	got, err := env.svc.ActiveTemplates(ctx, []uuid.UUID{b.ID, a.ID})
	if err != nil {
		t.Fatalf("ActiveTemplates: %v", err)
	}
	if got[0].ID != b.ID || got[1].ID != a.ID {
		t.Error("expected request order to be preserved")
	}

	if _, err := env.svc.ActiveTemplates(ctx, []uuid.UUID{a.ID, a.ID}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected duplicate rejection, got %v", err)
	}
	if _, err := env.svc.ActiveTemplates(ctx, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected empty rejection, got %v", err)
	}
	_, _ = env.svc.DeactivateTemplate(ctx, admin, a.ID)
	if _, err := env.svc.ActiveTemplates(ctx, []uuid.UUID{a.ID}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected inactive rejection, got %v", err)
	}
	if _, err := env.svc.ActiveTemplates(ctx, []uuid.UUID{uuid.New()}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected unknown rejection, got %v", err)
	}
}

func TestAntibiotics(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	amox := &Antibiotic{Name: " Amoxicillin ", Abbreviation: "AMX"}
	if err := env.svc.CreateAntibiotic(ctx, admin, amox); err != nil {
		t.Fatalf("CreateAntibiotic: %v", err)
	}
	if amox.Name != "Amoxicillin" || !amox.IsActive {
		t.Errorf("unexpected antibiotic %+v", amox)
	}

	names, err := env.svc.AntibioticNames(ctx, []uuid.UUID{amox.ID})
	if err != nil || names[amox.ID] != "Amoxicillin" {
		t.Errorf("AntibioticNames: %v %v", names, err)
	}
	if _, err := env.svc.AntibioticNames(ctx, []uuid.UUID{uuid.New()}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown antibiotic, got %v", err)
	}

	amox.IsActive = false
	if err := env.svc.UpdateAntibiotic(ctx, admin, amox); err != nil {
		t.Fatalf("UpdateAntibiotic: %v", err)
	}
	got := env.audit.Details(audit.ActionManageAntibiotics)
	if len(got) != 2 || got[1] != "Deactivated antibiotic: Amoxicillin." {
		t.Errorf("unexpected audit: %v", got)
	}
	active, _ := env.svc.ListAntibiotics(ctx, true)
	if len(active) != 0 {
		t.Errorf("expected no active antibiotics, got %d", len(active))
	}

	if err := env.svc.CreateAntibiotic(ctx, reception, &Antibiotic{Name: "X"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestDoctors(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	doc := &ReferralDoctor{Name: "Dr. Rao", Designation: "MD"}
	if err := env.svc.CreateDoctor(ctx, admin, doc); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	if _, err := env.svc.ActiveDoctor(ctx, doc.ID); err != nil {
		t.Errorf("ActiveDoctor: %v", err)
	}

	doc.IsActive = false
	if err := env.svc.UpdateDoctor(ctx, admin, doc); err != nil {
		t.Fatalf("UpdateDoctor: %v", err)
	}
	if _, err := env.svc.ActiveDoctor(ctx, doc.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected inactive doctor rejected, got %v", err)
	}
	if got, err := env.svc.LookupDoctor(ctx, doc.ID); err != nil || got.Name != "Dr. Rao" {
		t.Errorf("expected inactive doctor to stay readable, got %+v, %v", got, err)
	}
	if _, err := env.svc.ActiveDoctor(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := env.svc.CreateDoctor(ctx, reception, &ReferralDoctor{Name: "Dr. X"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if got := env.audit.Details(audit.ActionManageDoctors); len(got) != 2 {
		t.Errorf("expected 2 audit entries, got %v", got)
	}
}
