package ledger

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/domain/audit/audittest"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db/dbtest"
	"github.com/labcore/lims/internal/platform/metrics"
)

// -- Mock Repository --

type mockRepo struct {
	clients map[uuid.UUID]Client
	entries []Entry
	prices  map[uuid.UUID][]ClientPrice
	clock   time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		clients: make(map[uuid.UUID]Client),
		prices:  make(map[uuid.UUID][]ClientPrice),
		clock:   time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepo) Snapshot() func() {
	clients := make(map[uuid.UUID]Client, len(m.clients))
	for k, v := range m.clients {
		clients[k] = v
	}
	prices := make(map[uuid.UUID][]ClientPrice, len(m.prices))
	for k, v := range m.prices {
		prices[k] = v
	}
	n := len(m.entries)
	return func() {
		m.clients, m.prices, m.entries = clients, prices, m.entries[:n]
	}
}

func (m *mockRepo) CreateClient(_ context.Context, c *Client) error {
	m.clients[c.ID] = *c
	return nil
}

func (m *mockRepo) GetClient(_ context.Context, id uuid.UUID) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, apperr.NotFound("client", id)
	}
	return &c, nil
}

func (m *mockRepo) ListClients(_ context.Context, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	var out []*Client
	for _, c := range m.clients {
		c := c
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *mockRepo) ApplyDelta(_ context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	c, ok := m.clients[id]
	if !ok {
		return decimal.Zero, apperr.NotFound("client", id)
	}
	c.Balance = c.Balance.Add(delta)
	m.clients[id] = c
	return c.Balance, nil
}

func (m *mockRepo) AppendEntry(_ context.Context, e *Entry) error {
	m.clock = m.clock.Add(time.Minute)
	e.CreatedAt = m.clock
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockRepo) ListEntries(_ context.Context, clientID uuid.UUID) ([]*Entry, error) {
	var out []*Entry
	for i := range m.entries {
		if m.entries[i].ClientID == clientID {
			e := m.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *mockRepo) Sums(_ context.Context, clientID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range m.entries {
		if e.ClientID != clientID {
			continue
		}
		if e.Type == Debit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}
	return debits, credits, nil
}

func (m *mockRepo) ReplacePrices(_ context.Context, clientID uuid.UUID, prices []ClientPrice) error {
	m.prices[clientID] = append([]ClientPrice(nil), prices...)
	return nil
}

func (m *mockRepo) ListPrices(_ context.Context, clientID uuid.UUID) ([]ClientPrice, error) {
	return m.prices[clientID], nil
}

func (m *mockRepo) PricesFor(_ context.Context, clientID uuid.UUID, templateIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	want := make(map[uuid.UUID]bool, len(templateIDs))
	for _, id := range templateIDs {
		want[id] = true
	}
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, p := range m.prices[clientID] {
		if want[p.TestTemplateID] {
			out[p.TestTemplateID] = p.Price
		}
	}
	return out, nil
}

type testEnv struct {
	svc     *Service
	repo    *mockRepo
	audit   *audittest.Recorder
	uow     *dbtest.UnitOfWork
	metrics *metrics.Metrics
}

func newTestService() *testEnv {
	env := &testEnv{repo: newMockRepo(), audit: &audittest.Recorder{}, metrics: metrics.New()}
	env.uow = dbtest.NewUnitOfWork(env.repo, env.audit)
	env.svc = NewService(env.repo, env.uow, env.audit, env.metrics, zerolog.Nop())
	return env
}

var (
	admin     = &auth.Actor{ID: uuid.New(), Username: "admin1", Role: auth.RoleAdmin, Permissions: auth.DefaultPermissions(auth.RoleAdmin)}
	reception = &auth.Actor{ID: uuid.New(), Username: "desk1", Role: auth.RoleReception, Permissions: auth.DefaultPermissions(auth.RoleReception)}
	lab       = &auth.Actor{ID: uuid.New(), Username: "lab1", Role: auth.RoleLab, Permissions: auth.DefaultPermissions(auth.RoleLab)}
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (env *testEnv) newClient(t *testing.T, name string, typ ClientType) *Client {
	t.Helper()
	c := &Client{Name: name, Type: typ}
	if err := env.svc.CreateClient(context.Background(), admin, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	return c
}

// assertBalanced checks balance == Σdebit − Σcredit.
func (env *testEnv) assertBalanced(t *testing.T, clientID uuid.UUID) {
	t.Helper()
	rec, err := env.svc.Reconcile(context.Background(), admin, clientID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.Balanced {
		t.Errorf("ledger drift: stored %s, ledger %s", rec.StoredBalance, rec.LedgerBalance)
	}
}

func TestCreateClient(t *testing.T) {
	env := newTestService()
	c := &Client{Name: "  City Clinic ", Type: "referral_lab"}
	if err := env.svc.CreateClient(context.Background(), admin, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if c.Name != "City Clinic" || c.Type != ClientReferralLab || !c.Balance.IsZero() || !c.IsActive {
		t.Errorf("unexpected client %+v", c)
	}
	if got := env.audit.Details(audit.ActionManageB2B); len(got) != 1 || got[0] != "Created B2B client: City Clinic." {
		t.Errorf("unexpected audit %v", got)
	}
}

func TestCreateClient_Validation(t *testing.T) {
	env := newTestService()
	err := env.svc.CreateClient(context.Background(), admin, &Client{Type: "HOSPITAL"})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Details["name"] == "" || appErr.Details["type"] == "" {
		t.Fatalf("expected field errors, got %v", err)
	}
}

func TestCreateClient_Unauthorized(t *testing.T) {
	env := newTestService()
	if err := env.svc.CreateClient(context.Background(), reception, &Client{Name: "X", Type: ClientReferralLab}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(env.repo.clients) != 0 {
		t.Error("no client should be created")
	}
}

func TestDebitForVisit(t *testing.T) {
	env := newTestService()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	visitID := uuid.New()

	e, err := env.svc.DebitForVisit(context.Background(), c, visitID, "Visit LAB-2026-0001 for Asha", d(1000), "desk1")
	if err != nil {
		t.Fatalf("DebitForVisit: %v", err)
	}
	if e == nil || e.Type != Debit || *e.VisitID != visitID {
		t.Fatalf("unexpected entry %+v", e)
	}
	if got := env.repo.clients[c.ID].Balance; !got.Equal(d(1000)) {
		t.Errorf("expected balance 1000, got %s", got)
	}
	// Visit debits are covered by the visit's own audit entry.
	if n := len(env.audit.Entries); n != 1 {
		t.Errorf("expected only the create-client audit entry, got %d", n)
	}
	env.assertBalanced(t, c.ID)
}

func TestDebitForVisit_NonBillableClient(t *testing.T) {
	env := newTestService()
	c := env.newClient(t, "Walk-in", ClientPatient)

	e, err := env.svc.DebitForVisit(context.Background(), c, uuid.New(), "x", d(500), "desk1")
	if err != nil || e != nil {
		t.Fatalf("expected no-op, got %+v, %v", e, err)
	}
	if len(env.repo.entries) != 0 || !env.repo.clients[c.ID].Balance.IsZero() {
		t.Error("non-billable clients must not be touched")
	}
	if e, err := env.svc.DebitForVisit(context.Background(), nil, uuid.New(), "x", d(1), "desk1"); err != nil || e != nil {
		t.Errorf("expected nil client to be a no-op, got %+v, %v", e, err)
	}
}

func TestDebitForVisit_JoinsCallerTransaction(t *testing.T) {
	env := newTestService()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	boom := errors.New("visit insert failed")

	err := env.uow.WithTx(context.Background(), func(ctx context.Context) error {
		if _, err := env.svc.DebitForVisit(ctx, c, uuid.New(), "x", d(700), "desk1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected outer error, got %v", err)
	}
	if len(env.repo.entries) != 0 || !env.repo.clients[c.ID].Balance.IsZero() {
		t.Error("debit must roll back with the caller's transaction")
	}
}

func TestAddClientPayment(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	_, _ = env.svc.DebitForVisit(ctx, c, uuid.New(), "visit", d(1000), "desk1")

	e, err := env.svc.AddClientPayment(ctx, admin, c.ID, d(400), "")
	if err != nil {
		t.Fatalf("AddClientPayment: %v", err)
	}
	if e.Type != Credit || !e.Amount.Equal(d(400)) || e.Description != "Payment received" {
		t.Errorf("unexpected entry %+v", e)
	}
	if got := env.repo.clients[c.ID].Balance; !got.Equal(d(600)) {
		t.Errorf("expected balance 600, got %s", got)
	}
	got := env.audit.Details(audit.ActionManageB2B)
	if got[len(got)-1] != "Added payment of ₹400.00 for B2B client: City Clinic." {
		t.Errorf("unexpected audit %q", got[len(got)-1])
	}
	env.assertBalanced(t, c.ID)
}

func TestAddClientPayment_Rejections(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	lab1 := env.newClient(t, "City Clinic", ClientReferralLab)
	walkin := env.newClient(t, "Walk-in", ClientPatient)

	tests := []struct {
		name   string
		actor  *auth.Actor
		client uuid.UUID
		amount decimal.Decimal
		kind   error
	}{
		{"zero amount", admin, lab1.ID, d(0), apperr.ErrValidation},
		{"negative amount", admin, lab1.ID, d(-10), apperr.ErrValidation},
		{"non billable", admin, walkin.ID, d(10), apperr.ErrValidation},
		{"unknown client", admin, uuid.New(), d(10), apperr.ErrNotFound},
		{"no permission", lab, lab1.ID, d(10), apperr.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.audit.Entries)
			if _, err := env.svc.AddClientPayment(ctx, tt.actor, tt.client, tt.amount, "x"); !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
			if len(env.repo.entries) != 0 || len(env.audit.Entries) != before {
				t.Error("rejected payment must not write")
			}
		})
	}
}

func TestAddClientPayment_AuditFailureRollsBack(t *testing.T) {
	env := newTestService()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	env.audit.Err = errors.New("audit store down")

	if _, err := env.svc.AddClientPayment(context.Background(), admin, c.ID, d(100), "cash"); err == nil {
		t.Fatal("expected error")
	}
	if len(env.repo.entries) != 0 || !env.repo.clients[c.ID].Balance.IsZero() {
		t.Error("ledger write must roll back when the audit write fails")
	}
}

func TestAddAdjustment(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	_, _ = env.svc.DebitForVisit(ctx, c, uuid.New(), "visit", d(1000), "desk1")

	if _, err := env.svc.AddAdjustment(ctx, admin, c.ID, Credit, d(150), "duplicate CBC charge"); err != nil {
		t.Fatalf("AddAdjustment: %v", err)
	}
	if got := env.repo.clients[c.ID].Balance; !got.Equal(d(850)) {
		t.Errorf("expected balance 850, got %s", got)
	}
	got := env.audit.Details(audit.ActionManageB2B)
	want := "Added credit adjustment of ₹150.00 for B2B client: City Clinic. Reason: duplicate CBC charge"
	if got[len(got)-1] != want {
		t.Errorf("unexpected audit %q", got[len(got)-1])
	}

	_, err := env.svc.AddAdjustment(ctx, admin, c.ID, "REFUND", d(0), " ")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || len(appErr.Details) != 3 {
		t.Errorf("expected three field errors, got %v", err)
	}
	env.assertBalanced(t, c.ID)
}

func TestSetClientPrices(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	cbc, lft, tsh := uuid.New(), uuid.New(), uuid.New()

	kept, err := env.svc.SetClientPrices(ctx, admin, c.ID, []ClientPrice{
		{TestTemplateID: cbc, Price: d(150)},
		{TestTemplateID: lft, Price: d(0)},
		{TestTemplateID: tsh, Price: d(-5)},
	})
	if err != nil {
		t.Fatalf("SetClientPrices: %v", err)
	}
	if len(kept) != 1 || kept[0].TestTemplateID != cbc {
		t.Errorf("expected only positive overrides kept, got %+v", kept)
	}

	overrides, err := env.svc.PriceOverrides(ctx, c.ID, []uuid.UUID{cbc, lft})
	if err != nil {
		t.Fatalf("PriceOverrides: %v", err)
	}
	if len(overrides) != 1 || !overrides[cbc].Equal(d(150)) {
		t.Errorf("unexpected overrides %v", overrides)
	}

	// A second call replaces the whole set.
	if _, err := env.svc.SetClientPrices(ctx, admin, c.ID, []ClientPrice{{TestTemplateID: lft, Price: d(90)}}); err != nil {
		t.Fatalf("SetClientPrices: %v", err)
	}
	prices, _ := env.svc.ListClientPrices(ctx, admin, c.ID)
	if len(prices) != 1 || prices[0].TestTemplateID != lft {
		t.Errorf("expected replacement, got %+v", prices)
	}
	if got := env.audit.Details(audit.ActionManageB2B); got[len(got)-1] != "Updated custom prices for B2B client: City Clinic." {
		t.Errorf("unexpected audit %q", got[len(got)-1])
	}

	if _, err := env.svc.SetClientPrices(ctx, admin, c.ID, []ClientPrice{{TestTemplateID: cbc, Price: d(1)}, {TestTemplateID: cbc, Price: d(2)}}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected duplicate rejection, got %v", err)
	}
}

func TestStatement(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	_, _ = env.svc.DebitForVisit(ctx, c, uuid.New(), "visit 1", d(1000), "desk1")
	_, _ = env.svc.AddClientPayment(ctx, admin, c.ID, d(400), "cheque")
	_, _ = env.svc.DebitForVisit(ctx, c, uuid.New(), "visit 2", d(250), "desk1")

	st, err := env.svc.Statement(ctx, admin, c.ID)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	want := []int64{1000, 600, 850}
	if len(st.Lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(st.Lines))
	}
	for i, w := range want {
		if !st.Lines[i].RunningBalance.Equal(d(w)) {
			t.Errorf("line %d: expected running balance %d, got %s", i, w, st.Lines[i].RunningBalance)
		}
	}
	if !st.Debits.Equal(d(1250)) || !st.Credits.Equal(d(400)) {
		t.Errorf("unexpected totals %s/%s", st.Debits, st.Credits)
	}
	if _, err := env.svc.Statement(ctx, reception, c.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestReconcile_DetectsDrift(t *testing.T) {
	env := newTestService()
	c := env.newClient(t, "City Clinic", ClientReferralLab)
	cl := env.repo.clients[c.ID]
	cl.Balance = d(99)
	env.repo.clients[c.ID] = cl

	rec, err := env.svc.Reconcile(context.Background(), admin, c.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.Balanced || !rec.LedgerBalance.IsZero() {
		t.Errorf("expected drift to be reported, got %+v", rec)
	}
}

func TestListClients_ReceptionCanRead(t *testing.T) {
	env := newTestService()
	env.newClient(t, "B Clinic", ClientReferralLab)
	env.newClient(t, "A Clinic", ClientReferralLab)

	items, total, err := env.svc.ListClients(context.Background(), reception, ClientFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if total != 2 || items[0].Name != "A Clinic" {
		t.Errorf("unexpected list %d %v", total, items)
	}
	if _, _, err := env.svc.ListClients(context.Background(), lab, ClientFilter{}, 20, 0); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}
