package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db"
	"github.com/labcore/lims/internal/platform/metrics"
)

type Service struct {
	repo    Repository
	uow     db.UnitOfWork
	audit   audit.Recorder
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(repo Repository, uow db.UnitOfWork, rec audit.Recorder, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{repo: repo, uow: uow, audit: rec, metrics: m, logger: logger.With().Str("component", "ledger").Logger()}
}

// -- Clients --

func (s *Service) CreateClient(ctx context.Context, actor *auth.Actor, c *Client) error {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.ID = uuid.New()
	c.Balance = decimal.Zero
	c.IsActive = true
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateClient(ctx, c); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageB2B, "client", c.ID.String(),
			fmt.Sprintf("Created B2B client: %s.", c.Name))
	})
}

func (s *Service) GetClient(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Client, error) {
	if err := auth.AuthorizeAny(actor, auth.PermManageB2B, auth.PermViewReception); err != nil {
		return nil, err
	}
	return s.repo.GetClient(ctx, id)
}

// ListClients is readable by reception, who pick the client at registration.
func (s *Service) ListClients(ctx context.Context, actor *auth.Actor, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	if err := auth.AuthorizeAny(actor, auth.PermManageB2B, auth.PermViewReception); err != nil {
		return nil, 0, err
	}
	return s.repo.ListClients(ctx, f, limit, offset)
}

// -- Price overrides --

// SetClientPrices replaces every override of a client. Prices of zero or
// below mean "no override" and are dropped.
func (s *Service) SetClientPrices(ctx context.Context, actor *auth.Actor, clientID uuid.UUID, prices []ClientPrice) ([]ClientPrice, error) {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return nil, err
	}
	kept := make([]ClientPrice, 0, len(prices))
	seen := make(map[uuid.UUID]bool, len(prices))
	for i, p := range prices {
		if p.TestTemplateID == uuid.Nil {
			return nil, apperr.ValidationFields("invalid client price", map[string]string{fmt.Sprintf("prices[%d]", i): "test_template_id is required"})
		}
		if seen[p.TestTemplateID] {
			return nil, apperr.ValidationFields("invalid client price", map[string]string{fmt.Sprintf("prices[%d]", i): "duplicate test_template_id"})
		}
		seen[p.TestTemplateID] = true
		if !p.Price.IsPositive() {
			continue
		}
		kept = append(kept, ClientPrice{ClientID: clientID, TestTemplateID: p.TestTemplateID, Price: p.Price})
	}

	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetClient(ctx, clientID)
		if err != nil {
			return err
		}
		if err := s.repo.ReplacePrices(ctx, clientID, kept); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageB2B, "client", clientID.String(),
			fmt.Sprintf("Updated custom prices for B2B client: %s.", c.Name))
	})
	if err != nil {
		return nil, err
	}
	return kept, nil
}

func (s *Service) ListClientPrices(ctx context.Context, actor *auth.Actor, clientID uuid.UUID) ([]ClientPrice, error) {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListPrices(ctx, clientID)
}

// PriceOverrides returns the positive overrides of a client for the given
// templates. It is an internal read used by billing.
func (s *Service) PriceOverrides(ctx context.Context, clientID uuid.UUID, templateIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	found, err := s.repo.PricesFor(ctx, clientID, templateIDs)
	if err != nil {
		return nil, err
	}
	for id, p := range found {
		if !p.IsPositive() {
			delete(found, id)
		}
	}
	return found, nil
}

// LookupClient is the permission-free read used by billing and visits.
func (s *Service) LookupClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	return s.repo.GetClient(ctx, id)
}

// -- Ledger postings --

// post appends an entry and moves the balance by the same signed amount. It
// must run inside a unit of work.
func (s *Service) post(ctx context.Context, e *Entry) (decimal.Decimal, error) {
	if e.Amount.IsNegative() {
		return decimal.Zero, apperr.Validation("ledger amount must not be negative")
	}
	if err := s.repo.AppendEntry(ctx, e); err != nil {
		return decimal.Zero, err
	}
	return s.repo.ApplyDelta(ctx, e.ClientID, e.Type.Signed(e.Amount))
}

// DebitForVisit charges a visit to a billable client. It joins the caller's
// transaction and writes no audit entry of its own; the visit's entry covers
// it. For clients that are not billable it does nothing and returns nil.
func (s *Service) DebitForVisit(ctx context.Context, client *Client, visitID uuid.UUID, description string, amount decimal.Decimal, createdBy string) (*Entry, error) {
	if client == nil || !client.Type.Billable() {
		return nil, nil
	}
	if !client.IsActive {
		return nil, apperr.ValidationFields("client is inactive", map[string]string{"client_id": client.ID.String()})
	}
	vid := visitID
	e := &Entry{
		ID:          uuid.New(),
		ClientID:    client.ID,
		VisitID:     &vid,
		Type:        Debit,
		Amount:      amount,
		Description: description,
		CreatedBy:   createdBy,
	}
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.post(ctx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// AddClientPayment records a settlement from a referral lab.
func (s *Service) AddClientPayment(ctx context.Context, actor *auth.Actor, clientID uuid.UUID, amount decimal.Decimal, description string) (*Entry, error) {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperr.ValidationFields("invalid payment", map[string]string{"amount": "must be greater than zero"})
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Payment received"
	}

	e := &Entry{ID: uuid.New(), ClientID: clientID, Type: Credit, Amount: amount, Description: description, CreatedBy: actor.Username}
	var balance decimal.Decimal
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.billableClient(ctx, clientID)
		if err != nil {
			return err
		}
		if balance, err = s.post(ctx, e); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageB2B, "client", clientID.String(),
			fmt.Sprintf("Added payment of %s for B2B client: %s.", FormatAmount(amount), c.Name))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerEntry(string(e.Type), e.Amount)
	s.logger.Info().Str("client_id", clientID.String()).Str("amount", amount.String()).
		Str("balance", balance.String()).Str("actor", actor.Username).Msg("client payment recorded")
	return e, nil
}

// AddAdjustment appends an offsetting correction. History is never edited.
func (s *Service) AddAdjustment(ctx context.Context, actor *auth.Actor, clientID uuid.UUID, entryType EntryType, amount decimal.Decimal, reason string) (*Entry, error) {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return nil, err
	}
	details := map[string]string{}
	if entryType != Debit && entryType != Credit {
		details["type"] = "must be DEBIT or CREDIT"
	}
	if !amount.IsPositive() {
		details["amount"] = "must be greater than zero"
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		details["description"] = "a reason is required for adjustments"
	}
	if len(details) > 0 {
		return nil, apperr.ValidationFields("invalid adjustment", details)
	}

	e := &Entry{ID: uuid.New(), ClientID: clientID, Type: entryType, Amount: amount, Description: "Adjustment: " + reason, CreatedBy: actor.Username}
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.billableClient(ctx, clientID)
		if err != nil {
			return err
		}
		if _, err := s.post(ctx, e); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageB2B, "client", clientID.String(),
			fmt.Sprintf("Added %s adjustment of %s for B2B client: %s. Reason: %s",
				strings.ToLower(string(entryType)), FormatAmount(amount), c.Name, reason))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerEntry(string(e.Type), e.Amount)
	return e, nil
}

func (s *Service) billableClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	c, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Type.Billable() {
		return nil, apperr.ValidationFields("client does not carry a ledger", map[string]string{"client_id": id.String()})
	}
	return c, nil
}

// -- Reads --

func (s *Service) Statement(ctx context.Context, actor *auth.Actor, clientID uuid.UUID) (*Statement, error) {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return nil, err
	}
	c, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEntries(ctx, clientID)
	if err != nil {
		return nil, err
	}
	st := &Statement{Client: c, Lines: make([]StatementLine, 0, len(entries))}
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.Type.Signed(e.Amount))
		if e.Type == Debit {
			st.Debits = st.Debits.Add(e.Amount)
		} else {
			st.Credits = st.Credits.Add(e.Amount)
		}
		st.Lines = append(st.Lines, StatementLine{Entry: *e, RunningBalance: running})
	}
	return st, nil
}

// Reconcile recomputes the balance from the ledger and compares it with the
// stored value.
func (s *Service) Reconcile(ctx context.Context, actor *auth.Actor, clientID uuid.UUID) (*Reconciliation, error) {
	if err := auth.Authorize(actor, auth.PermManageB2B); err != nil {
		return nil, err
	}
	c, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	debits, credits, err := s.repo.Sums(ctx, clientID)
	if err != nil {
		return nil, err
	}
	ledgerBalance := debits.Sub(credits)
	rec := &Reconciliation{
		ClientID:      clientID,
		StoredBalance: c.Balance,
		LedgerBalance: ledgerBalance,
		Debits:        debits,
		Credits:       credits,
		Balanced:      c.Balance.Equal(ledgerBalance),
	}
	if !rec.Balanced {
		s.logger.Warn().Str("client_id", clientID.String()).Str("stored", c.Balance.String()).
			Str("ledger", ledgerBalance.String()).Msg("client balance drift detected")
	}
	return rec, nil
}
