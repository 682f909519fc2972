package visit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/domain/billing"
	"github.com/labcore/lims/internal/domain/catalog"
	"github.com/labcore/lims/internal/domain/ledger"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db"
	"github.com/labcore/lims/internal/platform/metrics"
)

// Catalog is the slice of the catalog service visits depend on.
type Catalog interface {
	ActiveDoctor(ctx context.Context, id uuid.UUID) (*catalog.ReferralDoctor, error)
	AntibioticNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type Pricer interface {
	Quote(ctx context.Context, clientID *uuid.UUID, templateIDs []uuid.UUID) (*billing.Quote, error)
}

// Ledger charges a visit to its client. Desk payments stay on the visit;
// client credits only come from settlements and adjustments.
type Ledger interface {
	DebitForVisit(ctx context.Context, client *ledger.Client, visitID uuid.UUID, description string, amount decimal.Decimal, createdBy string) (*ledger.Entry, error)
}

type Options struct {
	CodePrefix      string
	ConflictRetries int
}

type Service struct {
	repo    Repository
	catalog Catalog
	pricer  Pricer
	ledger  Ledger
	uow     db.UnitOfWork
	audit   audit.Recorder
	metrics *metrics.Metrics
	logger  zerolog.Logger
	opts    Options
	now     func() time.Time
}

func NewService(repo Repository, cat Catalog, pricer Pricer, ldg Ledger, uow db.UnitOfWork, rec audit.Recorder,
	m *metrics.Metrics, logger zerolog.Logger, opts Options) *Service {
	if opts.CodePrefix == "" {
		opts.CodePrefix = "LAB"
	}
	return &Service{
		repo:    repo,
		catalog: cat,
		pricer:  pricer,
		ledger:  ldg,
		uow:     uow,
		audit:   rec,
		metrics: m,
		logger:  logger.With().Str("component", "visit").Logger(),
		opts:    opts,
		now:     time.Now,
	}
}

var viewPermissions = []auth.Permission{
	auth.PermViewReception, auth.PermViewPhlebotomy, auth.PermViewLab, auth.PermViewApprover,
}

// withRetry runs fn in its own transaction, re-running it when a
// compare-and-set loses a race.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	return db.RetryOnConflict(ctx, s.opts.ConflictRetries, func(ctx context.Context) error {
		if attempt > 0 {
			s.metrics.ConflictRetried()
		}
		attempt++
		return s.uow.WithTx(ctx, fn)
	})
}

// -- Registration --

// CreateVisit registers a visit: patient upsert, priced tests, the visit
// code, the B2B ledger debit and the audit entry commit together or not at all.
func (s *Service) CreateVisit(ctx context.Context, actor *auth.Actor, in CreateInput) (*Visit, error) {
	if err := auth.Authorize(actor, auth.PermCreateVisit); err != nil {
		return nil, err
	}
	patient := in.Patient
	if err := patient.Validate(); err != nil {
		return nil, err
	}
	mode, err := billing.ParsePaymentMode(in.PaymentMode)
	if err != nil {
		return nil, err
	}
	if len(in.TestTemplateIDs) == 0 {
		return nil, apperr.ValidationFields("invalid visit", map[string]string{"test_template_ids": "at least one test is required"})
	}
	registered := s.now()
	if in.RegistrationDatetime != nil {
		registered = *in.RegistrationDatetime
	}

	var v *Visit
	var debit *ledger.Entry
	err = s.withRetry(ctx, func(ctx context.Context) error {
		if in.ReferredDoctorID != nil {
			if _, err := s.catalog.ActiveDoctor(ctx, *in.ReferredDoctorID); err != nil {
				return err
			}
		}
		quote, err := s.pricer.Quote(ctx, in.ClientID, in.TestTemplateIDs)
		if err != nil {
			return err
		}
		if err := billing.ValidateInitialPayment(quote.Total, in.AmountPaid); err != nil {
			return err
		}

		p := patient
		if err := s.repo.UpsertPatient(ctx, &p); err != nil {
			return err
		}
		year := s.now().Year()
		seq, err := s.repo.NextSequence(ctx, year)
		if err != nil {
			return err
		}

		v = &Visit{
			ID:               uuid.New(),
			VisitCode:        fmt.Sprintf("%s-%d-%04d", s.opts.CodePrefix, year, seq),
			PatientID:        p.ID,
			Patient:          &p,
			ReferredDoctorID: in.ReferredDoctorID,
			OtherRefDoctor:   strings.TrimSpace(in.OtherRefDoctor),
			ClientID:         in.ClientID,
			OtherRefCustomer: strings.TrimSpace(in.OtherRefCustomer),
			RegisteredAt:     registered,
			TotalCost:        quote.Total,
			AmountPaid:       in.AmountPaid,
			DueAmount:        billing.Due(quote.Total, in.AmountPaid),
			PaymentMode:      mode,
			CreatedBy:        actor.Username,
		}
		if err := s.repo.CreateVisit(ctx, v); err != nil {
			return err
		}
		for i, line := range quote.Lines {
			t := &VisitTest{
				ID:          uuid.New(),
				VisitID:     v.ID,
				VisitCode:   v.VisitCode,
				PatientName: p.Name,
				Position:    i + 1,
				Template:    snapshotOf(line),
				Status:      StatusPending,
			}
			if err := s.repo.CreateTest(ctx, t); err != nil {
				return err
			}
			v.Tests = append(v.Tests, t)
		}

		debit, err = s.ledger.DebitForVisit(ctx, quote.Client, v.ID,
			fmt.Sprintf("Visit %s for %s", v.VisitCode, p.Name), quote.Total, actor.Username)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionCreateVisit, "visit", v.ID.String(),
			fmt.Sprintf("Created visit for patient %s with %d tests.", p.Name, len(v.Tests)))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitCreated()
	if debit != nil {
		s.metrics.LedgerEntry(string(debit.Type), debit.Amount)
	}
	s.logger.Info().Str("visit_code", v.VisitCode).Int("tests", len(v.Tests)).
		Str("total", v.TotalCost.String()).Str("user", actor.Username).Msg("visit created")
	return v, nil
}

// -- Reads --

func (s *Service) GetVisit(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Visit, error) {
	if err := auth.AuthorizeAny(actor, viewPermissions...); err != nil {
		return nil, err
	}
	return s.repo.GetVisit(ctx, id)
}

// LoadVisit reads a visit without a permission check, for collaborating
// services that have already authorized the caller.
func (s *Service) LoadVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetVisit(ctx, id)
}

func (s *Service) ListVisits(ctx context.Context, actor *auth.Actor, f Filter, limit, offset int) ([]*Visit, int, error) {
	if err := auth.AuthorizeAny(actor, auth.PermViewReception, auth.PermViewApprover); err != nil {
		return nil, 0, err
	}
	return s.repo.ListVisits(ctx, f, limit, offset)
}

func (s *Service) GetTest(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*VisitTest, error) {
	if err := auth.AuthorizeAny(actor, viewPermissions...); err != nil {
		return nil, err
	}
	return s.repo.GetTest(ctx, id)
}

// FindPatient looks up a returning patient by phone at registration.
func (s *Service) FindPatient(ctx context.Context, actor *auth.Actor, phone string) (*Patient, error) {
	if err := auth.AuthorizeAny(actor, auth.PermViewReception, auth.PermCreateVisit); err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.ValidationFields("invalid lookup", map[string]string{"phone": "is required"})
	}
	return s.repo.FindPatientByPhone(ctx, phone)
}

// Queue lists the tests waiting at a work station.
func (s *Service) Queue(ctx context.Context, actor *auth.Actor, q Queue, limit, offset int) ([]*VisitTest, int, error) {
	statuses, perm, err := q.statuses()
	if err != nil {
		return nil, 0, err
	}
	if err := auth.Authorize(actor, perm); err != nil {
		return nil, 0, err
	}
	return s.repo.ListTestsByStatus(ctx, statuses, limit, offset)
}

// -- Lifecycle --

// advance applies one lifecycle transition under a compare-and-set on the
// test's status. mutate fills the transition's own columns.
func (s *Service) advance(ctx context.Context, actor *auth.Actor, testID uuid.UUID, tr transition,
	mutate func(ctx context.Context, t *VisitTest, now time.Time) error,
	action audit.Action, describe func(t *VisitTest) string) (*VisitTest, error) {
	if err := auth.Authorize(actor, tr.perm); err != nil {
		return nil, err
	}

	var out *VisitTest
	err := s.withRetry(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTest(ctx, testID)
		if err != nil {
			return err
		}
		if !tr.allows(t.Status) {
			return apperr.InvalidState("cannot %s for test %s in status %s", tr.name, t.Template.Code, t.Status)
		}
		prev := t.Status
		if err := mutate(ctx, t, s.now()); err != nil {
			return err
		}
		t.Status = tr.to
		if err := s.repo.UpdateTest(ctx, t, prev); err != nil {
			return err
		}
		out = t
		return s.audit.Record(ctx, actor, action, "visit_test", t.ID.String(), describe(t))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TestTransition(string(tr.to))
	s.logger.Info().Str("visit_code", out.VisitCode).Str("test", out.Template.Code).
		Str("status", string(out.Status)).Str("user", actor.Username).Msg("visit test updated")
	return out, nil
}

func statusDetail(t *VisitTest) string {
	return fmt.Sprintf("Updated status for test %s (Visit: %s) to %s.", t.Template.Code, t.VisitCode, t.Status)
}

// CollectSample records specimen collection. Collecting again from
// IN_PROGRESS is a recollection and sends the test back to SAMPLE_COLLECTED.
func (s *Service) CollectSample(ctx context.Context, actor *auth.Actor, testID uuid.UUID, specimenType string) (*VisitTest, error) {
	specimenType = strings.TrimSpace(specimenType)
	return s.advance(ctx, actor, testID, collectSample, func(_ context.Context, t *VisitTest, now time.Time) error {
		t.CollectedBy = actor.Username
		t.CollectedAt = &now
		if specimenType != "" {
			t.SpecimenType = specimenType
		}
		return nil
	}, audit.ActionUpdateTestStatus, statusDetail)
}

// StartProcessing marks a collected sample as being worked on.
func (s *Service) StartProcessing(ctx context.Context, actor *auth.Actor, testID uuid.UUID) (*VisitTest, error) {
	return s.advance(ctx, actor, testID, startProcessing, func(context.Context, *VisitTest, time.Time) error {
		return nil
	}, audit.ActionUpdateTestStatus, statusDetail)
}

// EnterResults stores results and hands the test to the approver. Approved
// tests are only changed through EditApprovedResult.
func (s *Service) EnterResults(ctx context.Context, actor *auth.Actor, testID uuid.UUID, in ResultInput) (*VisitTest, error) {
	return s.advance(ctx, actor, testID, enterResults, func(ctx context.Context, t *VisitTest, now time.Time) error {
		if err := s.applyResults(ctx, t, in); err != nil {
			return err
		}
		t.EnteredBy = actor.Username
		t.EnteredAt = &now
		return nil
	}, audit.ActionEnterResults, func(t *VisitTest) string {
		return fmt.Sprintf("Entered results for test %s (Visit: %s).", t.Template.Code, t.VisitCode)
	})
}

func (s *Service) Approve(ctx context.Context, actor *auth.Actor, testID uuid.UUID) (*VisitTest, error) {
	return s.advance(ctx, actor, testID, approveResults, func(_ context.Context, t *VisitTest, now time.Time) error {
		t.ApprovedBy = actor.Username
		t.ApprovedAt = &now
		return nil
	}, audit.ActionApproveResults, func(t *VisitTest) string {
		return fmt.Sprintf("Approved results for test %s (Visit: %s).", t.Template.Code, t.VisitCode)
	})
}

// EditApprovedResult corrects an approved result. The test stays APPROVED
// and the reason is kept in the audit trail.
func (s *Service) EditApprovedResult(ctx context.Context, actor *auth.Actor, testID uuid.UUID, in ResultInput, reason string) (*VisitTest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		if err := auth.Authorize(actor, editApproved.perm); err != nil {
			return nil, err
		}
		return nil, apperr.ValidationFields("invalid edit", map[string]string{"reason": "is required"})
	}
	return s.advance(ctx, actor, testID, editApproved, func(ctx context.Context, t *VisitTest, _ time.Time) error {
		return s.applyResults(ctx, t, in)
	}, audit.ActionEditApprovedReport, func(t *VisitTest) string {
		return fmt.Sprintf("Edited approved results for test %s (Visit: %s). Reason: %s", t.Template.Code, t.VisitCode, reason)
	})
}

// applyResults validates the input against the test's frozen schema and
// stores it on t.
func (s *Service) applyResults(ctx context.Context, t *VisitTest, in ResultInput) error {
	if t.Template.ReportType == catalog.ReportCulture {
		if len(in.Results) > 0 {
			return apperr.ValidationFields("invalid results", map[string]string{"results": "culture tests take culture_result only"})
		}
		cr, err := s.validateCulture(ctx, in.CultureResult)
		if err != nil {
			return err
		}
		t.CultureResult = cr
		t.Results = nil
		return nil
	}

	if in.CultureResult != nil {
		return apperr.ValidationFields("invalid results", map[string]string{"culture_result": "only allowed for culture tests"})
	}
	values, err := validateStandard(&t.Template, in.Results)
	if err != nil {
		return err
	}
	t.Results = values
	return nil
}

func validateStandard(tpl *TemplateSnapshot, in ResultValues) (ResultValues, error) {
	details := map[string]string{}
	out := make(ResultValues, len(in))
	seen := make(map[string]bool, len(in))
	for name, raw := range in {
		value := strings.TrimSpace(raw)
		f, ok := tpl.Field(name)
		if !ok {
			details["results."+name] = "is not a field of this test"
			continue
		}
		if seen[f.Name] {
			details["results."+f.Name] = "is given more than once"
			continue
		}
		seen[f.Name] = true
		if value == "" {
			continue
		}
		if f.Type == catalog.FieldNumber {
			if n, err := strconv.ParseFloat(value, 64); err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
				details["results."+f.Name] = "must be a number"
				continue
			}
		}
		out[f.Name] = value
	}
	if len(details) == 0 && len(out) == 0 {
		details["results"] = "at least one value is required"
	}
	if len(details) > 0 {
		return nil, apperr.ValidationFields("invalid results", details)
	}
	return out, nil
}

func (s *Service) validateCulture(ctx context.Context, in *CultureResult) (*CultureResult, error) {
	if in == nil {
		return nil, apperr.ValidationFields("invalid results", map[string]string{"culture_result": "is required for culture tests"})
	}
	cr := *in
	cr.OrganismIsolated = strings.TrimSpace(cr.OrganismIsolated)
	cr.ColonyCount = strings.TrimSpace(cr.ColonyCount)
	cr.Remarks = strings.TrimSpace(cr.Remarks)

	details := map[string]string{}
	switch cr.GrowthStatus {
	case Growth:
		if cr.OrganismIsolated == "" {
			details["culture_result.organism_isolated"] = "is required when there is growth"
		}
	case NoGrowth:
		if len(cr.Sensitivity) > 0 {
			details["culture_result.sensitivity"] = "not allowed without growth"
		}
	default:
		details["culture_result.growth_status"] = fmt.Sprintf("unknown growth status %q", cr.GrowthStatus)
	}

	ids := make([]uuid.UUID, 0, len(cr.Sensitivity))
	seen := make(map[uuid.UUID]bool, len(cr.Sensitivity))
	sens := make([]SensitivityResult, len(cr.Sensitivity))
	for i, r := range cr.Sensitivity {
		key := fmt.Sprintf("culture_result.sensitivity[%d]", i)
		r.Sensitivity = Sensitivity(strings.ToUpper(strings.TrimSpace(string(r.Sensitivity))))
		switch {
		case r.AntibioticID == uuid.Nil:
			details[key] = "antibiotic_id is required"
		case seen[r.AntibioticID]:
			details[key] = "duplicate antibiotic"
		case r.Sensitivity != Sensitive && r.Sensitivity != Resistant && r.Sensitivity != Intermediate:
			details[key] = "sensitivity must be S, R or I"
		}
		seen[r.AntibioticID] = true
		ids = append(ids, r.AntibioticID)
		sens[i] = r
	}
	if len(details) > 0 {
		return nil, apperr.ValidationFields("invalid culture result", details)
	}
	if len(ids) > 0 {
		if _, err := s.catalog.AntibioticNames(ctx, ids); err != nil {
			return nil, err
		}
	}
	cr.Sensitivity = sens
	return &cr, nil
}

// -- Payments --

// CollectDuePayment takes a payment against the outstanding amount of a
// visit. Overpayment is rejected and leaves the visit unchanged.
func (s *Service) CollectDuePayment(ctx context.Context, actor *auth.Actor, visitID uuid.UUID, amount decimal.Decimal, paymentMode string) (*Visit, error) {
	if err := auth.Authorize(actor, auth.PermCollectDuePayment); err != nil {
		return nil, err
	}
	mode, err := billing.ParsePaymentMode(paymentMode)
	if err != nil {
		return nil, err
	}

	var v *Visit
	err = s.withRetry(ctx, func(ctx context.Context) error {
		v, err = s.repo.GetVisit(ctx, visitID)
		if err != nil {
			return err
		}
		newPaid, due, err := billing.ApplyDuePayment(v.TotalCost, v.AmountPaid, amount)
		if err != nil {
			return err
		}
		if err := s.repo.UpdatePayment(ctx, v.ID, v.AmountPaid, newPaid, mode); err != nil {
			return err
		}
		v.AmountPaid, v.DueAmount, v.PaymentMode = newPaid, due, mode
		return s.audit.Record(ctx, actor, audit.ActionCollectDuePayment, "visit", v.ID.String(),
			fmt.Sprintf("Collected due payment of %s for visit %s.", ledger.FormatAmount(amount), v.VisitCode))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentCollected()
	s.logger.Info().Str("visit_code", v.VisitCode).Str("amount", amount.String()).
		Str("due", v.DueAmount.String()).Str("user", actor.Username).Msg("due payment collected")
	return v, nil
}
