package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/lims/internal/domain/catalog"
	"github.com/labcore/lims/internal/domain/ledger"
	"github.com/labcore/lims/internal/domain/visit"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

type VisitSource interface {
	LoadVisit(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
}

type CatalogSource interface {
	AntibioticNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	LookupDoctor(ctx context.Context, id uuid.UUID) (*catalog.ReferralDoctor, error)
}

type ClientSource interface {
	LookupClient(ctx context.Context, id uuid.UUID) (*ledger.Client, error)
}

type Service struct {
	visits  VisitSource
	catalog CatalogSource
	clients ClientSource
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(visits VisitSource, cat CatalogSource, clients ClientSource, logger zerolog.Logger) *Service {
	return &Service{
		visits:  visits,
		catalog: cat,
		clients: clients,
		logger:  logger.With().Str("component", "report").Logger(),
		now:     time.Now,
	}
}

// errNoApprovedTests blocks rendering of a visit with nothing approved.
func errNoApprovedTests(code string) error {
	return &apperr.Error{
		Kind:    apperr.ErrInvalidState,
		Code:    "NO_APPROVED_TESTS",
		Message: "report not ready: no approved tests for visit " + code,
	}
}

// Build assembles the report of a visit. Only APPROVED tests are included.
func (s *Service) Build(ctx context.Context, actor *auth.Actor, visitID uuid.UUID) (*Report, error) {
	if err := auth.AuthorizeAny(actor, auth.PermViewReception, auth.PermViewApprover); err != nil {
		return nil, err
	}
	v, err := s.visits.LoadVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	var approved []*visit.VisitTest
	for _, t := range v.Tests {
		if t.Status == visit.StatusApproved {
			approved = append(approved, t)
		}
	}
	if len(approved) == 0 {
		return nil, errNoApprovedTests(v.VisitCode)
	}

	names, err := s.catalog.AntibioticNames(ctx, antibioticIDs(approved))
	if err != nil {
		return nil, err
	}

	r := &Report{
		VisitID:      v.ID,
		VisitCode:    v.VisitCode,
		Patient:      v.Patient,
		RegisteredAt: v.RegisteredAt,
		PendingTests: len(v.Tests) - len(approved),
		GeneratedAt:  s.now(),
		Sections:     group(approved, names),
		Signatories:  signatories(approved),
	}
	if v.Patient != nil {
		r.PatientName = v.Patient.DisplayName()
	}
	r.ReferredBy = v.OtherRefDoctor
	if v.ReferredDoctorID != nil {
		d, err := s.catalog.LookupDoctor(ctx, *v.ReferredDoctorID)
		if err != nil {
			return nil, err
		}
		r.ReferredBy = d.Name
	}
	r.Client = v.OtherRefCustomer
	if v.ClientID != nil {
		c, err := s.clients.LookupClient(ctx, *v.ClientID)
		if err != nil {
			return nil, err
		}
		r.Client = c.Name
	}

	s.logger.Debug().Str("visit_code", v.VisitCode).Int("tests", len(approved)).
		Str("user", actor.Username).Msg("report built")
	return r, nil
}

func antibioticIDs(tests []*visit.VisitTest) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, t := range tests {
		if t.CultureResult == nil {
			continue
		}
		for _, s := range t.CultureResult.Sensitivity {
			if !seen[s.AntibioticID] {
				seen[s.AntibioticID] = true
				ids = append(ids, s.AntibioticID)
			}
		}
	}
	return ids
}

func group(tests []*visit.VisitTest, antibiotics map[uuid.UUID]string) []Section {
	var sections []Section
	index := make(map[string]int)
	for _, t := range tests {
		category := t.Template.Category
		if category == "" {
			category = uncategorized
		}
		i, ok := index[category]
		if !ok {
			i = len(sections)
			index[category] = i
			sections = append(sections, Section{Category: category})
		}
		sections[i].Tests = append(sections[i].Tests, project(t, antibiotics))
	}
	return sections
}

func project(t *visit.VisitTest, antibiotics map[uuid.UUID]string) Test {
	out := Test{
		Code:       t.Template.Code,
		Name:       t.Template.Name,
		ReportType: t.Template.ReportType,
		ApprovedBy: t.ApprovedBy,
		ApprovedAt: t.ApprovedAt,
	}
	if cr := t.CultureResult; cr != nil {
		c := &Culture{
			GrowthStatus:     cr.GrowthStatus,
			OrganismIsolated: cr.OrganismIsolated,
			ColonyCount:      cr.ColonyCount,
			Remarks:          cr.Remarks,
		}
		for _, s := range cr.Sensitivity {
			c.Sensitivity = append(c.Sensitivity, Sensitivity{
				AntibioticID: s.AntibioticID,
				Antibiotic:   antibiotics[s.AntibioticID],
				Result:       s.Sensitivity,
			})
		}
		out.Culture = c
		return out
	}
	for _, f := range t.Template.Fields {
		value, ok := t.Results[f.Name]
		if !ok {
			continue
		}
		out.Values = append(out.Values, Value{Name: f.Name, Value: value, Unit: f.Unit, ReferenceRange: f.ReferenceRange})
	}
	return out
}

// signatories lists distinct approvers in order of first appearance.
func signatories(tests []*visit.VisitTest) []Signatory {
	var out []Signatory
	index := make(map[string]int)
	for _, t := range tests {
		if t.ApprovedBy == "" {
			continue
		}
		i, ok := index[t.ApprovedBy]
		if !ok {
			i = len(out)
			index[t.ApprovedBy] = i
			out = append(out, Signatory{Username: t.ApprovedBy})
		}
		out[i].Tests++
	}
	return out
}
