package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
	"github.com/labcore/lims/internal/platform/db"
)

type Service struct {
	templates   TemplateRepository
	antibiotics AntibioticRepository
	doctors     DoctorRepository
	uow         db.UnitOfWork
	audit       audit.Recorder
}

func NewService(templates TemplateRepository, antibiotics AntibioticRepository, doctors DoctorRepository, uow db.UnitOfWork, rec audit.Recorder) *Service {
	return &Service{templates: templates, antibiotics: antibiotics, doctors: doctors, uow: uow, audit: rec}
}

// -- Test templates --

func (s *Service) CreateTemplate(ctx context.Context, actor *auth.Actor, t *TestTemplate) error {
	if err := auth.Authorize(actor, auth.PermManageTests); err != nil {
		return err
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.checkAntibiotics(ctx, t.DefaultAntibioticIDs); err != nil {
		return err
	}
	t.ID = uuid.New()
	t.IsActive = true
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.templates.Create(ctx, t); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageTests, "test_template", t.ID.String(),
			fmt.Sprintf("Created new test template: %s.", t.Name))
	})
}

// UpdateTemplate replaces the editable fields of an existing template. Visits
// keep the snapshot taken at registration, so edits never touch them.
func (s *Service) UpdateTemplate(ctx context.Context, actor *auth.Actor, t *TestTemplate) error {
	if err := auth.Authorize(actor, auth.PermManageTests); err != nil {
		return err
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.checkAntibiotics(ctx, t.DefaultAntibioticIDs); err != nil {
		return err
	}
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.templates.GetByID(ctx, t.ID)
		if err != nil {
			return err
		}
		t.CreatedAt = existing.CreatedAt
		if err := s.templates.Update(ctx, t); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageTests, "test_template", t.ID.String(),
			fmt.Sprintf("Updated test template: %s.", t.Name))
	})
}

func (s *Service) DeactivateTemplate(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*TestTemplate, error) {
	if err := auth.Authorize(actor, auth.PermManageTests); err != nil {
		return nil, err
	}
	var t *TestTemplate
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if t, err = s.templates.GetByID(ctx, id); err != nil {
			return err
		}
		if !t.IsActive {
			return nil
		}
		t.IsActive = false
		if err := s.templates.Update(ctx, t); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageTests, "test_template", id.String(),
			fmt.Sprintf("Deactivated test template: %s.", t.Name))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*TestTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, f TemplateFilter, limit, offset int) ([]*TestTemplate, int, error) {
	return s.templates.List(ctx, f, limit, offset)
}

// UpdatePrices applies a bulk price edit and records a single audit entry.
func (s *Service) UpdatePrices(ctx context.Context, actor *auth.Actor, updates []PriceUpdate) (int, error) {
	if err := auth.Authorize(actor, auth.PermManagePrices); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, apperr.Validation("at least one price update is required")
	}
	seen := make(map[uuid.UUID]bool, len(updates))
	details := map[string]string{}
	for i, u := range updates {
		key := fmt.Sprintf("updates[%d]", i)
		switch {
		case u.TemplateID == uuid.Nil:
			details[key] = "template_id is required"
		case seen[u.TemplateID]:
			details[key] = "duplicate template_id"
		case u.Price.IsNegative() || u.B2BPrice.IsNegative():
			details[key] = "prices must not be negative"
		}
		seen[u.TemplateID] = true
	}
	if len(details) > 0 {
		return 0, apperr.ValidationFields("invalid price update", details)
	}

	var n int
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.templates.UpdatePrices(ctx, updates); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManagePrices, "test_template", "",
			fmt.Sprintf("Updated prices for %d tests.", n))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ActiveTemplates resolves ids to active templates, preserving request order.
// Unknown, inactive and repeated ids are rejected.
func (s *Service) ActiveTemplates(ctx context.Context, ids []uuid.UUID) ([]*TestTemplate, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("at least one test is required")
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, apperr.ValidationFields("duplicate test", map[string]string{"test_template_id": id.String()})
		}
		seen[id] = true
	}

	found, err := s.templates.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*TestTemplate, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]*TestTemplate, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok || !t.IsActive {
			return nil, apperr.ValidationFields("unknown or inactive test", map[string]string{"test_template_id": id.String()})
		}
		out = append(out, t)
	}
	return out, nil
}

// -- Antibiotics --

func (s *Service) CreateAntibiotic(ctx context.Context, actor *auth.Actor, a *Antibiotic) error {
	if err := auth.Authorize(actor, auth.PermManageAntibiotics); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	a.ID = uuid.New()
	a.IsActive = true
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.antibiotics.Create(ctx, a); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageAntibiotics, "antibiotic", a.ID.String(),
			fmt.Sprintf("Created antibiotic: %s.", a.Name))
	})
}

func (s *Service) UpdateAntibiotic(ctx context.Context, actor *auth.Actor, a *Antibiotic) error {
	if err := auth.Authorize(actor, auth.PermManageAntibiotics); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.antibiotics.GetByID(ctx, a.ID)
		if err != nil {
			return err
		}
		a.CreatedAt = existing.CreatedAt
		if err := s.antibiotics.Update(ctx, a); err != nil {
			return err
		}
		verb := "Updated"
		if existing.IsActive && !a.IsActive {
			verb = "Deactivated"
		}
		return s.audit.Record(ctx, actor, audit.ActionManageAntibiotics, "antibiotic", a.ID.String(),
			fmt.Sprintf("%s antibiotic: %s.", verb, a.Name))
	})
}

func (s *Service) ListAntibiotics(ctx context.Context, activeOnly bool) ([]*Antibiotic, error) {
	return s.antibiotics.List(ctx, activeOnly)
}

// AntibioticNames maps each id to its display name. Every id must exist.
func (s *Service) AntibioticNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	found, err := s.antibiotics.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range found {
		names[a.ID] = a.Name
	}
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			return nil, apperr.ValidationFields("unknown antibiotic", map[string]string{"antibiotic_id": id.String()})
		}
	}
	return names, nil
}

func (s *Service) checkAntibiotics(ctx context.Context, ids []uuid.UUID) error {
	_, err := s.AntibioticNames(ctx, ids)
	return err
}

// -- Referral doctors --

func (s *Service) CreateDoctor(ctx context.Context, actor *auth.Actor, d *ReferralDoctor) error {
	if err := auth.Authorize(actor, auth.PermViewAdminPanel); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}
	d.ID = uuid.New()
	d.IsActive = true
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Create(ctx, d); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageDoctors, "referral_doctor", d.ID.String(),
			fmt.Sprintf("Added referral doctor: %s.", d.Name))
	})
}

func (s *Service) UpdateDoctor(ctx context.Context, actor *auth.Actor, d *ReferralDoctor) error {
	if err := auth.Authorize(actor, auth.PermViewAdminPanel); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}
	return s.uow.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.doctors.GetByID(ctx, d.ID)
		if err != nil {
			return err
		}
		d.CreatedAt = existing.CreatedAt
		if err := s.doctors.Update(ctx, d); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionManageDoctors, "referral_doctor", d.ID.String(),
			fmt.Sprintf("Updated referral doctor: %s.", d.Name))
	})
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool) ([]*ReferralDoctor, error) {
	return s.doctors.List(ctx, activeOnly)
}

// ActiveDoctor returns the doctor if it exists and is active.
func (s *Service) ActiveDoctor(ctx context.Context, id uuid.UUID) (*ReferralDoctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsActive {
		return nil, apperr.ValidationFields("referral doctor is inactive", map[string]string{"referred_doctor_id": id.String()})
	}
	return d, nil
}

// LookupDoctor returns a doctor whether or not it is still active. Reports
// of old visits still name doctors that have since been deactivated.
func (s *Service) LookupDoctor(ctx context.Context, id uuid.UUID) (*ReferralDoctor, error) {
	return s.doctors.GetByID(ctx, id)
}
