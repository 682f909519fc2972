package catalog

import (
	"context"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *TestTemplate) error
	Update(ctx context.Context, t *TestTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestTemplate, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*TestTemplate, error)
	List(ctx context.Context, f TemplateFilter, limit, offset int) ([]*TestTemplate, int, error)
	UpdatePrices(ctx context.Context, updates []PriceUpdate) (int, error)
}

type AntibioticRepository interface {
	Create(ctx context.Context, a *Antibiotic) error
	Update(ctx context.Context, a *Antibiotic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Antibiotic, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Antibiotic, error)
	List(ctx context.Context, activeOnly bool) ([]*Antibiotic, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *ReferralDoctor) error
	Update(ctx context.Context, d *ReferralDoctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReferralDoctor, error)
	List(ctx context.Context, activeOnly bool) ([]*ReferralDoctor, error)
}
