package visit

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/billing"
)

type Repository interface {
	// NextSequence returns the next visit number for the year. Numbers are
	// allocated under a row lock and never reused within a year.
	NextSequence(ctx context.Context, year int) (int, error)

	UpsertPatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)

	CreateVisit(ctx context.Context, v *Visit) error
	CreateTest(ctx context.Context, t *VisitTest) error
	// GetVisit loads the visit with its patient and tests.
	GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error)
	ListVisits(ctx context.Context, f Filter, limit, offset int) ([]*Visit, int, error)
	// UpdatePayment is a compare-and-set on amount_paid; a stale expected
	// value yields a Conflict error.
	UpdatePayment(ctx context.Context, visitID uuid.UUID, expectedPaid, newPaid decimal.Decimal, mode billing.PaymentMode) error

	GetTest(ctx context.Context, id uuid.UUID) (*VisitTest, error)
	ListTestsByStatus(ctx context.Context, statuses []Status, limit, offset int) ([]*VisitTest, int, error)
	// UpdateTest writes the mutable columns of a test only if its stored
	// status still equals expected and its version still equals t.Version;
	// otherwise it returns a Conflict error. On success t.Version is bumped.
	UpdateTest(ctx context.Context, t *VisitTest, expected Status) error
}
