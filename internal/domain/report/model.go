package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/labcore/lims/internal/domain/catalog"
	"github.com/labcore/lims/internal/domain/visit"
)

// Report is the printable projection of a visit: approved tests only,
// grouped by category in the order the categories first appear.
type Report struct {
	VisitID      uuid.UUID      `json:"visit_id"`
	VisitCode    string         `json:"visit_code"`
	Patient      *visit.Patient `json:"patient"`
	PatientName  string         `json:"patient_name"`
	ReferredBy   string         `json:"referred_by,omitempty"`
	Client       string         `json:"client,omitempty"`
	RegisteredAt time.Time      `json:"registration_datetime"`
	Sections     []Section      `json:"sections"`
	Signatories  []Signatory    `json:"signatories"`
	PendingTests int            `json:"pending_tests"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

type Section struct {
	Category string `json:"category"`
	Tests    []Test `json:"tests"`
}

type Test struct {
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	ReportType catalog.ReportType `json:"report_type"`
	Values     []Value            `json:"values,omitempty"`
	Culture    *Culture           `json:"culture,omitempty"`
	ApprovedBy string             `json:"approved_by"`
	ApprovedAt *time.Time         `json:"approved_at,omitempty"`
}

// Value is one result line, in the order of the test's field schema.
type Value struct {
	Name           string `json:"name"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
}

type Culture struct {
	GrowthStatus     visit.GrowthStatus `json:"growth_status"`
	OrganismIsolated string             `json:"organism_isolated,omitempty"`
	ColonyCount      string             `json:"colony_count,omitempty"`
	Sensitivity      []Sensitivity      `json:"sensitivity,omitempty"`
	Remarks          string             `json:"remarks,omitempty"`
}

type Sensitivity struct {
	AntibioticID uuid.UUID         `json:"antibiotic_id"`
	Antibiotic   string            `json:"antibiotic"`
	Result       visit.Sensitivity `json:"result"`
}

// Signatory is an approver whose sign-off covers at least one test.
type Signatory struct {
	Username string `json:"username"`
	Tests    int    `json:"tests"`
}

const uncategorized = "Uncategorized"
