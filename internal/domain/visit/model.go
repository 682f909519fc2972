package visit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/billing"
	"github.com/labcore/lims/internal/domain/catalog"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

type Salutation string

const (
	SalutationMr     Salutation = "Mr"
	SalutationMs     Salutation = "Ms"
	SalutationMrs    Salutation = "Mrs"
	SalutationMaster Salutation = "Master"
	SalutationBaby   Salutation = "Baby"
	SalutationBabyOf Salutation = "Baby of"
)

var salutations = []Salutation{SalutationMr, SalutationMs, SalutationMrs, SalutationMaster, SalutationBaby, SalutationBabyOf}

type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
	SexOther  Sex = "Other"
)

// Patient is identified by phone number; registering a known phone updates
// the existing record.
type Patient struct {
	ID              uuid.UUID  `json:"id"`
	Salutation      Salutation `json:"salutation,omitempty"`
	Name            string     `json:"name"`
	AgeYears        int        `json:"age_years"`
	AgeMonths       int        `json:"age_months"`
	AgeDays         int        `json:"age_days"`
	Sex             Sex        `json:"sex,omitempty"`
	GuardianName    string     `json:"guardian_name,omitempty"`
	Phone           string     `json:"phone"`
	Address         string     `json:"address,omitempty"`
	Email           string     `json:"email,omitempty"`
	ClinicalHistory string     `json:"clinical_history,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (p *Patient) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	p.GuardianName = strings.TrimSpace(p.GuardianName)
	p.Email = strings.TrimSpace(p.Email)

	details := map[string]string{}
	if p.Name == "" {
		details["patient.name"] = "is required"
	}
	if p.Phone == "" {
		details["patient.phone"] = "is required"
	}
	if p.AgeYears < 0 || p.AgeMonths < 0 || p.AgeDays < 0 {
		details["patient.age"] = "must not be negative"
	}
	if p.AgeMonths > 11 {
		details["patient.age_months"] = "must be between 0 and 11"
	}
	if p.AgeDays > 31 {
		details["patient.age_days"] = "must be between 0 and 31"
	}
	if p.Salutation != "" && !validSalutation(p.Salutation) {
		details["patient.salutation"] = fmt.Sprintf("unknown salutation %q", p.Salutation)
	}
	switch p.Sex {
	case "", SexMale, SexFemale, SexOther:
	default:
		details["patient.sex"] = fmt.Sprintf("unknown sex %q", p.Sex)
	}
	if len(details) > 0 {
		return apperr.ValidationFields("invalid patient", details)
	}
	return nil
}

func validSalutation(s Salutation) bool {
	for _, v := range salutations {
		if v == s {
			return true
		}
	}
	return false
}

// DisplayName prefixes the salutation when one is set.
func (p *Patient) DisplayName() string {
	if p.Salutation == "" {
		return p.Name
	}
	return string(p.Salutation) + " " + p.Name
}

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusSampleCollected  Status = "SAMPLE_COLLECTED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusApproved         Status = "APPROVED"
)

// transition is one edge of the visit test lifecycle.
type transition struct {
	name string
	from []Status
	to   Status
	perm auth.Permission
}

func (t transition) allows(s Status) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

var (
	collectSample = transition{
		name: "collect sample",
		from: []Status{StatusPending, StatusInProgress},
		to:   StatusSampleCollected,
		perm: auth.PermCollectSample,
	}
	startProcessing = transition{
		name: "start processing",
		from: []Status{StatusSampleCollected},
		to:   StatusInProgress,
		perm: auth.PermEnterResults,
	}
	enterResults = transition{
		name: "enter results",
		from: []Status{StatusSampleCollected, StatusInProgress},
		to:   StatusAwaitingApproval,
		perm: auth.PermEnterResults,
	}
	approveResults = transition{
		name: "approve results",
		from: []Status{StatusAwaitingApproval},
		to:   StatusApproved,
		perm: auth.PermApproveResults,
	}
	editApproved = transition{
		name: "edit approved results",
		from: []Status{StatusApproved},
		to:   StatusApproved,
		perm: auth.PermEditApproved,
	}
)

// Queue names map to the statuses each work station sees.
type Queue string

const (
	QueuePhlebotomy Queue = "phlebotomy"
	QueueLab        Queue = "lab"
	QueueApprover   Queue = "approver"
)

func (q Queue) statuses() ([]Status, auth.Permission, error) {
	switch q {
	case QueuePhlebotomy:
		return []Status{StatusPending}, auth.PermViewPhlebotomy, nil
	case QueueLab:
		return []Status{StatusSampleCollected, StatusInProgress}, auth.PermViewLab, nil
	case QueueApprover:
		return []Status{StatusAwaitingApproval}, auth.PermViewApprover, nil
	}
	return nil, "", apperr.Validation("unknown queue %q", q)
}

// TemplateSnapshot freezes the catalog entry and the resolved price at the
// moment a test is ordered. Later catalog edits never reach it.
type TemplateSnapshot struct {
	TemplateID           uuid.UUID             `json:"template_id"`
	Code                 string                `json:"code"`
	Name                 string                `json:"name"`
	Category             string                `json:"category"`
	ReportType           catalog.ReportType    `json:"report_type"`
	Fields               []catalog.ResultField `json:"fields"`
	DefaultAntibioticIDs []uuid.UUID           `json:"default_antibiotic_ids,omitempty"`
	Price                decimal.Decimal       `json:"price"`
}

func snapshotOf(line billing.Line) TemplateSnapshot {
	t := line.Template
	fields := make([]catalog.ResultField, len(t.Fields))
	copy(fields, t.Fields)
	var abx []uuid.UUID
	if len(t.DefaultAntibioticIDs) > 0 {
		abx = append(abx, t.DefaultAntibioticIDs...)
	}
	return TemplateSnapshot{
		TemplateID:           t.ID,
		Code:                 t.Code,
		Name:                 t.Name,
		Category:             t.Category,
		ReportType:           t.ReportType,
		Fields:               fields,
		DefaultAntibioticIDs: abx,
		Price:                line.Price,
	}
}

// Field returns the schema entry with the given name, case-insensitively.
func (t *TemplateSnapshot) Field(name string) (catalog.ResultField, bool) {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return catalog.ResultField{}, false
}

// ResultValues holds entered values keyed by field name. Values arrive as
// JSON strings or numbers and are kept in their textual form.
type ResultValues map[string]string

func (r *ResultValues) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*r = nil
		return nil
	}
	out := make(ResultValues, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			continue
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			out[k] = s
		case v[0] == '-' || (v[0] >= '0' && v[0] <= '9'):
			out[k] = string(v)
		default:
			return fmt.Errorf("result %q must be a string or number", k)
		}
	}
	*r = out
	return nil
}

type GrowthStatus string

const (
	Growth   GrowthStatus = "growth"
	NoGrowth GrowthStatus = "no_growth"
)

type Sensitivity string

const (
	Sensitive    Sensitivity = "S"
	Resistant    Sensitivity = "R"
	Intermediate Sensitivity = "I"
)

type SensitivityResult struct {
	AntibioticID uuid.UUID   `json:"antibiotic_id"`
	Sensitivity  Sensitivity `json:"sensitivity"`
}

// CultureResult is the result of a culture and sensitivity test.
type CultureResult struct {
	GrowthStatus     GrowthStatus        `json:"growth_status"`
	OrganismIsolated string              `json:"organism_isolated,omitempty"`
	ColonyCount      string              `json:"colony_count,omitempty"`
	Sensitivity      []SensitivityResult `json:"sensitivity,omitempty"`
	Remarks          string              `json:"remarks,omitempty"`
}

// VisitTest is one ordered test within a visit.
type VisitTest struct {
	ID            uuid.UUID        `json:"id"`
	VisitID       uuid.UUID        `json:"visit_id"`
	VisitCode     string           `json:"visit_code"`
	PatientName   string           `json:"patient_name"`
	Position      int              `json:"position"`
	Template      TemplateSnapshot `json:"template"`
	Status        Status           `json:"status"`
	CollectedBy   string           `json:"collected_by,omitempty"`
	CollectedAt   *time.Time       `json:"collected_at,omitempty"`
	SpecimenType  string           `json:"specimen_type,omitempty"`
	Results       ResultValues     `json:"results,omitempty"`
	CultureResult *CultureResult   `json:"culture_result,omitempty"`
	EnteredBy     string           `json:"entered_by,omitempty"`
	EnteredAt     *time.Time       `json:"entered_at,omitempty"`
	ApprovedBy    string           `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time       `json:"approved_at,omitempty"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Visit is one patient registration with its ordered tests.
type Visit struct {
	ID               uuid.UUID           `json:"id"`
	VisitCode        string              `json:"visit_code"`
	PatientID        uuid.UUID           `json:"patient_id"`
	Patient          *Patient            `json:"patient,omitempty"`
	ReferredDoctorID *uuid.UUID          `json:"referred_doctor_id,omitempty"`
	OtherRefDoctor   string              `json:"other_ref_doctor,omitempty"`
	ClientID         *uuid.UUID          `json:"ref_customer_id,omitempty"`
	OtherRefCustomer string              `json:"other_ref_customer,omitempty"`
	RegisteredAt     time.Time           `json:"registration_datetime"`
	TotalCost        decimal.Decimal     `json:"total_cost"`
	AmountPaid       decimal.Decimal     `json:"amount_paid"`
	DueAmount        decimal.Decimal     `json:"due_amount"`
	PaymentMode      billing.PaymentMode `json:"payment_mode"`
	CreatedBy        string              `json:"created_by"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Tests            []*VisitTest        `json:"tests,omitempty"`
}

// CreateInput is everything reception submits to register a visit.
type CreateInput struct {
	Patient              Patient         `json:"patient"`
	ReferredDoctorID     *uuid.UUID      `json:"referred_doctor_id"`
	OtherRefDoctor       string          `json:"other_ref_doctor"`
	ClientID             *uuid.UUID      `json:"ref_customer_id"`
	OtherRefCustomer     string          `json:"other_ref_customer"`
	RegistrationDatetime *time.Time      `json:"registration_datetime"`
	TestTemplateIDs      []uuid.UUID     `json:"test_template_ids"`
	AmountPaid           decimal.Decimal `json:"amount_paid"`
	PaymentMode          string          `json:"payment_mode"`
}

// ResultInput carries either standard values or a culture result.
type ResultInput struct {
	Results       ResultValues   `json:"results"`
	CultureResult *CultureResult `json:"culture_result"`
}

type Filter struct {
	Search   string
	ClientID *uuid.UUID
	From     *time.Time
	To       *time.Time
}
