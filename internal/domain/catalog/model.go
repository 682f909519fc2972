package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/platform/apperr"
)

type ReportType string

const (
	ReportStandard ReportType = "standard"
	ReportCulture  ReportType = "culture"
)

type FieldType string

const (
	FieldNumber FieldType = "number"
	FieldText   FieldType = "text"
)

// ResultField is one parameter of a test's result schema.
type ResultField struct {
	Name           string    `json:"name"`
	Type           FieldType `json:"type"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange string    `json:"reference_range,omitempty"`
}

// TestTemplate is a catalog entry. Templates are soft-deleted via IsActive.
type TestTemplate struct {
	ID                   uuid.UUID       `json:"id"`
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	Category             string          `json:"category"`
	Price                decimal.Decimal `json:"price"`
	B2BPrice             decimal.Decimal `json:"b2b_price"`
	IsActive             bool            `json:"is_active"`
	ReportType           ReportType      `json:"report_type"`
	Fields               []ResultField   `json:"fields"`
	DefaultAntibioticIDs []uuid.UUID     `json:"default_antibiotic_ids,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Normalize trims text fields and fills defaults.
func (t *TestTemplate) Normalize() {
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	t.Name = strings.TrimSpace(t.Name)
	t.Category = strings.TrimSpace(t.Category)
	if t.ReportType == "" {
		t.ReportType = ReportStandard
	}
	for i := range t.Fields {
		t.Fields[i].Name = strings.TrimSpace(t.Fields[i].Name)
		if t.Fields[i].Type == "" {
			t.Fields[i].Type = FieldText
		}
	}
}

func (t *TestTemplate) Validate() error {
	details := map[string]string{}
	if t.Code == "" {
		details["code"] = "is required"
	}
	if t.Name == "" {
		details["name"] = "is required"
	}
	if t.Category == "" {
		details["category"] = "is required"
	}
	if t.Price.IsNegative() {
		details["price"] = "must not be negative"
	}
	if t.B2BPrice.IsNegative() {
		details["b2b_price"] = "must not be negative"
	}
	switch t.ReportType {
	case ReportStandard, ReportCulture:
	default:
		details["report_type"] = fmt.Sprintf("unknown report type %q", t.ReportType)
	}
	seen := make(map[string]bool, len(t.Fields))
	for i, f := range t.Fields {
		key := fmt.Sprintf("fields[%d]", i)
		switch {
		case f.Name == "":
			details[key] = "name is required"
		case seen[strings.ToLower(f.Name)]:
			details[key] = fmt.Sprintf("duplicate field %q", f.Name)
		case f.Type != FieldNumber && f.Type != FieldText:
			details[key] = fmt.Sprintf("unknown field type %q", f.Type)
		}
		seen[strings.ToLower(f.Name)] = true
	}
	if t.ReportType == ReportStandard && len(t.DefaultAntibioticIDs) > 0 {
		details["default_antibiotic_ids"] = "only allowed for culture tests"
	}
	if len(details) > 0 {
		return apperr.ValidationFields("invalid test template", details)
	}
	return nil
}

// Field returns the schema entry with the given name, case-insensitively.
func (t *TestTemplate) Field(name string) (ResultField, bool) {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return ResultField{}, false
}

type Antibiotic struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *Antibiotic) Validate() error {
	a.Name = strings.TrimSpace(a.Name)
	a.Abbreviation = strings.TrimSpace(a.Abbreviation)
	if a.Name == "" {
		return apperr.ValidationFields("invalid antibiotic", map[string]string{"name": "is required"})
	}
	return nil
}

type ReferralDoctor struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Designation string    `json:"designation,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *ReferralDoctor) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.ValidationFields("invalid referral doctor", map[string]string{"name": "is required"})
	}
	return nil
}

// PriceUpdate sets both prices of one template.
type PriceUpdate struct {
	TemplateID uuid.UUID       `json:"template_id"`
	Price      decimal.Decimal `json:"price"`
	B2BPrice   decimal.Decimal `json:"b2b_price"`
}

type TemplateFilter struct {
	ActiveOnly bool
	Category   string
	Search     string
}
