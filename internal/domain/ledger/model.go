package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/platform/apperr"
)

type ClientType string

const (
	ClientPatient     ClientType = "PATIENT"
	ClientReferralLab ClientType = "REFERRAL_LAB"
	ClientInternal    ClientType = "INTERNAL"
)

func (t ClientType) Valid() bool {
	switch t {
	case ClientPatient, ClientReferralLab, ClientInternal:
		return true
	}
	return false
}

// Billable reports whether clients of this type carry a ledger balance.
func (t ClientType) Billable() bool {
	return t == ClientReferralLab
}

// Client is a billing entity. Balance is positive when the client owes the lab.
type Client struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Type      ClientType      `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (c *Client) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Type = ClientType(strings.ToUpper(strings.TrimSpace(string(c.Type))))
	details := map[string]string{}
	if c.Name == "" {
		details["name"] = "is required"
	}
	if !c.Type.Valid() {
		details["type"] = "must be one of PATIENT, REFERRAL_LAB, INTERNAL"
	}
	if len(details) > 0 {
		return apperr.ValidationFields("invalid client", details)
	}
	return nil
}

type EntryType string

const (
	Debit  EntryType = "DEBIT"
	Credit EntryType = "CREDIT"
)

// Signed returns the balance delta of an entry of this type.
func (t EntryType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == Credit {
		return amount.Neg()
	}
	return amount
}

// Entry is an immutable ledger line. Corrections are new entries.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	ClientID    uuid.UUID       `json:"client_id"`
	VisitID     *uuid.UUID      `json:"visit_id,omitempty"`
	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ClientPrice overrides a template's B2B price for one client.
type ClientPrice struct {
	ClientID       uuid.UUID       `json:"client_id"`
	TestTemplateID uuid.UUID       `json:"test_template_id"`
	Price          decimal.Decimal `json:"price"`
}

type ClientFilter struct {
	Type       ClientType
	ActiveOnly bool
	Search     string
}

type StatementLine struct {
	Entry
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type Statement struct {
	Client  *Client         `json:"client"`
	Lines   []StatementLine `json:"lines"`
	Debits  decimal.Decimal `json:"total_debits"`
	Credits decimal.Decimal `json:"total_credits"`
}

// Reconciliation compares the stored balance with the ledger sum.
type Reconciliation struct {
	ClientID      uuid.UUID       `json:"client_id"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Debits        decimal.Decimal `json:"total_debits"`
	Credits       decimal.Decimal `json:"total_credits"`
	Balanced      bool            `json:"balanced"`
}

// FormatAmount renders a rupee amount the way audit details and ledger
// descriptions show it.
func FormatAmount(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}
