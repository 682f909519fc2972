package billing

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/catalog"
	"github.com/labcore/lims/internal/domain/ledger"
	"github.com/labcore/lims/internal/platform/apperr"
)

type PaymentMode string

const (
	PaymentCash PaymentMode = "Cash"
	PaymentCard PaymentMode = "Card"
	PaymentUPI  PaymentMode = "UPI"
)

var paymentModes = []PaymentMode{PaymentCash, PaymentCard, PaymentUPI}

// ParsePaymentMode accepts any casing. An empty mode defaults to cash.
func ParsePaymentMode(s string) (PaymentMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PaymentCash, nil
	}
	for _, m := range paymentModes {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", apperr.ValidationFields("invalid payment mode", map[string]string{"payment_mode": "must be Cash, Card or UPI"})
}

// ResolvePrice picks the price a client pays for one test. Only referral labs
// get B2B pricing; an override applies when it is positive.
func ResolvePrice(retail, b2b decimal.Decimal, clientType ledger.ClientType, override *decimal.Decimal) decimal.Decimal {
	if !clientType.Billable() {
		return retail
	}
	if override != nil && override.IsPositive() {
		return *override
	}
	return b2b
}

// Due is total minus paid.
func Due(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid)
}

// ValidateInitialPayment checks the amount taken at registration.
func ValidateInitialPayment(total, paid decimal.Decimal) error {
	if paid.IsNegative() {
		return apperr.ValidationFields("invalid payment", map[string]string{"amount_paid": "must not be negative"})
	}
	if paid.GreaterThan(total) {
		return apperr.ValidationFields("invalid payment", map[string]string{
			"amount_paid": "must not exceed the total cost of " + ledger.FormatAmount(total),
		})
	}
	return nil
}

// ApplyDuePayment adds amount to paid. Overpayment is rejected, never clamped.
func ApplyDuePayment(total, paid, amount decimal.Decimal) (newPaid, due decimal.Decimal, err error) {
	if !amount.IsPositive() {
		return paid, Due(total, paid), apperr.ValidationFields("invalid payment", map[string]string{"amount": "must be greater than zero"})
	}
	current := Due(total, paid)
	if amount.GreaterThan(current) {
		return paid, current, apperr.ValidationFields("invalid payment", map[string]string{
			"amount": "exceeds the due amount of " + ledger.FormatAmount(current),
		})
	}
	newPaid = paid.Add(amount)
	return newPaid, Due(total, newPaid), nil
}

// Line is one priced test of a quote.
type Line struct {
	Template   *catalog.TestTemplate `json:"-"`
	TemplateID uuid.UUID             `json:"test_template_id"`
	Code       string                `json:"code"`
	Name       string                `json:"name"`
	Price      decimal.Decimal       `json:"price"`
}

type Quote struct {
	Client *ledger.Client  `json:"client,omitempty"`
	Lines  []Line          `json:"lines"`
	Total  decimal.Decimal `json:"total"`
}

// Total sums the line prices.
func Total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price)
	}
	return sum
}
