package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/ledger"
	"github.com/labcore/lims/internal/platform/apperr"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func TestResolvePrice(t *testing.T) {
	tests := []struct {
		name       string
		clientType ledger.ClientType
		override   *decimal.Decimal
		want       int64
	}{
		{"no client", "", nil, 300},
		{"patient client", ledger.ClientPatient, ptr(d(100)), 300},
		{"internal client", ledger.ClientInternal, nil, 300},
		{"referral lab without override", ledger.ClientReferralLab, nil, 200},
		{"referral lab with override", ledger.ClientReferralLab, ptr(d(150)), 150},
		{"zero override falls back", ledger.ClientReferralLab, ptr(d(0)), 200},
		{"negative override falls back", ledger.ClientReferralLab, ptr(d(-1)), 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolvePrice(d(300), d(200), tt.clientType, tt.override)
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected %d, got %s", tt.want, got)
			}
		})
	}
}

func TestApplyDuePayment(t *testing.T) {
	paid, due, err := ApplyDuePayment(d(1000), d(200), d(300))
	if err != nil {
		t.Fatalf("ApplyDuePayment: %v", err)
	}
	if !paid.Equal(d(500)) || !due.Equal(d(500)) {
		t.Errorf("expected 500/500, got %s/%s", paid, due)
	}

	paid, due, err = ApplyDuePayment(d(1000), d(0), d(1000))
	if err != nil || !due.IsZero() || !paid.Equal(d(1000)) {
		t.Errorf("paying the exact due should settle: %s/%s %v", paid, due, err)
	}
}

func TestApplyDuePayment_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		amount decimal.Decimal
	}{
		{"overpayment", d(1500)},
		{"zero", d(0)},
		{"negative", d(-5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paid, due, err := ApplyDuePayment(d(1000), d(0), tt.amount)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !paid.IsZero() || !due.Equal(d(1000)) {
				t.Errorf("rejected payment must leave state unchanged, got %s/%s", paid, due)
			}
		})
	}
}

func TestValidateInitialPayment(t *testing.T) {
	if err := ValidateInitialPayment(d(500), d(0)); err != nil {
		t.Errorf("zero should be allowed: %v", err)
	}
	if err := ValidateInitialPayment(d(500), d(500)); err != nil {
		t.Errorf("full payment should be allowed: %v", err)
	}
	if err := ValidateInitialPayment(d(500), d(501)); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected overpayment rejection, got %v", err)
	}
	if err := ValidateInitialPayment(d(500), d(-1)); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected negative rejection, got %v", err)
	}
}

func TestParsePaymentMode(t *testing.T) {
	for in, want := range map[string]PaymentMode{"": PaymentCash, "upi": PaymentUPI, " CARD ": PaymentCard, "Cash": PaymentCash} {
		got, err := ParsePaymentMode(in)
		if err != nil || got != want {
			t.Errorf("ParsePaymentMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePaymentMode("cheque"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
