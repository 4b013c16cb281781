// Package payment decides whether a reservation's payment passes.  Only
// the pass/fail outcome matters to the reservation flow; no money moves.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported methods.
const (
	MethodCard   = "CARD"
	MethodWallet = "WALLET"
)

// Details is the payment data submitted with a reservation.
type Details struct {
	Method      string `json:"method"`
	CardNumber  string `json:"card_number"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVV         string `json:"cvv"`
}

// Charge describes what is being paid for.
type Charge struct {
	TransactionID string
	UserID        string
	AmountCents   int64
	Details       Details
}

// Validator approves or rejects a charge.  A rejection is reported as a
// *Rejection; any other error is an infrastructure failure.
type Validator interface {
	Validate(ctx context.Context, charge Charge) error
}

// Rejection is a declined payment with a reason suitable for the audit
// record.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "payment rejected: " + r.Reason }

func reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (string, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// CardValidator is the default Validator.  Cards must pass the Luhn
// check, carry a 3 or 4 digit CVV and not be expired.  Wallet payments
// are accepted as long as the amount is positive.
type CardValidator struct {
	now func() time.Time
}

// NewCardValidator returns a CardValidator using the wall clock.
func NewCardValidator() *CardValidator {
	return &CardValidator{now: time.Now}
}

// WithClock overrides the clock used for the expiry check.
func (v *CardValidator) WithClock(now func() time.Time) *CardValidator {
	v.now = now
	return v
}

// Validate implements Validator.
func (v *CardValidator) Validate(ctx context.Context, charge Charge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if charge.AmountCents <= 0 {
		return reject("amount must be positive")
	}
	d := charge.Details
	switch strings.ToUpper(strings.TrimSpace(d.Method)) {
	case MethodWallet:
		return nil
	case MethodCard:
	default:
		return reject("unsupported payment method %q", d.Method)
	}

	number := strings.ReplaceAll(strings.ReplaceAll(d.CardNumber, " ", ""), "-", "")
	if len(number) < 12 || len(number) > 19 || !digitsOnly(number) {
		return reject("card number is malformed")
	}
	if !luhn(number) {
		return reject("card number failed checksum")
	}
	if (len(d.CVV) != 3 && len(d.CVV) != 4) || !digitsOnly(d.CVV) {
		return reject("cvv is malformed")
	}
	if d.ExpiryMonth < 1 || d.ExpiryMonth > 12 {
		return reject("expiry month is invalid")
	}
	// A card is valid through the last day of its expiry month.
	now := v.now().UTC()
	expiresAt := time.Date(d.ExpiryYear, time.Month(d.ExpiryMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expiresAt) {
		return reject("card expired")
	}
	return nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, charge Charge) error

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, charge Charge) error { return f(ctx, charge) }
