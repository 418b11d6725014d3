// Package payment checks provider confirmations against the amount owed for a
// held service before a booking is finalized.
package payment

import (
	"context"
	"fmt"
	"strings"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

// StaticVerifier trusts the confirmation as reported by the client.
type StaticVerifier struct{}

var _ domain.PaymentVerifier = StaticVerifier{}

func (StaticVerifier) Verify(_ context.Context, payment models.PaymentConfirmation, amount int64, currency string) error {
	if !payment.Succeeded() {
		return failed(payment.PaymentID, payment.Status, payment.FailureCode)
	}
	return match(amount, currency, payment.Amount, payment.Currency)
}

func failed(paymentID, status, code string) error {
	if code != "" {
		return fmt.Errorf("payment %s is %s (%s): %w", paymentID, status, code, domain.ErrPaymentFailed)
	}
	return fmt.Errorf("payment %s is %s: %w", paymentID, status, domain.ErrPaymentFailed)
}

func match(expectedAmount int64, expectedCurrency string, gotAmount int64, gotCurrency string) error {
	if gotAmount == expectedAmount && strings.EqualFold(gotCurrency, expectedCurrency) {
		return nil
	}
	return &domain.PaymentMismatchError{
		ExpectedAmount:   expectedAmount,
		ExpectedCurrency: strings.ToUpper(expectedCurrency),
		GotAmount:        gotAmount,
		GotCurrency:      strings.ToUpper(gotCurrency),
	}
}
