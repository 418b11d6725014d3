package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// StripeVerifier looks the PaymentIntent up in Stripe instead of trusting the
// amounts reported by the client.
type StripeVerifier struct {
	client paymentintent.Client
	logger *zerolog.Logger
}

var _ domain.PaymentVerifier = (*StripeVerifier)(nil)

type StripeOption func(cfg *stripe.BackendConfig)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.URL = stripe.String(url)
	}
}

func WithHTTPClient(client *http.Client) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.HTTPClient = client
	}
}

func NewStripeVerifier(secretKey string, logger *zerolog.Logger, opts ...StripeOption) *StripeVerifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		LeveledLogger:     zerologAdapter{logger: logger},
		MaxNetworkRetries: stripe.Int64(0),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &StripeVerifier{
		client: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
			Key: secretKey,
		},
		logger: logger,
	}
}

func (v *StripeVerifier) Verify(ctx context.Context, payment models.PaymentConfirmation, amount int64, currency string) error {
	if payment.PaymentID == "" {
		return fmt.Errorf("missing payment intent id: %w", domain.ErrPaymentFailed)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := v.client.Get(payment.PaymentID, params)
	if err != nil {
		return v.classify(payment.PaymentID, err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		code := ""
		if intent.LastPaymentError != nil {
			code = string(intent.LastPaymentError.Code)
		}
		return failed(intent.ID, string(intent.Status), code)
	}

	if err := match(amount, currency, intent.Amount, string(intent.Currency)); err != nil {
		v.logger.Warn().
			Str("payment_id", intent.ID).
			Int64("expected", amount).
			Int64("got", intent.Amount).
			Msg("payment intent does not match held service")
		return err
	}
	return nil
}

func (v *StripeVerifier) classify(paymentID string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 {
		return fmt.Errorf("payment %s rejected by stripe (%s): %w", paymentID, stripeErr.Code, domain.ErrPaymentFailed)
	}
	return &domain.NetworkError{Op: "stripe.paymentintent.get", Err: err}
}

// zerologAdapter routes stripe-go diagnostics into the service logger.
type zerologAdapter struct {
	logger *zerolog.Logger
}

func (a zerologAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (a zerologAdapter) Infof(format string, v ...interface{}) {
	a.logger.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (a zerologAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (a zerologAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error().Str("component", "stripe").Msgf(format, v...)
}
