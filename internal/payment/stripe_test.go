package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStripeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/v1/payment_intents/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
			return
		}

		switch strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/") {
		case "pi_ok":
			_, _ = w.Write([]byte(`{"id":"pi_ok","object":"payment_intent","amount":18000,"currency":"pln","status":"succeeded"}`))
		case "pi_short":
			_, _ = w.Write([]byte(`{"id":"pi_short","object":"payment_intent","amount":9000,"currency":"pln","status":"succeeded"}`))
		case "pi_declined":
			_, _ = w.Write([]byte(`{"id":"pi_declined","object":"payment_intent","amount":18000,"currency":"pln","status":"requires_payment_method","last_payment_error":{"code":"card_declined","type":"card_error"}}`))
		case "pi_boom":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`))
		}
	}))
}

func TestStripeVerifier(t *testing.T) {
	server := newStripeServer(t)
	defer server.Close()

	logger := zerolog.Nop()
	v := NewStripeVerifier("sk_test_123", &logger, WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx := context.Background()

	verify := func(id string) error {
		return v.Verify(ctx, models.PaymentConfirmation{PaymentID: id, Provider: models.ProviderStripe}, 18000, "PLN")
	}

	t.Run("Succeeded", func(t *testing.T) {
		assert.NoError(t, verify("pi_ok"))
	})

	t.Run("AmountMismatch", func(t *testing.T) {
		err := verify("pi_short")
		var mismatch *domain.PaymentMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, int64(9000), mismatch.GotAmount)
		assert.Equal(t, "PLN", mismatch.GotCurrency)
	})

	t.Run("Declined", func(t *testing.T) {
		err := verify("pi_declined")
		assert.ErrorIs(t, err, domain.ErrPaymentFailed)
		assert.Contains(t, err.Error(), "card_declined")
	})

	t.Run("UnknownIntent", func(t *testing.T) {
		assert.ErrorIs(t, verify("pi_missing"), domain.ErrPaymentFailed)
	})

	t.Run("ServerError", func(t *testing.T) {
		err := verify("pi_boom")
		assert.ErrorIs(t, err, domain.ErrNetwork)
		assert.True(t, domain.Retryable(err))
	})

	t.Run("MissingID", func(t *testing.T) {
		assert.ErrorIs(t, verify(""), domain.ErrPaymentFailed)
	})
}

func TestStripeVerifier_Unreachable(t *testing.T) {
	server := newStripeServer(t)
	url := server.URL
	server.Close()

	v := NewStripeVerifier("sk_test_123", nil, WithBaseURL(url))
	err := v.Verify(context.Background(), models.PaymentConfirmation{PaymentID: "pi_ok"}, 18000, "PLN")
	assert.ErrorIs(t, err, domain.ErrNetwork)
}
