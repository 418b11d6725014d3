package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/models"
	"slotbook/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_WizardOverHTTP(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	slot := f.seed(t)
	client := NewClient(f.ts.URL, f.logger)
	ctx := context.Background()

	holds := service.NewHoldManager(client, f.clock, models.HoldTTL, f.logger)
	wizard := service.NewWizard("tg:42", service.WizardDeps{
		Backend:      client,
		Holds:        holds,
		Finalizer:    service.NewFinalizer(client, holds, f.logger),
		Availability: service.NewAvailabilityClient(client, time.UTC, f.logger),
		Drafts:       client.Drafts(),
		Details:      service.NewDetailsValidator(service.MarketPL),
		Clock:        f.clock,
		Logger:       f.logger,
	})

	svc, err := wizard.SelectService(ctx, browLamination)
	require.NoError(t, err)
	slots, err := wizard.LoadSlots(ctx, "2024-12-15")
	require.NoError(t, err)
	require.Len(t, slots, 1)

	hold, err := wizard.SelectSlot(ctx, slot.ID)
	require.NoError(t, err)
	require.NoError(t, wizard.SubmitDetails(ctx, models.ClientDetails{
		Name: "Anna Kowalska", Email: "anna@example.com", Phone: "600700800", AcceptTerms: true,
	}))

	draft, err := client.Drafts().Load(ctx, "tg:42")
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, models.StepPayment, draft.Step)
	assert.Equal(t, hold.ID, draft.HoldID)

	f.clock.Advance(2 * time.Minute)
	booking, err := wizard.ConfirmPayment(ctx, finalizeBody("", "", svc.Price).Payment)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, wizard.Step())
	assert.Equal(t, hold.ID, booking.HoldID)

	stored, err := f.db.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldConsumed, stored.Status)

	draft, err = client.Drafts().Load(ctx, "tg:42")
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestClient_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	slot := f.seed(t)
	client := NewClient(f.ts.URL, f.logger)
	ctx := context.Background()

	hold, err := client.AcquireHold(ctx, slot.ID, "web:a")
	require.NoError(t, err)

	_, err = client.AcquireHold(ctx, slot.ID, "web:b")
	assert.ErrorIs(t, err, domain.ErrSlotConflict)
	assert.Equal(t, domain.CodeSlotConflict, domain.ErrorCode(err))

	_, err = client.FinalizeBooking(ctx, finalizeBody(hold.ID, "web:a", 1))
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)

	req := finalizeBody(hold.ID, "web:a", 15000)
	req.Client.Phone = "12"
	_, err = client.FinalizeBooking(ctx, req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("phone"))

	f.clock.Advance(6 * time.Minute)
	_, err = client.FinalizeBooking(ctx, finalizeBody(hold.ID, "web:a", 15000))
	assert.ErrorIs(t, err, domain.ErrHoldExpired)

	assert.NoError(t, client.ReleaseHold(ctx, hold.ID))

	_, err = client.GetService(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInvalidService)
}

func TestClient_NetworkErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("ServerError", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(ts.Close)

		_, err := NewClient(ts.URL, nil).ListServices(ctx)
		var nerr *domain.NetworkError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "list services", nerr.Op)
		assert.True(t, domain.Retryable(err))
	})

	t.Run("Unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		addr := ts.URL
		ts.Close()

		err := NewClient(addr, nil).ReleaseHold(ctx, "hold-1")
		assert.ErrorIs(t, err, domain.ErrNetwork)
	})

	t.Run("Timeout", func(t *testing.T) {
		block := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-block
		}))
		t.Cleanup(ts.Close)
		t.Cleanup(func() { close(block) })

		client := NewClient(ts.URL, nil, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
		_, err := client.AcquireHold(ctx, "slot", "s")
		assert.ErrorIs(t, err, domain.ErrNetwork)
	})
}

func TestClient_ServiceCache(t *testing.T) {
	var calls atomic.Int32
	f := newAPIFixture(t, config.APIConfig{})
	f.seed(t)
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		f.server.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(counting.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := NewClient(counting.URL, nil, WithServiceCache(rdb, time.Minute))
	ctx := context.Background()

	first, err := client.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := client.ListServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)

	svc, err := client.GetService(ctx, browLamination)
	require.NoError(t, err)
	assert.Equal(t, "Brow Lamination", svc.Name)
	assert.Equal(t, int32(1), calls.Load(), "catalog served from cache")

	_, err = client.ListAvailability(ctx, browLamination, testNow)
	require.NoError(t, err)
	_, err = client.ListAvailability(ctx, browLamination, testNow)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "availability is never cached")

	mr.FastForward(2 * time.Minute)
	_, err = client.ListServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_APIKey(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: "secret"}},
		},
	})
	f.seed(t)
	ctx := context.Background()

	_, err := NewClient(f.ts.URL, nil).ListServices(ctx)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusUnauthorized, remote.Status)

	services, err := NewClient(f.ts.URL, nil, WithAPIKey("x-api-key", "secret")).ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, services, 1)
}

func TestClient_ExportBookings(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.seed(t)
	client := NewClient(f.ts.URL, nil)
	ctx := context.Background()

	data, err := client.ExportBookings(ctx, testNow, testNow.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]), "xlsx is a zip archive")

	_, err = client.ExportBookings(ctx, testNow, testNow.AddDate(0, 0, -1))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("to"))
}
