package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/payment"
	"slotbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var scenarioNow = time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC)

const browLamination = "brow-lamination"

type fixture struct {
	clock   *domain.ManualClock
	db      *database.DB
	bus     *events.EventBus
	backend *ReservationService
	drafts  *DraftService
	logger  *zerolog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := domain.NewManualClock(scenarioNow)
	bus := events.NewEventBus()
	backend := NewReservationService(db, payment.StaticVerifier{}, bus, ReservationOptions{
		HoldTTL:  models.HoldTTL,
		Location: time.UTC,
		Market:   MarketPL,
		Clock:    clock,
	}, &logger)

	draftRepo := repository.NewMemoryDraftRepository(models.DefaultDraftTTL).WithClock(clock)

	return &fixture{
		clock:   clock,
		db:      db,
		bus:     bus,
		backend: backend,
		drafts:  NewDraftService(draftRepo, clock, &logger),
		logger:  &logger,
	}
}

func (f *fixture) seedService(t *testing.T, id, name string, price int64) *models.Service {
	t.Helper()
	svc := &models.Service{
		ID:              id,
		Name:            name,
		Type:            models.ServiceBeauty,
		DurationMinutes: 60,
		Price:           price,
		Currency:        "PLN",
		IsActive:        true,
	}
	require.NoError(t, f.db.UpsertService(context.Background(), svc))
	return svc
}

func (f *fixture) seedSlot(t *testing.T, serviceID string, start time.Time) *models.AvailabilitySlot {
	t.Helper()
	slot := &models.AvailabilitySlot{
		ServiceID:  serviceID,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		ResourceID: "room-1",
	}
	require.NoError(t, f.db.CreateSlot(context.Background(), slot))
	return slot
}

func (f *fixture) wizard(sessionID string) *Wizard {
	return f.wizardWith(sessionID, f.backend)
}

func (f *fixture) wizardWith(sessionID string, backend domain.BookingBackend) *Wizard {
	holds := NewHoldManager(backend, f.clock, models.HoldTTL, f.logger)
	return NewWizard(sessionID, WizardDeps{
		Backend:      backend,
		Holds:        holds,
		Finalizer:    NewFinalizer(backend, holds, f.logger),
		Availability: NewAvailabilityClient(backend, time.UTC, f.logger),
		Drafts:       f.drafts,
		Details:      NewDetailsValidator(MarketPL),
		Clock:        f.clock,
		Logger:       f.logger,
	})
}

func (f *fixture) holdStatus(t *testing.T, holdID string) models.HoldStatus {
	t.Helper()
	hold, err := f.db.GetHold(context.Background(), holdID)
	require.NoError(t, err)
	return hold.Status
}

func validDetails() models.ClientDetails {
	return models.ClientDetails{
		Name:        "Anna Kowalska",
		Email:       "anna@example.com",
		Phone:       "600 700 800",
		AcceptTerms: true,
	}
}

func succeededPayment(amount int64) models.PaymentConfirmation {
	return models.PaymentConfirmation{
		PaymentID: "pi_3Nabc",
		Provider:  models.ProviderStripe,
		Amount:    amount,
		Currency:  "PLN",
		Status:    models.PaymentSucceeded,
	}
}

// blockingBackend parks AcquireHold until released, so tests can act while a
// call is in flight. The wrapped call ignores cancellation.
type blockingBackend struct {
	domain.BookingBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingBackend(inner domain.BookingBackend) *blockingBackend {
	return &blockingBackend{
		BookingBackend: inner,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (b *blockingBackend) AcquireHold(ctx context.Context, slotID, sessionID string) (*models.Hold, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.BookingBackend.AcquireHold(context.WithoutCancel(ctx), slotID, sessionID)
}
