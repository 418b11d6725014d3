package domain

import (
	"context"
	"time"

	"slotbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingBackend is the authoritative reservation API. The wizard consumes it
// either in-process (ReservationService) or over HTTP (api.Client).
type BookingBackend interface {
	ListServices(ctx context.Context) ([]*models.Service, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListAvailability(ctx context.Context, serviceID string, date time.Time) ([]*models.AvailabilitySlot, error)
	AcquireHold(ctx context.Context, slotID, sessionID string) (*models.Hold, error)
	ReleaseHold(ctx context.Context, holdID string) error
	FinalizeBooking(ctx context.Context, req models.FinalizeRequest) (*models.Booking, error)
}

type Repository interface {
	UpsertService(ctx context.Context, service *models.Service) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]*models.Service, error)
	DeactivateMissingServices(ctx context.Context, keep []string) error
	CreateSlot(ctx context.Context, slot *models.AvailabilitySlot) error
	GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	SlotExists(ctx context.Context, serviceID, resourceID string, start time.Time) (bool, error)
	ListOpenSlots(ctx context.Context, serviceID string, from, to, now time.Time) ([]*models.AvailabilitySlot, error)
	AcquireHold(ctx context.Context, slotID, sessionID string, now time.Time, ttl time.Duration) (*models.Hold, error)
	GetHold(ctx context.Context, id string) (*models.Hold, error)
	ReleaseHold(ctx context.Context, id string, now time.Time) (bool, error)
	ExpireHolds(ctx context.Context, now time.Time) ([]*models.Hold, error)
	FinalizeBooking(ctx context.Context, booking *models.Booking, now time.Time) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id string, version int64, status models.BookingStatus, now time.Time) error
}

type DraftRepository interface {
	SaveDraft(ctx context.Context, draft *models.BookingDraft) error
	LoadDraft(ctx context.Context, sessionID string) (*models.BookingDraft, error)
	ClearDraft(ctx context.Context, sessionID string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type DraftStore interface {
	Save(ctx context.Context, draft *models.BookingDraft) error
	Load(ctx context.Context, sessionID string) (*models.BookingDraft, error)
	Clear(ctx context.Context, sessionID string) error
}

// PaymentVerifier checks a provider confirmation against the amount owed.
type PaymentVerifier interface {
	Verify(ctx context.Context, payment models.PaymentConfirmation, amount int64, currency string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// HoldReleaser accepts best-effort releases that must outlive the caller.
type HoldReleaser interface {
	Enqueue(holdID string, deadline time.Time) bool
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}
