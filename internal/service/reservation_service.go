package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/payment"

	"github.com/rs/zerolog"
)

// ReservationService is the authoritative booking backend over a Repository.
type ReservationService struct {
	repo     domain.Repository
	verifier domain.PaymentVerifier
	eventBus domain.EventPublisher
	details  *DetailsValidator
	clock    domain.Clock
	holdTTL  time.Duration
	location *time.Location
	logger   *zerolog.Logger
}

var _ domain.BookingBackend = (*ReservationService)(nil)

type ReservationOptions struct {
	HoldTTL  time.Duration
	Location *time.Location
	Market   string
	Clock    domain.Clock
}

func NewReservationService(repo domain.Repository, verifier domain.PaymentVerifier, eventBus domain.EventPublisher, opts ReservationOptions, logger *zerolog.Logger) *ReservationService {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = models.HoldTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if verifier == nil {
		verifier = payment.StaticVerifier{}
	}
	return &ReservationService{
		repo:     repo,
		verifier: verifier,
		eventBus: eventBus,
		details:  NewDetailsValidator(opts.Market),
		clock:    opts.Clock,
		holdTTL:  opts.HoldTTL,
		location: opts.Location,
		logger:   orNop(logger),
	}
}

func (s *ReservationService) ListServices(ctx context.Context) ([]*models.Service, error) {
	return s.repo.ListServices(ctx, true)
}

func (s *ReservationService) GetService(ctx context.Context, id string) (*models.Service, error) {
	svc, err := s.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrInvalidService)
	}
	return svc, nil
}

// ListAvailability returns open slots of the calendar day containing date,
// in the configured timezone.
func (s *ReservationService) ListAvailability(ctx context.Context, serviceID string, date time.Time) ([]*models.AvailabilitySlot, error) {
	if _, err := s.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	d := date.In(s.location)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.location)
	to := from.AddDate(0, 0, 1)
	return s.repo.ListOpenSlots(ctx, serviceID, from, to, s.clock.Now())
}

func (s *ReservationService) AcquireHold(ctx context.Context, slotID, sessionID string) (*models.Hold, error) {
	verr := &domain.ValidationError{}
	if slotID == "" {
		verr.Add("slot_id", "is required")
	}
	if sessionID == "" {
		verr.Add("session_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hold, err := s.repo.AcquireHold(ctx, slotID, sessionID, s.clock.Now(), s.holdTTL)
	if err != nil {
		if errors.Is(err, domain.ErrSlotConflict) {
			metrics.IncHold(metrics.HoldConflict)
		}
		s.logger.Debug().Err(err).Str("slot_id", slotID).Str("session_id", sessionID).Msg("hold refused")
		return nil, err
	}

	metrics.IncHold(metrics.HoldAcquired)
	s.publishHold(events.EventHoldAcquired, hold)
	return hold, nil
}

// ReleaseHold is idempotent: releasing an unknown or settled hold succeeds.
func (s *ReservationService) ReleaseHold(ctx context.Context, holdID string) error {
	changed, err := s.repo.ReleaseHold(ctx, holdID, s.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	metrics.IncHold(metrics.HoldReleased)
	released := &models.Hold{ID: holdID, Status: models.HoldReleased}
	if h, err := s.repo.GetHold(ctx, holdID); err == nil {
		released = h
	}
	s.publishHold(events.EventHoldReleased, released)
	return nil
}

// FinalizeBooking verifies the payment against the held service and turns the
// hold into a confirmed booking.
func (s *ReservationService) FinalizeBooking(ctx context.Context, req models.FinalizeRequest) (*models.Booking, error) {
	verr := &domain.ValidationError{}
	if req.HoldID == "" {
		verr.Add("hold_id", "is required")
	}
	if req.SessionID == "" {
		verr.Add("session_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	client, err := s.details.Validate(req.Client)
	if err != nil {
		return nil, err
	}

	hold, err := s.repo.GetHold(ctx, req.HoldID)
	if err != nil {
		return nil, err
	}
	if hold.SessionID != req.SessionID {
		return nil, fmt.Errorf("hold %s: %w", hold.ID, domain.ErrHoldNotOwned)
	}

	now := s.clock.Now()
	slot, err := s.repo.GetSlot(ctx, hold.SlotID)
	if err != nil {
		return nil, err
	}
	svc, err := s.repo.GetService(ctx, slot.ServiceID)
	if err != nil {
		return nil, err
	}

	// Payment is only checked against a live hold; otherwise the repository
	// reports the hold's state.
	if hold.Status == models.HoldActive && !hold.ExpiredAt(now) {
		if err := s.verifier.Verify(ctx, req.Payment, svc.Price, svc.Currency); err != nil {
			metrics.IncFinalize(domain.ErrorCode(err))
			s.logger.Warn().Err(err).Str("hold_id", hold.ID).Str("payment_id", req.Payment.PaymentID).Msg("payment rejected")
			return nil, err
		}
	}

	booking, err := s.repo.FinalizeBooking(ctx, &models.Booking{
		HoldID:     req.HoldID,
		SessionID:  req.SessionID,
		Client:     client,
		PaymentRef: req.Payment.PaymentID,
		Amount:     svc.Price,
		Currency:   svc.Currency,
	}, now)
	if err != nil {
		metrics.IncFinalize(domain.ErrorCode(err))
		if errors.Is(err, domain.ErrHoldExpired) {
			metrics.IncHold(metrics.HoldExpired)
		}
		return nil, err
	}

	metrics.IncFinalize("OK")
	if hold.Status == models.HoldActive {
		metrics.IncHold(metrics.HoldConsumed)
		s.publishBooking(events.EventBookingFinalized, booking)
	}
	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("service_id", booking.ServiceID).
		Time("start", booking.StartTime).
		Msg("booking finalized")
	return booking, nil
}

func (s *ReservationService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *ReservationService) ListBookings(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	return s.repo.ListBookings(ctx, from, to)
}

// CancelBooking frees the booking's slot. version must match the stored one.
func (s *ReservationService) CancelBooking(ctx context.Context, id string, version int64) (*models.Booking, error) {
	if err := s.repo.UpdateBookingStatusWithVersion(ctx, id, version, models.StatusCancelled, s.clock.Now()); err != nil {
		return nil, err
	}
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishBooking(events.EventBookingCancelled, booking)
	return booking, nil
}

// SweepExpiredHolds expires every lapsed hold and returns how many changed.
func (s *ReservationService) SweepExpiredHolds(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireHolds(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	metrics.AddHold(metrics.HoldExpired, len(expired))
	for _, h := range expired {
		s.publishHold(events.EventHoldExpired, h)
	}
	return len(expired), nil
}

func (s *ReservationService) publishHold(eventType string, h *models.Hold) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.PublishJSON(eventType, events.HoldEventPayload{
		HoldID:    h.ID,
		SlotID:    h.SlotID,
		SessionID: h.SessionID,
		Status:    string(h.Status),
		ExpiresAt: h.ExpiresAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (s *ReservationService) publishBooking(eventType string, b *models.Booking) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.PublishJSON(eventType, events.BookingEventPayload{
		BookingID:   b.ID,
		ServiceID:   b.ServiceID,
		ServiceName: b.ServiceName,
		SlotID:      b.SlotID,
		HoldID:      b.HoldID,
		ClientName:  b.Client.Name,
		Status:      string(b.Status),
		Amount:      b.Amount,
		Currency:    b.Currency,
		StartTime:   b.StartTime,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
