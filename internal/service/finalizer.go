package service

import (
	"context"
	"errors"
	"fmt"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// Finalizer converts a held slot plus a payment confirmation into a booking.
type Finalizer struct {
	backend domain.BookingBackend
	holds   *HoldManager
	logger  *zerolog.Logger
}

func NewFinalizer(backend domain.BookingBackend, holds *HoldManager, logger *zerolog.Logger) *Finalizer {
	return &Finalizer{backend: backend, holds: holds, logger: orNop(logger)}
}

// Finalize fails fast with domain.ErrHoldExpired when the hold has lapsed
// locally. Server-side expiry and payment mismatches are passed through.
func (f *Finalizer) Finalize(ctx context.Context, req models.FinalizeRequest) (*models.Booking, error) {
	if req.HoldID == "" {
		return nil, fmt.Errorf("finalize without hold: %w", domain.ErrHoldNotFound)
	}
	if f.holds.Lapsed(req.HoldID) {
		f.holds.Forget(req.HoldID)
		return nil, fmt.Errorf("hold %s lapsed before finalize: %w", req.HoldID, domain.ErrHoldExpired)
	}

	booking, err := f.backend.FinalizeBooking(ctx, req)
	if err != nil {
		if holdGone(err) {
			f.holds.Forget(req.HoldID)
		}
		f.logger.Warn().Err(err).Str("hold_id", req.HoldID).Str("code", domain.ErrorCode(err)).Msg("finalize failed")
		return nil, err
	}

	f.holds.Forget(req.HoldID)
	f.logger.Info().Str("booking_id", booking.ID).Str("hold_id", req.HoldID).Msg("booking finalized")
	return booking, nil
}

func holdGone(err error) bool {
	return errors.Is(err, domain.ErrHoldExpired) ||
		errors.Is(err, domain.ErrHoldNotFound) ||
		errors.Is(err, domain.ErrHoldNotOwned)
}
