package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// AvailabilityClient queries open slots for a service on a calendar day.
// Responses are never cached: a slot list is stale the moment it is read.
type AvailabilityClient struct {
	backend  domain.BookingBackend
	location *time.Location
	logger   *zerolog.Logger
}

func NewAvailabilityClient(backend domain.BookingBackend, location *time.Location, logger *zerolog.Logger) *AvailabilityClient {
	if location == nil {
		location = time.UTC
	}
	return &AvailabilityClient{backend: backend, location: location, logger: orNop(logger)}
}

// ParseDate reads a YYYY-MM-DD day in the client's timezone.
func (c *AvailabilityClient) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(date), c.location)
	if err != nil {
		verr := &domain.ValidationError{}
		verr.Add("date", "must be in YYYY-MM-DD format")
		return time.Time{}, verr
	}
	return day, nil
}

// Query returns the open slots of the day ordered by start time.
func (c *AvailabilityClient) Query(ctx context.Context, serviceID, date string) ([]*models.AvailabilitySlot, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return nil, err
	}

	slots, err := c.backend.ListAvailability(ctx, serviceID, day)
	if err != nil {
		return nil, fmt.Errorf("availability for %s on %s: %w", serviceID, date, err)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})

	c.logger.Debug().
		Str("service_id", serviceID).
		Str("date", date).
		Int("slots", len(slots)).
		Msg("availability loaded")
	return slots, nil
}
