package service

import (
	"context"
	"fmt"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

const defaultResource = "default"

// CatalogService keeps services in storage in line with configuration and
// generates bookable slots from opening hours.
type CatalogService struct {
	repo     domain.Repository
	schedule config.ScheduleConfig
	location *time.Location
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewCatalogService(repo domain.Repository, schedule config.ScheduleConfig, location *time.Location, clock domain.Clock, logger *zerolog.Logger) *CatalogService {
	if location == nil {
		location = time.UTC
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &CatalogService{
		repo:     repo,
		schedule: schedule,
		location: location,
		clock:    clock,
		logger:   orNop(logger),
	}
}

// SyncServices upserts the configured services and deactivates the ones that
// were removed from configuration.
func (c *CatalogService) SyncServices(ctx context.Context, services []models.Service) error {
	keep := make([]string, 0, len(services))
	for i := range services {
		svc := services[i]
		if err := c.repo.UpsertService(ctx, &svc); err != nil {
			return fmt.Errorf("sync service %s: %w", svc.ID, err)
		}
		keep = append(keep, svc.ID)
	}
	if err := c.repo.DeactivateMissingServices(ctx, keep); err != nil {
		return fmt.Errorf("sync services: %w", err)
	}

	c.logger.Info().Int("count", len(services)).Msg("service catalog synced")
	return nil
}

// GenerateSlots creates the missing slots of every active service for the
// configured number of days ahead. It returns how many slots were created.
func (c *CatalogService) GenerateSlots(ctx context.Context) (int, error) {
	services, err := c.repo.ListServices(ctx, true)
	if err != nil {
		return 0, err
	}

	now := c.clock.Now().In(c.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
	days := c.schedule.DaysAhead
	if days <= 0 {
		days = models.DefaultSlotDays
	}

	created := 0
	for d := 0; d < days; d++ {
		day := today.AddDate(0, 0, d)
		if !c.openOn(day.Weekday()) {
			continue
		}
		for _, svc := range services {
			n, err := c.generateDay(ctx, svc, day, now)
			if err != nil {
				return created, err
			}
			created += n
		}
	}

	c.logger.Info().Int("created", created).Int("days", days).Msg("slots generated")
	return created, nil
}

func (c *CatalogService) generateDay(ctx context.Context, svc *models.Service, day, now time.Time) (int, error) {
	duration := svc.Duration()
	if duration <= 0 {
		return 0, nil
	}
	step := time.Duration(c.schedule.SlotStepMinutes) * time.Minute
	if step <= 0 {
		step = duration
	}

	open := day.Add(time.Duration(c.schedule.OpeningHour) * time.Hour)
	closing := day.Add(time.Duration(c.schedule.ClosingHour) * time.Hour)

	created := 0
	for _, resource := range c.resources() {
		for start := open; !start.Add(duration).After(closing); start = start.Add(step) {
			if !start.After(now) {
				continue
			}
			exists, err := c.repo.SlotExists(ctx, svc.ID, resource, start)
			if err != nil {
				return created, err
			}
			if exists {
				continue
			}
			slot := &models.AvailabilitySlot{
				ServiceID:  svc.ID,
				StartTime:  start,
				EndTime:    start.Add(duration),
				ResourceID: resource,
			}
			if err := c.repo.CreateSlot(ctx, slot); err != nil {
				return created, fmt.Errorf("create slot for %s at %s: %w", svc.ID, start.Format(time.RFC3339), err)
			}
			created++
		}
	}
	return created, nil
}

func (c *CatalogService) openOn(day time.Weekday) bool {
	for _, wd := range c.schedule.Weekdays {
		if time.Weekday(wd%7) == day {
			return true
		}
	}
	return false
}

func (c *CatalogService) resources() []string {
	if len(c.schedule.Resources) == 0 {
		return []string{defaultResource}
	}
	return c.schedule.Resources
}
