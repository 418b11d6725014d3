package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/google/uuid"
)

const slotColumns = `id, service_id, start_time, end_time, resource_id`

func (db *DB) CreateSlot(ctx context.Context, slot *models.AvailabilitySlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	query := `INSERT INTO slots (` + slotColumns + `) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		slot.ID,
		slot.ServiceID,
		toMillis(slot.StartTime),
		toMillis(slot.EndTime),
		slot.ResourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (db *DB) GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	slot, err := scanSlot(db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %s: %w", id, domain.ErrSlotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

func (db *DB) SlotExists(ctx context.Context, serviceID, resourceID string, start time.Time) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM slots WHERE service_id = ? AND resource_id = ? AND start_time = ?`
	if err := db.QueryRowContext(ctx, query, serviceID, resourceID, toMillis(start)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return count > 0, nil
}

// takenClause matches a slot row aliased o that is actively held or carries
// a live booking. Parameters: now, then the live booking statuses.
const takenClause = `(EXISTS (
                        SELECT 1 FROM holds h
                        WHERE h.slot_id = o.id AND h.status = 'active' AND h.expires_at > ?)
                    OR EXISTS (
                        SELECT 1 FROM bookings b
                        WHERE b.slot_id = o.id AND b.status IN (?, ?, ?)))`

// resourceBusy reports whether another slot sharing the resource overlaps
// slot's [start, end) and is held or booked. Slots without a resource never
// collide.
func resourceBusy(ctx context.Context, tx *sql.Tx, slot *models.AvailabilitySlot, now time.Time) (bool, error) {
	if slot.ResourceID == "" {
		return false, nil
	}
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slots o
         WHERE o.id <> ? AND o.resource_id = ?
           AND o.start_time < ? AND o.end_time > ?
           AND `+takenClause,
		slot.ID,
		slot.ResourceID,
		toMillis(slot.EndTime),
		toMillis(slot.StartTime),
		toMillis(now),
		string(models.StatusPending),
		string(models.StatusConfirmed),
		string(models.StatusRescheduled),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check resource %s: %w", slot.ResourceID, err)
	}
	return count > 0, nil
}

// ListOpenSlots returns slots of a service starting in [from, to) and after now
// that are neither actively held nor booked, and whose resource is not taken
// by an overlapping slot of any service.
func (db *DB) ListOpenSlots(ctx context.Context, serviceID string, from, to, now time.Time) ([]*models.AvailabilitySlot, error) {
	if from.Before(now) {
		from = now
	}
	query := `SELECT s.id, s.service_id, s.start_time, s.end_time, s.resource_id
              FROM slots s
              WHERE s.service_id = ? AND s.start_time >= ? AND s.start_time < ?
                AND NOT EXISTS (
                    SELECT 1 FROM holds h
                    WHERE h.slot_id = s.id AND h.status = ? AND h.expires_at > ?)
                AND NOT EXISTS (
                    SELECT 1 FROM bookings b
                    WHERE b.slot_id = s.id AND b.status IN (?, ?, ?))
                AND NOT EXISTS (
                    SELECT 1 FROM slots o
                    WHERE o.id <> s.id AND s.resource_id <> '' AND o.resource_id = s.resource_id
                      AND o.start_time < s.end_time AND o.end_time > s.start_time
                      AND ` + takenClause + `)
              ORDER BY s.start_time, s.resource_id`

	rows, err := db.QueryContext(ctx, query,
		serviceID,
		toMillis(from),
		toMillis(to),
		string(models.HoldActive),
		toMillis(now),
		string(models.StatusPending),
		string(models.StatusConfirmed),
		string(models.StatusRescheduled),
		toMillis(now),
		string(models.StatusPending),
		string(models.StatusConfirmed),
		string(models.StatusRescheduled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open slots: %w", err)
	}
	defer rows.Close()

	slots := make([]*models.AvailabilitySlot, 0)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if !slot.StartTime.After(now) {
			continue
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func scanSlot(row rowScanner) (*models.AvailabilitySlot, error) {
	var (
		s          models.AvailabilitySlot
		start, end int64
	)
	if err := row.Scan(&s.ID, &s.ServiceID, &start, &end, &s.ResourceID); err != nil {
		return nil, err
	}
	s.StartTime = fromMillis(start)
	s.EndTime = fromMillis(end)
	return &s, nil
}
