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

const holdColumns = `id, slot_id, session_id, status, created_at, expires_at`

// AcquireHold claims a slot for a session until now+ttl. Lapsed holds on the
// slot are expired first so they never block a new claim. A session asking
// again for a slot it already holds gets its existing hold back. The claim is
// refused while an overlapping slot on the same resource is held or booked.
func (db *DB) AcquireHold(ctx context.Context, slotID, sessionID string, now time.Time, ttl time.Duration) (*models.Hold, error) {
	var hold *models.Hold
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		slot, err := scanSlot(tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, slotID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("slot %s: %w", slotID, domain.ErrSlotNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load slot: %w", err)
		}
		if !slot.StartTime.After(now) {
			return &domain.SlotUnavailableError{SlotID: slotID}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE holds SET status = ?, updated_at = ? WHERE slot_id = ? AND status = ? AND expires_at <= ?`,
			string(models.HoldExpired), toMillis(now), slotID, string(models.HoldActive), toMillis(now),
		); err != nil {
			return fmt.Errorf("failed to expire lapsed holds: %w", err)
		}

		booked, err := liveBookingExists(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if booked {
			return fmt.Errorf("slot %s is booked: %w", slotID, domain.ErrSlotConflict)
		}

		existing, err := scanHold(tx.QueryRowContext(ctx,
			`SELECT `+holdColumns+` FROM holds WHERE slot_id = ? AND status = ?`, slotID, string(models.HoldActive)))
		switch {
		case err == nil:
			if existing.SessionID == sessionID {
				hold = existing
				return nil
			}
			return fmt.Errorf("slot %s is held: %w", slotID, domain.ErrSlotConflict)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to load active hold: %w", err)
		}

		busy, err := resourceBusy(ctx, tx, slot, now)
		if err != nil {
			return err
		}
		if busy {
			return fmt.Errorf("resource %s is taken around slot %s: %w", slot.ResourceID, slotID, domain.ErrSlotConflict)
		}

		hold = &models.Hold{
			ID:        uuid.NewString(),
			SlotID:    slotID,
			SessionID: sessionID,
			Status:    models.HoldActive,
			CreatedAt: fromMillis(toMillis(now)),
			ExpiresAt: fromMillis(toMillis(now.Add(ttl))),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO holds (`+holdColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			hold.ID, hold.SlotID, hold.SessionID, string(hold.Status),
			toMillis(hold.CreatedAt), toMillis(hold.ExpiresAt), toMillis(now),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("slot %s is held: %w", slotID, domain.ErrSlotConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

func (db *DB) GetHold(ctx context.Context, id string) (*models.Hold, error) {
	hold, err := scanHold(db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hold %s: %w", id, domain.ErrHoldNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return hold, nil
}

// ReleaseHold returns an active hold to the pool. It reports whether anything
// changed; unknown, released, consumed or expired holds are not an error.
func (db *DB) ReleaseHold(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE holds SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.HoldReleased), toMillis(now), id, string(models.HoldActive),
	)
	if err != nil {
		return false, fmt.Errorf("failed to release hold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to release hold: %w", err)
	}
	return n > 0, nil
}

// ExpireHolds flips every lapsed active hold to expired and returns them.
func (db *DB) ExpireHolds(ctx context.Context, now time.Time) ([]*models.Hold, error) {
	var expired []*models.Hold
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+holdColumns+` FROM holds WHERE status = ? AND expires_at <= ?`,
			string(models.HoldActive), toMillis(now))
		if err != nil {
			return fmt.Errorf("failed to select lapsed holds: %w", err)
		}
		for rows.Next() {
			hold, err := scanHold(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan hold: %w", err)
			}
			hold.Status = models.HoldExpired
			expired = append(expired, hold)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE holds SET status = ?, updated_at = ? WHERE status = ? AND expires_at <= ?`,
			string(models.HoldExpired), toMillis(now), string(models.HoldActive), toMillis(now))
		if err != nil {
			return fmt.Errorf("failed to expire holds: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func liveBookingExists(ctx context.Context, tx *sql.Tx, slotID string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = ? AND status IN (?, ?, ?)`,
		slotID,
		string(models.StatusPending),
		string(models.StatusConfirmed),
		string(models.StatusRescheduled),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check bookings: %w", err)
	}
	return count > 0, nil
}

func scanHold(row rowScanner) (*models.Hold, error) {
	var (
		h                  models.Hold
		status             string
		created, expiresAt int64
	)
	if err := row.Scan(&h.ID, &h.SlotID, &h.SessionID, &status, &created, &expiresAt); err != nil {
		return nil, err
	}
	h.Status = models.HoldStatus(status)
	h.CreatedAt = fromMillis(created)
	h.ExpiresAt = fromMillis(expiresAt)
	return &h, nil
}
