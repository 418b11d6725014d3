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

const bookingColumns = `id, service_id, service_name, slot_id, hold_id, session_id,
    client_name, client_email, client_phone, notes, accept_marketing,
    status, payment_ref, amount, currency, start_time, end_time,
    created_at, updated_at, version`

// FinalizeBooking turns the hold referenced by booking.HoldID into a confirmed
// booking and consumes the hold in the same transaction. The caller fills in
// HoldID, SessionID, Client, PaymentRef, Amount and Currency; slot, service and
// timestamps are taken from storage. Repeating a finalize that already
// succeeded with the same payment returns the stored booking.
func (db *DB) FinalizeBooking(ctx context.Context, booking *models.Booking, now time.Time) (*models.Booking, error) {
	var result *models.Booking
	var lapsed bool

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		hold, err := scanHold(tx.QueryRowContext(ctx,
			`SELECT `+holdColumns+` FROM holds WHERE id = ?`, booking.HoldID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("hold %s: %w", booking.HoldID, domain.ErrHoldNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load hold: %w", err)
		}
		if hold.SessionID != booking.SessionID {
			return fmt.Errorf("hold %s: %w", hold.ID, domain.ErrHoldNotOwned)
		}

		switch hold.Status {
		case models.HoldConsumed:
			existing, err := scanBooking(tx.QueryRowContext(ctx,
				`SELECT `+bookingColumns+` FROM bookings WHERE hold_id = ?`, hold.ID))
			if err != nil {
				return fmt.Errorf("failed to load booking for consumed hold: %w", err)
			}
			if existing.PaymentRef != booking.PaymentRef {
				return fmt.Errorf("hold %s already consumed: %w", hold.ID, domain.ErrHoldNotFound)
			}
			result = existing
			return nil
		case models.HoldReleased:
			return fmt.Errorf("hold %s was released: %w", hold.ID, domain.ErrHoldNotFound)
		case models.HoldExpired:
			return fmt.Errorf("hold %s: %w", hold.ID, domain.ErrHoldExpired)
		}

		if hold.ExpiredAt(now) {
			_, err := tx.ExecContext(ctx,
				`UPDATE holds SET status = ?, updated_at = ? WHERE id = ?`,
				string(models.HoldExpired), toMillis(now), hold.ID)
			if err != nil {
				return fmt.Errorf("failed to expire hold: %w", err)
			}
			lapsed = true
			return nil
		}

		slot, err := scanSlot(tx.QueryRowContext(ctx,
			`SELECT `+slotColumns+` FROM slots WHERE id = ?`, hold.SlotID))
		if err != nil {
			return fmt.Errorf("failed to load slot: %w", err)
		}
		service, err := scanService(tx.QueryRowContext(ctx,
			`SELECT `+serviceColumns+` FROM services WHERE id = ?`, slot.ServiceID))
		if err != nil {
			return fmt.Errorf("failed to load service: %w", err)
		}

		booked, err := liveBookingExists(ctx, tx, slot.ID)
		if err != nil {
			return err
		}
		if booked {
			return fmt.Errorf("slot %s: %w", slot.ID, domain.ErrSlotConflict)
		}
		busy, err := resourceBusy(ctx, tx, slot, now)
		if err != nil {
			return err
		}
		if busy {
			return fmt.Errorf("resource %s is taken around slot %s: %w", slot.ResourceID, slot.ID, domain.ErrSlotConflict)
		}

		b := *booking
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.ServiceID = service.ID
		b.ServiceName = service.Name
		b.SlotID = slot.ID
		b.Status = models.StatusConfirmed
		b.StartTime = slot.StartTime
		b.EndTime = slot.EndTime
		b.CreatedAt = fromMillis(toMillis(now))
		b.UpdatedAt = b.CreatedAt
		b.Version = 1

		if err := insertBooking(ctx, tx, &b); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE holds SET status = ?, updated_at = ? WHERE id = ?`,
			string(models.HoldConsumed), toMillis(now), hold.ID,
		); err != nil {
			return fmt.Errorf("failed to consume hold: %w", err)
		}

		result = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		return nil, fmt.Errorf("hold %s: %w", booking.HoldID, domain.ErrHoldExpired)
	}
	return result, nil
}

func insertBooking(ctx context.Context, tx *sql.Tx, b *models.Booking) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ServiceID, b.ServiceName, b.SlotID, b.HoldID, b.SessionID,
		b.Client.Name, b.Client.Email, b.Client.Phone, b.Client.Notes, b.Client.AcceptMarketing,
		string(b.Status), b.PaymentRef, b.Amount, b.Currency,
		toMillis(b.StartTime), toMillis(b.EndTime),
		toMillis(b.CreatedAt), toMillis(b.UpdatedAt), b.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("hold %s already consumed: %w", b.HoldID, domain.ErrSlotConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListBookings returns bookings whose start falls in [from, to).
func (db *DB) ListBookings(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE start_time >= ? AND start_time < ?
         ORDER BY start_time, created_at`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateBookingStatusWithVersion sets status and stamps updated_at with now,
// provided the stored version still matches.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id string, version int64, status models.BookingStatus, now time.Time) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, string(status), toMillis(now), id, version)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	if _, err := db.GetBooking(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("booking %s version %d: %w", id, version, domain.ErrConcurrentModification)
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                      models.Booking
		status                 string
		start, end             int64
		createdAt, updatedAtMs int64
	)
	err := row.Scan(
		&b.ID, &b.ServiceID, &b.ServiceName, &b.SlotID, &b.HoldID, &b.SessionID,
		&b.Client.Name, &b.Client.Email, &b.Client.Phone, &b.Client.Notes, &b.Client.AcceptMarketing,
		&status, &b.PaymentRef, &b.Amount, &b.Currency, &start, &end,
		&createdAt, &updatedAtMs, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	b.Client.AcceptTerms = true
	b.StartTime = fromMillis(start)
	b.EndTime = fromMillis(end)
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAtMs)
	return &b, nil
}
