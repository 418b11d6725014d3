package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

const serviceColumns = `id, name, type, duration_minutes, price, currency, sort_order, is_active, created_at, updated_at`

func (db *DB) UpsertService(ctx context.Context, service *models.Service) error {
	now := time.Now()
	query := `INSERT INTO services (` + serviceColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  type = excluded.type,
                  duration_minutes = excluded.duration_minutes,
                  price = excluded.price,
                  currency = excluded.currency,
                  sort_order = excluded.sort_order,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query,
		service.ID,
		service.Name,
		string(service.Type),
		service.DurationMinutes,
		service.Price,
		service.Currency,
		service.SortOrder,
		service.IsActive,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service %s: %w", service.ID, err)
	}
	service.UpdatedAt = now.UTC()
	return nil
}

func (db *DB) GetService(ctx context.Context, id string) (*models.Service, error) {
	row := db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	service, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrInvalidService)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return service, nil
}

func (db *DB) ListServices(ctx context.Context, activeOnly bool) ([]*models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY sort_order, name`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

// DeactivateMissingServices marks every service not listed in keep as inactive.
func (db *DB) DeactivateMissingServices(ctx context.Context, keep []string) error {
	query := `UPDATE services SET is_active = 0, updated_at = ? WHERE is_active = 1`
	args := []interface{}{toMillis(time.Now())}
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to deactivate services: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.logger.Info().Int64("count", n).Msg("deactivated services missing from catalog")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (*models.Service, error) {
	var (
		s         models.Service
		typ       string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&s.ID, &s.Name, &typ, &s.DurationMinutes, &s.Price, &s.Currency,
		&s.SortOrder, &s.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Type = models.ServiceType(typ)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}
