package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

const administrationColumns = `id, medication_id, service_user_id, scheduled_date, scheduled_time, administered_at,
	administered_by, quantity, status, notes, created_at`

// AdministrationStore persists administration records
type AdministrationStore struct {
	pool *pgxpool.Pool
}

func (s *AdministrationStore) Create(ctx context.Context, a *models.MedicationAdministration, decrementStock bool) (*repository.StockMovement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO medication_administrations (medication_id, service_user_id, scheduled_date, scheduled_time,
			administered_at, administered_by, quantity, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		a.MedicationID, a.ServiceUserID, a.ScheduledDate, a.ScheduledTime,
		a.AdministeredAt, a.AdministeredBy, a.Quantity, a.Status, a.Notes,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("create administration: %w", err)
	}

	var before float64
	err = tx.QueryRow(ctx, `SELECT quantity_in_stock FROM medications WHERE id = $1 FOR UPDATE`, a.MedicationID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock medication: %w", err)
	}

	if decrementStock && a.Quantity > 0 {
		if err := adjustStock(ctx, tx, a.MedicationID, -a.Quantity, a.AdministeredBy); err != nil {
			return nil, err
		}
	}

	med, err := getMedication(ctx, tx, a.MedicationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &repository.StockMovement{Before: before, After: med.QuantityInStock, Medication: med}, nil
}

func (s *AdministrationStore) GetBySlot(ctx context.Context, medicationID int64, scheduledDate, scheduledTime string) (*models.MedicationAdministration, error) {
	a, err := scanAdministration(s.pool.QueryRow(ctx, `
		SELECT `+administrationColumns+`
		FROM medication_administrations
		WHERE medication_id = $1 AND scheduled_date = $2 AND scheduled_time = $3`,
		medicationID, scheduledDate, scheduledTime))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get administration: %w", err)
	}
	return a, nil
}

func (s *AdministrationStore) ListByServiceUser(ctx context.Context, serviceUserID int64, startDate, endDate string) ([]*models.MedicationAdministration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+administrationColumns+`
		FROM medication_administrations
		WHERE service_user_id = $1 AND scheduled_date >= $2 AND scheduled_date <= $3
		ORDER BY scheduled_date, scheduled_time, id`,
		serviceUserID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("list administrations: %w", err)
	}
	defer rows.Close()

	var out []*models.MedicationAdministration
	for rows.Next() {
		a, err := scanAdministration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan administration: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAdministration(row pgx.Row) (*models.MedicationAdministration, error) {
	var a models.MedicationAdministration
	var notes *string
	err := row.Scan(
		&a.ID, &a.MedicationID, &a.ServiceUserID, &a.ScheduledDate, &a.ScheduledTime, &a.AdministeredAt,
		&a.AdministeredBy, &a.Quantity, &a.Status, &notes, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Notes = nullString(notes)
	return &a, nil
}
