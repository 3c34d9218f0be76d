package repository

import (
	"context"
	"database/sql"
	"fmt"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

type AdministrationRepository struct {
	db *database.DB
}

func NewAdministrationRepository(db *database.DB) *AdministrationRepository {
	return &AdministrationRepository{db: db}
}

const administrationColumns = `id, medication_id, service_user_id, scheduled_date, scheduled_time, administered_at,
	administered_by, quantity, status, notes, created_at`

// Create inserts an administration record and, when decrementStock is set,
// reduces the medication's stock by the recorded quantity in the same transaction.
// The returned movement carries stock before and after that decrement.
// A second record for the same slot fails with ErrConflict.
func (r *AdministrationRepository) Create(ctx context.Context, a *models.MedicationAdministration, decrementStock bool) (*StockMovement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO medication_administrations (medication_id, service_user_id, scheduled_date, scheduled_time,
			administered_at, administered_by, quantity, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`
	result, err := tx.ExecContext(ctx, query,
		a.MedicationID,
		a.ServiceUserID,
		a.ScheduledDate,
		a.ScheduledTime,
		a.AdministeredAt.UTC(),
		a.AdministeredBy,
		a.Quantity,
		a.Status,
		a.Notes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create administration: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	// the insert already holds the write lock, so nothing lands between these reads
	med, err := getMedication(ctx, tx, a.MedicationID)
	if err != nil {
		return nil, err
	}
	movement := &StockMovement{Before: med.QuantityInStock, After: med.QuantityInStock, Medication: med}

	if decrementStock && a.Quantity > 0 {
		if err := adjustStock(ctx, tx, a.MedicationID, -a.Quantity, a.AdministeredBy); err != nil {
			return nil, err
		}
		if movement.Medication, err = getMedication(ctx, tx, a.MedicationID); err != nil {
			return nil, err
		}
		movement.After = movement.Medication.QuantityInStock
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	a.ID = id
	return movement, nil
}

// GetBySlot retrieves the record for one (medication, scheduled date, scheduled time) slot
func (r *AdministrationRepository) GetBySlot(ctx context.Context, medicationID int64, scheduledDate, scheduledTime string) (*models.MedicationAdministration, error) {
	query := `SELECT ` + administrationColumns + `
		FROM medication_administrations
		WHERE medication_id = ? AND scheduled_date = ? AND scheduled_time = ?
	`
	a, err := scanAdministration(r.db.QueryRowContext(ctx, query, medicationID, scheduledDate, scheduledTime))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get administration: %w", err)
	}

	return a, nil
}

// ListByServiceUser retrieves records whose scheduled date falls within [startDate, endDate]
func (r *AdministrationRepository) ListByServiceUser(ctx context.Context, serviceUserID int64, startDate, endDate string) ([]*models.MedicationAdministration, error) {
	query := `SELECT ` + administrationColumns + `
		FROM medication_administrations
		WHERE service_user_id = ? AND scheduled_date >= ? AND scheduled_date <= ?
		ORDER BY scheduled_date, scheduled_time, id
	`
	rows, err := r.db.QueryContext(ctx, query, serviceUserID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list administrations: %w", err)
	}
	defer rows.Close()

	var administrations []*models.MedicationAdministration
	for rows.Next() {
		a, err := scanAdministration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan administration: %w", err)
		}
		administrations = append(administrations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating administrations: %w", err)
	}

	return administrations, nil
}

func scanAdministration(row rowScanner) (*models.MedicationAdministration, error) {
	var a models.MedicationAdministration
	err := row.Scan(
		&a.ID,
		&a.MedicationID,
		&a.ServiceUserID,
		&a.ScheduledDate,
		&a.ScheduledTime,
		&a.AdministeredAt,
		&a.AdministeredBy,
		&a.Quantity,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
