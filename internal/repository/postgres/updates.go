package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mar-engine/internal/models"
)

// UpdateStore is the append-only medication audit log
type UpdateStore struct {
	pool *pgxpool.Pool
}

const updateColumns = `id, medication_id, medication_name, quantity_in_stock, quantity_per_dose, doses_per_day,
	days_remaining, updated_by, update_type, category, changes, notes, timestamp`

func (s *UpdateStore) Create(ctx context.Context, u *models.MedicationUpdate) error {
	changes := u.Changes
	if changes == nil {
		changes = map[string]models.FieldChange{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO medication_updates (medication_id, medication_name, quantity_in_stock, quantity_per_dose, doses_per_day,
			days_remaining, updated_by, update_type, category, changes, notes, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		u.Medication.MedicationID, u.Medication.MedicationName, u.Medication.QuantityInStock,
		u.Medication.QuantityPerDose, u.Medication.DosesPerDay, u.Medication.DaysRemaining,
		u.UpdatedBy, u.UpdateType, u.Category, changes, u.Notes, u.Timestamp,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("create medication update: %w", err)
	}
	return nil
}

func (s *UpdateStore) List(ctx context.Context, limit, offset int) ([]*models.MedicationUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+updateColumns+`
		FROM medication_updates
		ORDER BY timestamp DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list medication updates: %w", err)
	}
	return scanUpdates(rows)
}

func (s *UpdateStore) ListByMedication(ctx context.Context, medicationID int64, limit, offset int) ([]*models.MedicationUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+updateColumns+`
		FROM medication_updates
		WHERE medication_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2 OFFSET $3`, medicationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list medication updates: %w", err)
	}
	return scanUpdates(rows)
}

func (s *UpdateStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM medication_updates WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge medication updates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUpdates(rows pgx.Rows) ([]*models.MedicationUpdate, error) {
	defer rows.Close()

	var out []*models.MedicationUpdate
	for rows.Next() {
		var u models.MedicationUpdate
		var notes *string
		err := rows.Scan(
			&u.ID, &u.Medication.MedicationID, &u.Medication.MedicationName, &u.Medication.QuantityInStock,
			&u.Medication.QuantityPerDose, &u.Medication.DosesPerDay, &u.Medication.DaysRemaining,
			&u.UpdatedBy, &u.UpdateType, &u.Category, &u.Changes, &notes, &u.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan medication update: %w", err)
		}
		u.Notes = nullString(notes)
		out = append(out, &u)
	}
	return out, rows.Err()
}
