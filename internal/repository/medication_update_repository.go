package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

// MedicationUpdateRepository is the append-only audit log of medication mutations
type MedicationUpdateRepository struct {
	db *database.DB
}

func NewMedicationUpdateRepository(db *database.DB) *MedicationUpdateRepository {
	return &MedicationUpdateRepository{db: db}
}

// Create appends an audit entry
func (r *MedicationUpdateRepository) Create(ctx context.Context, u *models.MedicationUpdate) error {
	changes, err := encodeChanges(u.Changes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO medication_updates (medication_id, medication_name, quantity_in_stock, quantity_per_dose, doses_per_day,
			days_remaining, updated_by, update_type, category, changes, notes, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		u.Medication.MedicationID,
		u.Medication.MedicationName,
		u.Medication.QuantityInStock,
		u.Medication.QuantityPerDose,
		u.Medication.DosesPerDay,
		u.Medication.DaysRemaining,
		u.UpdatedBy,
		u.UpdateType,
		u.Category,
		changes,
		u.Notes,
		u.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create medication update: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	u.ID = id
	return nil
}

// List retrieves audit entries, newest first
func (r *MedicationUpdateRepository) List(ctx context.Context, limit, offset int) ([]*models.MedicationUpdate, error) {
	query := `
		SELECT id, medication_id, medication_name, quantity_in_stock, quantity_per_dose, doses_per_day, days_remaining,
			updated_by, update_type, category, changes, notes, timestamp
		FROM medication_updates
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list medication updates: %w", err)
	}
	defer rows.Close()

	return scanMedicationUpdates(rows)
}

// ListByMedication retrieves audit entries for one medication, newest first
func (r *MedicationUpdateRepository) ListByMedication(ctx context.Context, medicationID int64, limit, offset int) ([]*models.MedicationUpdate, error) {
	query := `
		SELECT id, medication_id, medication_name, quantity_in_stock, quantity_per_dose, doses_per_day, days_remaining,
			updated_by, update_type, category, changes, notes, timestamp
		FROM medication_updates
		WHERE medication_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, medicationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list medication updates: %w", err)
	}
	defer rows.Close()

	return scanMedicationUpdates(rows)
}

// PurgeBefore deletes audit entries older than before. Admin only.
func (r *MedicationUpdateRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM medication_updates WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge medication updates: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows, nil
}

func scanMedicationUpdates(rows *sql.Rows) ([]*models.MedicationUpdate, error) {
	var updates []*models.MedicationUpdate
	for rows.Next() {
		var u models.MedicationUpdate
		var changes string
		err := rows.Scan(
			&u.ID,
			&u.Medication.MedicationID,
			&u.Medication.MedicationName,
			&u.Medication.QuantityInStock,
			&u.Medication.QuantityPerDose,
			&u.Medication.DosesPerDay,
			&u.Medication.DaysRemaining,
			&u.UpdatedBy,
			&u.UpdateType,
			&u.Category,
			&changes,
			&u.Notes,
			&u.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medication update: %w", err)
		}

		u.Changes, err = decodeChanges([]byte(changes))
		if err != nil {
			return nil, err
		}
		updates = append(updates, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating medication updates: %w", err)
	}

	return updates, nil
}

func encodeChanges(changes map[string]models.FieldChange) (string, error) {
	if changes == nil {
		changes = map[string]models.FieldChange{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal changes: %w", err)
	}
	return string(data), nil
}

func decodeChanges(data []byte) (map[string]models.FieldChange, error) {
	changes := map[string]models.FieldChange{}
	if len(data) == 0 {
		return changes, nil
	}
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
	}
	return changes, nil
}
