package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

type MedicationRepository struct {
	db *database.DB
}

func NewMedicationRepository(db *database.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

const medicationColumns = `id, service_user_id, name, dosage_amount, dosage_unit, quantity_in_stock, quantity_per_dose,
	doses_per_day, frequency, administration_times, start_date, end_date, prescribed_by, instructions, is_active,
	updated_by, created_at, updated_at`

// Create creates a new medication
func (r *MedicationRepository) Create(ctx context.Context, medication *models.Medication) error {
	times, err := encodeTimes(medication.AdministrationTimes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO medications (service_user_id, name, dosage_amount, dosage_unit, quantity_in_stock, quantity_per_dose,
			doses_per_day, frequency, administration_times, start_date, end_date, prescribed_by, instructions, is_active,
			updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`
	result, err := r.db.ExecContext(ctx, query,
		medication.ServiceUserID,
		medication.Name,
		medication.Dosage.Amount,
		medication.Dosage.Unit,
		medication.QuantityInStock,
		medication.QuantityPerDose,
		medication.DosesPerDay,
		medication.Frequency,
		times,
		medication.StartDate.Format(models.DateLayout),
		nullDate(medication.EndDate),
		medication.PrescribedBy,
		medication.Instructions,
		medication.IsActive,
		medication.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create medication: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	medication.ID = id
	return nil
}

// GetByID retrieves a medication by ID
func (r *MedicationRepository) GetByID(ctx context.Context, id int64) (*models.Medication, error) {
	return getMedication(ctx, r.db, id)
}

// ListActive retrieves every active medication
func (r *MedicationRepository) ListActive(ctx context.Context) ([]*models.Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE is_active = 1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active medications: %w", err)
	}
	defer rows.Close()

	return scanMedications(rows)
}

// ListActiveByServiceUser retrieves the active medications of one service user
func (r *MedicationRepository) ListActiveByServiceUser(ctx context.Context, serviceUserID int64) ([]*models.Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE service_user_id = ? AND is_active = 1 ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, query, serviceUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications for service user: %w", err)
	}
	defer rows.Close()

	return scanMedications(rows)
}

// Update writes every field except quantity in stock, which only moves through AdjustStock
func (r *MedicationRepository) Update(ctx context.Context, medication *models.Medication) error {
	times, err := encodeTimes(medication.AdministrationTimes)
	if err != nil {
		return err
	}

	query := `
		UPDATE medications
		SET service_user_id = ?, name = ?, dosage_amount = ?, dosage_unit = ?, quantity_per_dose = ?, doses_per_day = ?,
			frequency = ?, administration_times = ?, start_date = ?, end_date = ?, prescribed_by = ?, instructions = ?,
			is_active = ?, updated_by = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		medication.ServiceUserID,
		medication.Name,
		medication.Dosage.Amount,
		medication.Dosage.Unit,
		medication.QuantityPerDose,
		medication.DosesPerDay,
		medication.Frequency,
		times,
		medication.StartDate.Format(models.DateLayout),
		nullDate(medication.EndDate),
		medication.PrescribedBy,
		medication.Instructions,
		medication.IsActive,
		medication.UpdatedBy,
		medication.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// AdjustStock atomically adds delta to the stock and returns the updated medication.
// A delta that would take stock below zero fails with ErrInsufficientStock.
func (r *MedicationRepository) AdjustStock(ctx context.Context, id int64, delta float64, userID int64) (*models.Medication, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := adjustStock(ctx, tx, id, delta, userID); err != nil {
		return nil, err
	}

	medication, err := getMedication(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return medication, nil
}

// Delete permanently deletes a medication with its administrations and ledger
func (r *MedicationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete medication: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getMedication(ctx context.Context, q queryer, id int64) (*models.Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE id = ?`
	medication, err := scanMedication(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}
	return medication, nil
}

// adjustStock applies a guarded increment inside the caller's transaction
func adjustStock(ctx context.Context, q queryer, id int64, delta float64, userID int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE medications
		SET quantity_in_stock = quantity_in_stock + ?, updated_by = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity_in_stock + ? >= 0
	`, delta, userID, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM medications WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check medication: %w", err)
	}
	return ErrInsufficientStock
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMedication(row rowScanner) (*models.Medication, error) {
	var m models.Medication
	var times string
	err := row.Scan(
		&m.ID,
		&m.ServiceUserID,
		&m.Name,
		&m.Dosage.Amount,
		&m.Dosage.Unit,
		&m.QuantityInStock,
		&m.QuantityPerDose,
		&m.DosesPerDay,
		&m.Frequency,
		&times,
		&m.StartDate,
		&m.EndDate,
		&m.PrescribedBy,
		&m.Instructions,
		&m.IsActive,
		&m.UpdatedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.AdministrationTimes, err = decodeTimes(times)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMedications(rows *sql.Rows) ([]*models.Medication, error) {
	var medications []*models.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		medications = append(medications, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating medications: %w", err)
	}

	return medications, nil
}

func encodeTimes(times []string) (string, error) {
	if times == nil {
		times = []string{}
	}
	data, err := json.Marshal(times)
	if err != nil {
		return "", fmt.Errorf("failed to encode administration times: %w", err)
	}
	return string(data), nil
}

func decodeTimes(data string) ([]string, error) {
	var times []string
	if data == "" {
		return times, nil
	}
	if err := json.Unmarshal([]byte(data), &times); err != nil {
		return nil, fmt.Errorf("failed to decode administration times: %w", err)
	}
	return times, nil
}
