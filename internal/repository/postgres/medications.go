package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

const medicationColumns = `id, service_user_id, name, dosage_amount, dosage_unit, quantity_in_stock, quantity_per_dose,
	doses_per_day, frequency, administration_times, start_date, end_date, prescribed_by, instructions, is_active,
	updated_by, created_at, updated_at`

// MedicationStore reads medications and applies atomic stock edits
type MedicationStore struct {
	pool *pgxpool.Pool
}

func (s *MedicationStore) Create(ctx context.Context, m *models.Medication) error {
	times := m.AdministrationTimes
	if times == nil {
		times = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO medications (service_user_id, name, dosage_amount, dosage_unit, quantity_in_stock, quantity_per_dose,
			doses_per_day, frequency, administration_times, start_date, end_date, prescribed_by, instructions, is_active, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		m.ServiceUserID, m.Name, m.Dosage.Amount, m.Dosage.Unit, m.QuantityInStock, m.QuantityPerDose,
		m.DosesPerDay, m.Frequency, times, m.StartDate, m.EndDate,
		m.PrescribedBy, m.Instructions, m.IsActive, m.UpdatedBy,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create medication: %w", err)
	}
	return nil
}

func (s *MedicationStore) GetByID(ctx context.Context, id int64) (*models.Medication, error) {
	return getMedication(ctx, s.pool, id)
}

func (s *MedicationStore) ListActive(ctx context.Context) ([]*models.Medication, error) {
	return listMedications(ctx, s.pool, `SELECT `+medicationColumns+` FROM medications WHERE is_active ORDER BY id`)
}

func (s *MedicationStore) ListActiveByServiceUser(ctx context.Context, serviceUserID int64) ([]*models.Medication, error) {
	return listMedications(ctx, s.pool,
		`SELECT `+medicationColumns+` FROM medications WHERE service_user_id = $1 AND is_active ORDER BY name, id`,
		serviceUserID)
}

func (s *MedicationStore) Update(ctx context.Context, m *models.Medication) error {
	times := m.AdministrationTimes
	if times == nil {
		times = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE medications
		SET service_user_id = $1, name = $2, dosage_amount = $3, dosage_unit = $4, quantity_per_dose = $5,
			doses_per_day = $6, frequency = $7, administration_times = $8, start_date = $9, end_date = $10,
			prescribed_by = $11, instructions = $12, is_active = $13, updated_by = $14, updated_at = NOW()
		WHERE id = $15`,
		m.ServiceUserID, m.Name, m.Dosage.Amount, m.Dosage.Unit, m.QuantityPerDose,
		m.DosesPerDay, m.Frequency, times, m.StartDate, m.EndDate,
		m.PrescribedBy, m.Instructions, m.IsActive, m.UpdatedBy, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *MedicationStore) AdjustStock(ctx context.Context, id int64, delta float64, userID int64) (*models.Medication, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := adjustStock(ctx, tx, id, delta, userID); err != nil {
		return nil, err
	}
	m, err := getMedication(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

func (s *MedicationStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM medications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func adjustStock(ctx context.Context, q queryable, id int64, delta float64, userID int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE medications
		SET quantity_in_stock = quantity_in_stock + $1, updated_by = $2, updated_at = NOW()
		WHERE id = $3 AND quantity_in_stock + $1 >= 0`,
		delta, userID, id)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM medications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check medication: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrInsufficientStock
}

func getMedication(ctx context.Context, q queryable, id int64) (*models.Medication, error) {
	m, err := scanMedication(q.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func listMedications(ctx context.Context, q queryable, query string, args ...any) ([]*models.Medication, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()

	var out []*models.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMedication(row pgx.Row) (*models.Medication, error) {
	var m models.Medication
	var endDate *time.Time
	var instructions *string
	var updatedBy *int64
	err := row.Scan(
		&m.ID, &m.ServiceUserID, &m.Name, &m.Dosage.Amount, &m.Dosage.Unit, &m.QuantityInStock, &m.QuantityPerDose,
		&m.DosesPerDay, &m.Frequency, &m.AdministrationTimes, &m.StartDate, &endDate, &m.PrescribedBy, &instructions,
		&m.IsActive, &updatedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.EndDate = nullTime(endDate)
	m.Instructions = nullString(instructions)
	m.UpdatedBy = nullInt(updatedBy)
	return &m, nil
}
