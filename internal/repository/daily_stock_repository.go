package repository

import (
	"context"
	"database/sql"
	"fmt"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

// totalColumns maps a ledger category to its column on daily_stocks
var totalColumns = map[string]string{
	models.CategoryFromPharmacy:         "from_pharmacy",
	models.CategoryQuantityAdministered: "quantity_administered",
	models.CategoryLeavingHome:          "leaving_home",
	models.CategoryReturningHome:        "returning_home",
	models.CategoryReturnedToPharmacy:   "returned_to_pharmacy",
	models.CategoryLost:                 "lost",
	models.CategoryDamaged:              "damaged",
	models.CategoryOther:                "other",
}

// TotalColumn returns the daily_stocks column holding a category total
func TotalColumn(category string) (string, bool) {
	column, ok := totalColumns[category]
	return column, ok
}

const dailyStockColumns = `id, medication_id, service_user_id, date, stock_level, days_remaining,
	from_pharmacy, quantity_administered, leaving_home, returning_home, returned_to_pharmacy, lost, damaged, other,
	created_at, updated_at`

type DailyStockRepository struct {
	db *database.DB
}

func NewDailyStockRepository(db *database.DB) *DailyStockRepository {
	return &DailyStockRepository{db: db}
}

// AppendChange appends a change to the medication's ledger for date, creating the
// entry with zeroed totals when absent, increments the category total and
// refreshes the snapshot from the medication's current stock, all in one transaction.
func (r *DailyStockRepository) AppendChange(ctx context.Context, medicationID int64, date string, change *models.StockChange, category string) (*models.DailyStock, error) {
	column, ok := totalColumns[category]
	if !ok {
		return nil, fmt.Errorf("unknown ledger category %q", category)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	medication, err := getMedication(ctx, tx, medicationID)
	if err != nil {
		return nil, err
	}

	if _, err := upsertSnapshot(ctx, tx, medication, date, false); err != nil {
		return nil, err
	}

	var stockID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM daily_stocks WHERE medication_id = ? AND date = ?`, medicationID, date,
	).Scan(&stockID)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stock: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO daily_stock_changes (daily_stock_id, change_type, quantity, note, timestamp, updated_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stockID, change.Type, change.Quantity, change.Note, change.Timestamp.UTC(), change.UpdatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to append stock change: %w", err)
	}
	change.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE daily_stocks
		SET %[1]s = %[1]s + ?, stock_level = ?, days_remaining = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, column)
	_, err = tx.ExecContext(ctx, query, change.Quantity, medication.QuantityInStock, medication.DaysRemaining(), stockID)
	if err != nil {
		return nil, fmt.Errorf("failed to update daily stock totals: %w", err)
	}

	stock, err := loadDailyStock(ctx, tx, `WHERE id = ?`, stockID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return stock, nil
}

// RefreshSnapshots re-snapshots stock level and days remaining on the date's
// ledger entry of every active medication except excludeMedicationID,
// creating missing entries. Returns the number of entries touched.
func (r *DailyStockRepository) RefreshSnapshots(ctx context.Context, date string, excludeMedicationID int64) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	medications, err := listActiveMedications(ctx, tx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range medications {
		if m.ID == excludeMedicationID {
			continue
		}
		if _, err := upsertSnapshot(ctx, tx, m, date, true); err != nil {
			return 0, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return count, nil
}

// EnsureEntries creates the date's ledger entry for every active medication
// lacking one. Returns the number created.
func (r *DailyStockRepository) EnsureEntries(ctx context.Context, date string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	medications, err := listActiveMedications(ctx, tx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, m := range medications {
		inserted, err := upsertSnapshot(ctx, tx, m, date, false)
		if err != nil {
			return 0, err
		}
		if inserted {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return created, nil
}

// Get retrieves one medication's ledger entry for a date
func (r *DailyStockRepository) Get(ctx context.Context, medicationID int64, date string) (*models.DailyStock, error) {
	return loadDailyStock(ctx, r.db, `WHERE medication_id = ? AND date = ?`, medicationID, date)
}

// ListRange retrieves ledger entries between startDate and endDate inclusive, oldest first
func (r *DailyStockRepository) ListRange(ctx context.Context, medicationID int64, startDate, endDate string) ([]*models.DailyStock, error) {
	query := `SELECT ` + dailyStockColumns + `
		FROM daily_stocks
		WHERE medication_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`
	rows, err := r.db.QueryContext(ctx, query, medicationID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stock: %w", err)
	}

	var stocks []*models.DailyStock
	for rows.Next() {
		s, err := scanDailyStock(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan daily stock: %w", err)
		}
		stocks = append(stocks, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily stock: %w", err)
	}

	for _, s := range stocks {
		s.Changes, err = loadChanges(ctx, r.db, s.ID)
		if err != nil {
			return nil, err
		}
	}

	return stocks, nil
}

// LatestOnOrBefore retrieves the most recent ledger entry dated on or before date
func (r *DailyStockRepository) LatestOnOrBefore(ctx context.Context, medicationID int64, date string) (*models.DailyStock, error) {
	return loadDailyStock(ctx, r.db, `WHERE medication_id = ? AND date <= ? ORDER BY date DESC LIMIT 1`, medicationID, date)
}

// upsertSnapshot inserts the date's entry for m with zeroed totals. When the
// entry exists and refresh is set, its snapshot fields are overwritten instead.
// Reports whether a new entry was inserted.
func upsertSnapshot(ctx context.Context, q queryer, m *models.Medication, date string, refresh bool) (bool, error) {
	onConflict := `DO NOTHING`
	if refresh {
		onConflict = `DO UPDATE SET stock_level = excluded.stock_level, days_remaining = excluded.days_remaining, updated_at = CURRENT_TIMESTAMP`
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO daily_stocks (medication_id, service_user_id, date, stock_level, days_remaining, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(medication_id, date) `+onConflict,
		m.ID, m.ServiceUserID, date, m.QuantityInStock, m.DaysRemaining(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert daily stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return !refresh && rows > 0, nil
}

func listActiveMedications(ctx context.Context, q queryer) ([]*models.Medication, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+medicationColumns+` FROM medications WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active medications: %w", err)
	}
	defer rows.Close()

	return scanMedications(rows)
}

func loadDailyStock(ctx context.Context, q queryer, where string, args ...interface{}) (*models.DailyStock, error) {
	query := `SELECT ` + dailyStockColumns + ` FROM daily_stocks ` + where
	stock, err := scanDailyStock(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stock: %w", err)
	}

	stock.Changes, err = loadChanges(ctx, q, stock.ID)
	if err != nil {
		return nil, err
	}
	return stock, nil
}

func loadChanges(ctx context.Context, q queryer, dailyStockID int64) ([]models.StockChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, change_type, quantity, note, timestamp, updated_by
		FROM daily_stock_changes
		WHERE daily_stock_id = ?
		ORDER BY id
	`, dailyStockID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock changes: %w", err)
	}
	defer rows.Close()

	changes := []models.StockChange{}
	for rows.Next() {
		var c models.StockChange
		if err := rows.Scan(&c.ID, &c.Type, &c.Quantity, &c.Note, &c.Timestamp, &c.UpdatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan stock change: %w", err)
		}
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock changes: %w", err)
	}

	return changes, nil
}

func scanDailyStock(row rowScanner) (*models.DailyStock, error) {
	var s models.DailyStock
	var fromPharmacy, administered, leaving, returning, returned, lost, damaged, other float64
	err := row.Scan(
		&s.ID,
		&s.MedicationID,
		&s.ServiceUserID,
		&s.Date,
		&s.StockLevel,
		&s.DaysRemaining,
		&fromPharmacy,
		&administered,
		&leaving,
		&returning,
		&returned,
		&lost,
		&damaged,
		&other,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Totals = models.StockTotals{
		models.CategoryFromPharmacy:         fromPharmacy,
		models.CategoryQuantityAdministered: administered,
		models.CategoryLeavingHome:          leaving,
		models.CategoryReturningHome:        returning,
		models.CategoryReturnedToPharmacy:   returned,
		models.CategoryLost:                 lost,
		models.CategoryDamaged:              damaged,
		models.CategoryOther:                other,
	}
	return &s, nil
}
