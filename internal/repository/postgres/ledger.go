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

const dailyStockColumns = `id, medication_id, service_user_id, date, stock_level, days_remaining,
	from_pharmacy, quantity_administered, leaving_home, returning_home, returned_to_pharmacy, lost, damaged, other,
	created_at, updated_at`

// LedgerStore maintains the per-medication per-day stock ledger
type LedgerStore struct {
	pool *pgxpool.Pool
}

func (s *LedgerStore) AppendChange(ctx context.Context, medicationID int64, date string, change *models.StockChange, category string) (*models.DailyStock, error) {
	column, ok := repository.TotalColumn(category)
	if !ok {
		return nil, fmt.Errorf("unknown ledger category %q", category)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock keeps concurrent appends from reading a stale snapshot
	m, err := scanMedication(tx.QueryRow(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE id = $1 FOR UPDATE`, medicationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}

	if _, err := upsertSnapshot(ctx, tx, m, date, false); err != nil {
		return nil, err
	}

	var stockID int64
	if err := tx.QueryRow(ctx,
		`SELECT id FROM daily_stocks WHERE medication_id = $1 AND date = $2`, medicationID, date,
	).Scan(&stockID); err != nil {
		return nil, fmt.Errorf("get daily stock: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO daily_stock_changes (daily_stock_id, change_type, quantity, note, timestamp, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		stockID, change.Type, change.Quantity, change.Note, change.Timestamp, change.UpdatedBy,
	).Scan(&change.ID)
	if err != nil {
		return nil, fmt.Errorf("append stock change: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE daily_stocks
		SET %[1]s = %[1]s + $1, stock_level = $2, days_remaining = $3, updated_at = NOW()
		WHERE id = $4`, column)
	if _, err := tx.Exec(ctx, query, change.Quantity, m.QuantityInStock, m.DaysRemaining(), stockID); err != nil {
		return nil, fmt.Errorf("update daily stock totals: %w", err)
	}

	stock, err := loadDailyStock(ctx, tx, `WHERE id = $1`, stockID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return stock, nil
}

func (s *LedgerStore) RefreshSnapshots(ctx context.Context, date string, excludeMedicationID int64) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meds, err := listMedications(ctx, tx, `SELECT `+medicationColumns+` FROM medications WHERE is_active ORDER BY id`)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range meds {
		if m.ID == excludeMedicationID {
			continue
		}
		if _, err := upsertSnapshot(ctx, tx, m, date, true); err != nil {
			return 0, err
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return count, nil
}

func (s *LedgerStore) EnsureEntries(ctx context.Context, date string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meds, err := listMedications(ctx, tx, `SELECT `+medicationColumns+` FROM medications WHERE is_active ORDER BY id`)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, m := range meds {
		inserted, err := upsertSnapshot(ctx, tx, m, date, false)
		if err != nil {
			return 0, err
		}
		if inserted {
			created++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return created, nil
}

func (s *LedgerStore) Get(ctx context.Context, medicationID int64, date string) (*models.DailyStock, error) {
	return loadDailyStock(ctx, s.pool, `WHERE medication_id = $1 AND date = $2`, medicationID, date)
}

func (s *LedgerStore) ListRange(ctx context.Context, medicationID int64, startDate, endDate string) ([]*models.DailyStock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dailyStockColumns+`
		FROM daily_stocks
		WHERE medication_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date`,
		medicationID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("list daily stock: %w", err)
	}

	var out []*models.DailyStock
	for rows.Next() {
		d, err := scanDailyStock(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan daily stock: %w", err)
		}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stock: %w", err)
	}

	for _, d := range out {
		if d.Changes, err = loadChanges(ctx, s.pool, d.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *LedgerStore) LatestOnOrBefore(ctx context.Context, medicationID int64, date string) (*models.DailyStock, error) {
	return loadDailyStock(ctx, s.pool, `WHERE medication_id = $1 AND date <= $2 ORDER BY date DESC LIMIT 1`, medicationID, date)
}

func upsertSnapshot(ctx context.Context, q queryable, m *models.Medication, date string, refresh bool) (bool, error) {
	onConflict := `DO NOTHING`
	if refresh {
		onConflict = `DO UPDATE SET stock_level = EXCLUDED.stock_level, days_remaining = EXCLUDED.days_remaining, updated_at = NOW()`
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO daily_stocks (medication_id, service_user_id, date, stock_level, days_remaining)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (medication_id, date) `+onConflict,
		m.ID, m.ServiceUserID, date, m.QuantityInStock, m.DaysRemaining())
	if err != nil {
		return false, fmt.Errorf("upsert daily stock: %w", err)
	}
	return !refresh && tag.RowsAffected() > 0, nil
}

func loadDailyStock(ctx context.Context, q queryable, where string, args ...any) (*models.DailyStock, error) {
	d, err := scanDailyStock(q.QueryRow(ctx, `SELECT `+dailyStockColumns+` FROM daily_stocks `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stock: %w", err)
	}
	if d.Changes, err = loadChanges(ctx, q, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func loadChanges(ctx context.Context, q queryable, dailyStockID int64) ([]models.StockChange, error) {
	rows, err := q.Query(ctx, `
		SELECT id, change_type, quantity, note, timestamp, updated_by
		FROM daily_stock_changes
		WHERE daily_stock_id = $1
		ORDER BY id`, dailyStockID)
	if err != nil {
		return nil, fmt.Errorf("load stock changes: %w", err)
	}
	defer rows.Close()

	changes := []models.StockChange{}
	for rows.Next() {
		var c models.StockChange
		var note *string
		if err := rows.Scan(&c.ID, &c.Type, &c.Quantity, &note, &c.Timestamp, &c.UpdatedBy); err != nil {
			return nil, fmt.Errorf("scan stock change: %w", err)
		}
		c.Note = nullString(note)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func scanDailyStock(row pgx.Row) (*models.DailyStock, error) {
	var d models.DailyStock
	totals := make([]float64, len(models.Categories))
	err := row.Scan(
		&d.ID, &d.MedicationID, &d.ServiceUserID, &d.Date, &d.StockLevel, &d.DaysRemaining,
		&totals[0], &totals[1], &totals[2], &totals[3], &totals[4], &totals[5], &totals[6], &totals[7],
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Column order matches models.Categories
	d.Totals = models.NewStockTotals()
	for i, category := range models.Categories {
		d.Totals[category] = totals[i]
	}
	return &d, nil
}
