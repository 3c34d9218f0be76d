package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

const summaryEntryColumns = `summary_id, medication_id, service_user_id, medication_name, service_user_name,
	quantity_per_dose, doses_per_day, initial_stock, final_stock, days_remaining, totals, changes`

// SummaryStore keeps generated stock summaries
type SummaryStore struct {
	pool *pgxpool.Pool
}

func (s *SummaryStore) Create(ctx context.Context, summary *models.StockSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO stock_summaries (start_date, end_date, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		summary.StartDate, summary.EndDate, summary.CreatedBy,
	).Scan(&summary.ID, &summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("create stock summary: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range summary.Entries {
		totals, changes, err := repository.EncodeSummaryEntry(e)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO stock_summary_entries (`+summaryEntryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			summary.ID, e.MedicationID, e.ServiceUserID, e.MedicationName, e.ServiceUserName,
			e.QuantityPerDose, e.DosesPerDay, e.InitialStock, e.FinalStock, e.DaysRemaining, totals, changes)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("create stock summary entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SummaryStore) GetByID(ctx context.Context, id int64) (*models.StockSummary, error) {
	summaries, err := s.list(ctx, `WHERE id = $1`, []any{id}, "", 0)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, repository.ErrNotFound
	}
	return summaries[0], nil
}

func (s *SummaryStore) ListRange(ctx context.Context, startDate, endDate string) ([]*models.StockSummary, error) {
	return s.list(ctx, `WHERE start_date >= $1 AND end_date <= $2`, []any{startDate, endDate}, "", 0)
}

func (s *SummaryStore) ListByMedication(ctx context.Context, medicationID int64, startDate, endDate string) ([]*models.StockSummary, error) {
	return s.list(ctx, `WHERE start_date >= $1 AND end_date <= $2`, []any{startDate, endDate}, "medication_id", medicationID)
}

func (s *SummaryStore) ListByServiceUser(ctx context.Context, serviceUserID int64, startDate, endDate string) ([]*models.StockSummary, error) {
	return s.list(ctx, `WHERE start_date >= $1 AND end_date <= $2`, []any{startDate, endDate}, "service_user_id", serviceUserID)
}

func (s *SummaryStore) list(ctx context.Context, where string, args []any, filterColumn string, filterID int64) ([]*models.StockSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, start_date, end_date, created_by, created_at
		FROM stock_summaries `+where+`
		ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock summaries: %w", err)
	}

	var summaries []*models.StockSummary
	byID := make(map[int64]*models.StockSummary)
	ids := []int64{}
	for rows.Next() {
		sm := &models.StockSummary{Entries: []models.SummaryEntry{}}
		if err := rows.Scan(&sm.ID, &sm.StartDate, &sm.EndDate, &sm.CreatedBy, &sm.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stock summary: %w", err)
		}
		summaries = append(summaries, sm)
		byID[sm.ID] = sm
		ids = append(ids, sm.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock summaries: %w", err)
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	query := `SELECT ` + summaryEntryColumns + ` FROM stock_summary_entries WHERE summary_id = ANY($1)`
	entryArgs := []any{ids}
	if filterColumn != "" {
		query += ` AND ` + filterColumn + ` = $2`
		entryArgs = append(entryArgs, filterID)
	}
	query += ` ORDER BY summary_id, id`

	entryRows, err := s.pool.Query(ctx, query, entryArgs...)
	if err != nil {
		return nil, fmt.Errorf("list stock summary entries: %w", err)
	}
	defer entryRows.Close()

	for entryRows.Next() {
		var (
			summaryID       int64
			e               models.SummaryEntry
			totals, changes []byte
		)
		err := entryRows.Scan(&summaryID, &e.MedicationID, &e.ServiceUserID, &e.MedicationName, &e.ServiceUserName,
			&e.QuantityPerDose, &e.DosesPerDay, &e.InitialStock, &e.FinalStock, &e.DaysRemaining, &totals, &changes)
		if err != nil {
			return nil, fmt.Errorf("scan stock summary entry: %w", err)
		}
		if err := repository.DecodeSummaryEntry(&e, totals, changes); err != nil {
			return nil, err
		}
		byID[summaryID].Entries = append(byID[summaryID].Entries, e)
	}
	if err := entryRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock summary entries: %w", err)
	}

	if filterColumn == "" {
		return summaries, nil
	}
	kept := summaries[:0]
	for _, sm := range summaries {
		if len(sm.Entries) > 0 {
			kept = append(kept, sm)
		}
	}
	return kept, nil
}
