package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

const summaryEntryColumns = `summary_id, medication_id, service_user_id, medication_name, service_user_name,
	quantity_per_dose, doses_per_day, initial_stock, final_stock, days_remaining, totals, changes`

// SummaryRepository stores generated stock summaries and their per-medication entries
type SummaryRepository struct {
	db *database.DB
}

func NewSummaryRepository(db *database.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Create stores a summary with all of its entries in one transaction
func (r *SummaryRepository) Create(ctx context.Context, summary *models.StockSummary) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO stock_summaries (start_date, end_date, created_by, created_at)
		VALUES (?, ?, ?, ?)
	`, summary.StartDate, summary.EndDate, summary.CreatedBy, summary.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create stock summary: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, e := range summary.Entries {
		totals, changes, err := EncodeSummaryEntry(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_summary_entries (`+summaryEntryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, e.MedicationID, e.ServiceUserID, e.MedicationName, e.ServiceUserName,
			e.QuantityPerDose, e.DosesPerDay, e.InitialStock, e.FinalStock, e.DaysRemaining, totals, changes)
		if err != nil {
			return fmt.Errorf("failed to create stock summary entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	summary.ID = id
	return nil
}

// GetByID retrieves one summary with every entry
func (r *SummaryRepository) GetByID(ctx context.Context, id int64) (*models.StockSummary, error) {
	summaries, err := r.list(ctx, `WHERE id = ?`, []interface{}{id}, "", 0)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrNotFound
	}
	return summaries[0], nil
}

// ListRange retrieves summaries whose period lies within [startDate, endDate], newest first
func (r *SummaryRepository) ListRange(ctx context.Context, startDate, endDate string) ([]*models.StockSummary, error) {
	return r.list(ctx, `WHERE start_date >= ? AND end_date <= ?`, []interface{}{startDate, endDate}, "", 0)
}

// ListByMedication is ListRange narrowed to summaries covering one medication,
// each carrying only that medication's entry
func (r *SummaryRepository) ListByMedication(ctx context.Context, medicationID int64, startDate, endDate string) ([]*models.StockSummary, error) {
	return r.list(ctx, `WHERE start_date >= ? AND end_date <= ?`, []interface{}{startDate, endDate}, "medication_id", medicationID)
}

// ListByServiceUser is ListRange narrowed to one service user's entries
func (r *SummaryRepository) ListByServiceUser(ctx context.Context, serviceUserID int64, startDate, endDate string) ([]*models.StockSummary, error) {
	return r.list(ctx, `WHERE start_date >= ? AND end_date <= ?`, []interface{}{startDate, endDate}, "service_user_id", serviceUserID)
}

// list loads the matching summaries, then their entries. With a filter column,
// entries are narrowed to filterID and summaries left without entries are dropped.
func (r *SummaryRepository) list(ctx context.Context, where string, args []interface{}, filterColumn string, filterID int64) ([]*models.StockSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_date, end_date, created_by, created_at
		FROM stock_summaries `+where+`
		ORDER BY created_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock summaries: %w", err)
	}

	var summaries []*models.StockSummary
	byID := make(map[int64]*models.StockSummary)
	for rows.Next() {
		s := &models.StockSummary{Entries: []models.SummaryEntry{}}
		if err := rows.Scan(&s.ID, &s.StartDate, &s.EndDate, &s.CreatedBy, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stock summary: %w", err)
		}
		summaries = append(summaries, s)
		byID[s.ID] = s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock summaries: %w", err)
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]string, 0, len(summaries))
	entryArgs := make([]interface{}, 0, len(summaries)+1)
	for _, s := range summaries {
		ids = append(ids, "?")
		entryArgs = append(entryArgs, s.ID)
	}
	query := `SELECT ` + summaryEntryColumns + ` FROM stock_summary_entries WHERE summary_id IN (` + strings.Join(ids, ", ") + `)`
	if filterColumn != "" {
		query += ` AND ` + filterColumn + ` = ?`
		entryArgs = append(entryArgs, filterID)
	}
	query += ` ORDER BY summary_id, id`

	entryRows, err := r.db.QueryContext(ctx, query, entryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock summary entries: %w", err)
	}
	defer entryRows.Close()

	for entryRows.Next() {
		var (
			summaryID      int64
			e              models.SummaryEntry
			totals, change string
		)
		err := entryRows.Scan(&summaryID, &e.MedicationID, &e.ServiceUserID, &e.MedicationName, &e.ServiceUserName,
			&e.QuantityPerDose, &e.DosesPerDay, &e.InitialStock, &e.FinalStock, &e.DaysRemaining, &totals, &change)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock summary entry: %w", err)
		}
		if err := DecodeSummaryEntry(&e, []byte(totals), []byte(change)); err != nil {
			return nil, err
		}
		byID[summaryID].Entries = append(byID[summaryID].Entries, e)
	}
	if err := entryRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock summary entries: %w", err)
	}

	if filterColumn == "" {
		return summaries, nil
	}
	kept := summaries[:0]
	for _, s := range summaries {
		if len(s.Entries) > 0 {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// summaryChange is the stored form of a ledger change inside a summary entry
type summaryChange struct {
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy int64     `json:"updatedBy"`
}

// EncodeSummaryEntry marshals an entry's totals and changes for storage
func EncodeSummaryEntry(e models.SummaryEntry) (totals, changes string, err error) {
	t := e.Totals
	if t == nil {
		t = models.NewStockTotals()
	}
	totalsData, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal summary totals: %w", err)
	}

	stored := make([]summaryChange, 0, len(e.Changes))
	for _, c := range e.Changes {
		stored = append(stored, summaryChange{
			Type:      c.Type,
			Quantity:  c.Quantity,
			Note:      c.Note.String,
			Timestamp: c.Timestamp.UTC(),
			UpdatedBy: c.UpdatedBy,
		})
	}
	changesData, err := json.Marshal(stored)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal summary changes: %w", err)
	}
	return string(totalsData), string(changesData), nil
}

// DecodeSummaryEntry fills an entry's totals and changes from their stored form
func DecodeSummaryEntry(e *models.SummaryEntry, totals, changes []byte) error {
	e.Totals = models.NewStockTotals()
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &e.Totals); err != nil {
			return fmt.Errorf("failed to unmarshal summary totals: %w", err)
		}
	}

	var stored []summaryChange
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal summary changes: %w", err)
		}
	}
	e.Changes = make([]models.StockChange, 0, len(stored))
	for _, c := range stored {
		e.Changes = append(e.Changes, models.StockChange{
			Type:      c.Type,
			Quantity:  c.Quantity,
			Note:      sql.NullString{String: c.Note, Valid: c.Note != ""},
			Timestamp: c.Timestamp,
			UpdatedBy: c.UpdatedBy,
		})
	}
	return nil
}
