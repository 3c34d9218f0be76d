package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// recentChangeLimit bounds the changes kept on each summary entry
const recentChangeLimit = 10

// SummaryService builds stock summaries from the ledger and stores them
type SummaryService struct {
	summaries   repository.SummaryStore
	medications repository.MedicationStore
	directory   repository.DirectoryStore
	ledger      *StockLedger
	loc         *time.Location
	now         Clock
	log         zerolog.Logger
}

// NewSummaryService creates a summary service
func NewSummaryService(summaries repository.SummaryStore, medications repository.MedicationStore, directory repository.DirectoryStore,
	ledger *StockLedger, loc *time.Location, now Clock, log zerolog.Logger) *SummaryService {
	return &SummaryService{
		summaries:   summaries,
		medications: medications,
		directory:   directory,
		ledger:      ledger,
		loc:         loc,
		now:         now,
		log:         log,
	}
}

// Generate summarizes every active medication over [start, end] and stores the
// result. Initial stock is the ledger level at the close of the day before start.
// Final stock is the current stock when the range reaches today, otherwise the
// ledger level at the close of end.
func (s *SummaryService) Generate(ctx context.Context, start, end time.Time, userID int64) (*models.StockSummary, error) {
	from, to, err := s.dateRange(start, end)
	if err != nil {
		return nil, err
	}
	today := s.now().In(s.loc).Format(models.DateLayout)

	meds, err := s.medications.ListActive(ctx)
	if err != nil {
		return nil, storageError("list medications", err)
	}

	summary := &models.StockSummary{
		StartDate: from,
		EndDate:   to,
		CreatedBy: userID,
		Entries:   make([]models.SummaryEntry, 0, len(meds)),
		CreatedAt: s.now().UTC(),
	}
	names := make(map[int64]string)
	for _, med := range meds {
		name, ok := names[med.ServiceUserID]
		if !ok {
			user, err := s.directory.GetServiceUser(ctx, med.ServiceUserID)
			if errors.Is(err, repository.ErrNotFound) {
				s.log.Warn().Int64("medication_id", med.ID).Msg("skipping medication without a service user")
				continue
			}
			if err != nil {
				return nil, storageError("get service user", err)
			}
			name = user.Name
			names[med.ServiceUserID] = name
		}

		entry, err := s.summarize(ctx, med, start, end, to >= today)
		if err != nil {
			return nil, err
		}
		entry.ServiceUserName = name
		summary.Entries = append(summary.Entries, *entry)
	}

	if err := s.summaries.Create(ctx, summary); err != nil {
		return nil, storageError("create stock summary", err)
	}

	s.log.Info().
		Int64("summary_id", summary.ID).
		Str("start_date", from).
		Str("end_date", to).
		Int("medications", len(summary.Entries)).
		Msg("stock summary generated")
	return summary, nil
}

func (s *SummaryService) summarize(ctx context.Context, med *models.Medication, start, end time.Time, current bool) (*models.SummaryEntry, error) {
	history, err := s.ledger.StockHistory(ctx, med.ID, start, end)
	if err != nil {
		return nil, err
	}
	initial, err := s.ledger.InitialStock(ctx, med.ID, start.In(s.loc).AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	final := med.QuantityInStock
	if !current {
		if final, err = s.ledger.InitialStock(ctx, med.ID, end); err != nil {
			return nil, err
		}
	}

	totals := models.NewStockTotals()
	var changes []models.StockChange
	for _, day := range history {
		for category, v := range day.Totals {
			totals[category] += v
		}
		changes = append(changes, day.Changes...)
	}
	if len(changes) > recentChangeLimit {
		changes = changes[len(changes)-recentChangeLimit:]
	}
	if changes == nil {
		changes = []models.StockChange{}
	}

	return &models.SummaryEntry{
		MedicationID:    med.ID,
		ServiceUserID:   med.ServiceUserID,
		MedicationName:  med.Name,
		QuantityPerDose: med.QuantityPerDose,
		DosesPerDay:     med.DosesPerDay,
		InitialStock:    initial,
		FinalStock:      final,
		DaysRemaining:   models.DaysRemaining(final, med.QuantityPerDose, med.DosesPerDay),
		Totals:          totals,
		Changes:         changes,
	}, nil
}

// Get returns one stored summary
func (s *SummaryService) Get(ctx context.Context, id int64) (*models.StockSummary, error) {
	summary, err := s.summaries.GetByID(ctx, id)
	if err != nil {
		return nil, storageError("get stock summary", err)
	}
	return summary, nil
}

// ListRange returns the summaries whose period lies inside [start, end], newest first
func (s *SummaryService) ListRange(ctx context.Context, start, end time.Time) ([]*models.StockSummary, error) {
	from, to, err := s.dateRange(start, end)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summaries.ListRange(ctx, from, to)
	if err != nil {
		return nil, storageError("list stock summaries", err)
	}
	return nonNil(summaries), nil
}

// ForMedication is ListRange narrowed to one medication's entries
func (s *SummaryService) ForMedication(ctx context.Context, medicationID int64, start, end time.Time) ([]*models.StockSummary, error) {
	from, to, err := s.dateRange(start, end)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summaries.ListByMedication(ctx, medicationID, from, to)
	if err != nil {
		return nil, storageError("list stock summaries", err)
	}
	return nonNil(summaries), nil
}

// ForServiceUser is ListRange narrowed to one service user's entries
func (s *SummaryService) ForServiceUser(ctx context.Context, serviceUserID int64, start, end time.Time) ([]*models.StockSummary, error) {
	from, to, err := s.dateRange(start, end)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summaries.ListByServiceUser(ctx, serviceUserID, from, to)
	if err != nil {
		return nil, storageError("list stock summaries", err)
	}
	return nonNil(summaries), nil
}

// GenerateWeekly summarizes the seven days ending yesterday
func (s *SummaryService) GenerateWeekly(ctx context.Context) (*models.StockSummary, error) {
	yesterday := s.now().In(s.loc).AddDate(0, 0, -1)
	return s.Generate(ctx, yesterday.AddDate(0, 0, -6), yesterday, 0)
}

func (s *SummaryService) dateRange(start, end time.Time) (string, string, error) {
	if start.IsZero() {
		return "", "", invalid("startDate", "is required")
	}
	if end.IsZero() {
		return "", "", invalid("endDate", "is required")
	}
	from := start.In(s.loc).Format(models.DateLayout)
	to := end.In(s.loc).Format(models.DateLayout)
	if from > to {
		return "", "", invalid("endDate", "must not be before startDate")
	}
	return from, to, nil
}

func nonNil(summaries []*models.StockSummary) []*models.StockSummary {
	if summaries == nil {
		return []*models.StockSummary{}
	}
	return summaries
}
