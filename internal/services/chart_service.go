package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

const maxChartDays = 93

// ChartRequest selects a service user's administration chart for a range of days
type ChartRequest struct {
	ServiceUserID int64
	Start         time.Time
	End           time.Time
	GroupID       int64
	UserID        int64
}

// ChartEntry is one cell of the chart. Entries recovered from the ledger have
// no AdministrationID and no ScheduledTime.
type ChartEntry struct {
	AdministrationID int64
	ScheduledTime    string
	AdministeredAt   time.Time
	AdministeredBy   int64
	Quantity         float64
	Status           string
	Label            string
	Notes            string
}

// ChartDay is one medication's windows and entries on one day
type ChartDay struct {
	Date    string
	Windows []AdministrationWindow
	Entries []ChartEntry
}

// ChartMedication is the chart row of one medication
type ChartMedication struct {
	Medication *models.Medication
	Days       []ChartDay
}

// ChartResult is the data behind an administration chart
type ChartResult struct {
	ServiceUserID int64
	Start         string
	End           string
	Settings      *models.AdministrationSettings
	Medications   []ChartMedication
}

// ChartService assembles administration chart data
type ChartService struct {
	settings        *SettingsService
	directory       repository.DirectoryStore
	medications     repository.MedicationStore
	administrations repository.AdministrationStore
	ledger          repository.LedgerStore
	loc             *time.Location
	log             zerolog.Logger
}

// NewChartService creates a chart assembler
func NewChartService(settings *SettingsService, directory repository.DirectoryStore, medications repository.MedicationStore,
	administrations repository.AdministrationStore, ledger repository.LedgerStore, loc *time.Location, log zerolog.Logger) *ChartService {
	return &ChartService{
		settings:        settings,
		directory:       directory,
		medications:     medications,
		administrations: administrations,
		ledger:          ledger,
		loc:             loc,
		log:             log,
	}
}

// FetchChart returns windows and recorded administrations per medication per
// day. Days with no record fall back to that day's administered ledger changes.
func (s *ChartService) FetchChart(ctx context.Context, req ChartRequest) (*ChartResult, error) {
	start := startOfDay(req.Start.In(s.loc))
	end := startOfDay(req.End.In(s.loc))
	if end.Before(start) {
		return nil, invalid("end", "must not be before start")
	}
	days := dayRange(start, end)
	if len(days) > maxChartDays {
		return nil, invalid("end", "range is too long")
	}

	groupID, err := groupFor(ctx, s.directory, req.GroupID, req.ServiceUserID)
	if err != nil {
		return nil, storageError("get service user", err)
	}
	settings, err := s.settings.GetSettings(ctx, SettingsQuery{GroupID: groupID, UserID: req.UserID})
	if err != nil {
		return nil, err
	}

	meds, err := s.medications.ListActiveByServiceUser(ctx, req.ServiceUserID)
	if err != nil {
		return nil, storageError("list medications", err)
	}

	from, to := start.Format(models.DateLayout), end.Format(models.DateLayout)
	records, err := s.administrations.ListByServiceUser(ctx, req.ServiceUserID, from, to)
	if err != nil {
		return nil, storageError("list administrations", err)
	}
	byMedDay := map[int64]map[string][]ChartEntry{}
	for _, a := range records {
		if byMedDay[a.MedicationID] == nil {
			byMedDay[a.MedicationID] = map[string][]ChartEntry{}
		}
		byMedDay[a.MedicationID][a.ScheduledDate] = append(byMedDay[a.MedicationID][a.ScheduledDate], ChartEntry{
			AdministrationID: a.ID,
			ScheduledTime:    a.ScheduledTime,
			AdministeredAt:   a.AdministeredAt,
			AdministeredBy:   a.AdministeredBy,
			Quantity:         a.Quantity,
			Status:           a.Status,
			Label:            StatusLabel(a.Status),
			Notes:            a.Notes.String,
		})
	}

	result := &ChartResult{
		ServiceUserID: req.ServiceUserID,
		Start:         from,
		End:           to,
		Settings:      settings,
		Medications:   []ChartMedication{},
	}
	for _, med := range meds {
		entries, err := s.ledger.ListRange(ctx, med.ID, from, to)
		if err != nil {
			return nil, storageError("list stock history", err)
		}
		ledgerByDay := make(map[string]*models.DailyStock, len(entries))
		for _, e := range entries {
			ledgerByDay[e.Date] = e
		}

		row := ChartMedication{Medication: med, Days: make([]ChartDay, 0, len(days))}
		for _, day := range days {
			key := day.Format(models.DateLayout)
			cell := ChartDay{Date: key, Entries: byMedDay[med.ID][key]}
			if med.CoversDate(day) {
				cell.Windows = BuildWindows(med, day, settings, s.loc)
			}
			if len(cell.Entries) == 0 {
				cell.Entries = ledgerEntries(ledgerByDay[key])
			}
			row.Days = append(row.Days, cell)
		}
		result.Medications = append(result.Medications, row)
	}

	s.log.Debug().
		Int64("service_user_id", req.ServiceUserID).
		Str("start", from).
		Str("end", to).
		Int("medications", len(result.Medications)).
		Msg("chart assembled")

	return result, nil
}

func ledgerEntries(stock *models.DailyStock) []ChartEntry {
	if stock == nil {
		return nil
	}
	var out []ChartEntry
	for _, c := range stock.Changes {
		if c.Type != models.ChangeQuantityAdministered {
			continue
		}
		out = append(out, ChartEntry{
			AdministeredAt: c.Timestamp,
			AdministeredBy: c.UpdatedBy,
			Quantity:       c.Quantity,
			Status:         StatusRecorded,
			Label:          StatusLabel(StatusRecorded),
			Notes:          c.Note.String,
		})
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayRange lists every calendar day from start to end inclusive
func dayRange(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
		if len(days) > maxChartDays {
			break
		}
	}
	return days
}
