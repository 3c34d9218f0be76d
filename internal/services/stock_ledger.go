package services

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// LedgerResult is the outcome of one ledger append. RefreshErr reports a failed
// re-snapshot of the other medications; the append itself has been committed.
type LedgerResult struct {
	DailyStock *models.DailyStock
	Category   string
	Refreshed  int
	RefreshErr error
}

// StockLedger appends quantity events to the per-medication per-day ledger
type StockLedger struct {
	ledger         repository.LedgerStore
	loc            *time.Location
	now            Clock
	inferFromNotes bool
	metrics        *Metrics
	log            zerolog.Logger
}

// NewStockLedger creates a ledger writer. With inferFromNotes set, a change
// without an explicit type is classified from its note text.
func NewStockLedger(ledger repository.LedgerStore, loc *time.Location, now Clock, inferFromNotes bool, metrics *Metrics, log zerolog.Logger) *StockLedger {
	return &StockLedger{
		ledger:         ledger,
		loc:            loc,
		now:            now,
		inferFromNotes: inferFromNotes,
		metrics:        metrics,
		log:            log,
	}
}

// CategoryFor maps a change type onto its totals category by comparing the
// lower-cased, whitespace-free name against the lower-cased category keys
func CategoryFor(changeType string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(changeType), ""))
	if key == "" {
		return "", false
	}
	for _, c := range models.Categories {
		if strings.ToLower(c) == key {
			return c, true
		}
	}
	return "", false
}

// InferChangeType guesses a change type from free text the way historical
// entries were classified. Anything unrecognised is Other.
func InferChangeType(note string) string {
	n := strings.ToLower(note)
	switch {
	case strings.Contains(n, "pharmacy") && strings.Contains(n, "received"):
		return models.ChangeFromPharmacy
	case strings.Contains(n, "administered"):
		return models.ChangeQuantityAdministered
	case strings.Contains(n, "leaving") && strings.Contains(n, "home"):
		return models.ChangeLeavingHome
	case strings.Contains(n, "returning") && strings.Contains(n, "home"):
		return models.ChangeReturningHome
	case strings.Contains(n, "returned") && strings.Contains(n, "pharmacy"):
		return models.ChangeReturnedToPharmacy
	case strings.Contains(n, "lost"):
		return models.ChangeLost
	case strings.Contains(n, "damaged"):
		return models.ChangeDamaged
	default:
		return models.ChangeOther
	}
}

// resolveChangeType returns the canonical change type and its category
func (l *StockLedger) resolveChangeType(changeType, note string) (string, string, error) {
	if changeType == "" && l.inferFromNotes {
		changeType = InferChangeType(note)
	}
	category, ok := CategoryFor(changeType)
	if !ok {
		return "", "", invalid("changeType", "unknown stock change type")
	}
	for i, c := range models.Categories {
		if c == category {
			return models.ChangeTypes[i], category, nil
		}
	}
	return changeType, category, nil
}

// today returns the ledger key of the current day in the ledger's time zone
func (l *StockLedger) today() (time.Time, string) {
	now := l.now().In(l.loc)
	return now, now.Format(models.DateLayout)
}

// RecordQuantityChange appends {type, |quantity|, note} to today's ledger of the
// medication, bumps the matching category total and re-snapshots every other
// active medication's entry for today
func (l *StockLedger) RecordQuantityChange(ctx context.Context, medicationID, userID int64, changeType string, quantity float64, note string) (*LedgerResult, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return nil, invalid("quantity", "must be a finite number")
	}
	changeType, category, err := l.resolveChangeType(changeType, note)
	if err != nil {
		return nil, err
	}

	now, date := l.today()
	change := &models.StockChange{
		Type:      changeType,
		Quantity:  math.Abs(quantity),
		Timestamp: now.UTC(),
		UpdatedBy: userID,
	}
	if note != "" {
		change.Note = sql.NullString{String: note, Valid: true}
	}

	stock, err := l.ledger.AppendChange(ctx, medicationID, date, change, category)
	if err != nil {
		return nil, storageError("append stock change", err)
	}
	l.metrics.LedgerChange(category)

	result := &LedgerResult{DailyStock: stock, Category: category}
	result.Refreshed, result.RefreshErr = l.ledger.RefreshSnapshots(ctx, date, medicationID)
	if result.RefreshErr != nil {
		l.metrics.RefreshFailure()
		l.log.Error().Err(result.RefreshErr).
			Int64("medication_id", medicationID).
			Str("date", date).
			Msg("failed to refresh other ledger snapshots")
	}

	l.log.Info().
		Int64("medication_id", medicationID).
		Str("change_type", changeType).
		Float64("quantity", change.Quantity).
		Str("date", date).
		Msg("stock change recorded")

	return result, nil
}

// RecordDailyStock creates today's entry for every active medication lacking
// one and returns how many were created. Repeated calls are no-ops.
func (l *StockLedger) RecordDailyStock(ctx context.Context) (int, error) {
	_, date := l.today()
	created, err := l.ledger.EnsureEntries(ctx, date)
	if err != nil {
		return 0, storageError("record daily stock", err)
	}
	l.metrics.SnapshotsCreated(created)
	l.log.Info().Str("date", date).Int("created", created).Msg("daily stock snapshot complete")
	return created, nil
}

// StockHistory returns the ledger entries of a medication between two days, inclusive
func (l *StockLedger) StockHistory(ctx context.Context, medicationID int64, start, end time.Time) ([]*models.DailyStock, error) {
	from := start.In(l.loc).Format(models.DateLayout)
	to := end.In(l.loc).Format(models.DateLayout)
	if from > to {
		return nil, invalid("end", "must not be before start")
	}
	entries, err := l.ledger.ListRange(ctx, medicationID, from, to)
	if err != nil {
		return nil, storageError("list stock history", err)
	}
	if entries == nil {
		entries = []*models.DailyStock{}
	}
	return entries, nil
}

// DailyEntry returns a medication's ledger entry for one day. A zero day means today.
func (l *StockLedger) DailyEntry(ctx context.Context, medicationID int64, day time.Time) (*models.DailyStock, error) {
	date := ""
	if day.IsZero() {
		_, date = l.today()
	} else {
		date = day.In(l.loc).Format(models.DateLayout)
	}
	entry, err := l.ledger.Get(ctx, medicationID, date)
	if err != nil {
		return nil, storageError("get daily stock", err)
	}
	return entry, nil
}

// InitialStock returns the stock level of the latest entry on or before the day,
// or 0 when the medication has no earlier ledger
func (l *StockLedger) InitialStock(ctx context.Context, medicationID int64, date time.Time) (float64, error) {
	entry, err := l.ledger.LatestOnOrBefore(ctx, medicationID, date.In(l.loc).Format(models.DateLayout))
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storageError("get initial stock", err)
	}
	return entry.StockLevel, nil
}
