package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"mar-engine/internal/models"
)

var (
	ErrNotFound          = fmt.Errorf("not found")
	ErrConflict          = fmt.Errorf("conflict")
	ErrInsufficientStock = fmt.Errorf("insufficient stock")
)

// SettingsStore looks up and upserts administration settings keyed by (scope, group)
type SettingsStore interface {
	Get(ctx context.Context, scope string, groupID sql.NullInt64) (*models.AdministrationSettings, error)
	Upsert(ctx context.Context, settings *models.AdministrationSettings) error
}

// DirectoryStore reads groups and service users
type DirectoryStore interface {
	GetGroup(ctx context.Context, id int64) (*models.Group, error)
	GetServiceUser(ctx context.Context, id int64) (*models.ServiceUser, error)
}

// MedicationStore reads medications and applies atomic stock edits
type MedicationStore interface {
	Create(ctx context.Context, medication *models.Medication) error
	GetByID(ctx context.Context, id int64) (*models.Medication, error)
	ListActive(ctx context.Context) ([]*models.Medication, error)
	ListActiveByServiceUser(ctx context.Context, serviceUserID int64) ([]*models.Medication, error)
	Update(ctx context.Context, medication *models.Medication) error
	AdjustStock(ctx context.Context, id int64, delta float64, userID int64) (*models.Medication, error)
	Delete(ctx context.Context, id int64) error
}

// StockMovement is a medication's stock on either side of a write, both read
// inside the write's transaction
type StockMovement struct {
	Before     float64
	After      float64
	Medication *models.Medication
}

// AdministrationStore persists administration records under the
// (medication, scheduled date, scheduled time) uniqueness constraint
type AdministrationStore interface {
	Create(ctx context.Context, administration *models.MedicationAdministration, decrementStock bool) (*StockMovement, error)
	GetBySlot(ctx context.Context, medicationID int64, scheduledDate, scheduledTime string) (*models.MedicationAdministration, error)
	ListByServiceUser(ctx context.Context, serviceUserID int64, startDate, endDate string) ([]*models.MedicationAdministration, error)
}

// LedgerStore maintains the per-medication per-day stock ledger.
// Snapshot fields are always recomputed from the medication's current stock.
type LedgerStore interface {
	AppendChange(ctx context.Context, medicationID int64, date string, change *models.StockChange, category string) (*models.DailyStock, error)
	RefreshSnapshots(ctx context.Context, date string, excludeMedicationID int64) (int, error)
	EnsureEntries(ctx context.Context, date string) (int, error)
	Get(ctx context.Context, medicationID int64, date string) (*models.DailyStock, error)
	ListRange(ctx context.Context, medicationID int64, startDate, endDate string) ([]*models.DailyStock, error)
	LatestOnOrBefore(ctx context.Context, medicationID int64, date string) (*models.DailyStock, error)
}

// UpdateStore is the append-only medication audit log
type UpdateStore interface {
	Create(ctx context.Context, update *models.MedicationUpdate) error
	List(ctx context.Context, limit, offset int) ([]*models.MedicationUpdate, error)
	ListByMedication(ctx context.Context, medicationID int64, limit, offset int) ([]*models.MedicationUpdate, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// NotificationStore persists stock alerts
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ExistsSince(ctx context.Context, medicationID int64, notificationType string, since time.Time) (bool, error)
	ListUnread(ctx context.Context, limit int) ([]*models.Notification, error)
	MarkAsRead(ctx context.Context, id int64) error
}

// SummaryStore keeps generated stock summaries. Range lookups match summaries
// whose whole period lies inside the range.
type SummaryStore interface {
	Create(ctx context.Context, summary *models.StockSummary) error
	GetByID(ctx context.Context, id int64) (*models.StockSummary, error)
	ListRange(ctx context.Context, startDate, endDate string) ([]*models.StockSummary, error)
	ListByMedication(ctx context.Context, medicationID int64, startDate, endDate string) ([]*models.StockSummary, error)
	ListByServiceUser(ctx context.Context, serviceUserID int64, startDate, endDate string) ([]*models.StockSummary, error)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// nullDate renders an optional calendar date for a DATE column
func nullDate(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return t.Time.Format(models.DateLayout)
}
