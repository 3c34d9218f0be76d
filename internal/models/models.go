package models

import (
	"database/sql"
	"math"
	"time"
)

// DateLayout is the calendar-day key used for scheduled dates and ledger days
const DateLayout = "2006-01-02"

// TimeLayout is the HH:mm layout of a configured administration time
const TimeLayout = "15:04"

// Settings scopes
const (
	ScopeGlobal = "global"
	ScopeGroup  = "group"
)

// Group represents a care group that may carry its own administration settings
type Group struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ServiceUser represents a person who receives medication
type ServiceUser struct {
	ID        int64
	Name      string
	GroupID   sql.NullInt64
	CreatedAt time.Time
}

// AdministrationSettings holds the window thresholds for a scope
type AdministrationSettings struct {
	ID              int64
	Scope           string // "global" or "group"
	GroupID         sql.NullInt64
	ThresholdBefore int // minutes
	ThresholdAfter  int // minutes
	UpdatedBy       sql.NullInt64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Computed fields (set by service)
	IsDefault bool
}

// Dosage is the strength of a single dose
type Dosage struct {
	Amount float64
	Unit   string
}

// Medication represents an active medication prescribed to a service user
type Medication struct {
	ID                  int64
	ServiceUserID       int64
	Name                string
	Dosage              Dosage
	QuantityInStock     float64
	QuantityPerDose     float64
	DosesPerDay         float64
	Frequency           string
	AdministrationTimes []string // HH:mm, ordered
	StartDate           time.Time
	EndDate             sql.NullTime
	PrescribedBy        string
	Instructions        sql.NullString
	IsActive            bool
	UpdatedBy           sql.NullInt64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DaysRemaining returns how many whole days the current stock lasts
func (m *Medication) DaysRemaining() int {
	return DaysRemaining(m.QuantityInStock, m.QuantityPerDose, m.DosesPerDay)
}

// CoversDate reports whether the medication's active interval includes the given day
func (m *Medication) CoversDate(day time.Time) bool {
	key := day.Format(DateLayout)
	if m.StartDate.Format(DateLayout) > key {
		return false
	}
	if m.EndDate.Valid && m.EndDate.Time.Format(DateLayout) < key {
		return false
	}
	return true
}

// MaxDaysRemaining caps DaysRemaining so tiny daily usage cannot overflow int
const MaxDaysRemaining = math.MaxInt32

// DaysRemaining computes floor(stock / (perDose * perDay)), capped at MaxDaysRemaining.
// Zero, negative or non-finite inputs yield 0.
func DaysRemaining(stock, perDose, perDay float64) int {
	daily := perDose * perDay
	if daily <= 0 || math.IsNaN(daily) || math.IsInf(daily, 0) {
		return 0
	}
	if math.IsNaN(stock) || math.IsInf(stock, 0) || stock <= 0 {
		return 0
	}
	days := math.Floor(stock / daily)
	if days >= MaxDaysRemaining {
		return MaxDaysRemaining
	}
	return int(days)
}

// MedicationAdministration is an immutable record of one attempt at a scheduled dose
type MedicationAdministration struct {
	ID             int64
	MedicationID   int64
	ServiceUserID  int64
	ScheduledDate  string // YYYY-MM-DD
	ScheduledTime  string // HH:mm
	AdministeredAt time.Time
	AdministeredBy int64
	Quantity       float64
	Status         string
	Notes          sql.NullString
	CreatedAt      time.Time
}

// Stock change types as recorded in the daily ledger
const (
	ChangeFromPharmacy         = "From Pharmacy"
	ChangeQuantityAdministered = "Quantity Administered"
	ChangeLeavingHome          = "Leaving Home"
	ChangeReturningHome        = "Returning Home"
	ChangeReturnedToPharmacy   = "Returned to Pharmacy"
	ChangeLost                 = "Lost"
	ChangeDamaged              = "Damaged"
	ChangeOther                = "Other"
)

// ChangeTypes lists every ledger change type in display order
var ChangeTypes = []string{
	ChangeFromPharmacy,
	ChangeQuantityAdministered,
	ChangeLeavingHome,
	ChangeReturningHome,
	ChangeReturnedToPharmacy,
	ChangeLost,
	ChangeDamaged,
	ChangeOther,
}

// Ledger total categories
const (
	CategoryFromPharmacy         = "fromPharmacy"
	CategoryQuantityAdministered = "quantityAdministered"
	CategoryLeavingHome          = "leavingHome"
	CategoryReturningHome        = "returningHome"
	CategoryReturnedToPharmacy   = "returnedToPharmacy"
	CategoryLost                 = "lost"
	CategoryDamaged              = "damaged"
	CategoryOther                = "other"
)

// Categories lists every ledger total category
var Categories = []string{
	CategoryFromPharmacy,
	CategoryQuantityAdministered,
	CategoryLeavingHome,
	CategoryReturningHome,
	CategoryReturnedToPharmacy,
	CategoryLost,
	CategoryDamaged,
	CategoryOther,
}

// StockChange is one entry of a day's ledger
type StockChange struct {
	ID        int64
	Type      string
	Quantity  float64
	Note      sql.NullString
	Timestamp time.Time
	UpdatedBy int64
}

// StockTotals maps a category to its running sum for the day
type StockTotals map[string]float64

// NewStockTotals returns totals with every category zeroed
func NewStockTotals() StockTotals {
	totals := make(StockTotals, len(Categories))
	for _, c := range Categories {
		totals[c] = 0
	}
	return totals
}

// DailyStock is the per-medication per-day ledger
type DailyStock struct {
	ID            int64
	MedicationID  int64
	ServiceUserID int64
	Date          string // YYYY-MM-DD
	StockLevel    float64
	DaysRemaining int
	Changes       []StockChange
	Totals        StockTotals
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StockSnapshot is the derived state written onto a ledger entry
type StockSnapshot struct {
	MedicationID  int64
	ServiceUserID int64
	StockLevel    float64
	DaysRemaining int
}

// Audit categories
const (
	CategoryQuantitative = "quantitative"
	CategoryQualitative  = "qualitative"
)

// FieldChange is the before/after pair of one changed field
type FieldChange struct {
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// MedicationSnapshot is a point-in-time copy of a medication's key numbers
type MedicationSnapshot struct {
	MedicationID    int64
	MedicationName  string
	QuantityInStock float64
	QuantityPerDose float64
	DosesPerDay     float64
	DaysRemaining   int
}

// SnapshotOf copies the medication's key numbers at this instant
func SnapshotOf(m *Medication) MedicationSnapshot {
	return MedicationSnapshot{
		MedicationID:    m.ID,
		MedicationName:  m.Name,
		QuantityInStock: m.QuantityInStock,
		QuantityPerDose: m.QuantityPerDose,
		DosesPerDay:     m.DosesPerDay,
		DaysRemaining:   m.DaysRemaining(),
	}
}

// MedicationUpdate is an immutable audit entry for a medication mutation
type MedicationUpdate struct {
	ID         int64
	Medication MedicationSnapshot
	UpdatedBy  int64
	UpdateType string
	Category   string
	Changes    map[string]FieldChange
	Notes      sql.NullString
	Timestamp  time.Time
}

// Notification represents a stock alert raised for staff
type Notification struct {
	ID           int64
	MedicationID sql.NullInt64
	Type         string
	Title        string
	Message      string
	Severity     string
	IsRead       bool
	CreatedAt    time.Time
}

// StockSummary is a stored report of stock movement over a date range
type StockSummary struct {
	ID        int64
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	CreatedBy int64
	Entries   []SummaryEntry
	CreatedAt time.Time
}

// SummaryEntry is one medication's stock movement within a summary.
// Changes holds the period's most recent ledger changes, oldest first.
type SummaryEntry struct {
	MedicationID    int64
	ServiceUserID   int64
	MedicationName  string
	ServiceUserName string
	QuantityPerDose float64
	DosesPerDay     float64
	InitialStock    float64
	FinalStock      float64
	DaysRemaining   int
	Totals          StockTotals
	Changes         []StockChange
}
