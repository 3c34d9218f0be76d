package handlers

import (
	"time"

	"mar-engine/internal/models"
	"mar-engine/internal/services"
)

type SettingsResponse struct {
	Scope           string     `json:"scope"`
	GroupID         *int64     `json:"groupId"`
	ThresholdBefore int        `json:"thresholdBefore"`
	ThresholdAfter  int        `json:"thresholdAfter"`
	UpdatedBy       *int64     `json:"updatedBy,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	IsDefault       bool       `json:"isDefault"`
}

func NewSettingsResponse(s *models.AdministrationSettings) *SettingsResponse {
	if s == nil {
		return nil
	}
	out := &SettingsResponse{
		Scope:           s.Scope,
		GroupID:         nullInt(s.GroupID.Int64, s.GroupID.Valid),
		ThresholdBefore: s.ThresholdBefore,
		ThresholdAfter:  s.ThresholdAfter,
		UpdatedBy:       nullInt(s.UpdatedBy.Int64, s.UpdatedBy.Valid),
		IsDefault:       s.IsDefault,
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

type WindowResponse struct {
	MedicationID      int64     `json:"medicationId"`
	ScheduledDate     string    `json:"scheduledDate"`
	ScheduledTime     string    `json:"scheduledTime"`
	ScheduledDateTime time.Time `json:"scheduledDateTime"`
	WindowStart       time.Time `json:"windowStart"`
	WindowEnd         time.Time `json:"windowEnd"`
}

func NewWindowResponse(w *services.AdministrationWindow) *WindowResponse {
	if w == nil {
		return nil
	}
	return &WindowResponse{
		MedicationID:      w.MedicationID,
		ScheduledDate:     w.ScheduledDate,
		ScheduledTime:     w.ScheduledTime,
		ScheduledDateTime: w.ScheduledDateTime,
		WindowStart:       w.WindowStart,
		WindowEnd:         w.WindowEnd,
	}
}

func newWindowList(windows []services.AdministrationWindow) []*WindowResponse {
	out := make([]*WindowResponse, 0, len(windows))
	for i := range windows {
		out = append(out, NewWindowResponse(&windows[i]))
	}
	return out
}

type DosageResponse struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

type MedicationResponse struct {
	ID                  int64          `json:"id"`
	ServiceUserID       int64          `json:"serviceUserId"`
	Name                string         `json:"medicationName"`
	Dosage              DosageResponse `json:"dosage"`
	QuantityInStock     float64        `json:"quantityInStock"`
	QuantityPerDose     float64        `json:"quantityPerDose"`
	DosesPerDay         float64        `json:"dosesPerDay"`
	DaysRemaining       int            `json:"daysRemaining"`
	Frequency           string         `json:"frequency,omitempty"`
	AdministrationTimes []string       `json:"administrationTimes"`
	StartDate           string         `json:"startDate"`
	EndDate             *string        `json:"endDate,omitempty"`
	PrescribedBy        string         `json:"prescribedBy,omitempty"`
	Instructions        *string        `json:"instructions,omitempty"`
	IsActive            bool           `json:"isActive"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func NewMedicationResponse(m *models.Medication) *MedicationResponse {
	if m == nil {
		return nil
	}
	out := &MedicationResponse{
		ID:                  m.ID,
		ServiceUserID:       m.ServiceUserID,
		Name:                m.Name,
		Dosage:              DosageResponse{Amount: m.Dosage.Amount, Unit: m.Dosage.Unit},
		QuantityInStock:     m.QuantityInStock,
		QuantityPerDose:     m.QuantityPerDose,
		DosesPerDay:         m.DosesPerDay,
		DaysRemaining:       m.DaysRemaining(),
		Frequency:           m.Frequency,
		AdministrationTimes: m.AdministrationTimes,
		StartDate:           m.StartDate.Format(models.DateLayout),
		PrescribedBy:        m.PrescribedBy,
		IsActive:            m.IsActive,
		UpdatedAt:           m.UpdatedAt,
	}
	if out.AdministrationTimes == nil {
		out.AdministrationTimes = []string{}
	}
	if m.EndDate.Valid {
		end := m.EndDate.Time.Format(models.DateLayout)
		out.EndDate = &end
	}
	if m.Instructions.Valid {
		out.Instructions = &m.Instructions.String
	}
	return out
}

type AvailabilityEntry struct {
	Medication    *MedicationResponse `json:"medication"`
	Availability  string              `json:"availability"`
	CurrentWindow *WindowResponse     `json:"currentWindow"`
	NextWindow    *WindowResponse     `json:"nextWindow"`
	LastWindow    *WindowResponse     `json:"lastWindow"`
	Windows       []*WindowResponse   `json:"windows"`
}

type AvailabilityResponse struct {
	Settings    *SettingsResponse   `json:"settings"`
	Now         time.Time           `json:"now"`
	Date        string              `json:"date"`
	Medications []AvailabilityEntry `json:"medications"`
}

func NewAvailabilityResponse(res *services.AvailabilityResult) *AvailabilityResponse {
	out := &AvailabilityResponse{
		Settings:    NewSettingsResponse(res.Settings),
		Now:         res.Now,
		Date:        res.Date,
		Medications: make([]AvailabilityEntry, 0, len(res.Medications)),
	}
	for _, m := range res.Medications {
		out.Medications = append(out.Medications, AvailabilityEntry{
			Medication:    NewMedicationResponse(m.Medication),
			Availability:  m.Availability,
			CurrentWindow: NewWindowResponse(m.CurrentWindow),
			NextWindow:    NewWindowResponse(m.NextWindow),
			LastWindow:    NewWindowResponse(m.LastWindow),
			Windows:       newWindowList(m.Windows),
		})
	}
	return out
}

type AdministrationResponse struct {
	ID             int64     `json:"id"`
	MedicationID   int64     `json:"medicationId"`
	ServiceUserID  int64     `json:"serviceUserId"`
	ScheduledDate  string    `json:"scheduledDate"`
	ScheduledTime  string    `json:"scheduledTime"`
	AdministeredAt time.Time `json:"administeredAt"`
	AdministeredBy int64     `json:"administeredBy"`
	Quantity       float64   `json:"quantity"`
	Status         string    `json:"status"`
	Notes          *string   `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewAdministrationResponse(a *models.MedicationAdministration) *AdministrationResponse {
	if a == nil {
		return nil
	}
	out := &AdministrationResponse{
		ID:             a.ID,
		MedicationID:   a.MedicationID,
		ServiceUserID:  a.ServiceUserID,
		ScheduledDate:  a.ScheduledDate,
		ScheduledTime:  a.ScheduledTime,
		AdministeredAt: a.AdministeredAt,
		AdministeredBy: a.AdministeredBy,
		Quantity:       a.Quantity,
		Status:         a.Status,
		CreatedAt:      a.CreatedAt,
	}
	if a.Notes.Valid {
		out.Notes = &a.Notes.String
	}
	return out
}

type ValidationResponse struct {
	Valid     bool                    `json:"valid"`
	Reason    string                  `json:"reason,omitempty"`
	Code      string                  `json:"code,omitempty"`
	Rule      string                  `json:"rule,omitempty"`
	Window    *WindowResponse         `json:"window,omitempty"`
	Windows   []*WindowResponse       `json:"windows,omitempty"`
	Settings  *SettingsResponse       `json:"settings,omitempty"`
	Existing  *AdministrationResponse `json:"existingRecord,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

func NewValidationResponse(v *services.ValidationResult) *ValidationResponse {
	out := &ValidationResponse{
		Valid:     v.Valid,
		Reason:    v.Reason,
		Code:      v.Code,
		Rule:      v.Rule,
		Window:    NewWindowResponse(v.Window),
		Settings:  NewSettingsResponse(v.Settings),
		Existing:  NewAdministrationResponse(v.Existing),
		Timestamp: v.Timestamp,
	}
	if v.Windows != nil {
		out.Windows = newWindowList(v.Windows)
	}
	return out
}

type StockChangeResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Note      *string   `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy int64     `json:"updatedBy"`
}

type DailyStockResponse struct {
	MedicationID  int64                 `json:"medicationId"`
	ServiceUserID int64                 `json:"serviceUserId"`
	Date          string                `json:"date"`
	StockLevel    float64               `json:"stockLevel"`
	DaysRemaining int                   `json:"daysRemaining"`
	Changes       []StockChangeResponse `json:"changes"`
	Totals        models.StockTotals    `json:"totals"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

func NewDailyStockResponse(d *models.DailyStock) *DailyStockResponse {
	if d == nil {
		return nil
	}
	out := &DailyStockResponse{
		MedicationID:  d.MedicationID,
		ServiceUserID: d.ServiceUserID,
		Date:          d.Date,
		StockLevel:    d.StockLevel,
		DaysRemaining: d.DaysRemaining,
		Changes:       make([]StockChangeResponse, 0, len(d.Changes)),
		Totals:        d.Totals,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, c := range d.Changes {
		change := StockChangeResponse{
			ID:        c.ID,
			Type:      c.Type,
			Quantity:  c.Quantity,
			Timestamp: c.Timestamp,
			UpdatedBy: c.UpdatedBy,
		}
		if c.Note.Valid {
			note := c.Note.String
			change.Note = &note
		}
		out.Changes = append(out.Changes, change)
	}
	return out
}

type MedicationSnapshotResponse struct {
	MedicationID    int64   `json:"medicationId"`
	MedicationName  string  `json:"medicationName"`
	QuantityInStock float64 `json:"quantityInStock"`
	QuantityPerDose float64 `json:"quantityPerDose"`
	DosesPerDay     float64 `json:"dosesPerDay"`
	DaysRemaining   int     `json:"daysRemaining"`
}

type UpdateResponse struct {
	ID         int64                         `json:"id"`
	Medication MedicationSnapshotResponse    `json:"medication"`
	UpdatedBy  int64                         `json:"updatedBy"`
	UpdateType string                        `json:"updateType"`
	Category   string                        `json:"category"`
	Changes    map[string]models.FieldChange `json:"changes"`
	Notes      *string                       `json:"notes,omitempty"`
	Timestamp  time.Time                     `json:"timestamp"`
}

func NewUpdateResponse(u *models.MedicationUpdate) *UpdateResponse {
	if u == nil {
		return nil
	}
	out := &UpdateResponse{
		ID: u.ID,
		Medication: MedicationSnapshotResponse{
			MedicationID:    u.Medication.MedicationID,
			MedicationName:  u.Medication.MedicationName,
			QuantityInStock: u.Medication.QuantityInStock,
			QuantityPerDose: u.Medication.QuantityPerDose,
			DosesPerDay:     u.Medication.DosesPerDay,
			DaysRemaining:   u.Medication.DaysRemaining,
		},
		UpdatedBy:  u.UpdatedBy,
		UpdateType: u.UpdateType,
		Category:   u.Category,
		Changes:    u.Changes,
		Timestamp:  u.Timestamp,
	}
	if u.Notes.Valid {
		out.Notes = &u.Notes.String
	}
	return out
}

func newUpdateList(updates []*models.MedicationUpdate) []*UpdateResponse {
	out := make([]*UpdateResponse, 0, len(updates))
	for _, u := range updates {
		out = append(out, NewUpdateResponse(u))
	}
	return out
}

type DispenseResponse struct {
	Administration *AdministrationResponse `json:"administration"`
	Status         string                  `json:"status"`
	Label          string                  `json:"label"`
	StockDecreased bool                    `json:"stockDecreased"`
	Medication     *MedicationResponse     `json:"medication,omitempty"`
	Ledger         *DailyStockResponse     `json:"ledger,omitempty"`
	Update         *UpdateResponse         `json:"update,omitempty"`
	Warnings       []string                `json:"warnings,omitempty"`
}

type MedicationChangeResponse struct {
	Medication *MedicationResponse `json:"medication"`
	Update     *UpdateResponse     `json:"update,omitempty"`
	Ledger     *DailyStockResponse `json:"ledger,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
}

func NewMedicationChangeResponse(c *services.MedicationChange) *MedicationChangeResponse {
	return &MedicationChangeResponse{
		Medication: NewMedicationResponse(c.Medication),
		Update:     NewUpdateResponse(c.Update),
		Ledger:     NewDailyStockResponse(c.Ledger),
		Warnings:   c.Warnings,
	}
}

type ChartEntryResponse struct {
	AdministrationID int64     `json:"administrationId,omitempty"`
	ScheduledTime    string    `json:"scheduledTime,omitempty"`
	AdministeredAt   time.Time `json:"administeredAt"`
	AdministeredBy   int64     `json:"administeredBy"`
	Quantity         float64   `json:"quantity"`
	Status           string    `json:"status"`
	Label            string    `json:"label"`
	Notes            string    `json:"notes,omitempty"`
}

type ChartDayResponse struct {
	Date    string               `json:"date"`
	Windows []*WindowResponse    `json:"windows"`
	Entries []ChartEntryResponse `json:"entries"`
}

type ChartMedicationResponse struct {
	Medication *MedicationResponse `json:"medication"`
	Days       []ChartDayResponse  `json:"days"`
}

type ChartResponse struct {
	ServiceUserID int64                     `json:"serviceUserId"`
	StartDate     string                    `json:"startDate"`
	EndDate       string                    `json:"endDate"`
	Settings      *SettingsResponse         `json:"settings"`
	Medications   []ChartMedicationResponse `json:"medications"`
}

func NewChartResponse(c *services.ChartResult) *ChartResponse {
	out := &ChartResponse{
		ServiceUserID: c.ServiceUserID,
		StartDate:     c.Start,
		EndDate:       c.End,
		Settings:      NewSettingsResponse(c.Settings),
		Medications:   make([]ChartMedicationResponse, 0, len(c.Medications)),
	}
	for _, m := range c.Medications {
		row := ChartMedicationResponse{
			Medication: NewMedicationResponse(m.Medication),
			Days:       make([]ChartDayResponse, 0, len(m.Days)),
		}
		for _, d := range m.Days {
			day := ChartDayResponse{
				Date:    d.Date,
				Windows: newWindowList(d.Windows),
				Entries: make([]ChartEntryResponse, 0, len(d.Entries)),
			}
			for _, e := range d.Entries {
				day.Entries = append(day.Entries, ChartEntryResponse(e))
			}
			row.Days = append(row.Days, day)
		}
		out.Medications = append(out.Medications, row)
	}
	return out
}

type NotificationResponse struct {
	ID           int64     `json:"id"`
	MedicationID *int64    `json:"medicationId,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	IsRead       bool      `json:"isRead"`
	CreatedAt    time.Time `json:"createdAt"`
}

func NewNotificationResponse(n *models.Notification) *NotificationResponse {
	return &NotificationResponse{
		ID:           n.ID,
		MedicationID: nullInt(n.MedicationID.Int64, n.MedicationID.Valid),
		Type:         n.Type,
		Title:        n.Title,
		Message:      n.Message,
		Severity:     n.Severity,
		IsRead:       n.IsRead,
		CreatedAt:    n.CreatedAt,
	}
}

func nullInt(v int64, valid bool) *int64 {
	if !valid {
		return nil
	}
	return &v
}
