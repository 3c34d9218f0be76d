package services

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// Update types
const (
	UpdateNewMedication       = "New Medication"
	UpdateNameChange          = "Name Change"
	UpdateServiceUserChange   = "Service User Change"
	UpdateStockIncrease       = "MedStock Increase"
	UpdateStockDecrease       = "MedStock Decrease"
	UpdateQuantityPerDose     = "Quantity Per Dose Change"
	UpdateDosesPerDay         = "Doses Per Day Change"
	UpdatePrescriberChange    = "Prescriber Change"
	UpdateDosageChange        = "Dosage Change"
	UpdateFrequencyChange     = "Frequency Change"
	UpdateAdministrationTimes = "Administration Times Change"
	UpdateInstructionsChange  = "Instructions Change"
	UpdateActivated           = "Activated"
	UpdateDeactivated         = "Deactivated"
	UpdateDeleted             = "Deleted"
)

const (
	defaultUpdateLimit = 50
	maxUpdateLimit     = 500
)

// Category classifies an update type as quantitative or qualitative
func Category(updateType string) string {
	switch updateType {
	case UpdateStockIncrease, UpdateStockDecrease, UpdateQuantityPerDose, UpdateDosesPerDay:
		return models.CategoryQuantitative
	default:
		return models.CategoryQualitative
	}
}

// DiffMedication returns the fields that differ between old and new and the
// single update type of the change. When several fields change, the last check
// in field order decides the type; every changed field is still in the map.
func DiffMedication(old, updated *models.Medication) (map[string]models.FieldChange, string) {
	changes := map[string]models.FieldChange{}
	updateType := ""

	if old.Name != updated.Name {
		changes["medicationName"] = models.FieldChange{OldValue: old.Name, NewValue: updated.Name}
		updateType = UpdateNameChange
	}
	if old.ServiceUserID != updated.ServiceUserID {
		changes["serviceUser"] = models.FieldChange{OldValue: old.ServiceUserID, NewValue: updated.ServiceUserID}
		updateType = UpdateServiceUserChange
	}
	if old.QuantityInStock != updated.QuantityInStock {
		changes["quantityInStock"] = models.FieldChange{OldValue: old.QuantityInStock, NewValue: updated.QuantityInStock}
		if updated.QuantityInStock > old.QuantityInStock {
			updateType = UpdateStockIncrease
		} else {
			updateType = UpdateStockDecrease
		}
	}
	if old.QuantityPerDose != updated.QuantityPerDose {
		changes["quantityPerDose"] = models.FieldChange{OldValue: old.QuantityPerDose, NewValue: updated.QuantityPerDose}
		changes["daysRemaining"] = models.FieldChange{
			OldValue: models.DaysRemaining(updated.QuantityInStock, old.QuantityPerDose, old.DosesPerDay),
			NewValue: models.DaysRemaining(updated.QuantityInStock, updated.QuantityPerDose, old.DosesPerDay),
		}
		updateType = UpdateQuantityPerDose
	}
	if old.DosesPerDay != updated.DosesPerDay {
		changes["dosesPerDay"] = models.FieldChange{OldValue: old.DosesPerDay, NewValue: updated.DosesPerDay}
		changes["daysRemaining"] = models.FieldChange{
			OldValue: models.DaysRemaining(updated.QuantityInStock, updated.QuantityPerDose, old.DosesPerDay),
			NewValue: models.DaysRemaining(updated.QuantityInStock, updated.QuantityPerDose, updated.DosesPerDay),
		}
		updateType = UpdateDosesPerDay
	}
	if old.PrescribedBy != updated.PrescribedBy {
		changes["prescribedBy"] = models.FieldChange{OldValue: old.PrescribedBy, NewValue: updated.PrescribedBy}
		updateType = UpdatePrescriberChange
	}
	if old.Dosage != updated.Dosage {
		changes["dosage"] = models.FieldChange{OldValue: formatDosage(old.Dosage), NewValue: formatDosage(updated.Dosage)}
		updateType = UpdateDosageChange
	}
	if old.Frequency != updated.Frequency {
		changes["frequency"] = models.FieldChange{OldValue: old.Frequency, NewValue: updated.Frequency}
		updateType = UpdateFrequencyChange
	}
	if !equalTimes(old.AdministrationTimes, updated.AdministrationTimes) {
		changes["administrationTimes"] = models.FieldChange{OldValue: old.AdministrationTimes, NewValue: updated.AdministrationTimes}
		updateType = UpdateAdministrationTimes
	}
	if old.Instructions != updated.Instructions {
		changes["instructions"] = models.FieldChange{OldValue: nullableText(old.Instructions), NewValue: nullableText(updated.Instructions)}
		updateType = UpdateInstructionsChange
	}
	if old.IsActive != updated.IsActive {
		changes["isActive"] = models.FieldChange{OldValue: old.IsActive, NewValue: updated.IsActive}
		if updated.IsActive {
			updateType = UpdateActivated
		} else {
			updateType = UpdateDeactivated
		}
	}

	return changes, updateType
}

// GenerateNote describes an update from its type and changes
func GenerateNote(updateType string, changes map[string]models.FieldChange) string {
	c := func(field string) models.FieldChange { return changes[field] }

	switch updateType {
	case UpdateStockIncrease:
		oldStock, newStock := toFloat(c("quantityInStock").OldValue), toFloat(c("quantityInStock").NewValue)
		return fmt.Sprintf("Stock increased by %s units (from %s to %s units).",
			formatNumber(newStock-oldStock), formatNumber(oldStock), formatNumber(newStock))
	case UpdateStockDecrease:
		oldStock, newStock := toFloat(c("quantityInStock").OldValue), toFloat(c("quantityInStock").NewValue)
		return fmt.Sprintf("Stock decreased by %s units (from %s to %s units).",
			formatNumber(oldStock-newStock), formatNumber(oldStock), formatNumber(newStock))
	case UpdateQuantityPerDose:
		return fmt.Sprintf("Quantity per dose changed from %s to %s. Days remaining updated from %s to %s days.",
			formatValue(c("quantityPerDose").OldValue), formatValue(c("quantityPerDose").NewValue),
			formatValue(c("daysRemaining").OldValue), formatValue(c("daysRemaining").NewValue))
	case UpdateDosesPerDay:
		return fmt.Sprintf("Daily dose frequency changed from %s to %s doses per day. Days remaining updated from %s to %s days.",
			formatValue(c("dosesPerDay").OldValue), formatValue(c("dosesPerDay").NewValue),
			formatValue(c("daysRemaining").OldValue), formatValue(c("daysRemaining").NewValue))
	case UpdateNewMedication:
		return fmt.Sprintf("New medication %q has been added to the system.", formatValue(c("medicationName").NewValue))
	case UpdateNameChange:
		return fmt.Sprintf("Medication name changed from %q to %q.",
			formatValue(c("medicationName").OldValue), formatValue(c("medicationName").NewValue))
	case UpdateServiceUserChange:
		return fmt.Sprintf("Service user changed from %q to %q.",
			formatValue(c("serviceUser").OldValue), formatValue(c("serviceUser").NewValue))
	case UpdatePrescriberChange:
		return fmt.Sprintf("Prescriber changed from %q to %q.",
			formatValue(c("prescribedBy").OldValue), formatValue(c("prescribedBy").NewValue))
	case UpdateDosageChange:
		return fmt.Sprintf("Dosage adjusted from %s to %s.",
			formatValue(c("dosage").OldValue), formatValue(c("dosage").NewValue))
	case UpdateFrequencyChange:
		return fmt.Sprintf("Administration frequency changed from %q to %q.",
			formatValue(c("frequency").OldValue), formatValue(c("frequency").NewValue))
	case UpdateAdministrationTimes:
		return fmt.Sprintf("Administration times updated from %s to %s.",
			formatValue(c("administrationTimes").OldValue), formatValue(c("administrationTimes").NewValue))
	case UpdateInstructionsChange:
		if c("instructions").OldValue == nil {
			return fmt.Sprintf("Administration instructions added: %q.", formatValue(c("instructions").NewValue))
		}
		return fmt.Sprintf("Administration instructions updated. Previous: %q. New: %q.",
			formatValue(c("instructions").OldValue), formatValue(c("instructions").NewValue))
	case UpdateActivated:
		return "Medication has been activated and is now available for administration."
	case UpdateDeactivated:
		return "Medication has been temporarily deactivated and is no longer available for administration."
	case UpdateDeleted:
		return "Medication has been permanently removed from the system."
	}
	if Category(updateType) == models.CategoryQuantitative {
		return "Stock or quantity details have been updated."
	}
	return "Medication details have been updated."
}

// RecordRequest describes one audit entry. Medication is the state after the change.
type RecordRequest struct {
	Medication *models.Medication
	UserID     int64
	UpdateType string
	Changes    map[string]models.FieldChange
	Notes      string
}

// UpdateRecorder writes immutable audit entries for medication mutations
type UpdateRecorder struct {
	updates repository.UpdateStore
	now     Clock
	log     zerolog.Logger
}

// NewUpdateRecorder creates an audit recorder
func NewUpdateRecorder(updates repository.UpdateStore, now Clock, log zerolog.Logger) *UpdateRecorder {
	return &UpdateRecorder{updates: updates, now: now, log: log}
}

// Record persists a value snapshot of the medication together with the change.
// Quantitative entries keep a non-empty user note; everything else gets a
// generated description.
func (r *UpdateRecorder) Record(ctx context.Context, req RecordRequest) (*models.MedicationUpdate, error) {
	if req.Medication == nil {
		return nil, invalid("medication", "is required")
	}
	if req.UpdateType == "" {
		return nil, invalid("updateType", "is required")
	}

	changes := req.Changes
	if changes == nil {
		changes = map[string]models.FieldChange{}
	}

	category := Category(req.UpdateType)
	notes := strings.TrimSpace(req.Notes)
	if category != models.CategoryQuantitative || notes == "" {
		notes = GenerateNote(req.UpdateType, changes)
	}

	update := &models.MedicationUpdate{
		Medication: models.SnapshotOf(req.Medication),
		UpdatedBy:  req.UserID,
		UpdateType: req.UpdateType,
		Category:   category,
		Changes:    changes,
		Notes:      sql.NullString{String: notes, Valid: notes != ""},
		Timestamp:  r.now().UTC(),
	}
	if err := r.updates.Create(ctx, update); err != nil {
		return nil, storageError("record medication update", err)
	}

	r.log.Debug().
		Int64("medication_id", update.Medication.MedicationID).
		Str("update_type", update.UpdateType).
		Str("category", update.Category).
		Msg("medication update recorded")

	return update, nil
}

// ListUpdates returns audit entries newest first
func (r *UpdateRecorder) ListUpdates(ctx context.Context, limit, offset int) ([]*models.MedicationUpdate, error) {
	limit, offset = page(limit, offset)
	updates, err := r.updates.List(ctx, limit, offset)
	if err != nil {
		return nil, storageError("list medication updates", err)
	}
	if updates == nil {
		updates = []*models.MedicationUpdate{}
	}
	return updates, nil
}

// ListUpdatesForMedication returns one medication's audit entries newest first
func (r *UpdateRecorder) ListUpdatesForMedication(ctx context.Context, medicationID int64, limit, offset int) ([]*models.MedicationUpdate, error) {
	limit, offset = page(limit, offset)
	updates, err := r.updates.ListByMedication(ctx, medicationID, limit, offset)
	if err != nil {
		return nil, storageError("list medication updates", err)
	}
	if updates == nil {
		updates = []*models.MedicationUpdate{}
	}
	return updates, nil
}

// PurgeUpdates deletes audit entries older than before. Administrator only.
func (r *UpdateRecorder) PurgeUpdates(ctx context.Context, before time.Time, userID int64) (int64, error) {
	if before.IsZero() {
		return 0, invalid("before", "is required")
	}
	if before.After(r.now()) {
		return 0, invalid("before", "must not be in the future")
	}
	n, err := r.updates.PurgeBefore(ctx, before.UTC())
	if err != nil {
		return 0, storageError("purge medication updates", err)
	}
	r.log.Warn().
		Time("before", before).
		Int64("deleted", n).
		Int64("user_id", userID).
		Msg("medication updates purged")
	return n, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultUpdateLimit
	}
	if limit > maxUpdateLimit {
		limit = maxUpdateLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func equalTimes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatDosage(d models.Dosage) string {
	if d.Unit == "" {
		return formatNumber(d.Amount)
	}
	return formatNumber(d.Amount) + " " + d.Unit
}

func nullableText(s sql.NullString) interface{} {
	if !s.Valid {
		return nil
	}
	return s.String
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "not set"
	case float64:
		return formatNumber(x)
	case []string:
		return strings.Join(x, ", ")
	case []interface{}:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = formatValue(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
