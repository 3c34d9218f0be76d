package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// Validation result codes
const (
	CodeNotFound         = "not_found"
	CodeValidationFailed = "validation_failed"
)

// Rejection reasons, used as metric labels
const (
	RuleNotFound        = "not_found"
	RuleNoSchedule      = "no_schedule"
	RuleOutsideWindow   = "outside_window"
	RuleAlreadyRecorded = "already_recorded"
)

const (
	msgNotFound        = "Medication not found or inactive for the service user."
	msgNoSchedule      = "No administration schedule defined for this medication."
	msgOutsideWindow   = "Administration is outside the allowed window."
	msgAlreadyRecorded = "This scheduled administration has already been recorded."
)

// ValidationRequest is a proposed administration. A zero Timestamp means now.
type ValidationRequest struct {
	MedicationID  int64
	ServiceUserID int64
	Timestamp     time.Time
	GroupID       int64
	UserID        int64
}

// ValidationResult explains whether an administration may be recorded.
// Windows holds the whole day's window set whenever it was built.
type ValidationResult struct {
	Valid      bool
	Reason     string
	Code       string
	Rule       string
	Window     *AdministrationWindow
	Windows    []AdministrationWindow
	Settings   *models.AdministrationSettings
	Medication *models.Medication
	Existing   *models.MedicationAdministration
	Timestamp  time.Time
}

// DispenseRequest records one administration attempt. Outcome, when set,
// replaces timing classification.
type DispenseRequest struct {
	MedicationID  int64
	ServiceUserID int64
	Quantity      float64
	Timestamp     time.Time
	Outcome       string
	Notes         string
	GroupID       int64
	UserID        int64
}

// DispenseResult is the created record plus its stock side effects. Warnings
// lists ledger or audit failures that happened after the record was committed.
type DispenseResult struct {
	Administration *models.MedicationAdministration
	Status         string
	StockDecreased bool
	Medication     *models.Medication
	Ledger         *models.DailyStock
	Update         *models.MedicationUpdate
	Warnings       []string
}

// AdministrationService validates and records administrations
type AdministrationService struct {
	settings        *SettingsService
	directory       repository.DirectoryStore
	medications     repository.MedicationStore
	administrations repository.AdministrationStore
	ledger          *StockLedger
	recorder        *UpdateRecorder
	metrics         *Metrics
	loc             *time.Location
	now             Clock
	log             zerolog.Logger
}

// AdministrationDeps bundles the collaborators of an AdministrationService
type AdministrationDeps struct {
	Settings        *SettingsService
	Directory       repository.DirectoryStore
	Medications     repository.MedicationStore
	Administrations repository.AdministrationStore
	Ledger          *StockLedger
	Recorder        *UpdateRecorder
	Metrics         *Metrics
	Location        *time.Location
	Clock           Clock
	Logger          zerolog.Logger
}

// NewAdministrationService creates the validator and dispense flow
func NewAdministrationService(deps AdministrationDeps) *AdministrationService {
	return &AdministrationService{
		settings:        deps.Settings,
		directory:       deps.Directory,
		medications:     deps.Medications,
		administrations: deps.Administrations,
		ledger:          deps.Ledger,
		recorder:        deps.Recorder,
		metrics:         deps.Metrics,
		loc:             deps.Location,
		now:             deps.Clock,
		log:             deps.Logger,
	}
}

// ValidateAdministration checks a proposed administration against the day's
// windows and existing records. Rejections come back as invalid results;
// only storage failures are returned as errors.
func (s *AdministrationService) ValidateAdministration(ctx context.Context, req ValidationRequest) (*ValidationResult, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.In(s.loc)
	result := &ValidationResult{Timestamp: ts}

	med, err := s.medications.GetByID(ctx, req.MedicationID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError("get medication", err)
	}
	if med == nil || med.ServiceUserID != req.ServiceUserID || !med.IsActive {
		return s.reject(result, CodeNotFound, RuleNotFound, msgNotFound), nil
	}
	result.Medication = med

	groupID, err := groupFor(ctx, s.directory, req.GroupID, req.ServiceUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.reject(result, CodeNotFound, RuleNotFound, msgNotFound), nil
	}
	if err != nil {
		return nil, storageError("get service user", err)
	}

	settings, err := s.settings.GetSettings(ctx, SettingsQuery{GroupID: groupID, UserID: req.UserID})
	if err != nil {
		return nil, err
	}
	result.Settings = settings

	if len(med.AdministrationTimes) == 0 {
		return s.reject(result, CodeValidationFailed, RuleNoSchedule, msgNoSchedule), nil
	}

	result.Windows = BuildWindows(med, ts, settings, s.loc)
	if len(result.Windows) == 0 {
		return s.reject(result, CodeValidationFailed, RuleNoSchedule, msgNoSchedule), nil
	}

	window := findWindow(result.Windows, ts)
	if window == nil {
		return s.reject(result, CodeValidationFailed, RuleOutsideWindow, msgOutsideWindow), nil
	}
	result.Window = window

	existing, err := s.administrations.GetBySlot(ctx, med.ID, window.ScheduledDate, window.ScheduledTime)
	switch {
	case err == nil:
		result.Existing = existing
		return s.reject(result, CodeValidationFailed, RuleAlreadyRecorded, msgAlreadyRecorded), nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, storageError("get administration", err)
	}

	result.Valid = true
	return result, nil
}

func (s *AdministrationService) reject(result *ValidationResult, code, rule, reason string) *ValidationResult {
	result.Valid = false
	result.Code = code
	result.Rule = rule
	result.Reason = reason
	s.metrics.Rejection(rule)
	return result
}

// Dispense validates, classifies and records an administration. The record and
// its stock decrement commit together; ledger and audit writes follow and only
// produce warnings when they fail.
func (s *AdministrationService) Dispense(ctx context.Context, req DispenseRequest) (*DispenseResult, error) {
	if math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) || req.Quantity < 0 {
		return nil, invalid("quantity", "must be a non-negative number")
	}
	if req.Outcome != "" && !IsOutcome(req.Outcome) {
		return nil, invalid("outcome", fmt.Sprintf("unknown outcome %q", req.Outcome))
	}

	validation, err := s.ValidateAdministration(ctx, ValidationRequest{
		MedicationID:  req.MedicationID,
		ServiceUserID: req.ServiceUserID,
		Timestamp:     req.Timestamp,
		GroupID:       req.GroupID,
		UserID:        req.UserID,
	})
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, &AdministrationError{Result: validation}
	}

	ts := validation.Timestamp
	window := validation.Window
	med := validation.Medication

	status := req.Outcome
	if status == "" {
		status = EvaluateStatus(ts, *window)
	}
	decrease := ShouldDecreaseStock(status)
	quantity := req.Quantity
	if !decrease {
		quantity = 0
	}

	note := BuildNote(status, req.Notes)
	record := &models.MedicationAdministration{
		MedicationID:   med.ID,
		ServiceUserID:  med.ServiceUserID,
		ScheduledDate:  window.ScheduledDate,
		ScheduledTime:  window.ScheduledTime,
		AdministeredAt: ts.UTC(),
		AdministeredBy: req.UserID,
		Quantity:       quantity,
		Status:         status,
		Notes:          sql.NullString{String: note, Valid: note != ""},
	}
	movement, err := s.administrations.Create(ctx, record, decrease)
	if err != nil {
		return nil, storageError("create administration", err)
	}
	s.metrics.Administration(status)

	result := &DispenseResult{
		Administration: record,
		Status:         status,
		StockDecreased: decrease && quantity > 0,
		Medication:     med,
	}

	s.log.Info().
		Int64("medication_id", med.ID).
		Int64("service_user_id", med.ServiceUserID).
		Str("scheduled_date", record.ScheduledDate).
		Str("scheduled_time", record.ScheduledTime).
		Str("status", status).
		Float64("quantity", quantity).
		Int64("user_id", req.UserID).
		Msg("administration recorded")

	if !result.StockDecreased {
		return result, nil
	}

	result.Medication = movement.Medication

	ledger, err := s.ledger.RecordQuantityChange(ctx, med.ID, req.UserID, ChangeTypeForStatus(status), quantity, note)
	if err != nil {
		result.warn(s.log, "record stock change", err)
	} else {
		result.Ledger = ledger.DailyStock
		if ledger.RefreshErr != nil {
			result.warn(s.log, "refresh ledger snapshots", ledger.RefreshErr)
		}
	}

	changes := map[string]models.FieldChange{
		"quantityInStock": {OldValue: movement.Before, NewValue: movement.After},
	}
	update, err := s.recorder.Record(ctx, RecordRequest{
		Medication: movement.Medication,
		UserID:     req.UserID,
		UpdateType: UpdateStockDecrease,
		Changes:    changes,
		Notes:      req.Notes,
	})
	if err != nil {
		result.warn(s.log, "record medication update", err)
	} else {
		result.Update = update
	}

	return result, nil
}

func (r *DispenseResult) warn(log zerolog.Logger, op string, err error) {
	log.Error().Err(err).Int64("administration_id", r.Administration.ID).Msg("failed to " + op)
	r.Warnings = append(r.Warnings, fmt.Sprintf("failed to %s: %v", op, err))
}
