package services

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// MedicationInput is a new prescription
type MedicationInput struct {
	ServiceUserID       int64
	Name                string
	Dosage              models.Dosage
	QuantityInStock     float64
	QuantityPerDose     float64
	DosesPerDay         float64
	Frequency           string
	AdministrationTimes []string
	StartDate           time.Time
	EndDate             *time.Time
	PrescribedBy        string
	Instructions        string
}

// MedicationPatch changes selected fields of a medication. A stock change is
// recorded in the ledger under StockChangeType.
type MedicationPatch struct {
	ServiceUserID       *int64
	Name                *string
	Dosage              *models.Dosage
	QuantityInStock     *float64
	QuantityPerDose     *float64
	DosesPerDay         *float64
	Frequency           *string
	AdministrationTimes []string
	PrescribedBy        *string
	Instructions        *string
	IsActive            *bool
	StockChangeType     string
	StockChangeNote     string
}

// MedicationChange is the saved medication with its audit entry
type MedicationChange struct {
	Medication *models.Medication
	Update     *models.MedicationUpdate
	Ledger     *models.DailyStock
	Warnings   []string
}

// MedicationService manages the medication lifecycle with audit
type MedicationService struct {
	medications repository.MedicationStore
	directory   repository.DirectoryStore
	ledger      *StockLedger
	recorder    *UpdateRecorder
	log         zerolog.Logger
}

// NewMedicationService creates a medication lifecycle service
func NewMedicationService(medications repository.MedicationStore, directory repository.DirectoryStore, ledger *StockLedger, recorder *UpdateRecorder, log zerolog.Logger) *MedicationService {
	return &MedicationService{
		medications: medications,
		directory:   directory,
		ledger:      ledger,
		recorder:    recorder,
		log:         log,
	}
}

// CreateMedication saves a new active medication and audits it
func (s *MedicationService) CreateMedication(ctx context.Context, in MedicationInput, userID int64) (*MedicationChange, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	for field, v := range map[string]float64{
		"quantityInStock": in.QuantityInStock,
		"quantityPerDose": in.QuantityPerDose,
		"dosesPerDay":     in.DosesPerDay,
	} {
		if err := checkQuantity(field, v); err != nil {
			return nil, err
		}
	}
	if err := checkTimes(in.AdministrationTimes); err != nil {
		return nil, err
	}
	if in.StartDate.IsZero() {
		return nil, invalid("startDate", "is required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, invalid("endDate", "must not be before startDate")
	}
	if _, err := s.directory.GetServiceUser(ctx, in.ServiceUserID); err != nil {
		return nil, storageError("get service user", err)
	}

	med := &models.Medication{
		ServiceUserID:       in.ServiceUserID,
		Name:                name,
		Dosage:              in.Dosage,
		QuantityInStock:     in.QuantityInStock,
		QuantityPerDose:     in.QuantityPerDose,
		DosesPerDay:         in.DosesPerDay,
		Frequency:           in.Frequency,
		AdministrationTimes: in.AdministrationTimes,
		StartDate:           in.StartDate,
		PrescribedBy:        in.PrescribedBy,
		IsActive:            true,
		UpdatedBy:           sql.NullInt64{Int64: userID, Valid: userID != 0},
	}
	if in.EndDate != nil {
		med.EndDate = sql.NullTime{Time: *in.EndDate, Valid: true}
	}
	if in.Instructions != "" {
		med.Instructions = sql.NullString{String: in.Instructions, Valid: true}
	}
	if err := s.medications.Create(ctx, med); err != nil {
		return nil, storageError("create medication", err)
	}

	update, err := s.recorder.Record(ctx, RecordRequest{
		Medication: med,
		UserID:     userID,
		UpdateType: UpdateNewMedication,
		Changes: map[string]models.FieldChange{
			"medicationName":  {OldValue: nil, NewValue: med.Name},
			"quantityInStock": {OldValue: nil, NewValue: med.QuantityInStock},
		},
	})
	out := &MedicationChange{Medication: med, Update: update}
	if err != nil {
		out.warn(s.log, "record medication update", err)
	}

	s.log.Info().Int64("medication_id", med.ID).Int64("service_user_id", med.ServiceUserID).Msg("medication created")
	return out, nil
}

// UpdateMedication applies the patch, moves any stock difference through the
// ledger and writes one audit entry
func (s *MedicationService) UpdateMedication(ctx context.Context, id int64, patch MedicationPatch, userID int64) (*MedicationChange, error) {
	old, err := s.medications.GetByID(ctx, id)
	if err != nil {
		return nil, storageError("get medication", err)
	}

	updated, err := applyPatch(old, patch)
	if err != nil {
		return nil, err
	}
	if updated.ServiceUserID != old.ServiceUserID {
		if _, err := s.directory.GetServiceUser(ctx, updated.ServiceUserID); err != nil {
			return nil, storageError("get service user", err)
		}
	}

	changes, updateType := DiffMedication(old, updated)
	if updateType == "" {
		return nil, invalid("", "no changes detected")
	}

	stockChanged := updated.QuantityInStock != old.QuantityInStock
	var changeType string
	if stockChanged {
		if changeType, _, err = s.ledger.resolveChangeType(patch.StockChangeType, patch.StockChangeNote); err != nil {
			return nil, err
		}
	}

	updated.UpdatedBy = sql.NullInt64{Int64: userID, Valid: userID != 0}
	if err := s.medications.Update(ctx, updated); err != nil {
		return nil, storageError("update medication", err)
	}

	out := &MedicationChange{Medication: updated}
	if stockChanged {
		// a relative edit keeps administrations committed since the read
		delta := updated.QuantityInStock - old.QuantityInStock
		saved, err := s.medications.AdjustStock(ctx, id, delta, userID)
		if err != nil {
			return nil, storageError("adjust stock", err)
		}
		out.Medication = saved
		changes["quantityInStock"] = models.FieldChange{OldValue: saved.QuantityInStock - delta, NewValue: saved.QuantityInStock}

		ledger, err := s.ledger.RecordQuantityChange(ctx, id, userID, changeType, delta, patch.StockChangeNote)
		if err != nil {
			out.warn(s.log, "record stock change", err)
		} else {
			out.Ledger = ledger.DailyStock
			if ledger.RefreshErr != nil {
				out.warn(s.log, "refresh ledger snapshots", ledger.RefreshErr)
			}
		}
	}

	update, err := s.recorder.Record(ctx, RecordRequest{
		Medication: out.Medication,
		UserID:     userID,
		UpdateType: updateType,
		Changes:    changes,
		Notes:      patch.StockChangeNote,
	})
	if err != nil {
		out.warn(s.log, "record medication update", err)
	}
	out.Update = update

	s.log.Info().Int64("medication_id", id).Str("update_type", updateType).Msg("medication updated")
	return out, nil
}

// DeactivateMedication hides a medication from availability without deleting it
func (s *MedicationService) DeactivateMedication(ctx context.Context, id, userID int64) (*MedicationChange, error) {
	inactive := false
	return s.UpdateMedication(ctx, id, MedicationPatch{IsActive: &inactive}, userID)
}

// DeleteMedication audits and then permanently removes a medication along with
// its administrations and ledger. The audit entry outlives it.
func (s *MedicationService) DeleteMedication(ctx context.Context, id, userID int64) (*models.MedicationUpdate, error) {
	med, err := s.medications.GetByID(ctx, id)
	if err != nil {
		return nil, storageError("get medication", err)
	}

	update, err := s.recorder.Record(ctx, RecordRequest{
		Medication: med,
		UserID:     userID,
		UpdateType: UpdateDeleted,
		Changes: map[string]models.FieldChange{
			"isActive": {OldValue: med.IsActive, NewValue: false},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.medications.Delete(ctx, id); err != nil {
		return nil, storageError("delete medication", err)
	}

	s.log.Warn().Int64("medication_id", id).Int64("user_id", userID).Msg("medication deleted")
	return update, nil
}

func (c *MedicationChange) warn(log zerolog.Logger, op string, err error) {
	log.Error().Err(err).Int64("medication_id", c.Medication.ID).Msg("failed to " + op)
	c.Warnings = append(c.Warnings, fmt.Sprintf("failed to %s: %v", op, err))
}

func applyPatch(old *models.Medication, p MedicationPatch) (*models.Medication, error) {
	m := *old
	m.AdministrationTimes = append([]string(nil), old.AdministrationTimes...)

	if p.ServiceUserID != nil {
		m.ServiceUserID = *p.ServiceUserID
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		m.Name = name
	}
	if p.Dosage != nil {
		m.Dosage = *p.Dosage
	}
	if p.QuantityInStock != nil {
		if err := checkQuantity("quantityInStock", *p.QuantityInStock); err != nil {
			return nil, err
		}
		m.QuantityInStock = *p.QuantityInStock
	}
	if p.QuantityPerDose != nil {
		if err := checkQuantity("quantityPerDose", *p.QuantityPerDose); err != nil {
			return nil, err
		}
		m.QuantityPerDose = *p.QuantityPerDose
	}
	if p.DosesPerDay != nil {
		if err := checkQuantity("dosesPerDay", *p.DosesPerDay); err != nil {
			return nil, err
		}
		m.DosesPerDay = *p.DosesPerDay
	}
	if p.Frequency != nil {
		m.Frequency = *p.Frequency
	}
	if p.AdministrationTimes != nil {
		if err := checkTimes(p.AdministrationTimes); err != nil {
			return nil, err
		}
		m.AdministrationTimes = p.AdministrationTimes
	}
	if p.PrescribedBy != nil {
		m.PrescribedBy = *p.PrescribedBy
	}
	if p.Instructions != nil {
		m.Instructions = sql.NullString{String: *p.Instructions, Valid: *p.Instructions != ""}
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
	return &m, nil
}

func checkQuantity(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return invalid(field, "must be a non-negative number")
	}
	return nil
}

func checkTimes(times []string) error {
	for _, t := range times {
		if _, err := ParseScheduleTime(t); err != nil {
			return invalid("administrationTimes", err.Error())
		}
	}
	return nil
}
