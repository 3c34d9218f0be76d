package handlers

import (
	"net/http"
	"time"

	"mar-engine/internal/middleware"
	"mar-engine/internal/models"
	"mar-engine/internal/services"
)

// CreateMedicationRequest represents the request body for creating a medication
type CreateMedicationRequest struct {
	ServiceUserID       int64           `json:"serviceUserId"`
	Name                string          `json:"medicationName"`
	Dosage              *DosageResponse `json:"dosage,omitempty"`
	QuantityInStock     float64         `json:"quantityInStock"`
	QuantityPerDose     float64         `json:"quantityPerDose"`
	DosesPerDay         float64         `json:"dosesPerDay"`
	Frequency           string          `json:"frequency,omitempty"`
	AdministrationTimes []string        `json:"administrationTimes"`
	StartDate           string          `json:"startDate"`
	EndDate             *string         `json:"endDate,omitempty"`
	PrescribedBy        string          `json:"prescribedBy,omitempty"`
	Instructions        string          `json:"instructions,omitempty"`
}

// UpdateMedicationRequest represents the request body for updating a medication.
// A changed quantityInStock needs a stockChangeType, or a stockChangeNote the
// type can be read from when note inference is enabled.
type UpdateMedicationRequest struct {
	ServiceUserID       *int64          `json:"serviceUserId,omitempty"`
	Name                *string         `json:"medicationName,omitempty"`
	Dosage              *DosageResponse `json:"dosage,omitempty"`
	QuantityInStock     *float64        `json:"quantityInStock,omitempty"`
	QuantityPerDose     *float64        `json:"quantityPerDose,omitempty"`
	DosesPerDay         *float64        `json:"dosesPerDay,omitempty"`
	Frequency           *string         `json:"frequency,omitempty"`
	AdministrationTimes []string        `json:"administrationTimes,omitempty"`
	PrescribedBy        *string         `json:"prescribedBy,omitempty"`
	Instructions        *string         `json:"instructions,omitempty"`
	IsActive            *bool           `json:"isActive,omitempty"`
	StockChangeType     string          `json:"stockChangeType,omitempty"`
	StockChangeNote     string          `json:"stockChangeNote,omitempty"`
}

// HandleCreateMedication creates a new medication
func HandleCreateMedication(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMedicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid request body", nil)
			return
		}

		startDate, err := time.ParseInLocation(models.DateLayout, req.StartDate, loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid startDate format, use YYYY-MM-DD", nil)
			return
		}

		in := services.MedicationInput{
			ServiceUserID:       req.ServiceUserID,
			Name:                req.Name,
			QuantityInStock:     req.QuantityInStock,
			QuantityPerDose:     req.QuantityPerDose,
			DosesPerDay:         req.DosesPerDay,
			Frequency:           req.Frequency,
			AdministrationTimes: req.AdministrationTimes,
			StartDate:           startDate,
			PrescribedBy:        req.PrescribedBy,
			Instructions:        req.Instructions,
		}
		if req.Dosage != nil {
			in.Dosage = models.Dosage{Amount: req.Dosage.Amount, Unit: req.Dosage.Unit}
		}
		if req.EndDate != nil && *req.EndDate != "" {
			endDate, err := time.ParseInLocation(models.DateLayout, *req.EndDate, loc)
			if err != nil {
				respondError(w, r, http.StatusBadRequest, "Invalid endDate format, use YYYY-MM-DD", nil)
				return
			}
			in.EndDate = &endDate
		}

		change, err := engine.Medications.CreateMedication(r.Context(), in, middleware.GetUserID(r.Context()))
		if err != nil {
			respondServiceError(w, r, "Failed to create medication", err)
			return
		}

		respondJSON(w, r, http.StatusCreated, "Medication created", NewMedicationChangeResponse(change))
	}
}

// HandleUpdateMedication applies a partial update with audit and ledger entries
func HandleUpdateMedication(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}

		var req UpdateMedicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid request body", nil)
			return
		}

		patch := services.MedicationPatch{
			ServiceUserID:       req.ServiceUserID,
			Name:                req.Name,
			QuantityInStock:     req.QuantityInStock,
			QuantityPerDose:     req.QuantityPerDose,
			DosesPerDay:         req.DosesPerDay,
			Frequency:           req.Frequency,
			AdministrationTimes: req.AdministrationTimes,
			PrescribedBy:        req.PrescribedBy,
			Instructions:        req.Instructions,
			IsActive:            req.IsActive,
			StockChangeType:     req.StockChangeType,
			StockChangeNote:     req.StockChangeNote,
		}
		if req.Dosage != nil {
			patch.Dosage = &models.Dosage{Amount: req.Dosage.Amount, Unit: req.Dosage.Unit}
		}

		change, err := engine.Medications.UpdateMedication(r.Context(), id, patch, middleware.GetUserID(r.Context()))
		if err != nil {
			respondServiceError(w, r, "Failed to update medication", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "Medication updated", NewMedicationChangeResponse(change))
	}
}

// HandleDeactivateMedication hides a medication without deleting its history
func HandleDeactivateMedication(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}

		change, err := engine.Medications.DeactivateMedication(r.Context(), id, middleware.GetUserID(r.Context()))
		if err != nil {
			respondServiceError(w, r, "Failed to deactivate medication", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "Medication deactivated", NewMedicationChangeResponse(change))
	}
}

// HandleDeleteMedication permanently removes a medication
func HandleDeleteMedication(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}

		update, err := engine.Medications.DeleteMedication(r.Context(), id, middleware.GetUserID(r.Context()))
		if err != nil {
			respondServiceError(w, r, "Failed to delete medication", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "Medication deleted", NewUpdateResponse(update))
	}
}
