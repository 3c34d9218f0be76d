package handlers

import (
	"net/http"
	"time"

	"mar-engine/internal/middleware"
	"mar-engine/internal/models"
	"mar-engine/internal/services"
)

// UpdateSettingsRequest is the body of PUT /api/mar/settings
type UpdateSettingsRequest struct {
	Scope           string `json:"scope"`
	GroupID         int64  `json:"groupId"`
	ThresholdBefore *int   `json:"thresholdBefore"`
	ThresholdAfter  *int   `json:"thresholdAfter"`
}

// AdministrationRequest is the body of the validate and dispense routes
type AdministrationRequest struct {
	MedicationID int64      `json:"medicationId"`
	Quantity     *float64   `json:"quantity"`
	Timestamp    *time.Time `json:"timestamp"`
	Outcome      string     `json:"outcome"`
	Notes        string     `json:"notes"`
	GroupID      int64      `json:"groupId"`
}

// HandleGetCurrentSettings returns the thresholds in effect for an optional group
func HandleGetCurrentSettings(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, err := queryInt(r, "groupId")
		if err != nil || groupID < 0 {
			respondError(w, r, http.StatusBadRequest, "groupId must be a positive integer", nil)
			return
		}

		settings, err := engine.Settings.GetSettings(r.Context(), services.SettingsQuery{
			GroupID: groupID,
			UserID:  middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respondServiceError(w, r, "Failed to fetch administration settings", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "", NewSettingsResponse(settings))
	}
}

// HandleUpdateSettings replaces global or group thresholds
func HandleUpdateSettings(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSettingsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
		if req.ThresholdBefore == nil || req.ThresholdAfter == nil {
			respondError(w, r, http.StatusBadRequest, "Thresholds must be non-negative numbers", nil)
			return
		}
		if req.Scope == "" {
			req.Scope = models.ScopeGlobal
		}

		settings, err := engine.Settings.UpdateSettings(r.Context(), services.UpdateSettingsRequest{
			Scope:           req.Scope,
			GroupID:         req.GroupID,
			ThresholdBefore: *req.ThresholdBefore,
			ThresholdAfter:  *req.ThresholdAfter,
			UserID:          middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respondServiceError(w, r, "Failed to update administration settings", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "Administration settings updated", NewSettingsResponse(settings))
	}
}

// HandleGetAvailability classifies a service user's medications against now
func HandleGetAvailability(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceUserID, ok := idParam(r, "serviceUserID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid service user ID", nil)
			return
		}
		date, err := queryDate(r, "date", loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid date format, use YYYY-MM-DD", nil)
			return
		}
		now, err := queryTime(r, "now")
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid now, use RFC 3339", nil)
			return
		}
		groupID, err := queryInt(r, "groupId")
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "groupId must be an integer", nil)
			return
		}

		result, err := engine.Availability.GetAvailableMedications(r.Context(), services.AvailabilityRequest{
			ServiceUserID: serviceUserID,
			Date:          date,
			Now:           now,
			GroupID:       groupID,
			UserID:        middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respondServiceError(w, r, "Failed to fetch availability", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "", NewAvailabilityResponse(result))
	}
}

// HandleValidateAdministration reports whether an administration would be accepted
func HandleValidateAdministration(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceUserID, req, ok := readAdministration(w, r)
		if !ok {
			return
		}

		result, err := engine.Administration.ValidateAdministration(r.Context(), services.ValidationRequest{
			MedicationID:  req.MedicationID,
			ServiceUserID: serviceUserID,
			Timestamp:     timestampOf(req),
			GroupID:       req.GroupID,
			UserID:        middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respondServiceError(w, r, "Failed to validate administration", err)
			return
		}

		respondJSON(w, r, http.StatusOK, result.Reason, NewValidationResponse(result))
	}
}

// HandleDispense records an administration and its stock movement
func HandleDispense(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceUserID, req, ok := readAdministration(w, r)
		if !ok {
			return
		}
		if req.Quantity == nil {
			respondError(w, r, http.StatusBadRequest, "Medication ID and quantity are required", nil)
			return
		}

		result, err := engine.Administration.Dispense(r.Context(), services.DispenseRequest{
			MedicationID:  req.MedicationID,
			ServiceUserID: serviceUserID,
			Quantity:      *req.Quantity,
			Timestamp:     timestampOf(req),
			Outcome:       req.Outcome,
			Notes:         req.Notes,
			GroupID:       req.GroupID,
			UserID:        middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respondServiceError(w, r, "Failed to record administration", err)
			return
		}

		respondJSON(w, r, http.StatusCreated, "Medication administration recorded", &DispenseResponse{
			Administration: NewAdministrationResponse(result.Administration),
			Status:         result.Status,
			Label:          services.StatusLabel(result.Status),
			StockDecreased: result.StockDecreased,
			Medication:     NewMedicationResponse(result.Medication),
			Ledger:         NewDailyStockResponse(result.Ledger),
			Update:         NewUpdateResponse(result.Update),
			Warnings:       result.Warnings,
		})
	}
}

// HandleGetChart returns administration chart data for a date range
func HandleGetChart(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceUserID, ok := idParam(r, "serviceUserID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid service user ID", nil)
			return
		}
		if r.URL.Query().Get("startDate") == "" || r.URL.Query().Get("endDate") == "" {
			respondError(w, r, http.StatusBadRequest, "Start date and end date are required", nil)
			return
		}
		start, err := queryDate(r, "startDate", loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid startDate format, use YYYY-MM-DD", nil)
			return
		}
		end, err := queryDate(r, "endDate", loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid endDate format, use YYYY-MM-DD", nil)
			return
		}
		groupID, err := queryInt(r, "groupId")
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "groupId must be an integer", nil)
			return
		}

		chart, err := engine.Chart.FetchChart(r.Context(), services.ChartRequest{
			ServiceUserID: serviceUserID,
			Start:         start,
			End:           end,
			GroupID:       groupID,
			UserID:        middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respondServiceError(w, r, "Failed to fetch MAR data", err)
			return
		}

		respondJSON(w, r, http.StatusOK, "", NewChartResponse(chart))
	}
}

func readAdministration(w http.ResponseWriter, r *http.Request) (int64, *AdministrationRequest, bool) {
	serviceUserID, ok := idParam(r, "serviceUserID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "Invalid service user ID", nil)
		return 0, nil, false
	}

	var req AdministrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid request body", nil)
		return 0, nil, false
	}
	if req.MedicationID <= 0 {
		respondError(w, r, http.StatusBadRequest, "Medication ID is required", nil)
		return 0, nil, false
	}
	return serviceUserID, &req, true
}

// timestampOf returns the zero time when the client left it to the server clock
func timestampOf(req *AdministrationRequest) time.Time {
	if req.Timestamp == nil {
		return time.Time{}
	}
	return *req.Timestamp
}
