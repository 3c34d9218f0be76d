package handlers

import (
	"net/http"
	"strconv"
	"time"

	"mar-engine/internal/middleware"
	"mar-engine/internal/services"
)

// StockChangeRequest is the body of POST /api/stock/{medicationID}/changes
type StockChangeRequest struct {
	ChangeType string   `json:"changeType"`
	Quantity   *float64 `json:"quantity"`
	Note       string   `json:"note"`
}

// StockChangeResult is the ledger entry after an append
type StockChangeResult struct {
	Ledger    *DailyStockResponse `json:"ledger"`
	Category  string              `json:"category"`
	Refreshed int                 `json:"refreshed"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// StockHistoryResponse is a medication's ledger over a range
type StockHistoryResponse struct {
	MedicationID int64                 `json:"medicationId"`
	InitialStock float64               `json:"initialStock"`
	Entries      []*DailyStockResponse `json:"entries"`
}

// HandleRecordStockChange appends one quantity event to today's ledger
func HandleRecordStockChange(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		medicationID, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}

		var req StockChangeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
		if req.Quantity == nil {
			respondError(w, r, http.StatusBadRequest, "quantity is required", nil)
			return
		}

		result, err := engine.Ledger.RecordQuantityChange(r.Context(), medicationID,
			middleware.GetUserID(r.Context()), req.ChangeType, *req.Quantity, req.Note)
		if err != nil {
			respondServiceError(w, r, "Failed to record stock change", err)
			return
		}

		out := &StockChangeResult{
			Ledger:    NewDailyStockResponse(result.DailyStock),
			Category:  result.Category,
			Refreshed: result.Refreshed,
		}
		if result.RefreshErr != nil {
			out.Warnings = []string{"other medications could not be re-snapshotted"}
		}
		respondJSON(w, r, http.StatusCreated, "Stock change recorded", out)
	}
}

// HandleRecordDailyStock creates today's ledger entry for every active medication
func HandleRecordDailyStock(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created, err := engine.Ledger.RecordDailyStock(r.Context())
		if err != nil {
			respondServiceError(w, r, "Failed to record daily stock", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "Daily stock recorded", map[string]int{"created": created})
	}
}

// HandleGetStockHistory returns a medication's ledger between two days
func HandleGetStockHistory(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		medicationID, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}
		start, err := queryDate(r, "startDate", loc)
		if err != nil || start.IsZero() {
			respondError(w, r, http.StatusBadRequest, "startDate is required, use YYYY-MM-DD", nil)
			return
		}
		end, err := queryDate(r, "endDate", loc)
		if err != nil || end.IsZero() {
			respondError(w, r, http.StatusBadRequest, "endDate is required, use YYYY-MM-DD", nil)
			return
		}

		entries, err := engine.Ledger.StockHistory(r.Context(), medicationID, start, end)
		if err != nil {
			respondServiceError(w, r, "Failed to fetch stock history", err)
			return
		}
		initial, err := engine.Ledger.InitialStock(r.Context(), medicationID, start.AddDate(0, 0, -1))
		if err != nil {
			respondServiceError(w, r, "Failed to fetch stock history", err)
			return
		}

		out := &StockHistoryResponse{
			MedicationID: medicationID,
			InitialStock: initial,
			Entries:      make([]*DailyStockResponse, 0, len(entries)),
		}
		for _, e := range entries {
			out.Entries = append(out.Entries, NewDailyStockResponse(e))
		}
		respondJSON(w, r, http.StatusOK, "", out)
	}
}

// HandleGetDailyStock returns one day's ledger entry, today unless ?date= is given
func HandleGetDailyStock(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		medicationID, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}
		day, err := queryDate(r, "date", loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid date, use YYYY-MM-DD", nil)
			return
		}

		entry, err := engine.Ledger.DailyEntry(r.Context(), medicationID, day)
		if err != nil {
			respondServiceError(w, r, "Failed to fetch daily stock", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "", NewDailyStockResponse(entry))
	}
}

// HandleGetStockAlerts returns unread low-stock alerts
func HandleGetStockAlerts(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
			limit = l
		}

		alerts, err := engine.Alerts.ListUnread(r.Context(), limit)
		if err != nil {
			respondServiceError(w, r, "Failed to get stock alerts", err)
			return
		}

		out := make([]*NotificationResponse, 0, len(alerts))
		for _, n := range alerts {
			out = append(out, NewNotificationResponse(n))
		}
		respondJSON(w, r, http.StatusOK, "", out)
	}
}

// HandleCheckStock runs the low-stock sweep now
func HandleCheckStock(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created, err := engine.Alerts.CheckMedicationStock(r.Context())
		if err != nil {
			respondServiceError(w, r, "Failed to check stock levels", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "Stock levels checked", map[string]int{"created": created})
	}
}

// HandleMarkStockAlertRead acknowledges one alert
func HandleMarkStockAlertRead(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "alertID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid alert ID", nil)
			return
		}
		if err := engine.Alerts.MarkAsRead(r.Context(), id); err != nil {
			respondServiceError(w, r, "Failed to mark alert as read", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "Alert marked as read", nil)
	}
}
