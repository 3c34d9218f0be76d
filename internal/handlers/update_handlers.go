package handlers

import (
	"net/http"
	"strconv"
	"time"

	"mar-engine/internal/middleware"
	"mar-engine/internal/services"
)

// HandleListUpdates returns audit entries newest first
func HandleListUpdates(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)

		updates, err := engine.Updates.ListUpdates(r.Context(), limit, offset)
		if err != nil {
			respondServiceError(w, r, "Failed to list medication updates", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "", newUpdateList(updates))
	}
}

// HandleListMedicationUpdates returns one medication's audit entries. Entries
// of deleted medications remain listed.
func HandleListMedicationUpdates(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		medicationID, ok := idParam(r, "medicationID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid medication ID", nil)
			return
		}
		limit, offset := pageParams(r)

		updates, err := engine.Updates.ListUpdatesForMedication(r.Context(), medicationID, limit, offset)
		if err != nil {
			respondServiceError(w, r, "Failed to list medication updates", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "", newUpdateList(updates))
	}
}

// HandlePurgeUpdates removes audit entries older than ?before
func HandlePurgeUpdates(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		before, err := time.Parse(time.RFC3339, r.URL.Query().Get("before"))
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "before is required, use RFC 3339", nil)
			return
		}

		purged, err := engine.Updates.PurgeUpdates(r.Context(), before, middleware.GetUserID(r.Context()))
		if err != nil {
			respondServiceError(w, r, "Failed to purge medication updates", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "Medication updates purged", map[string]int64{"purged": purged})
	}
}

// pageParams leaves bounds to the recorder, which clamps them
func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
