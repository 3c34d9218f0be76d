package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/services"
)

// Envelope is the body of every API response
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, r *http.Request, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(Envelope{Success: true, Message: message, Data: data}); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := Envelope{Success: false, Message: message, Data: data}
	if statusCode >= 500 {
		body.Error = http.StatusText(statusCode)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode error response")
	}
}

// respondServiceError maps a service error onto a status code. Storage
// details are logged, never returned.
func respondServiceError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	var adminErr *services.AdministrationError
	if errors.As(err, &adminErr) {
		status := http.StatusForbidden
		if adminErr.Result.Code == services.CodeNotFound {
			status = http.StatusNotFound
		}
		respondError(w, r, status, adminErr.Result.Reason, NewValidationResponse(adminErr.Result))
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, services.ErrValidationFailed):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, services.ErrConflict):
		respondError(w, r, http.StatusConflict, err.Error(), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		respondError(w, r, http.StatusInternalServerError, fallback, nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// idParam reads a positive integer path parameter
func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// queryDate reads an optional YYYY-MM-DD query parameter in loc
func queryDate(r *http.Request, name string, loc *time.Location) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(models.DateLayout, raw, loc)
}

// queryTime reads an optional RFC 3339 query parameter
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
