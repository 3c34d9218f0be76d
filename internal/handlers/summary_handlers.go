package handlers

import (
	"context"
	"net/http"
	"time"

	"mar-engine/internal/middleware"
	"mar-engine/internal/models"
	"mar-engine/internal/services"
)

// GenerateSummaryRequest is the body of POST /api/summaries
type GenerateSummaryRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// SummaryResponse is a stored stock summary
type SummaryResponse struct {
	ID        int64                   `json:"id"`
	StartDate string                  `json:"startDate"`
	EndDate   string                  `json:"endDate"`
	CreatedBy int64                   `json:"createdBy"`
	CreatedAt time.Time               `json:"createdAt"`
	Entries   []*SummaryEntryResponse `json:"summaries"`
}

// SummaryEntryResponse is one medication's movement within a summary
type SummaryEntryResponse struct {
	ServiceUser struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"serviceUser"`
	Medication struct {
		ID              int64   `json:"id"`
		Name            string  `json:"medicationName"`
		QuantityPerDose float64 `json:"quantityPerDose"`
		DosesPerDay     float64 `json:"dosesPerDay"`
	} `json:"medication"`
	StockLevels struct {
		Initial       float64 `json:"initial"`
		Final         float64 `json:"final"`
		DaysRemaining int     `json:"daysRemaining"`
	} `json:"stockLevels"`
	CumulativeChanges models.StockTotals    `json:"cumulativeChanges"`
	Changes           []StockChangeResponse `json:"changes"`
}

func NewSummaryResponse(s *models.StockSummary) *SummaryResponse {
	out := &SummaryResponse{
		ID:        s.ID,
		StartDate: s.StartDate,
		EndDate:   s.EndDate,
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt,
		Entries:   make([]*SummaryEntryResponse, 0, len(s.Entries)),
	}
	for _, e := range s.Entries {
		entry := &SummaryEntryResponse{
			CumulativeChanges: e.Totals,
			Changes:           make([]StockChangeResponse, 0, len(e.Changes)),
		}
		entry.ServiceUser.ID = e.ServiceUserID
		entry.ServiceUser.Name = e.ServiceUserName
		entry.Medication.ID = e.MedicationID
		entry.Medication.Name = e.MedicationName
		entry.Medication.QuantityPerDose = e.QuantityPerDose
		entry.Medication.DosesPerDay = e.DosesPerDay
		entry.StockLevels.Initial = e.InitialStock
		entry.StockLevels.Final = e.FinalStock
		entry.StockLevels.DaysRemaining = e.DaysRemaining
		for _, c := range e.Changes {
			change := StockChangeResponse{
				Type:      c.Type,
				Quantity:  c.Quantity,
				Timestamp: c.Timestamp,
				UpdatedBy: c.UpdatedBy,
			}
			if c.Note.Valid {
				note := c.Note.String
				change.Note = &note
			}
			entry.Changes = append(entry.Changes, change)
		}
		out.Entries = append(out.Entries, entry)
	}
	return out
}

func newSummaryList(summaries []*models.StockSummary) []*SummaryResponse {
	out := make([]*SummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, NewSummaryResponse(s))
	}
	return out
}

// HandleGenerateSummary builds and stores a summary over the body's range
func HandleGenerateSummary(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSummaryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
		start, err := time.ParseInLocation(models.DateLayout, req.StartDate, loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "startDate is required, use YYYY-MM-DD", nil)
			return
		}
		end, err := time.ParseInLocation(models.DateLayout, req.EndDate, loc)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "endDate is required, use YYYY-MM-DD", nil)
			return
		}

		summary, err := engine.Summaries.Generate(r.Context(), start, end, middleware.GetUserID(r.Context()))
		if err != nil {
			respondServiceError(w, r, "Failed to generate summary", err)
			return
		}
		respondJSON(w, r, http.StatusCreated, "Summary generated", NewSummaryResponse(summary))
	}
}

// HandleGetSummary returns one stored summary
func HandleGetSummary(engine *services.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "summaryID")
		if !ok {
			respondError(w, r, http.StatusBadRequest, "Invalid summary ID", nil)
			return
		}
		summary, err := engine.Summaries.Get(r.Context(), id)
		if err != nil {
			respondServiceError(w, r, "Failed to fetch summary", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "", NewSummaryResponse(summary))
	}
}

// HandleListSummaries returns the summaries inside ?startDate..?endDate
func HandleListSummaries(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return handleSummaryList(loc, "", func(ctx context.Context, _ int64, start, end time.Time) ([]*models.StockSummary, error) {
		return engine.Summaries.ListRange(ctx, start, end)
	})
}

// HandleListMedicationSummaries narrows the range listing to one medication
func HandleListMedicationSummaries(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return handleSummaryList(loc, "medicationID", engine.Summaries.ForMedication)
}

// HandleListServiceUserSummaries narrows the range listing to one service user
func HandleListServiceUserSummaries(engine *services.Engine, loc *time.Location) http.HandlerFunc {
	return handleSummaryList(loc, "serviceUserID", engine.Summaries.ForServiceUser)
}

type summaryLister func(ctx context.Context, id int64, start, end time.Time) ([]*models.StockSummary, error)

func handleSummaryList(loc *time.Location, idName string, list summaryLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id int64
		if idName != "" {
			var ok bool
			if id, ok = idParam(r, idName); !ok {
				respondError(w, r, http.StatusBadRequest, "Invalid ID", nil)
				return
			}
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

		summaries, err := list(r.Context(), id, start, end)
		if err != nil {
			respondServiceError(w, r, "Failed to list summaries", err)
			return
		}
		respondJSON(w, r, http.StatusOK, "", newSummaryList(summaries))
	}
}
