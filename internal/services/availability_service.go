package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// Availability classes
const (
	AvailabilityAvailable   = "available"
	AvailabilityUpcoming    = "upcoming"
	AvailabilityUnavailable = "unavailable"
	AvailabilityNoSchedule  = "no-schedule"
)

// AvailabilityRequest asks which of a service user's medications can be given.
// Zero Date and Now default to the service clock.
type AvailabilityRequest struct {
	ServiceUserID int64
	Date          time.Time
	Now           time.Time
	GroupID       int64
	UserID        int64
}

// MedicationAvailability is the classification of one medication against now
type MedicationAvailability struct {
	Medication    *models.Medication
	Availability  string
	CurrentWindow *AdministrationWindow
	NextWindow    *AdministrationWindow
	LastWindow    *AdministrationWindow
	Windows       []AdministrationWindow
}

// AvailabilityResult lists every active medication of a service user for a day
type AvailabilityResult struct {
	Settings    *models.AdministrationSettings
	Now         time.Time
	Date        string
	Medications []MedicationAvailability
}

// AvailabilityService classifies medications against their administration windows
type AvailabilityService struct {
	settings    *SettingsService
	directory   repository.DirectoryStore
	medications repository.MedicationStore
	loc         *time.Location
	now         Clock
	log         zerolog.Logger
}

// NewAvailabilityService creates an evaluator in the given time zone
func NewAvailabilityService(settings *SettingsService, directory repository.DirectoryStore, medications repository.MedicationStore, loc *time.Location, now Clock, log zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{
		settings:    settings,
		directory:   directory,
		medications: medications,
		loc:         loc,
		now:         now,
		log:         log,
	}
}

// GetAvailableMedications classifies every active medication of the service
// user whose active interval covers the requested day
func (s *AvailabilityService) GetAvailableMedications(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.In(s.loc)
	date := req.Date
	if date.IsZero() {
		date = now
	}
	date = date.In(s.loc)

	groupID, err := groupFor(ctx, s.directory, req.GroupID, req.ServiceUserID)
	if err != nil {
		return nil, storageError("get service user", err)
	}

	settings, err := s.settings.GetSettings(ctx, SettingsQuery{GroupID: groupID, UserID: req.UserID})
	if err != nil {
		return nil, err
	}

	meds, err := s.medications.ListActiveByServiceUser(ctx, req.ServiceUserID)
	if err != nil {
		return nil, storageError("list medications", err)
	}

	result := &AvailabilityResult{
		Settings:    settings,
		Now:         now,
		Date:        date.Format(models.DateLayout),
		Medications: []MedicationAvailability{},
	}
	for _, med := range meds {
		if !med.CoversDate(date) {
			continue
		}
		windows := BuildWindows(med, date, settings, s.loc)
		entry := Classify(windows, now)
		entry.Medication = med
		result.Medications = append(result.Medications, entry)
	}

	s.log.Debug().
		Int64("service_user_id", req.ServiceUserID).
		Str("date", result.Date).
		Int("medications", len(result.Medications)).
		Msg("availability evaluated")

	return result, nil
}

// Classify places now relative to a day's chronologically ordered windows.
// The first containing window wins; NextWindow is only set when none contains now.
func Classify(windows []AdministrationWindow, now time.Time) MedicationAvailability {
	out := MedicationAvailability{Windows: windows}
	if len(windows) == 0 {
		out.Availability = AvailabilityNoSchedule
		return out
	}

	for i := range windows {
		w := windows[i]
		switch {
		case w.WindowEnd.Before(now):
			out.LastWindow = &w
		case out.CurrentWindow == nil && w.Contains(now):
			out.CurrentWindow = &w
		case out.NextWindow == nil && w.WindowStart.After(now):
			out.NextWindow = &w
		}
	}

	switch {
	case out.CurrentWindow != nil:
		out.Availability = AvailabilityAvailable
		out.NextWindow = nil
	case out.NextWindow != nil:
		out.Availability = AvailabilityUpcoming
	default:
		out.Availability = AvailabilityUnavailable
	}
	return out
}
