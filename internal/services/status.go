package services

import (
	"strings"
	"time"

	"mar-engine/internal/models"
)

// Timing statuses
const (
	StatusOnTime   = "on-time"
	StatusEarly    = "early"
	StatusLate     = "late"
	StatusRecorded = "recorded"
)

// Outcome codes stored verbatim in place of a timing status
const (
	OutcomeRefused        = "refused"
	OutcomeNausea         = "nausea"
	OutcomeNauseaVomiting = "nausea_vomiting"
	OutcomeHospital       = "hospital"
	OutcomeOnLeave        = "on_leave"
	OutcomeDestroyed      = "destroyed"
	OutcomeSleeping       = "sleeping"
	OutcomePulseAbnormal  = "pulse_abnormal"
	OutcomeNotRequired    = "not_required"
	OutcomeOther          = "other"
	OutcomeMissed         = "missed"
	OutcomeCancelled      = "cancelled"
)

var outcomes = map[string]bool{
	OutcomeRefused:        true,
	OutcomeNausea:         true,
	OutcomeNauseaVomiting: true,
	OutcomeHospital:       true,
	OutcomeOnLeave:        true,
	OutcomeDestroyed:      true,
	OutcomeSleeping:       true,
	OutcomePulseAbnormal:  true,
	OutcomeNotRequired:    true,
	OutcomeOther:          true,
	OutcomeMissed:         true,
	OutcomeCancelled:      true,
}

var stockDecreasing = map[string]bool{
	StatusOnTime:     true,
	StatusEarly:      true,
	StatusLate:       true,
	StatusRecorded:   true,
	OutcomeDestroyed: true,
	OutcomeOnLeave:   true,
}

type statusTemplate struct {
	label       string
	description string
}

// Labels follow the chart legend
var statusTemplates = map[string]statusTemplate{
	StatusOnTime:          {"On time", "Administered within the scheduled window."},
	StatusEarly:           {"Early", "Administered before the scheduled window opened."},
	StatusLate:            {"Late", "Administered after the scheduled window closed."},
	StatusRecorded:        {"Recorded", "Administration recorded."},
	OutcomeRefused:        {"R - Refused", "Dose refused by service user."},
	OutcomeNausea:         {"N - Nausea/Vomiting", "Dose not given due to nausea or vomiting."},
	OutcomeNauseaVomiting: {"N - Nausea/Vomiting", "Dose not given due to nausea or vomiting."},
	OutcomeHospital:       {"H - Hospital", "Service user is in hospital."},
	OutcomeOnLeave:        {"L - On Leave", "Dose sent with service user on leave."},
	OutcomeDestroyed:      {"D - Destroyed", "Dose destroyed and removed from stock."},
	OutcomeSleeping:       {"S - Sleeping", "Service user asleep; dose not given."},
	OutcomePulseAbnormal:  {"P - Pulse Abnormal", "Dose withheld due to abnormal pulse."},
	OutcomeNotRequired:    {"NR - Not Required", "Dose not required."},
	OutcomeOther:          {"O - Other", "Dose not given for another reason."},
	OutcomeMissed:         {"Missed", "Scheduled dose was missed."},
	OutcomeCancelled:      {"Cancelled", "Scheduled dose was cancelled."},
}

// IsOutcome reports whether code belongs to the closed outcome set
func IsOutcome(code string) bool {
	return outcomes[code]
}

// EvaluateStatus classifies an administration time against its window.
// Both window boundaries count as on time.
func EvaluateStatus(administrationTime time.Time, window AdministrationWindow) string {
	switch {
	case administrationTime.Before(window.WindowStart):
		return StatusEarly
	case administrationTime.After(window.WindowEnd):
		return StatusLate
	default:
		return StatusOnTime
	}
}

// ShouldDecreaseStock reports whether a record with this status takes a dose from stock
func ShouldDecreaseStock(status string) bool {
	return stockDecreasing[status]
}

// StatusLabel returns the chart legend label for a status, or the status itself
func StatusLabel(status string) string {
	if t, ok := statusTemplates[normalizeStatus(status)]; ok {
		return t.label
	}
	return status
}

// BuildNote renders "<label>: <description>" for the status and appends the
// user's note when one is given
func BuildNote(status, userNote string) string {
	userNote = strings.TrimSpace(userNote)
	t, ok := statusTemplates[normalizeStatus(status)]
	if !ok {
		return userNote
	}
	note := t.label + ": " + t.description
	if userNote != "" {
		note += " " + userNote
	}
	return note
}

// ChangeTypeForStatus names the ledger change a stock-decreasing status records
func ChangeTypeForStatus(status string) string {
	switch status {
	case OutcomeDestroyed:
		return models.ChangeDamaged
	case OutcomeOnLeave:
		return models.ChangeLeavingHome
	default:
		return models.ChangeQuantityAdministered
	}
}

// normalizeStatus accepts "On Time", "on_time" and "on-time" alike
func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
	if s == "on_time" {
		return StatusOnTime
	}
	return s
}
