package services

import (
	"strings"
	"testing"
	"time"

	"mar-engine/internal/models"
)

func TestEvaluateStatus(t *testing.T) {
	window := AdministrationWindow{
		WindowStart: time.Date(2024, 6, 1, 7, 30, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"before start", window.WindowStart.Add(-time.Second), StatusEarly},
		{"at start", window.WindowStart, StatusOnTime},
		{"inside", window.WindowStart.Add(20 * time.Minute), StatusOnTime},
		{"at end", window.WindowEnd, StatusOnTime},
		{"after end", window.WindowEnd.Add(time.Second), StatusLate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateStatus(tt.at, window); got != tt.want {
				t.Errorf("EvaluateStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestShouldDecreaseStock(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusOnTime, true},
		{StatusEarly, true},
		{StatusLate, true},
		{StatusRecorded, true},
		{OutcomeDestroyed, true},
		{OutcomeOnLeave, true},
		{OutcomeRefused, false},
		{OutcomeNausea, false},
		{OutcomeNauseaVomiting, false},
		{OutcomeHospital, false},
		{OutcomeSleeping, false},
		{OutcomePulseAbnormal, false},
		{OutcomeNotRequired, false},
		{OutcomeOther, false},
		{OutcomeMissed, false},
		{OutcomeCancelled, false},
		{"", false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := ShouldDecreaseStock(tt.status); got != tt.want {
				t.Errorf("ShouldDecreaseStock(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestBuildNote(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		userNote string
		want     string
	}{
		{"refused", OutcomeRefused, "", "R - Refused: Dose refused by service user."},
		{"refused with note", OutcomeRefused, "  Spat it out ", "R - Refused: Dose refused by service user. Spat it out"},
		{"destroyed", OutcomeDestroyed, "", "D - Destroyed: Dose destroyed and removed from stock."},
		{"on time", StatusOnTime, "", "On time: Administered within the scheduled window."},
		{"normalised spelling", "On Time", "", "On time: Administered within the scheduled window."},
		{"unknown keeps user note", "custom", "free text", "free text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildNote(tt.status, tt.userNote); got != tt.want {
				t.Errorf("BuildNote() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	for code := range outcomes {
		label := StatusLabel(code)
		if label == code {
			t.Errorf("Outcome %s has no label", code)
		}
	}
	if got := StatusLabel("nausea-vomiting"); !strings.HasPrefix(got, "N - ") {
		t.Errorf("Expected nausea label, got %q", got)
	}
	if got := StatusLabel("whatever"); got != "whatever" {
		t.Errorf("Expected unknown status to pass through, got %q", got)
	}
}

func TestChangeTypeForStatus(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{StatusOnTime, models.ChangeQuantityAdministered},
		{StatusLate, models.ChangeQuantityAdministered},
		{StatusRecorded, models.ChangeQuantityAdministered},
		{OutcomeDestroyed, models.ChangeDamaged},
		{OutcomeOnLeave, models.ChangeLeavingHome},
	}
	for _, tt := range tests {
		if got := ChangeTypeForStatus(tt.status); got != tt.want {
			t.Errorf("ChangeTypeForStatus(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
