package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"mar-engine/internal/models"
)

func TestSettingsService_Resolution(t *testing.T) {
	f := setupEngine(t, 30)
	ctx := context.Background()
	svc := f.engine.Settings
	group := f.addGroup(t)
	otherGroup := f.addGroup(t)

	got, err := svc.GetSettings(ctx, SettingsQuery{GroupID: group.ID})
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if !got.IsDefault || got.Scope != models.ScopeGlobal || got.ThresholdBefore != 30 || got.ThresholdAfter != 30 {
		t.Errorf("Expected built-in default 30/30, got %+v", got)
	}

	if _, err := svc.UpdateSettings(ctx, UpdateSettingsRequest{Scope: models.ScopeGlobal, ThresholdBefore: 15, ThresholdAfter: 45, UserID: 1}); err != nil {
		t.Fatalf("UpdateSettings(global) error = %v", err)
	}
	if _, err := svc.UpdateSettings(ctx, UpdateSettingsRequest{Scope: models.ScopeGroup, GroupID: group.ID, ThresholdBefore: 60, ThresholdAfter: 0, UserID: 1}); err != nil {
		t.Fatalf("UpdateSettings(group) error = %v", err)
	}

	tests := []struct {
		name       string
		groupID    int64
		wantScope  string
		wantBefore int
		wantAfter  int
	}{
		{"no group uses global", 0, models.ScopeGlobal, 15, 45},
		{"group without record uses global", otherGroup.ID, models.ScopeGlobal, 15, 45},
		{"group record replaces global", group.ID, models.ScopeGroup, 60, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.GetSettings(ctx, SettingsQuery{GroupID: tt.groupID})
			if err != nil {
				t.Fatalf("GetSettings() error = %v", err)
			}
			if got.Scope != tt.wantScope || got.ThresholdBefore != tt.wantBefore || got.ThresholdAfter != tt.wantAfter {
				t.Errorf("Got %s %d/%d, want %s %d/%d", got.Scope, got.ThresholdBefore, got.ThresholdAfter,
					tt.wantScope, tt.wantBefore, tt.wantAfter)
			}
			if got.IsDefault {
				t.Error("Stored settings must not be flagged as default")
			}
		})
	}

	// Upserting the same key replaces rather than duplicates
	if _, err := svc.UpdateSettings(ctx, UpdateSettingsRequest{Scope: models.ScopeGlobal, ThresholdBefore: 5, ThresholdAfter: 5}); err != nil {
		t.Fatalf("UpdateSettings(global again) error = %v", err)
	}
	got, err = svc.GetSettings(ctx, SettingsQuery{})
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if got.ThresholdBefore != 5 || got.ThresholdAfter != 5 {
		t.Errorf("Expected replaced global 5/5, got %d/%d", got.ThresholdBefore, got.ThresholdAfter)
	}
}

func TestSettingsService_UpdateValidation(t *testing.T) {
	f := setupEngine(t, 30)
	ctx := context.Background()
	group := f.addGroup(t)

	tests := []struct {
		name    string
		req     UpdateSettingsRequest
		wantErr error
	}{
		{"negative before", UpdateSettingsRequest{Scope: models.ScopeGlobal, ThresholdBefore: -1}, ErrValidationFailed},
		{"negative after", UpdateSettingsRequest{Scope: models.ScopeGlobal, ThresholdAfter: -5}, ErrValidationFailed},
		{"group without id", UpdateSettingsRequest{Scope: models.ScopeGroup}, ErrValidationFailed},
		{"global with group", UpdateSettingsRequest{Scope: models.ScopeGlobal, GroupID: group.ID}, ErrValidationFailed},
		{"unknown scope", UpdateSettingsRequest{Scope: "ward"}, ErrValidationFailed},
		{"missing group", UpdateSettingsRequest{Scope: models.ScopeGroup, GroupID: 9999}, ErrNotFound},
		{"valid group", UpdateSettingsRequest{Scope: models.ScopeGroup, GroupID: group.ID, ThresholdBefore: 10, ThresholdAfter: 10}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Settings.UpdateSettings(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UpdateSettings() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsService_GroupWindowsApplyToServiceUser(t *testing.T) {
	f := setupEngine(t, 30)
	ctx := context.Background()
	group := f.addGroup(t)
	resident := f.addServiceUser(t, group.ID)
	med := f.addMedication(t, resident.ID, 10, []string{"08:00"})

	if _, err := f.engine.Settings.UpdateSettings(ctx, UpdateSettingsRequest{
		Scope: models.ScopeGroup, GroupID: group.ID, ThresholdBefore: 5, ThresholdAfter: 5,
	}); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	// 07:45 is inside the default window but outside the group's
	result, err := f.engine.Administration.ValidateAdministration(ctx, ValidationRequest{
		MedicationID:  med.ID,
		ServiceUserID: resident.ID,
		Timestamp:     time.Date(2024, 6, 1, 7, 45, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ValidateAdministration() error = %v", err)
	}
	if result.Valid || result.Rule != RuleOutsideWindow {
		t.Errorf("Expected outside window under group settings, got %+v", result)
	}
	if result.Settings.Scope != models.ScopeGroup {
		t.Errorf("Expected group settings, got %s", result.Settings.Scope)
	}
}
