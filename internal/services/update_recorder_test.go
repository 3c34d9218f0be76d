package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"mar-engine/internal/models"
)

func baseMedication() *models.Medication {
	return &models.Medication{
		ID:                  1,
		ServiceUserID:       1,
		Name:                "Paracetamol",
		Dosage:              models.Dosage{Amount: 500, Unit: "mg"},
		QuantityInStock:     40,
		QuantityPerDose:     2,
		DosesPerDay:         2,
		Frequency:           "Twice daily",
		AdministrationTimes: []string{"08:00", "20:00"},
		PrescribedBy:        "Dr Smith",
		IsActive:            true,
	}
}

func TestCategory(t *testing.T) {
	quantitative := []string{UpdateStockIncrease, UpdateStockDecrease, UpdateQuantityPerDose, UpdateDosesPerDay}
	qualitative := []string{UpdateNewMedication, UpdateNameChange, UpdateServiceUserChange, UpdatePrescriberChange,
		UpdateDosageChange, UpdateFrequencyChange, UpdateAdministrationTimes, UpdateInstructionsChange,
		UpdateActivated, UpdateDeactivated, UpdateDeleted}

	for _, u := range quantitative {
		if got := Category(u); got != models.CategoryQuantitative {
			t.Errorf("Category(%s) = %s, want quantitative", u, got)
		}
	}
	for _, u := range qualitative {
		if got := Category(u); got != models.CategoryQualitative {
			t.Errorf("Category(%s) = %s, want qualitative", u, got)
		}
	}
}

func TestDiffMedication(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(m *models.Medication)
		wantType   string
		wantFields []string
	}{
		{"no change", func(m *models.Medication) {}, "", nil},
		{"name", func(m *models.Medication) { m.Name = "Calpol" }, UpdateNameChange, []string{"medicationName"}},
		{"stock up", func(m *models.Medication) { m.QuantityInStock = 60 }, UpdateStockIncrease, []string{"quantityInStock"}},
		{"stock down", func(m *models.Medication) { m.QuantityInStock = 10 }, UpdateStockDecrease, []string{"quantityInStock"}},
		{"per dose", func(m *models.Medication) { m.QuantityPerDose = 4 }, UpdateQuantityPerDose, []string{"quantityPerDose", "daysRemaining"}},
		{"per day", func(m *models.Medication) { m.DosesPerDay = 1 }, UpdateDosesPerDay, []string{"dosesPerDay", "daysRemaining"}},
		{"times", func(m *models.Medication) { m.AdministrationTimes = []string{"09:00"} }, UpdateAdministrationTimes, []string{"administrationTimes"}},
		{"instructions", func(m *models.Medication) { m.Instructions = sql.NullString{String: "With food", Valid: true} }, UpdateInstructionsChange, []string{"instructions"}},
		{"deactivated", func(m *models.Medication) { m.IsActive = false }, UpdateDeactivated, []string{"isActive"}},
		{
			name: "last check wins",
			mutate: func(m *models.Medication) {
				m.Name = "Calpol"
				m.QuantityInStock = 10
				m.Frequency = "Daily"
			},
			wantType:   UpdateFrequencyChange,
			wantFields: []string{"medicationName", "quantityInStock", "frequency"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := baseMedication()
			updated := baseMedication()
			tt.mutate(updated)

			changes, updateType := DiffMedication(old, updated)
			if updateType != tt.wantType {
				t.Errorf("updateType = %q, want %q", updateType, tt.wantType)
			}
			if len(changes) != len(tt.wantFields) {
				t.Errorf("Expected %d changed fields, got %v", len(tt.wantFields), changes)
			}
			for _, field := range tt.wantFields {
				if _, ok := changes[field]; !ok {
					t.Errorf("Expected %s in changes", field)
				}
			}
		})
	}
}

func TestDiffMedication_DaysRemaining(t *testing.T) {
	old := baseMedication()
	updated := baseMedication()
	updated.QuantityPerDose = 4

	changes, _ := DiffMedication(old, updated)
	days := changes["daysRemaining"]
	if days.OldValue != 10 || days.NewValue != 5 {
		t.Errorf("Expected days remaining 10 -> 5, got %v -> %v", days.OldValue, days.NewValue)
	}
}

func TestGenerateNote(t *testing.T) {
	tests := []struct {
		updateType string
		changes    map[string]models.FieldChange
		want       string
	}{
		{UpdateStockIncrease, map[string]models.FieldChange{"quantityInStock": {OldValue: 10.0, NewValue: 30.0}},
			"Stock increased by 20 units (from 10 to 30 units)."},
		{UpdateStockDecrease, map[string]models.FieldChange{"quantityInStock": {OldValue: 30.0, NewValue: 27.5}},
			"Stock decreased by 2.5 units (from 30 to 27.5 units)."},
		{UpdateNameChange, map[string]models.FieldChange{"medicationName": {OldValue: "A", NewValue: "B"}},
			`Medication name changed from "A" to "B".`},
		{UpdateAdministrationTimes, map[string]models.FieldChange{"administrationTimes": {OldValue: []string{"08:00"}, NewValue: []string{"08:00", "20:00"}}},
			"Administration times updated from 08:00 to 08:00, 20:00."},
		{UpdateInstructionsChange, map[string]models.FieldChange{"instructions": {OldValue: nil, NewValue: "With food"}},
			`Administration instructions added: "With food".`},
		{UpdateDeleted, nil, "Medication has been permanently removed from the system."},
	}

	for _, tt := range tests {
		t.Run(tt.updateType, func(t *testing.T) {
			if got := GenerateNote(tt.updateType, tt.changes); got != tt.want {
				t.Errorf("GenerateNote() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpdateRecorder_Record(t *testing.T) {
	f := setupEngine(t, 30)
	ctx := context.Background()
	recorder := f.engine.Updates

	tests := []struct {
		name       string
		updateType string
		notes      string
		wantNotes  string
	}{
		{"quantitative keeps user note", UpdateStockIncrease, "Delivery from Boots", "Delivery from Boots"},
		{"quantitative without note is generated", UpdateStockIncrease, "", "Stock increased by 10 units (from 20 to 30 units)."},
		{"qualitative always generated", UpdateDeactivated, "ignored", "Medication has been temporarily deactivated and is no longer available for administration."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := recorder.Record(ctx, RecordRequest{
				Medication: f.med,
				UserID:     7,
				UpdateType: tt.updateType,
				Changes:    map[string]models.FieldChange{"quantityInStock": {OldValue: 20.0, NewValue: 30.0}},
				Notes:      tt.notes,
			})
			if err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			if update.Notes.String != tt.wantNotes {
				t.Errorf("Notes = %q, want %q", update.Notes.String, tt.wantNotes)
			}
		})
	}
}

func TestUpdateRecorder_SnapshotIsImmutable(t *testing.T) {
	f := setupEngine(t, 30)
	ctx := context.Background()

	if _, err := f.engine.Updates.Record(ctx, RecordRequest{
		Medication: f.med,
		UserID:     7,
		UpdateType: UpdateActivated,
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if _, err := f.stores.Medications.AdjustStock(ctx, f.med.ID, -10, 7); err != nil {
		t.Fatalf("AdjustStock() error = %v", err)
	}

	updates, err := f.engine.Updates.ListUpdatesForMedication(ctx, f.med.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListUpdatesForMedication() error = %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(updates))
	}
	if updates[0].Medication.QuantityInStock != 30 || updates[0].Medication.DaysRemaining != 15 {
		t.Errorf("Snapshot changed after the fact: %+v", updates[0].Medication)
	}
}

func TestUpdateRecorder_Purge(t *testing.T) {
	f := setupEngine(t, 30)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	if _, err := f.engine.Updates.Record(ctx, RecordRequest{Medication: f.med, UpdateType: UpdateActivated}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	f.clock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	if _, err := f.engine.Updates.Record(ctx, RecordRequest{Medication: f.med, UpdateType: UpdateDeactivated}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if _, err := f.engine.Updates.PurgeUpdates(ctx, time.Time{}, 1); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed without a cutoff, got %v", err)
	}
	if _, err := f.engine.Updates.PurgeUpdates(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed for a future cutoff, got %v", err)
	}

	n, err := f.engine.Updates.PurgeUpdates(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 1)
	if err != nil {
		t.Fatalf("PurgeUpdates() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 purged, got %d", n)
	}

	remaining, err := f.engine.Updates.ListUpdates(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListUpdates() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].UpdateType != UpdateDeactivated {
		t.Errorf("Expected only the newer entry, got %+v", remaining)
	}
}
