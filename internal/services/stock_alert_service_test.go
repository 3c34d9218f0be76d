package services

import (
	"context"
	"testing"
	"time"
)

func TestCheckMedicationStock(t *testing.T) {
	// 30 units at two a day is 15 days, above the threshold
	f := setupEngine(t, 30)
	ctx := context.Background()
	low := f.addMedication(t, f.user.ID, 16, []string{"08:00"})     // 8 days
	critical := f.addMedication(t, f.user.ID, 6, []string{"08:00"}) // 3 days

	created, err := f.engine.Alerts.CheckMedicationStock(ctx)
	if err != nil {
		t.Fatalf("CheckMedicationStock() error = %v", err)
	}
	if created != 2 {
		t.Fatalf("Expected 2 notifications, got %d", created)
	}

	unread, err := f.engine.Alerts.ListUnread(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	severity := map[int64]string{}
	for _, n := range unread {
		if n.Type != NotificationLowStock {
			t.Errorf("Unexpected notification type %s", n.Type)
		}
		severity[n.MedicationID.Int64] = n.Severity
	}
	if severity[low.ID] != "warning" {
		t.Errorf("Expected warning for 8 days, got %q", severity[low.ID])
	}
	if severity[critical.ID] != "critical" {
		t.Errorf("Expected critical for 3 days, got %q", severity[critical.ID])
	}
	if _, ok := severity[f.med.ID]; ok {
		t.Error("Expected no alert for a well-stocked medication")
	}

	// Within 24 hours nothing is repeated
	f.clock.Set(f.clock.Now().Add(23 * time.Hour))
	created, err = f.engine.Alerts.CheckMedicationStock(ctx)
	if err != nil {
		t.Fatalf("CheckMedicationStock() error = %v", err)
	}
	if created != 0 {
		t.Errorf("Expected no repeat alerts, got %d", created)
	}

	f.clock.Set(f.clock.Now().Add(2 * time.Hour))
	created, err = f.engine.Alerts.CheckMedicationStock(ctx)
	if err != nil {
		t.Fatalf("CheckMedicationStock() error = %v", err)
	}
	if created != 2 {
		t.Errorf("Expected alerts again after 24 hours, got %d", created)
	}

	if err := f.engine.Alerts.MarkAsRead(ctx, unread[0].ID); err != nil {
		t.Fatalf("MarkAsRead() error = %v", err)
	}

	f.engine.Alerts.SetEnabled(false)
	f.clock.Set(f.clock.Now().Add(48 * time.Hour))
	if created, _ := f.engine.Alerts.CheckMedicationStock(ctx); created != 0 {
		t.Errorf("Expected a disabled sweep to do nothing, got %d", created)
	}
}
