package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewScheduler(t *testing.T) {
	f := setupEngine(t, 30)

	tests := []struct {
		name     string
		specs    Schedules
		wantJobs int
		wantErr  bool
	}{
		{"defaults", Schedules{Snapshot: "0 0 * * *", Alerts: "0 9 * * *", Summary: "0 6 * * 1"}, 3, false},
		{"descriptors", Schedules{Snapshot: "@daily", Alerts: "@every 1h", Summary: "@weekly"}, 3, false},
		{"summary disabled", Schedules{Snapshot: "0 0 * * *", Alerts: "0 9 * * *"}, 2, false},
		{"bad snapshot spec", Schedules{Snapshot: "every day", Alerts: "0 9 * * *"}, 0, true},
		{"bad alert spec", Schedules{Snapshot: "0 0 * * *", Alerts: "61 * * * *"}, 0, true},
		{"bad summary spec", Schedules{Snapshot: "0 0 * * *", Alerts: "0 9 * * *", Summary: "mondays"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScheduler(f.engine, time.UTC, tt.specs, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if n := len(s.cron.Entries()); n != tt.wantJobs {
				t.Errorf("Expected %d jobs, got %d", tt.wantJobs, n)
			}
		})
	}
}

func TestScheduler_Jobs(t *testing.T) {
	f := setupEngine(t, 4)
	s, err := NewScheduler(f.engine, time.UTC, Schedules{Snapshot: "0 0 * * *", Alerts: "0 9 * * *", Summary: "0 6 * * 1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	s.runSnapshot()
	s.runAlerts()
	s.runSummary()

	if _, err := f.stores.Ledger.Get(context.Background(), f.med.ID, "2024-06-01"); err != nil {
		t.Errorf("Expected the snapshot job to create today's entry: %v", err)
	}
	unread, err := f.engine.Alerts.ListUnread(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	if len(unread) != 1 {
		t.Errorf("Expected the alert job to raise 1 notification, got %d", len(unread))
	}
	summaries, err := f.engine.Summaries.ListRange(context.Background(),
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListRange() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].StartDate != "2024-05-25" || summaries[0].EndDate != "2024-05-31" {
		t.Errorf("Expected the summary job to cover 2024-05-25..31, got %+v", summaries)
	}

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
