package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"mar-engine/internal/models"
)

const minutesPerDay = 24 * 60

var scheduleTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// AdministrationWindow is the interval around one scheduled dose on one day
type AdministrationWindow struct {
	MedicationID      int64
	ScheduledDate     string // YYYY-MM-DD
	ScheduledTime     string // HH:mm
	ScheduledDateTime time.Time
	WindowStart       time.Time
	WindowEnd         time.Time
}

// Contains reports whether t falls inside the window, both ends inclusive
func (w AdministrationWindow) Contains(t time.Time) bool {
	return !t.Before(w.WindowStart) && !t.After(w.WindowEnd)
}

// ParseScheduleTime returns the minutes after midnight of an HH:mm string
func ParseScheduleTime(value string) (int, error) {
	m := scheduleTimePattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid administration time %q", value)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes, nil
}

// BuildWindows materialises one window per valid administration time on the
// calendar day of date in loc. Windows are clamped to the day and returned in
// chronological order; invalid times are skipped.
func BuildWindows(med *models.Medication, date time.Time, settings *models.AdministrationSettings, loc *time.Location) []AdministrationWindow {
	if loc == nil {
		loc = time.UTC
	}
	day := date.In(loc)
	y, mo, d := day.Date()
	key := day.Format(models.DateLayout)

	before, after := settings.ThresholdBefore, settings.ThresholdAfter
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	at := func(minutes int) time.Time {
		return time.Date(y, mo, d, 0, minutes, 0, 0, loc)
	}

	windows := make([]AdministrationWindow, 0, len(med.AdministrationTimes))
	for _, value := range med.AdministrationTimes {
		scheduled, err := ParseScheduleTime(value)
		if err != nil {
			continue
		}
		start := scheduled - before
		if start < 0 {
			start = 0
		}
		end := scheduled + after
		if end > minutesPerDay {
			end = minutesPerDay
		}
		windows = append(windows, AdministrationWindow{
			MedicationID:      med.ID,
			ScheduledDate:     key,
			ScheduledTime:     value,
			ScheduledDateTime: at(scheduled),
			WindowStart:       at(start),
			WindowEnd:         at(end),
		})
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].ScheduledDateTime.Before(windows[j].ScheduledDateTime)
	})
	return windows
}

// findWindow returns the first window containing t
func findWindow(windows []AdministrationWindow, t time.Time) *AdministrationWindow {
	for i := range windows {
		if windows[i].Contains(t) {
			w := windows[i]
			return &w
		}
	}
	return nil
}
