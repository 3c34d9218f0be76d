package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// NotificationLowStock is the type of a low-stock alert
const NotificationLowStock = "low_stock"

const alertCooldown = 24 * time.Hour

// StockAlertService raises low-stock notifications for active medications
type StockAlertService struct {
	medications   repository.MedicationStore
	notifications repository.NotificationStore
	thresholdDays int
	enabled       bool
	now           Clock
	log           zerolog.Logger
}

// NewStockAlertService creates a sweep that alerts at or below thresholdDays of stock
func NewStockAlertService(medications repository.MedicationStore, notifications repository.NotificationStore, thresholdDays int, now Clock, log zerolog.Logger) *StockAlertService {
	return &StockAlertService{
		medications:   medications,
		notifications: notifications,
		thresholdDays: thresholdDays,
		enabled:       true,
		now:           now,
		log:           log,
	}
}

// CheckMedicationStock creates one low_stock notification per medication whose
// days remaining is at or below the threshold, at most once per 24 hours.
// It returns the number of notifications created.
func (s *StockAlertService) CheckMedicationStock(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, nil
	}

	meds, err := s.medications.ListActive(ctx)
	if err != nil {
		return 0, storageError("list medications", err)
	}

	now := s.now()
	created := 0
	for _, med := range meds {
		days := med.DaysRemaining()
		if days > s.thresholdDays {
			continue
		}

		recent, err := s.notifications.ExistsSince(ctx, med.ID, NotificationLowStock, now.Add(-alertCooldown))
		if err != nil {
			s.log.Error().Err(err).Int64("medication_id", med.ID).Msg("failed to check recent notifications")
			continue
		}
		if recent {
			continue
		}

		severity := "warning"
		if float64(days) <= float64(s.thresholdDays)/2 {
			severity = "critical"
		}

		n := &models.Notification{
			MedicationID: sql.NullInt64{Int64: med.ID, Valid: true},
			Type:         NotificationLowStock,
			Title:        fmt.Sprintf("Low stock: %s", med.Name),
			Message: fmt.Sprintf("%s has %s units left, about %d days of supply.",
				med.Name, formatNumber(med.QuantityInStock), days),
			Severity:  severity,
			CreatedAt: now,
		}
		if err := s.notifications.Create(ctx, n); err != nil {
			s.log.Error().Err(err).Int64("medication_id", med.ID).Msg("failed to create low stock notification")
			continue
		}
		created++
	}

	s.log.Info().Int("medications", len(meds)).Int("created", created).Msg("low stock check complete")
	return created, nil
}

// ListUnread returns unread alerts newest first
func (s *StockAlertService) ListUnread(ctx context.Context, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultUpdateLimit
	}
	out, err := s.notifications.ListUnread(ctx, limit)
	if err != nil {
		return nil, storageError("list notifications", err)
	}
	if out == nil {
		out = []*models.Notification{}
	}
	return out, nil
}

// MarkAsRead acknowledges an alert
func (s *StockAlertService) MarkAsRead(ctx context.Context, id int64) error {
	if err := s.notifications.MarkAsRead(ctx, id); err != nil {
		return storageError("mark notification as read", err)
	}
	return nil
}

// SetEnabled turns the sweep on or off
func (s *StockAlertService) SetEnabled(enabled bool) {
	s.enabled = enabled
}
