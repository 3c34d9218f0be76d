package repository

import (
	"context"
	"fmt"
	"time"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

type NotificationRepository struct {
	db *database.DB
}

func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create creates a new notification. CreatedAt must be set by the caller.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (medication_id, type, title, message, severity, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		n.MedicationID,
		n.Type,
		n.Title,
		n.Message,
		n.Severity,
		n.IsRead,
		n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	n.ID = id
	return nil
}

// ExistsSince reports whether a notification of the type was raised for the medication at or after since
func (r *NotificationRepository) ExistsSince(ctx context.Context, medicationID int64, notificationType string, since time.Time) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE medication_id = ? AND type = ? AND created_at >= ?
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, medicationID, notificationType, since.UTC()).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check recent notifications: %w", err)
	}
	return count > 0, nil
}

// ListUnread retrieves unread notifications, newest first
func (r *NotificationRepository) ListUnread(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, medication_id, type, title, message, severity, is_read, created_at
		FROM notifications
		WHERE is_read = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(&n.ID, &n.MedicationID, &n.Type, &n.Title, &n.Message, &n.Severity, &n.IsRead, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkAsRead marks a notification as read
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
