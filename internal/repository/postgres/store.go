// Package postgres implements the repository stores on PostgreSQL through pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// queryable is satisfied by *pgxpool.Pool and pgx.Tx
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Stores bundles every PostgreSQL-backed store over one pool
type Stores struct {
	Settings       *SettingsStore
	Directory      *DirectoryStore
	Medications    *MedicationStore
	Administration *AdministrationStore
	Ledger         *LedgerStore
	Updates        *UpdateStore
	Notifications  *NotificationStore
	Summaries      *SummaryStore
}

// NewStores wires all stores to the pool
func NewStores(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Settings:       &SettingsStore{pool: pool},
		Directory:      &DirectoryStore{pool: pool},
		Medications:    &MedicationStore{pool: pool},
		Administration: &AdministrationStore{pool: pool},
		Ledger:         &LedgerStore{pool: pool},
		Updates:        &UpdateStore{pool: pool},
		Notifications:  &NotificationStore{pool: pool},
		Summaries:      &SummaryStore{pool: pool},
	}
}

// Repository exposes the stores through the repository interfaces
func (s *Stores) Repository() repository.Stores {
	return repository.Stores{
		Settings:        s.Settings,
		Directory:       s.Directory,
		Medications:     s.Medications,
		Administrations: s.Administration,
		Ledger:          s.Ledger,
		Updates:         s.Updates,
		Notifications:   s.Notifications,
		Summaries:       s.Summaries,
	}
}

var (
	_ repository.SettingsStore       = (*SettingsStore)(nil)
	_ repository.DirectoryStore      = (*DirectoryStore)(nil)
	_ repository.MedicationStore     = (*MedicationStore)(nil)
	_ repository.AdministrationStore = (*AdministrationStore)(nil)
	_ repository.LedgerStore         = (*LedgerStore)(nil)
	_ repository.UpdateStore         = (*UpdateStore)(nil)
	_ repository.NotificationStore   = (*NotificationStore)(nil)
	_ repository.SummaryStore        = (*SummaryStore)(nil)
)

// SettingsStore persists administration settings
type SettingsStore struct {
	pool *pgxpool.Pool
}

func (s *SettingsStore) Get(ctx context.Context, scope string, groupID sql.NullInt64) (*models.AdministrationSettings, error) {
	var out models.AdministrationSettings
	var gid, updatedBy *int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, scope, group_id, threshold_before, threshold_after, updated_by, created_at, updated_at
		FROM administration_settings
		WHERE scope = $1 AND group_id IS NOT DISTINCT FROM $2`,
		scope, groupID,
	).Scan(&out.ID, &out.Scope, &gid, &out.ThresholdBefore, &out.ThresholdAfter, &updatedBy, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get administration settings: %w", err)
	}
	out.GroupID = nullInt(gid)
	out.UpdatedBy = nullInt(updatedBy)
	return &out, nil
}

func (s *SettingsStore) Upsert(ctx context.Context, settings *models.AdministrationSettings) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO administration_settings (scope, group_id, threshold_before, threshold_after, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, (COALESCE(group_id, 0))) DO UPDATE SET
			threshold_before = EXCLUDED.threshold_before,
			threshold_after = EXCLUDED.threshold_after,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		settings.Scope, settings.GroupID, settings.ThresholdBefore, settings.ThresholdAfter, settings.UpdatedBy,
	).Scan(&settings.ID, &settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert administration settings: %w", err)
	}
	return nil
}

// DirectoryStore reads groups and service users
type DirectoryStore struct {
	pool *pgxpool.Pool
}

func (s *DirectoryStore) CreateGroup(ctx context.Context, group *models.Group) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO groups (name) VALUES ($1) RETURNING id, created_at`, group.Name,
	).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetGroup(ctx context.Context, id int64) (*models.Group, error) {
	var g models.Group
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM groups WHERE id = $1`, id).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

func (s *DirectoryStore) CreateServiceUser(ctx context.Context, user *models.ServiceUser) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO service_users (name, group_id) VALUES ($1, $2) RETURNING id, created_at`, user.Name, user.GroupID,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create service user: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetServiceUser(ctx context.Context, id int64) (*models.ServiceUser, error) {
	var u models.ServiceUser
	var gid *int64
	err := s.pool.QueryRow(ctx, `SELECT id, name, group_id, created_at FROM service_users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &gid, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service user: %w", err)
	}
	u.GroupID = nullInt(gid)
	return &u, nil
}

// NotificationStore persists stock alerts
type NotificationStore struct {
	pool *pgxpool.Pool
}

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (medication_id, type, title, message, severity, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		n.MedicationID, n.Type, n.Title, n.Message, n.Severity, n.IsRead, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) ExistsSince(ctx context.Context, medicationID int64, notificationType string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications WHERE medication_id = $1 AND type = $2 AND created_at >= $3
		)`, medicationID, notificationType, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent notifications: %w", err)
	}
	return exists, nil
}

func (s *NotificationStore) ListUnread(ctx context.Context, limit int) ([]*models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, medication_id, type, title, message, severity, is_read, created_at
		FROM notifications
		WHERE NOT is_read
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var medID *int64
		if err := rows.Scan(&n.ID, &medID, &n.Type, &n.Title, &n.Message, &n.Severity, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.MedicationID = nullInt(medID)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) MarkAsRead(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification as read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
