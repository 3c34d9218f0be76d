package repository

import (
	"context"
	"database/sql"
	"fmt"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

type SettingsRepository struct {
	db *database.DB
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves the settings record for a scope and optional group
func (r *SettingsRepository) Get(ctx context.Context, scope string, groupID sql.NullInt64) (*models.AdministrationSettings, error) {
	query := `
		SELECT id, scope, group_id, threshold_before, threshold_after, updated_by, created_at, updated_at
		FROM administration_settings
		WHERE scope = ? AND group_id IS ?
	`
	var s models.AdministrationSettings
	err := r.db.QueryRowContext(ctx, query, scope, groupID).Scan(
		&s.ID,
		&s.Scope,
		&s.GroupID,
		&s.ThresholdBefore,
		&s.ThresholdAfter,
		&s.UpdatedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get administration settings: %w", err)
	}

	return &s, nil
}

// Upsert creates or replaces the settings record for its (scope, group) key
func (r *SettingsRepository) Upsert(ctx context.Context, settings *models.AdministrationSettings) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM administration_settings WHERE scope = ? AND group_id IS ?`,
		settings.Scope, settings.GroupID,
	).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		result, err := tx.ExecContext(ctx, `
			INSERT INTO administration_settings (scope, group_id, threshold_before, threshold_after, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, settings.Scope, settings.GroupID, settings.ThresholdBefore, settings.ThresholdAfter, settings.UpdatedBy)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("failed to create administration settings: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up administration settings: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE administration_settings
			SET threshold_before = ?, threshold_after = ?, updated_by = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, settings.ThresholdBefore, settings.ThresholdAfter, settings.UpdatedBy, id)
		if err != nil {
			return fmt.Errorf("failed to update administration settings: %w", err)
		}
	}

	err = tx.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM administration_settings WHERE id = ?`, id,
	).Scan(&settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to reload administration settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	settings.ID = id
	return nil
}
