package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

// SettingsQuery identifies whose thresholds to resolve. GroupID 0 means no group.
type SettingsQuery struct {
	GroupID int64
	UserID  int64
}

// UpdateSettingsRequest replaces the thresholds of one scope
type UpdateSettingsRequest struct {
	Scope           string
	GroupID         int64
	ThresholdBefore int
	ThresholdAfter  int
	UserID          int64
}

// SettingsService resolves the effective administration window thresholds
type SettingsService struct {
	settings  repository.SettingsStore
	directory repository.DirectoryStore
	before    int
	after     int
	log       zerolog.Logger
}

// NewSettingsService creates a resolver that falls back to the given default thresholds
func NewSettingsService(settings repository.SettingsStore, directory repository.DirectoryStore, before, after int, log zerolog.Logger) *SettingsService {
	return &SettingsService{
		settings:  settings,
		directory: directory,
		before:    before,
		after:     after,
		log:       log,
	}
}

// GetSettings returns the group record when one exists, then the global record,
// then the built-in default. Group settings replace global ones wholesale.
func (s *SettingsService) GetSettings(ctx context.Context, q SettingsQuery) (*models.AdministrationSettings, error) {
	if q.GroupID != 0 {
		settings, err := s.settings.Get(ctx, models.ScopeGroup, sql.NullInt64{Int64: q.GroupID, Valid: true})
		if err == nil {
			return settings, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storageError("get group settings", err)
		}
	}

	settings, err := s.settings.Get(ctx, models.ScopeGlobal, sql.NullInt64{})
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError("get global settings", err)
	}

	return s.Default(), nil
}

// Default returns the in-memory settings used when nothing is stored
func (s *SettingsService) Default() *models.AdministrationSettings {
	return &models.AdministrationSettings{
		Scope:           models.ScopeGlobal,
		ThresholdBefore: s.before,
		ThresholdAfter:  s.after,
		IsDefault:       true,
	}
}

// UpdateSettings upserts the record keyed by (scope, group)
func (s *SettingsService) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*models.AdministrationSettings, error) {
	if req.ThresholdBefore < 0 {
		return nil, invalid("thresholdBefore", "must be a non-negative number of minutes")
	}
	if req.ThresholdAfter < 0 {
		return nil, invalid("thresholdAfter", "must be a non-negative number of minutes")
	}

	settings := &models.AdministrationSettings{
		Scope:           req.Scope,
		ThresholdBefore: req.ThresholdBefore,
		ThresholdAfter:  req.ThresholdAfter,
	}
	if req.UserID != 0 {
		settings.UpdatedBy = sql.NullInt64{Int64: req.UserID, Valid: true}
	}

	switch req.Scope {
	case models.ScopeGlobal:
		if req.GroupID != 0 {
			return nil, invalid("groupId", "must be empty for global settings")
		}
	case models.ScopeGroup:
		if req.GroupID == 0 {
			return nil, invalid("groupId", "is required for group settings")
		}
		if _, err := s.directory.GetGroup(ctx, req.GroupID); err != nil {
			return nil, storageError("get group", err)
		}
		settings.GroupID = sql.NullInt64{Int64: req.GroupID, Valid: true}
	default:
		return nil, invalid("scope", "must be global or group")
	}

	if err := s.settings.Upsert(ctx, settings); err != nil {
		return nil, storageError("save settings", err)
	}

	s.log.Info().
		Str("scope", settings.Scope).
		Int64("group_id", req.GroupID).
		Int("threshold_before", settings.ThresholdBefore).
		Int("threshold_after", settings.ThresholdAfter).
		Int64("user_id", req.UserID).
		Msg("administration settings updated")

	return settings, nil
}

// groupFor returns the explicit group, else the service user's group, else 0
func groupFor(ctx context.Context, directory repository.DirectoryStore, groupID, serviceUserID int64) (int64, error) {
	if groupID != 0 {
		return groupID, nil
	}
	user, err := directory.GetServiceUser(ctx, serviceUserID)
	if err != nil {
		return 0, err
	}
	if user.GroupID.Valid {
		return user.GroupID.Int64, nil
	}
	return 0, nil
}

// Clock returns the current instant
type Clock func() time.Time
