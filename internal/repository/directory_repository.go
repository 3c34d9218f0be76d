package repository

import (
	"context"
	"database/sql"
	"fmt"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
)

// DirectoryRepository reads the groups and service users that own medications
type DirectoryRepository struct {
	db *database.DB
}

func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// CreateGroup creates a new group
func (r *DirectoryRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO groups (name, created_at) VALUES (?, CURRENT_TIMESTAMP)`, group.Name)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	group.ID = id
	return nil
}

// GetGroup retrieves a group by ID
func (r *DirectoryRepository) GetGroup(ctx context.Context, id int64) (*models.Group, error) {
	var g models.Group
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	return &g, nil
}

// CreateServiceUser creates a new service user
func (r *DirectoryRepository) CreateServiceUser(ctx context.Context, user *models.ServiceUser) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO service_users (name, group_id, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		user.Name, user.GroupID)
	if err != nil {
		return fmt.Errorf("failed to create service user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	user.ID = id
	return nil
}

// GetServiceUser retrieves a service user by ID
func (r *DirectoryRepository) GetServiceUser(ctx context.Context, id int64) (*models.ServiceUser, error) {
	var u models.ServiceUser
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, group_id, created_at FROM service_users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.GroupID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service user: %w", err)
	}

	return &u, nil
}
