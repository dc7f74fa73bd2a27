package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// FamiliesRepository handles prompt families and their cluster mappings.
type FamiliesRepository struct {
	db *pgxpool.Pool
}

// NewFamiliesRepository creates a new families repository.
func NewFamiliesRepository(db *pgxpool.Pool) *FamiliesRepository {
	return &FamiliesRepository{db: db}
}

// Create inserts a new family. ParentID may be nil for a root family.
func (r *FamiliesRepository) Create(ctx context.Context, f *models.PromptFamily) (*models.PromptFamily, error) {
	query := `
		INSERT INTO prompt_families (name, description, parent_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, parent_id, created_at
	`

	var out models.PromptFamily
	err := r.db.QueryRow(ctx, query, f.Name, f.Description, f.ParentID).Scan(
		&out.ID, &out.Name, &out.Description, &out.ParentID, &out.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "23505") {
			return nil, apperrors.NewConflictError("family", "family with this name already exists")
		}
		return nil, fmt.Errorf("failed to create family: %w", err)
	}

	return &out, nil
}

// GetByID retrieves a single family.
func (r *FamiliesRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PromptFamily, error) {
	query := `SELECT id, name, description, parent_id, created_at FROM prompt_families WHERE id = $1`

	var f models.PromptFamily
	err := r.db.QueryRow(ctx, query, id).Scan(&f.ID, &f.Name, &f.Description, &f.ParentID, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("family", "family not found")
		}
		return nil, fmt.Errorf("failed to get family: %w", err)
	}

	return &f, nil
}

// ListChildren returns the direct children of a family.
func (r *FamiliesRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]models.PromptFamily, error) {
	query := `
		SELECT id, name, description, parent_id, created_at
		FROM prompt_families
		WHERE parent_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child families: %w", err)
	}
	defer rows.Close()

	families := []models.PromptFamily{}
	for rows.Next() {
		var f models.PromptFamily
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.ParentID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan family: %w", err)
		}
		families = append(families, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating families: %w", err)
	}

	return families, nil
}

// SetParent repoints a family's parent edge. The cycle walk happens in the
// service before this is called.
func (r *FamiliesRepository) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	query := `UPDATE prompt_families SET parent_id = $1 WHERE id = $2`

	result, err := r.db.Exec(ctx, query, parentID, id)
	if err != nil {
		return fmt.Errorf("failed to set family parent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("family", "family not found")
	}

	return nil
}

// ActiveMappingByCluster returns the live mapping for a cluster, or
// NotFoundError when the cluster is not attached anywhere.
func (r *FamiliesRepository) ActiveMappingByCluster(ctx context.Context, clusterID uuid.UUID) (*models.FamilyClusterMapping, error) {
	query := `
		SELECT id, family_id, cluster_id, attached_at, detached_at
		FROM family_cluster_mappings
		WHERE cluster_id = $1 AND detached_at IS NULL
	`

	var m models.FamilyClusterMapping
	err := r.db.QueryRow(ctx, query, clusterID).Scan(&m.ID, &m.FamilyID, &m.ClusterID, &m.AttachedAt, &m.DetachedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("family_mapping", "cluster is not attached to a family")
		}
		return nil, fmt.Errorf("failed to get cluster mapping: %w", err)
	}

	return &m, nil
}

// Attach inserts a live mapping row. History rows are never updated; moving
// a cluster means detaching the old row and attaching a new one.
func (r *FamiliesRepository) Attach(ctx context.Context, familyID, clusterID uuid.UUID) (*models.FamilyClusterMapping, error) {
	query := `
		INSERT INTO family_cluster_mappings (family_id, cluster_id)
		VALUES ($1, $2)
		RETURNING id, family_id, cluster_id, attached_at, detached_at
	`

	var m models.FamilyClusterMapping
	err := r.db.QueryRow(ctx, query, familyID, clusterID).Scan(&m.ID, &m.FamilyID, &m.ClusterID, &m.AttachedAt, &m.DetachedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "23505") {
			return nil, apperrors.NewConflictError("family_mapping", "cluster already attached to a family")
		}
		return nil, fmt.Errorf("failed to attach cluster: %w", err)
	}

	return &m, nil
}

// Detach closes the live mapping for a cluster by stamping detached_at.
func (r *FamiliesRepository) Detach(ctx context.Context, clusterID uuid.UUID) error {
	query := `
		UPDATE family_cluster_mappings
		SET detached_at = now()
		WHERE cluster_id = $1 AND detached_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, clusterID)
	if err != nil {
		return fmt.Errorf("failed to detach cluster: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("family_mapping", "cluster is not attached to a family")
	}

	return nil
}

// ListClusterIDs returns the clusters currently attached to a family.
func (r *FamiliesRepository) ListClusterIDs(ctx context.Context, familyID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT cluster_id
		FROM family_cluster_mappings
		WHERE family_id = $1 AND detached_at IS NULL
		ORDER BY attached_at ASC
	`

	rows, err := r.db.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family clusters: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cluster id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating family clusters: %w", err)
	}

	return ids, nil
}
