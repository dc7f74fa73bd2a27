package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// TemplatesRepository handles the append-only template version chains.
type TemplatesRepository struct {
	db *pgxpool.Pool
}

// NewTemplatesRepository creates a new templates repository.
func NewTemplatesRepository(db *pgxpool.Pool) *TemplatesRepository {
	return &TemplatesRepository{db: db}
}

func scanTemplateVersion(row pgx.Row) (*models.TemplateVersion, error) {
	var v models.TemplateVersion
	var slotsJSON []byte
	err := row.Scan(
		&v.ID, &v.ClusterID, &v.Seq, &v.Version.Major, &v.Version.Minor, &v.Version.Patch,
		&v.Body, &slotsJSON, &v.Confidence, &v.Explanation, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slotsJSON, &v.Slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return &v, nil
}

const templateVersionColumns = `id, cluster_id, seq, major, minor, patch, body, slots, confidence, explanation, created_at`

// Commit appends a new version row and atomically repoints the cluster's
// active version. expectedActive is the pointer value observed before the
// extraction ran; when another commit landed in between, the repoint matches
// zero rows, the transaction rolls back, and ConflictError tells the caller
// to re-read and retry. Rows are never updated or deleted.
func (r *TemplatesRepository) Commit(ctx context.Context, v *models.TemplateVersion, expectedActive *uuid.UUID) (*models.TemplateVersion, error) {
	slotsJSON, err := json.Marshal(v.Slots)
	if err != nil {
		return nil, fmt.Errorf("failed to encode slots: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO template_versions (cluster_id, seq, major, minor, patch, body, slots, confidence, explanation)
		VALUES (
			$1,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM template_versions WHERE cluster_id = $1),
			$2, $3, $4, $5, $6, $7, $8
		)
		RETURNING ` + templateVersionColumns

	out, err := scanTemplateVersion(tx.QueryRow(ctx, insert,
		v.ClusterID, v.Version.Major, v.Version.Minor, v.Version.Patch, v.Body, slotsJSON, v.Confidence, v.Explanation,
	))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "23505") {
			return nil, apperrors.NewConflictError("template_version", "concurrent version append")
		}
		return nil, fmt.Errorf("failed to insert template version: %w", err)
	}

	repoint := `
		UPDATE clusters
		SET active_version_id = $1, updated_at = now()
		WHERE id = $2 AND active_version_id IS NOT DISTINCT FROM $3
	`

	result, err := tx.Exec(ctx, repoint, out.ID, v.ClusterID, expectedActive)
	if err != nil {
		return nil, fmt.Errorf("failed to repoint active version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, apperrors.NewConflictError("cluster", "active version moved during commit")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit template version: %w", err)
	}

	return out, nil
}

// GetByID retrieves a single template version.
func (r *TemplatesRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateVersion, error) {
	query := `SELECT ` + templateVersionColumns + ` FROM template_versions WHERE id = $1`

	v, err := scanTemplateVersion(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("template_version", "template version not found")
		}
		return nil, fmt.Errorf("failed to get template version: %w", err)
	}

	return v, nil
}

// GetActiveByCluster resolves the cluster's active version pointer.
func (r *TemplatesRepository) GetActiveByCluster(ctx context.Context, clusterID uuid.UUID) (*models.TemplateVersion, error) {
	query := `
		SELECT tv.id, tv.cluster_id, tv.seq, tv.major, tv.minor, tv.patch, tv.body, tv.slots, tv.confidence, tv.explanation, tv.created_at
		FROM template_versions tv
		JOIN clusters c ON c.active_version_id = tv.id
		WHERE c.id = $1
	`

	v, err := scanTemplateVersion(r.db.QueryRow(ctx, query, clusterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("template_version", "cluster has no active template")
		}
		return nil, fmt.Errorf("failed to get active template version: %w", err)
	}

	return v, nil
}

// ListByCluster returns the full version chain of a cluster, oldest first.
func (r *TemplatesRepository) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error) {
	query := `
		SELECT ` + templateVersionColumns + `
		FROM template_versions
		WHERE cluster_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list template versions: %w", err)
	}
	defer rows.Close()

	versions := []models.TemplateVersion{}
	for rows.Next() {
		v, err := scanTemplateVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template version: %w", err)
		}
		versions = append(versions, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template versions: %w", err)
	}

	return versions, nil
}

// LatestCommitTime returns the creation time of the newest version in the
// cluster's chain. Used as the artifact updated_at.
func (r *TemplatesRepository) LatestCommitTime(ctx context.Context, clusterID uuid.UUID) (*models.TemplateVersion, error) {
	query := `
		SELECT ` + templateVersionColumns + `
		FROM template_versions
		WHERE cluster_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`

	v, err := scanTemplateVersion(r.db.QueryRow(ctx, query, clusterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("template_version", "cluster has no template versions")
		}
		return nil, fmt.Errorf("failed to get latest template version: %w", err)
	}

	return v, nil
}
