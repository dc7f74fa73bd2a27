package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

const assignmentColumns = `id, prompt_id, cluster_id, similarity_score, confidence, reasoning, decision, superseded_at, created_at`

// AssignmentsRepository handles data access for cluster assignments.
// Assignment rows are append-only: a correction supersedes the old row and
// inserts a new one, it never rewrites history.
type AssignmentsRepository struct {
	db *pgxpool.Pool
}

// NewAssignmentsRepository creates a new assignments repository.
func NewAssignmentsRepository(db *pgxpool.Pool) *AssignmentsRepository {
	return &AssignmentsRepository{db: db}
}

func scanAssignment(row pgx.Row) (*models.ClusterAssignment, error) {
	var a models.ClusterAssignment
	err := row.Scan(
		&a.ID, &a.PromptID, &a.ClusterID, &a.SimilarityScore, &a.Confidence,
		&a.Reasoning, &a.Decision, &a.SupersededAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts one immutable assignment row. A prompt gets exactly one
// live row; the partial unique index on prompt_id turns replays into
// ConflictError.
func (r *AssignmentsRepository) Create(ctx context.Context, a *models.ClusterAssignment) (*models.ClusterAssignment, error) {
	query := `
		INSERT INTO cluster_assignments (prompt_id, cluster_id, similarity_score, confidence, reasoning, decision)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + assignmentColumns

	out, err := scanAssignment(r.db.QueryRow(ctx, query,
		a.PromptID, a.ClusterID, a.SimilarityScore, a.Confidence, a.Reasoning, a.Decision,
	))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "23505") {
			return nil, apperrors.NewConflictError("assignment", "prompt already assigned")
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	return out, nil
}

// CreateMerged inserts the assignment row and moves the target cluster's
// centroid and member count in one transaction. Either both land or neither
// does, so a failed insert cannot leave the centroid counting a member that
// was never recorded.
func (r *AssignmentsRepository) CreateMerged(ctx context.Context, a *models.ClusterAssignment, centroid []float32, memberCount int) (*models.ClusterAssignment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE clusters
		SET centroid = $1, member_count = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := tx.Exec(ctx, update, pgvector.NewVector(centroid), memberCount, a.ClusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, apperrors.NewNotFoundError("cluster", "cluster not found")
	}

	insert := `
		INSERT INTO cluster_assignments (prompt_id, cluster_id, similarity_score, confidence, reasoning, decision)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + assignmentColumns

	out, err := scanAssignment(tx.QueryRow(ctx, insert,
		a.PromptID, a.ClusterID, a.SimilarityScore, a.Confidence, a.Reasoning, a.Decision,
	))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "23505") {
			return nil, apperrors.NewConflictError("assignment", "prompt already assigned")
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	return out, nil
}

// GetByPromptID retrieves the live assignment for a prompt.
func (r *AssignmentsRepository) GetByPromptID(ctx context.Context, promptID uuid.UUID) (*models.ClusterAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM cluster_assignments WHERE prompt_id = $1 AND superseded_at IS NULL`

	a, err := scanAssignment(r.db.QueryRow(ctx, query, promptID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("assignment", "assignment not found")
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return a, nil
}

// FindByContentHash returns the live assignment of the prompt whose content
// hash matches. This is the dedup fast path: byte-identical content re-joins
// its original cluster without a retrieval round trip.
func (r *AssignmentsRepository) FindByContentHash(ctx context.Context, hash string) (*models.ClusterAssignment, error) {
	query := `
		SELECT ca.id, ca.prompt_id, ca.cluster_id, ca.similarity_score, ca.confidence, ca.reasoning, ca.decision, ca.superseded_at, ca.created_at
		FROM cluster_assignments ca
		JOIN prompts p ON p.id = ca.prompt_id
		WHERE p.content_hash = $1 AND ca.superseded_at IS NULL
	`

	a, err := scanAssignment(r.db.QueryRow(ctx, query, hash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("assignment", "no assignment for content hash")
		}
		return nil, fmt.Errorf("failed to find assignment by content hash: %w", err)
	}

	return a, nil
}

// ListByCluster returns the live assignment rows of a cluster, newest first.
func (r *AssignmentsRepository) ListByCluster(ctx context.Context, clusterID uuid.UUID, limit, offset int) ([]models.ClusterAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM cluster_assignments
		WHERE cluster_id = $1 AND superseded_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, clusterID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := []models.ClusterAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return assignments, nil
}

// ReassignCluster moves prompts to another cluster when a merge absorbs a
// cluster or a split repartitions members. The old rows stay in place with
// superseded_at stamped, and fresh rows carry the new cluster and the given
// reason. One statement, so a crash cannot strand a prompt with no live row.
func (r *AssignmentsRepository) ReassignCluster(ctx context.Context, promptIDs []uuid.UUID, toCluster uuid.UUID, reason string) error {
	if len(promptIDs) == 0 {
		return nil
	}

	query := `
		WITH superseded AS (
			UPDATE cluster_assignments
			SET superseded_at = now()
			WHERE prompt_id = ANY($1) AND superseded_at IS NULL
			RETURNING prompt_id, similarity_score, confidence, decision
		)
		INSERT INTO cluster_assignments (prompt_id, cluster_id, similarity_score, confidence, reasoning, decision)
		SELECT prompt_id, $2, similarity_score, confidence, $3, decision
		FROM superseded
	`

	_, err := r.db.Exec(ctx, query, promptIDs, toCluster, reason)
	if err != nil {
		return fmt.Errorf("failed to reassign prompts: %w", err)
	}

	return nil
}

// CountByCluster returns the number of live assignments in a cluster.
func (r *AssignmentsRepository) CountByCluster(ctx context.Context, clusterID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM cluster_assignments WHERE cluster_id = $1 AND superseded_at IS NULL`, clusterID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	return count, nil
}
