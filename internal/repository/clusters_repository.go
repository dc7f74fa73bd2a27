package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

const clusterColumns = `id, name, centroid, member_count, merge_threshold, active_version_id, drift_state, is_active, created_at, updated_at`

// ClustersRepository handles data access for clusters.
type ClustersRepository struct {
	db *pgxpool.Pool
}

// NewClustersRepository creates a new clusters repository.
func NewClustersRepository(db *pgxpool.Pool) *ClustersRepository {
	return &ClustersRepository{db: db}
}

func scanCluster(row pgx.Row) (*models.Cluster, error) {
	var cluster models.Cluster
	var centroid pgvector.Vector
	err := row.Scan(
		&cluster.ID, &cluster.Name, &centroid, &cluster.MemberCount, &cluster.MergeThreshold,
		&cluster.ActiveVersionID, &cluster.DriftState, &cluster.IsActive, &cluster.CreatedAt, &cluster.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cluster.Centroid = centroid.Slice()
	return &cluster, nil
}

// Create inserts a new cluster seeded from its first member.
func (r *ClustersRepository) Create(ctx context.Context, cluster *models.Cluster) (*models.Cluster, error) {
	query := `
		INSERT INTO clusters (name, centroid, member_count, merge_threshold, drift_state, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING ` + clusterColumns

	out, err := scanCluster(r.db.QueryRow(ctx, query,
		cluster.Name, pgvector.NewVector(cluster.Centroid), cluster.MemberCount, cluster.MergeThreshold, cluster.DriftState,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	return out, nil
}

// GetByID retrieves a single cluster by ID.
func (r *ClustersRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE id = $1`

	cluster, err := scanCluster(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("cluster", "cluster not found")
		}
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}

	return cluster, nil
}

// List returns active clusters, most recently updated first.
func (r *ClustersRepository) List(ctx context.Context, limit, offset int) ([]models.Cluster, error) {
	query := `
		SELECT ` + clusterColumns + `
		FROM clusters
		WHERE is_active = true
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	clusters := []models.Cluster{}
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, *cluster)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clusters: %w", err)
	}

	return clusters, nil
}

// NearestActive returns the k active clusters nearest to the embedding,
// ordered by cosine similarity descending with ties broken by recency.
func (r *ClustersRepository) NearestActive(ctx context.Context, embedding []float32, k int) ([]models.ClusterCandidate, error) {
	query := `
		SELECT id, 1 - (centroid <=> $1::vector) AS similarity, updated_at
		FROM clusters
		WHERE is_active = true
		ORDER BY similarity DESC, updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest clusters: %w", err)
	}
	defer rows.Close()

	candidates := []models.ClusterCandidate{}
	for rows.Next() {
		var c models.ClusterCandidate
		if err := rows.Scan(&c.ClusterID, &c.Score, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cluster candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cluster candidates: %w", err)
	}

	return candidates, nil
}

// SetCentroid replaces a cluster's centroid and member count outright.
// Used when a split recomputes both halves from scratch. Merge-path
// centroid updates go through AssignmentsRepository.CreateMerged instead,
// which couples them to the assignment insert.
func (r *ClustersRepository) SetCentroid(ctx context.Context, id uuid.UUID, centroid []float32, memberCount int) error {
	query := `
		UPDATE clusters
		SET centroid = $1, member_count = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := r.db.Exec(ctx, query, pgvector.NewVector(centroid), memberCount, id)
	if err != nil {
		return fmt.Errorf("failed to set centroid: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("cluster", "cluster not found")
	}

	return nil
}

// TransitionDriftState moves the drift state machine from one state to
// another. The compare-and-set form makes concurrent detectors emit each
// transition at most once; false means another writer got there first.
func (r *ClustersRepository) TransitionDriftState(ctx context.Context, id uuid.UUID, from, to models.DriftState) (bool, error) {
	query := `
		UPDATE clusters
		SET drift_state = $1, updated_at = now()
		WHERE id = $2 AND drift_state = $3
	`

	result, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition drift state: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Deactivate marks a cluster inactive after it is absorbed by a sibling.
func (r *ClustersRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE clusters
		SET is_active = false, updated_at = now()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate cluster: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("cluster", "cluster not found")
	}

	return nil
}

// ListByDriftState returns active clusters currently in the given state.
func (r *ClustersRepository) ListByDriftState(ctx context.Context, state models.DriftState, limit int) ([]models.Cluster, error) {
	query := `
		SELECT ` + clusterColumns + `
		FROM clusters
		WHERE is_active = true AND drift_state = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters by drift state: %w", err)
	}
	defer rows.Close()

	clusters := []models.Cluster{}
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, *cluster)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clusters: %w", err)
	}

	return clusters, nil
}
