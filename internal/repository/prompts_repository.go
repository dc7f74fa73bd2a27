// Package repository implements data access on PostgreSQL with pgvector.
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

// PromptsRepository handles data access for prompts.
type PromptsRepository struct {
	db *pgxpool.Pool
}

// NewPromptsRepository creates a new prompts repository.
func NewPromptsRepository(db *pgxpool.Pool) *PromptsRepository {
	return &PromptsRepository{db: db}
}

// Create inserts an immutable prompt row together with its embedding.
func (r *PromptsRepository) Create(ctx context.Context, prompt *models.Prompt, embedding []float32) (*models.Prompt, error) {
	query := `
		INSERT INTO prompts (content, content_hash, embedding, embedding_model, moderation_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, content, content_hash, embedding_model, moderation_status, created_at
	`

	var out models.Prompt
	err := r.db.QueryRow(ctx, query,
		prompt.Content, prompt.ContentHash, pgvector.NewVector(embedding), prompt.EmbeddingModel, prompt.ModerationStatus,
	).Scan(&out.ID, &out.Content, &out.ContentHash, &out.EmbeddingModel, &out.ModerationStatus, &out.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "23505") {
			return nil, apperrors.NewConflictError("prompt", "prompt with this content hash already exists")
		}
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}

	return &out, nil
}

// GetByID retrieves a single prompt by ID.
func (r *PromptsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	query := `
		SELECT id, content, content_hash, embedding_model, moderation_status, created_at
		FROM prompts
		WHERE id = $1
	`

	var prompt models.Prompt
	err := r.db.QueryRow(ctx, query, id).Scan(
		&prompt.ID, &prompt.Content, &prompt.ContentHash, &prompt.EmbeddingModel, &prompt.ModerationStatus, &prompt.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("prompt", "prompt not found")
		}
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}

	return &prompt, nil
}

// GetByContentHash retrieves a prompt by its content hash, or NotFoundError.
func (r *PromptsRepository) GetByContentHash(ctx context.Context, hash string) (*models.Prompt, error) {
	query := `
		SELECT id, content, content_hash, embedding_model, moderation_status, created_at
		FROM prompts
		WHERE content_hash = $1
	`

	var prompt models.Prompt
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&prompt.ID, &prompt.Content, &prompt.ContentHash, &prompt.EmbeddingModel, &prompt.ModerationStatus, &prompt.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("prompt", "prompt not found")
		}
		return nil, fmt.Errorf("failed to get prompt by content hash: %w", err)
	}

	return &prompt, nil
}

// GetEmbedding returns the stored embedding for a prompt.
func (r *PromptsRepository) GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	query := `SELECT embedding FROM prompts WHERE id = $1`

	var vec pgvector.Vector
	err := r.db.QueryRow(ctx, query, id).Scan(&vec)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFoundError("prompt", "prompt not found")
		}
		return nil, fmt.Errorf("failed to get prompt embedding: %w", err)
	}

	return vec.Slice(), nil
}

// ListStaleEmbeddings returns prompts whose stored embedding was produced by
// a model other than currentModel, oldest first, capped at limit.
func (r *PromptsRepository) ListStaleEmbeddings(ctx context.Context, currentModel string, limit int) ([]models.Prompt, error) {
	query := `
		SELECT id, content, content_hash, embedding_model, moderation_status, created_at
		FROM prompts
		WHERE embedding_model != $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, currentModel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale embeddings: %w", err)
	}
	defer rows.Close()

	prompts := []models.Prompt{}
	for rows.Next() {
		var prompt models.Prompt
		err := rows.Scan(&prompt.ID, &prompt.Content, &prompt.ContentHash, &prompt.EmbeddingModel, &prompt.ModerationStatus, &prompt.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompts: %w", err)
	}

	return prompts, nil
}

// UpdateEmbedding replaces a prompt's embedding and records the model that
// produced it.
func (r *PromptsRepository) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32, model string) error {
	query := `UPDATE prompts SET embedding = $2, embedding_model = $3 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, pgvector.NewVector(embedding), model)
	if err != nil {
		return fmt.Errorf("failed to update prompt embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("prompt", "prompt not found")
	}

	return nil
}

// ListByCluster returns the prompts currently assigned to a cluster, newest
// first, capped at limit (0 means no cap).
func (r *PromptsRepository) ListByCluster(ctx context.Context, clusterID uuid.UUID, limit int) ([]models.Prompt, error) {
	query := `
		SELECT p.id, p.content, p.content_hash, p.embedding_model, p.moderation_status, p.created_at
		FROM prompts p
		JOIN cluster_assignments ca ON ca.prompt_id = p.id AND ca.superseded_at IS NULL
		WHERE ca.cluster_id = $1
		ORDER BY ca.created_at DESC
	`

	args := []interface{}{clusterID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster prompts: %w", err)
	}
	defer rows.Close()

	prompts := []models.Prompt{}
	for rows.Next() {
		var prompt models.Prompt
		err := rows.Scan(&prompt.ID, &prompt.Content, &prompt.ContentHash, &prompt.EmbeddingModel, &prompt.ModerationStatus, &prompt.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompts: %w", err)
	}

	return prompts, nil
}

// ListMemberEmbeddings returns every member of a cluster with its embedding,
// oldest assignment first. Used when a split repartitions the cluster.
func (r *PromptsRepository) ListMemberEmbeddings(ctx context.Context, clusterID uuid.UUID) ([]models.MemberEmbedding, error) {
	query := `
		SELECT p.id, p.embedding
		FROM prompts p
		JOIN cluster_assignments ca ON ca.prompt_id = p.id AND ca.superseded_at IS NULL
		WHERE ca.cluster_id = $1
		ORDER BY ca.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member embeddings: %w", err)
	}
	defer rows.Close()

	members := []models.MemberEmbedding{}
	for rows.Next() {
		var m models.MemberEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&m.PromptID, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan member embedding: %w", err)
		}
		m.Embedding = vec.Slice()
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member embeddings: %w", err)
	}

	return members, nil
}

// RecentMemberEmbeddings returns the embeddings of the n most recently
// assigned members of a cluster, newest first. Used for drift dispersion.
func (r *PromptsRepository) RecentMemberEmbeddings(ctx context.Context, clusterID uuid.UUID, n int) ([][]float32, error) {
	query := `
		SELECT p.embedding
		FROM prompts p
		JOIN cluster_assignments ca ON ca.prompt_id = p.id AND ca.superseded_at IS NULL
		WHERE ca.cluster_id = $1
		ORDER BY ca.created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, clusterID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list member embeddings: %w", err)
	}
	defer rows.Close()

	embeddings := [][]float32{}
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		embeddings = append(embeddings, vec.Slice())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return embeddings, nil
}
