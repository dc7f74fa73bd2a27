package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/embeddings"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/pkg/moderation"
)

// PromptStore is the slice of the prompts repository the pipeline needs.
type PromptStore interface {
	Create(ctx context.Context, prompt *models.Prompt, embedding []float32) (*models.Prompt, error)
	GetByContentHash(ctx context.Context, hash string) (*models.Prompt, error)
	ListByCluster(ctx context.Context, clusterID uuid.UUID, limit int) ([]models.Prompt, error)
}

// ModerationChecker screens prompt text before anything is persisted.
type ModerationChecker interface {
	Check(ctx context.Context, text string) (*moderation.Result, error)
}

// CandidateRetriever answers nearest-cluster queries for the pipeline.
type CandidateRetriever interface {
	Retrieve(ctx context.Context, contentHash string, embedding []float32) ([]models.ClusterCandidate, error)
}

// ArtifactResolver resolves the active template contract for a cluster.
type ArtifactResolver interface {
	ActiveArtifact(ctx context.Context, clusterID uuid.UUID) (*models.TemplateArtifact, error)
}

// DriftEvaluator recomputes the drift statistic after accepted merges.
type DriftEvaluator interface {
	Evaluate(ctx context.Context, clusterID uuid.UUID) error
}

// canonicalizationMembers caps how many member prompts feed template extraction.
const canonicalizationMembers = 10

// PipelineService runs one prompt through the full ingestion flow: moderation,
// dedup, embedding, retrieval, assignment, and (for fresh clusters)
// canonicalization. It is the unit of work behind both the HTTP enqueue path
// and the background job worker.
type PipelineService struct {
	prompts    PromptStore
	embedder   embeddings.Client
	moderator  ModerationChecker // nil skips moderation
	retriever  CandidateRetriever
	engine     *AssignmentEngine
	extractor  TemplateExtractor
	versioning VersionCommitter
	artifacts  ArtifactResolver
	drift      DriftEvaluator

	embeddingModel string
}

// NewPipelineService wires the ingestion pipeline. moderator and drift may be
// nil when the corresponding collaborator is not configured.
func NewPipelineService(
	prompts PromptStore,
	embedder embeddings.Client,
	moderator ModerationChecker,
	retriever CandidateRetriever,
	engine *AssignmentEngine,
	extractor TemplateExtractor,
	versioning VersionCommitter,
	artifacts ArtifactResolver,
	drift DriftEvaluator,
	embeddingModel string,
) *PipelineService {
	return &PipelineService{
		prompts:        prompts,
		embedder:       embedder,
		moderator:      moderator,
		retriever:      retriever,
		engine:         engine,
		extractor:      extractor,
		versioning:     versioning,
		artifacts:      artifacts,
		drift:          drift,
		embeddingModel: embeddingModel,
	}
}

// ProcessPrompt ingests one prompt and returns the decision artifact.
// Byte-identical content replays the original decision without writing
// anything; flagged content is logged and dropped before any row exists.
func (s *PipelineService) ProcessPrompt(ctx context.Context, content string) (*models.AssignmentArtifact, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("content", "prompt content is required")
	}

	hash := models.HashContent(content)

	// Dedup fast path: the hash lookup replays the original decision with no
	// second assignment row and no second embedding call.
	replay, err := s.engine.FindReplay(ctx, hash)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		slog.Debug("prompt replayed from existing assignment",
			"content_hash", hash,
			"cluster_id", replay.Assignment.ClusterID,
		)
		return s.artifactFor(ctx, replay), nil
	}

	status := models.ModerationSkipped
	if s.moderator != nil {
		result, err := s.moderator.Check(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("moderation check failed: %w", err)
		}
		if result.Flagged {
			slog.Warn("prompt rejected by moderation",
				"content_hash", hash,
				"categories", result.Categories,
			)
			return nil, apperrors.NewModerationRejectedError(result.Categories)
		}
		status = models.ModerationAllowed
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	prompt, err := s.prompts.Create(ctx, &models.Prompt{
		Content:          content,
		ContentHash:      hash,
		EmbeddingModel:   s.embeddingModel,
		ModerationStatus: status,
	}, embedding)
	if err != nil {
		var conflict *apperrors.ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}

		// A concurrent ingest of identical content won the insert race. The
		// winner's decision may still be in flight, so fall back to the
		// stored prompt and let the assignment path handle the second row
		// conflict if it arises.
		prompt, err = s.prompts.GetByContentHash(ctx, hash)
		if err != nil {
			return nil, err
		}

		if replay, err := s.engine.FindReplay(ctx, hash); err == nil && replay != nil {
			return s.artifactFor(ctx, replay), nil
		}
	}

	candidates, err := s.retriever.Retrieve(ctx, hash, embedding)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Assign(ctx, prompt, embedding, candidates)
	if err != nil {
		return nil, err
	}

	if decision.Kind == models.DecisionRejected {
		return nil, apperrors.NewAssignmentRejectedError(decision.Reasoning)
	}

	if decision.ClusterCreated {
		s.canonicalize(ctx, decision.Cluster)
	} else if s.drift != nil {
		if err := s.drift.Evaluate(ctx, decision.Cluster.ID); err != nil {
			slog.Error("drift evaluation failed after merge",
				"cluster_id", decision.Cluster.ID,
				"error", err,
			)
		}
	}

	return s.artifactFor(ctx, decision), nil
}

// canonicalize extracts and commits the initial template for a fresh cluster.
// Failures are logged, not fatal: the assignment already stands and the drift
// scanner recanonicalizes on the next structural change.
func (s *PipelineService) canonicalize(ctx context.Context, cluster *models.Cluster) {
	if s.extractor == nil || s.versioning == nil {
		return
	}

	members, err := s.prompts.ListByCluster(ctx, cluster.ID, canonicalizationMembers)
	if err != nil {
		slog.Error("canonicalization member load failed", "cluster_id", cluster.ID, "error", err)
		return
	}

	extracted, err := s.extractor.Extract(ctx, cluster, members)
	if err != nil {
		slog.Error("template extraction failed", "cluster_id", cluster.ID, "error", err)
		return
	}

	if _, err := s.versioning.Commit(ctx, cluster.ID, extracted, "canonicalization"); err != nil {
		slog.Error("template commit failed", "cluster_id", cluster.ID, "error", err)
	}
}

// Assignment resolves the stored decision for a content hash. Returns
// NotFoundError while the prompt is still queued or was rejected.
func (s *PipelineService) Assignment(ctx context.Context, contentHash string) (*models.AssignmentArtifact, error) {
	replay, err := s.engine.FindReplay(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if replay == nil {
		return nil, apperrors.NewNotFoundError("assignment", "no assignment for this content hash")
	}

	return s.artifactFor(ctx, replay), nil
}

// artifactFor builds the external decision contract. The template version is
// best effort: a cluster whose canonicalization has not landed yet reports an
// empty version rather than failing the ingest.
func (s *PipelineService) artifactFor(ctx context.Context, decision *AssignmentDecision) *models.AssignmentArtifact {
	artifact := &models.AssignmentArtifact{
		PromptID:        decision.Assignment.PromptID.String(),
		ClusterID:       decision.Assignment.ClusterID.String(),
		SimilarityScore: decision.Assignment.SimilarityScore,
		Reasoning:       decision.Assignment.Reasoning,
	}

	if s.artifacts != nil {
		if tmpl, err := s.artifacts.ActiveArtifact(ctx, decision.Assignment.ClusterID); err == nil {
			artifact.TemplateVersion = tmpl.Version
		}
	}

	return artifact
}
