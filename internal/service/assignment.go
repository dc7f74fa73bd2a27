package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/observability"
	"github.com/promptlens/core/pkg/vectors"
)

// ClusterStore is the slice of the clusters repository the engine needs.
type ClusterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
	Create(ctx context.Context, cluster *models.Cluster) (*models.Cluster, error)
}

// AssignmentStore persists immutable assignment rows. CreateMerged couples
// the assignment insert to the cluster's centroid update in one transaction.
type AssignmentStore interface {
	Create(ctx context.Context, a *models.ClusterAssignment) (*models.ClusterAssignment, error)
	CreateMerged(ctx context.Context, a *models.ClusterAssignment, centroid []float32, memberCount int) (*models.ClusterAssignment, error)
	FindByContentHash(ctx context.Context, hash string) (*models.ClusterAssignment, error)
}

// EscalationResolver decides ambiguous-band assignments.
type EscalationResolver interface {
	Resolve(ctx context.Context, prompt *models.Prompt, candidates []models.ClusterCandidate) (*EscalationVerdict, error)
}

// CacheInvalidator drops cached similarity entries after cluster mutations.
type CacheInvalidator interface {
	InvalidateCache()
}

// AssignmentDecision is the outcome of running one prompt through the
// confidence-gated branch.
type AssignmentDecision struct {
	Kind           models.DecisionKind
	Assignment     *models.ClusterAssignment // nil when the verdict was reject
	Cluster        *models.Cluster           // nil when the verdict was reject
	ClusterCreated bool
	Replayed       bool
	Reasoning      string
}

// AssignmentEngine implements the three-way merge / escalate / new-cluster
// gate with per-cluster serialization of centroid updates.
type AssignmentEngine struct {
	clusters    ClusterStore
	assignments AssignmentStore
	resolver    EscalationResolver
	invalidator CacheInvalidator
	locks       *ClusterLocks

	mergeThreshold  float64
	escalationFloor float64
	metrics         observability.PipelineMetrics
}

// NewAssignmentEngine creates the decision engine. resolver may be nil, in
// which case ambiguous-band prompts fall through to NewCluster with the
// timeout-style capped confidence. invalidator and metrics may be nil.
func NewAssignmentEngine(
	clusters ClusterStore,
	assignments AssignmentStore,
	resolver EscalationResolver,
	invalidator CacheInvalidator,
	locks *ClusterLocks,
	mergeThreshold, escalationFloor float64,
	metrics observability.PipelineMetrics,
) *AssignmentEngine {
	if locks == nil {
		locks = NewClusterLocks()
	}
	return &AssignmentEngine{
		clusters:        clusters,
		assignments:     assignments,
		resolver:        resolver,
		invalidator:     invalidator,
		locks:           locks,
		mergeThreshold:  mergeThreshold,
		escalationFloor: escalationFloor,
		metrics:         metrics,
	}
}

// escalationTimeoutConfidence caps the confidence of the NewCluster fallback
// taken when the reasoning collaborator times out or fails.
const escalationTimeoutConfidence = 0.3

// FindReplay returns the existing decision for byte-identical content, or
// nil when the prompt is genuinely new. Replays never produce a second row.
func (e *AssignmentEngine) FindReplay(ctx context.Context, contentHash string) (*AssignmentDecision, error) {
	existing, err := e.assignments.FindByContentHash(ctx, contentHash)
	if err != nil {
		var notFound *apperrors.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}

	cluster, err := e.clusters.GetByID(ctx, existing.ClusterID)
	if err != nil {
		return nil, err
	}

	return &AssignmentDecision{
		Kind:       existing.Decision,
		Assignment: existing,
		Cluster:    cluster,
		Replayed:   true,
		Reasoning:  existing.Reasoning,
	}, nil
}

// Assign runs the confidence-gated branch for one prompt. candidates must be
// ordered by score descending (the retriever's contract). The prompt row
// must already be persisted; exactly one assignment row is written unless
// the escalation verdict is reject.
func (e *AssignmentEngine) Assign(ctx context.Context, prompt *models.Prompt, embedding []float32, candidates []models.ClusterCandidate) (*AssignmentDecision, error) {
	if len(candidates) == 0 {
		return e.createCluster(ctx, prompt, embedding, 0, 1.0, "no existing clusters; seeded a new cluster", models.DecisionNewCluster)
	}

	top := candidates[0]

	topCluster, err := e.clusters.GetByID(ctx, top.ClusterID)
	if err != nil {
		return nil, err
	}

	threshold := topCluster.MergeThreshold
	if threshold <= 0 {
		threshold = e.mergeThreshold
	}

	switch {
	case top.Score >= threshold:
		confidence := mergeConfidence(top.Score, candidates)
		reasoning := fmt.Sprintf("similarity %.4f meets merge threshold %.2f", top.Score, threshold)
		return e.merge(ctx, prompt, embedding, topCluster.ID, top.Score, confidence, reasoning, models.DecisionMerged)

	case top.Score >= e.escalationFloor:
		return e.escalate(ctx, prompt, embedding, candidates)

	default:
		reasoning := fmt.Sprintf("top similarity %.4f below escalation floor %.2f", top.Score, e.escalationFloor)
		return e.createCluster(ctx, prompt, embedding, top.Score, 1.0, reasoning, models.DecisionNewCluster)
	}
}

// mergeConfidence maps the top score and its gap to the runner-up into a
// confidence in [score, 1]. A wide gap means the winner was unambiguous, so
// confidence rises above the raw score; a zero gap adds nothing. Monotone
// non-decreasing in both score and gap.
func mergeConfidence(score float64, candidates []models.ClusterCandidate) float64 {
	gap := 1 - score
	if len(candidates) > 1 {
		gap = score - candidates[1].Score
	}
	if gap > 1-score {
		gap = 1 - score
	}
	if gap < 0 {
		gap = 0
	}

	conf := score + 0.5*gap
	if conf > 1 {
		conf = 1
	}
	if conf < score {
		conf = score
	}

	return conf
}

func (e *AssignmentEngine) merge(ctx context.Context, prompt *models.Prompt, embedding []float32, clusterID uuid.UUID, score, confidence float64, reasoning string, kind models.DecisionKind) (*AssignmentDecision, error) {
	unlock := e.locks.Lock(clusterID)
	defer unlock()

	// Re-read under the lock: a concurrent merge may have moved the centroid.
	cluster, err := e.clusters.GetByID(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	newCentroid := vectors.RunningMean(cluster.Centroid, embedding, cluster.MemberCount)
	assignment, err := e.assignments.CreateMerged(ctx, &models.ClusterAssignment{
		PromptID:        prompt.ID,
		ClusterID:       clusterID,
		SimilarityScore: score,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Decision:        kind,
	}, newCentroid, cluster.MemberCount+1)
	if err != nil {
		return nil, err
	}

	cluster.Centroid = newCentroid
	cluster.MemberCount++

	if e.invalidator != nil {
		e.invalidator.InvalidateCache()
	}
	if e.metrics != nil {
		e.metrics.RecordAssignment(ctx, string(kind))
	}

	slog.Info("prompt merged into cluster",
		"prompt_id", prompt.ID,
		"cluster_id", clusterID,
		"similarity", score,
		"confidence", confidence,
		"decision", kind,
	)

	return &AssignmentDecision{
		Kind:       kind,
		Assignment: assignment,
		Cluster:    cluster,
		Reasoning:  reasoning,
	}, nil
}

func (e *AssignmentEngine) escalate(ctx context.Context, prompt *models.Prompt, embedding []float32, candidates []models.ClusterCandidate) (*AssignmentDecision, error) {
	top := candidates[0]

	if e.resolver == nil {
		reasoning := fmt.Sprintf("similarity %.4f in ambiguous band and no reasoning collaborator configured; created new cluster", top.Score)
		return e.createCluster(ctx, prompt, embedding, top.Score, escalationTimeoutConfidence, reasoning, models.DecisionEscalated)
	}

	verdict, err := e.resolver.Resolve(ctx, prompt, candidates)
	if err != nil {
		// Timeout or collaborator failure falls back to NewCluster with
		// capped confidence instead of blocking ingestion.
		if e.metrics != nil {
			e.metrics.RecordEscalation(ctx, "timeout")
		}

		slog.Warn("escalation fell back to new cluster",
			"prompt_id", prompt.ID,
			"similarity", top.Score,
			"error", err,
		)

		reasoning := fmt.Sprintf("similarity %.4f was ambiguous and the reasoning collaborator did not answer in time (%v); created new cluster", top.Score, err)
		return e.createCluster(ctx, prompt, embedding, top.Score, escalationTimeoutConfidence, reasoning, models.DecisionEscalated)
	}

	reasoning := fmt.Sprintf("retrieval score %.4f; collaborator verdict %s: %s", top.Score, verdict.Decision, verdict.Reasoning)

	if e.metrics != nil {
		outcome := verdict.Decision
		if outcome == VerdictMerge {
			outcome = "merged"
		}
		if outcome == VerdictReject {
			outcome = "rejected"
		}
		e.metrics.RecordEscalation(ctx, outcome)
	}

	switch verdict.Decision {
	case VerdictMerge:
		score := top.Score
		for _, cand := range candidates {
			if cand.ClusterID == *verdict.ClusterID {
				score = cand.Score
				break
			}
		}
		return e.merge(ctx, prompt, embedding, *verdict.ClusterID, score, verdict.Confidence, reasoning, models.DecisionEscalated)

	case VerdictNewCluster:
		return e.createCluster(ctx, prompt, embedding, top.Score, verdict.Confidence, reasoning, models.DecisionEscalated)

	default: // VerdictReject
		slog.Warn("prompt rejected by reasoning collaborator",
			"prompt_id", prompt.ID,
			"similarity", top.Score,
			"reasoning", verdict.Reasoning,
		)

		if e.metrics != nil {
			e.metrics.RecordAssignment(ctx, string(models.DecisionRejected))
		}

		return &AssignmentDecision{
			Kind:      models.DecisionRejected,
			Reasoning: reasoning,
		}, nil
	}
}

func (e *AssignmentEngine) createCluster(ctx context.Context, prompt *models.Prompt, embedding []float32, score, confidence float64, reasoning string, kind models.DecisionKind) (*AssignmentDecision, error) {
	cluster, err := e.clusters.Create(ctx, &models.Cluster{
		Name:           clusterNameFromContent(prompt.Content),
		Centroid:       embedding,
		MemberCount:    1,
		MergeThreshold: e.mergeThreshold,
		DriftState:     models.DriftStable,
	})
	if err != nil {
		return nil, err
	}

	assignment, err := e.assignments.Create(ctx, &models.ClusterAssignment{
		PromptID:        prompt.ID,
		ClusterID:       cluster.ID,
		SimilarityScore: score,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Decision:        kind,
	})
	if err != nil {
		return nil, err
	}

	if e.invalidator != nil {
		e.invalidator.InvalidateCache()
	}
	if e.metrics != nil {
		e.metrics.RecordAssignment(ctx, string(kind))
	}

	slog.Info("new cluster created",
		"prompt_id", prompt.ID,
		"cluster_id", cluster.ID,
		"confidence", confidence,
		"decision", kind,
	)

	return &AssignmentDecision{
		Kind:           kind,
		Assignment:     assignment,
		Cluster:        cluster,
		ClusterCreated: true,
		Reasoning:      reasoning,
	}, nil
}

// clusterNameFromContent derives a short human-readable cluster name from
// the seeding prompt's first words.
func clusterNameFromContent(content string) string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return unicode.IsSpace(r)
	})

	const maxWords = 6
	if len(fields) > maxWords {
		fields = fields[:maxWords]
	}

	name := strings.Join(fields, " ")
	if len(name) > 80 {
		name = name[:80]
	}
	if name == "" {
		name = "untitled cluster"
	}

	return name
}
