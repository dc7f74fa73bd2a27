// Package workers provides River job workers (e.g. prompt ingestion).
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/service"
)

// PromptIngestWorker runs one prompt through the ingestion pipeline.
type PromptIngestWorker struct {
	river.WorkerDefaults[service.PromptIngestArgs]

	pipeline ingestPipeline
}

// ingestPipeline is the minimal pipeline interface needed by the worker.
type ingestPipeline interface {
	ProcessPrompt(ctx context.Context, content string) (*models.AssignmentArtifact, error)
}

// NewPromptIngestWorker creates a worker that feeds jobs into the pipeline.
func NewPromptIngestWorker(pipeline ingestPipeline) *PromptIngestWorker {
	return &PromptIngestWorker{pipeline: pipeline}
}

// promptIngestTimeout bounds one pipeline run including embedding and any
// escalation round trip.
const promptIngestTimeout = 90 * time.Second

// Timeout limits how long a single ingestion job can run.
func (w *PromptIngestWorker) Timeout(*river.Job[service.PromptIngestArgs]) time.Duration {
	return promptIngestTimeout
}

// Work runs the pipeline once. Rejections are terminal outcomes, not job
// failures; only infrastructure errors are retried.
func (w *PromptIngestWorker) Work(ctx context.Context, job *river.Job[service.PromptIngestArgs]) error {
	args := job.Args
	start := time.Now()

	artifact, err := w.pipeline.ProcessPrompt(ctx, args.Content)
	if err != nil {
		var moderationErr *apperrors.ModerationRejectedError
		if errors.As(err, &moderationErr) {
			slog.Warn("ingest: prompt rejected by moderation",
				"content_hash", args.ContentHash,
				"categories", moderationErr.Categories,
			)

			return nil // terminal; retrying cannot change the verdict
		}

		var rejectedErr *apperrors.AssignmentRejectedError
		if errors.As(err, &rejectedErr) {
			slog.Warn("ingest: prompt rejected by reasoning collaborator",
				"content_hash", args.ContentHash,
				"reasoning", rejectedErr.Reasoning,
			)

			return nil
		}

		var validationErr *apperrors.ValidationError
		if errors.As(err, &validationErr) {
			slog.Error("ingest: invalid job payload",
				"content_hash", args.ContentHash,
				"error", err,
			)

			return nil // malformed input never becomes valid on retry
		}

		isLastAttempt := job.Attempt >= job.MaxAttempts
		if isLastAttempt {
			slog.Error("ingest: pipeline failed (final attempt)",
				"content_hash", args.ContentHash,
				"error", err,
			)
		} else {
			slog.Warn("ingest: pipeline failed, will retry",
				"content_hash", args.ContentHash,
				"attempt", job.Attempt,
				"error", err,
			)
		}

		return fmt.Errorf("prompt ingest: %w", err)
	}

	slog.Info("ingest: prompt assigned",
		"content_hash", args.ContentHash,
		"cluster_id", artifact.ClusterID,
		"similarity", artifact.SimilarityScore,
		"duration", time.Since(start),
	)

	return nil
}
