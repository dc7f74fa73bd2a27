package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

const (
	promptIngestKind = "prompt_ingest"
	// IngestQueueName is the River queue used for prompt ingestion jobs.
	IngestQueueName = "ingest"

	// uniqueByPeriodIngest dedups enqueues of the same content hash; the
	// pipeline's replay path handles anything that slips past.
	uniqueByPeriodIngest = 24 * time.Hour
)

// PromptIngestInserter inserts ingestion jobs (e.g. River client).
type PromptIngestInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// PromptIngestArgs is the job payload for running one prompt through the
// ingestion pipeline. Uniqueness is by content hash so concurrent submissions
// of identical text collapse into one job.
type PromptIngestArgs struct {
	Content     string `json:"content"`
	ContentHash string `json:"content_hash" river:"unique"`
}

// Kind returns the River job kind.
func (PromptIngestArgs) Kind() string { return promptIngestKind }

var _ river.JobArgs = PromptIngestArgs{}

// IngestEnqueuer accepts prompt submissions and enqueues pipeline jobs.
type IngestEnqueuer struct {
	inserter    PromptIngestInserter
	maxAttempts int
}

// NewIngestEnqueuer creates an enqueuer backed by the given job inserter.
func NewIngestEnqueuer(inserter PromptIngestInserter, maxAttempts int) *IngestEnqueuer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &IngestEnqueuer{inserter: inserter, maxAttempts: maxAttempts}
}

// Enqueue validates the submission and inserts an ingestion job. The returned
// hash is the caller's handle for polling the eventual assignment. Content is
// trimmed before hashing, the same way the pipeline hashes it, so the handle
// matches the stored content_hash.
func (e *IngestEnqueuer) Enqueue(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.NewValidationError("content", "prompt content is required")
	}

	hash := models.HashContent(content)

	opts := &river.InsertOpts{
		Queue:       IngestQueueName,
		MaxAttempts: e.maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByPeriod: uniqueByPeriodIngest},
	}

	result, err := e.inserter.Insert(ctx, PromptIngestArgs{Content: content, ContentHash: hash}, opts)
	if err != nil {
		return "", err
	}

	slog.Info("ingest: job enqueued",
		"content_hash", hash,
		"job_id", result.Job.ID,
		"duplicate", result.UniqueSkippedAsDuplicate,
	)

	return hash, nil
}
