// Package models defines the domain entities persisted by the repositories.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ModerationStatus is the verdict attached to a prompt at ingestion.
type ModerationStatus string

const (
	ModerationAllowed ModerationStatus = "allowed"
	ModerationFlagged ModerationStatus = "flagged"
	// ModerationSkipped is recorded when no moderation collaborator is configured.
	ModerationSkipped ModerationStatus = "skipped"
)

// Prompt is an immutable record of ingested prompt text. Rows are never
// mutated or deleted; rejected prompts are logged but never persisted.
type Prompt struct {
	ID               uuid.UUID        `json:"id"`
	Content          string           `json:"content"`
	ContentHash      string           `json:"content_hash"`
	EmbeddingModel   string           `json:"embedding_model,omitempty"`
	ModerationStatus ModerationStatus `json:"moderation_status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// HashContent returns the hex-encoded SHA-256 of prompt content.
// Used for dedup and replay idempotency.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
