package models

import (
	"time"

	"github.com/google/uuid"
)

// DriftState is the per-cluster evolution state machine position.
type DriftState string

const (
	DriftStable       DriftState = "stable"
	DriftSuspected    DriftState = "drift_suspected"
	DriftResolved     DriftState = "resolved"
	DriftSplitPending DriftState = "split_pending"
	DriftMergePending DriftState = "merge_pending"
)

// Cluster is a named group of semantically equivalent prompts. The centroid is
// updated as a running weighted average on each accepted merge; clusters are
// never deleted, only marked inactive when absorbed by a sibling.
type Cluster struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Centroid        []float32  `json:"-"`
	MemberCount     int        `json:"member_count"`
	MergeThreshold  float64    `json:"merge_threshold"`
	ActiveVersionID *uuid.UUID `json:"active_version_id,omitempty"`
	DriftState      DriftState `json:"drift_state"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ClusterCandidate is one ranked retrieval result: a cluster and its
// similarity to the query embedding. Ordered highest score first; ties break
// by cluster recency so decisions stay deterministic under concurrent load.
type ClusterCandidate struct {
	ClusterID uuid.UUID `json:"cluster_id"`
	Score     float64   `json:"similarity_score"`
	UpdatedAt time.Time `json:"-"`
}

// MemberEmbedding pairs a member prompt with its stored embedding. Query
// projection used by drift dispersion and split partitioning.
type MemberEmbedding struct {
	PromptID  uuid.UUID
	Embedding []float32
}

// DecisionKind is the outcome of one assignment decision.
type DecisionKind string

const (
	DecisionMerged     DecisionKind = "merged"
	DecisionNewCluster DecisionKind = "new_cluster"
	DecisionEscalated  DecisionKind = "escalated"
	// DecisionRejected is an escalated case the reasoning collaborator refused.
	DecisionRejected DecisionKind = "rejected"
)

// ClusterAssignment is one (prompt, cluster) decision row. Immutable once
// written; corrections are new assignments, never edits.
type ClusterAssignment struct {
	ID              uuid.UUID    `json:"id"`
	PromptID        uuid.UUID    `json:"prompt_id"`
	ClusterID       uuid.UUID    `json:"cluster_id"`
	SimilarityScore float64      `json:"similarity_score"`
	Confidence      float64      `json:"confidence"`
	Reasoning       string       `json:"reasoning"`
	Decision        DecisionKind `json:"decision"`
	SupersededAt    *time.Time   `json:"superseded_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// AssignmentArtifact is the bit-exact JSON contract emitted for each decision.
type AssignmentArtifact struct {
	PromptID        string  `json:"prompt_id"`
	ClusterID       string  `json:"cluster_id"`
	SimilarityScore float64 `json:"similarity_score"`
	Reasoning       string  `json:"reasoning"`
	TemplateVersion string  `json:"template_version"`
}
