package models

import (
	"time"

	"github.com/google/uuid"
)

// PromptFamily is a node in the rooted forest of higher-level prompt
// groupings. ParentID is nil for roots. The graph must stay acyclic; every
// mutating edge operation is cycle-checked before it applies.
type PromptFamily struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FamilyClusterMapping records cluster membership in a family. A cluster
// belongs to at most one family at a time; history is retained by setting
// DetachedAt instead of deleting rows, so lineage queries stay possible.
type FamilyClusterMapping struct {
	ID         uuid.UUID  `json:"id"`
	FamilyID   uuid.UUID  `json:"family_id"`
	ClusterID  uuid.UUID  `json:"cluster_id"`
	AttachedAt time.Time  `json:"attached_at"`
	DetachedAt *time.Time `json:"detached_at,omitempty"`
}

// FamilyHierarchy is the parent/children/clusters view of one family.
type FamilyHierarchy struct {
	Family   PromptFamily   `json:"family"`
	Parent   *PromptFamily  `json:"parent,omitempty"`
	Children []PromptFamily `json:"children"`
	Clusters []Cluster      `json:"clusters"`
}
