package models

import "github.com/google/uuid"

// SubmitPromptRequest is the payload for POST /v1/prompts.
type SubmitPromptRequest struct {
	Content string `json:"content" validate:"required,no_null_bytes,min=1,max=65536"`
}

// SubmitPromptResponse acknowledges an enqueued prompt. The content hash is
// the handle for polling the eventual assignment.
type SubmitPromptResponse struct {
	ContentHash string `json:"content_hash"`
	Status      string `json:"status"`
}

// CreateFamilyRequest is the payload for POST /v1/families.
type CreateFamilyRequest struct {
	Name        string     `json:"name" validate:"required,no_null_bytes,min=1,max=255"`
	Description string     `json:"description,omitempty" validate:"omitempty,no_null_bytes,max=4096"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
}

// SetFamilyParentRequest is the payload for PATCH /v1/families/{id}/parent.
// A nil parent_id detaches the family to the forest root.
type SetFamilyParentRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

// AttachClusterRequest is the payload for POST /v1/families/{id}/attach.
type AttachClusterRequest struct {
	ClusterID uuid.UUID `json:"cluster_id" validate:"required"`
}

// MergeFamiliesRequest is the payload for POST /v1/families/{id}/merge.
type MergeFamiliesRequest struct {
	SourceID uuid.UUID `json:"source_id" validate:"required"`
}

// ListClustersFilters are the query parameters for GET /v1/clusters.
type ListClustersFilters struct {
	Limit  int `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset int `form:"offset" validate:"omitempty,min=0"`
}

// ListEventsFilters are the query parameters for GET /v1/evolution/events.
type ListEventsFilters struct {
	ClusterID *uuid.UUID `form:"cluster_id"`
	Limit     int        `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset    int        `form:"offset" validate:"omitempty,min=0"`
}
