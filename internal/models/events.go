package models

import (
	"time"

	"github.com/google/uuid"
)

// EvolutionEventType identifies what happened to a cluster's template lineage.
type EvolutionEventType string

const (
	EventCreated       EvolutionEventType = "CREATED"
	EventUpdated       EvolutionEventType = "UPDATED"
	EventSlotAdded     EvolutionEventType = "SLOT_ADDED"
	EventSlotRemoved   EvolutionEventType = "SLOT_REMOVED"
	EventDriftDetected EvolutionEventType = "DRIFT_DETECTED"
	EventSplit         EvolutionEventType = "SPLIT"
	EventMerge         EvolutionEventType = "MERGE"
)

// EvolutionEvent links a previous and new template version (nullable for
// CREATED and DRIFT_DETECTED) with the reasoning source that produced it.
type EvolutionEvent struct {
	ID                uuid.UUID          `json:"id"`
	ClusterID         uuid.UUID          `json:"cluster_id"`
	Type              EvolutionEventType `json:"event_type"`
	PreviousVersionID *uuid.UUID         `json:"previous_version_id,omitempty"`
	NewVersionID      *uuid.UUID         `json:"new_version_id,omitempty"`
	PreviousVersion   *Version           `json:"previous_version,omitempty"`
	NewVersion        *Version           `json:"new_version,omitempty"`
	Reason            string             `json:"reason"`
	DetectedBy        string             `json:"detected_by"`
	CreatedAt         time.Time          `json:"created_at"`
}
