package models

import (
	"time"

	"github.com/google/uuid"
)

// SlotType is the inferred value type of a template slot.
type SlotType string

const (
	SlotTypeString       SlotType = "string"
	SlotTypeNumber       SlotType = "number"
	SlotTypeBoolean      SlotType = "boolean"
	SlotTypeEnum         SlotType = "enum"
	SlotTypeCodeFragment SlotType = "code_fragment"
)

// TemplateSlot is one typed variable slot owned by exactly one template version.
type TemplateSlot struct {
	Name          string   `json:"name"`
	Type          SlotType `json:"type"`
	ExampleValues []string `json:"example_values"`
	Confidence    float64  `json:"confidence"`
}

// TemplateVersion is one immutable row in a cluster's append-only version
// chain. The cluster's "current" template is the derived active-version
// pointer, never an overwrite of a row.
type TemplateVersion struct {
	ID          uuid.UUID      `json:"id"`
	ClusterID   uuid.UUID      `json:"cluster_id"`
	Seq         int            `json:"seq"`
	Version     Version        `json:"version"`
	Body        string         `json:"canonical_template"`
	Slots       []TemplateSlot `json:"slots"`
	Confidence  float64        `json:"confidence"`
	Explanation string         `json:"explanation"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SlotNames returns the set of slot names on this version.
func (t *TemplateVersion) SlotNames() map[string]struct{} {
	names := make(map[string]struct{}, len(t.Slots))
	for _, s := range t.Slots {
		names[s.Name] = struct{}{}
	}
	return names
}

// TemplateArtifact is the bit-exact JSON contract for a canonical template.
type TemplateArtifact struct {
	ClusterID         string         `json:"cluster_id"`
	CanonicalTemplate string         `json:"canonical_template"`
	Slots             []TemplateSlot `json:"slots"`
	Confidence        float64        `json:"confidence"`
	Explanation       string         `json:"explanation"`
	Version           string         `json:"version"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
}

// Artifact renders the version as its external JSON contract.
// updatedAt is the commit time of the latest version in the chain.
func (t *TemplateVersion) Artifact(updatedAt time.Time) TemplateArtifact {
	slots := t.Slots
	if slots == nil {
		slots = []TemplateSlot{}
	}

	return TemplateArtifact{
		ClusterID:         t.ClusterID.String(),
		CanonicalTemplate: t.Body,
		Slots:             slots,
		Confidence:        t.Confidence,
		Explanation:       t.Explanation,
		Version:           t.Version.String(),
		CreatedAt:         t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         updatedAt.UTC().Format(time.RFC3339),
	}
}
