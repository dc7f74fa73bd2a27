package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/observability"
)

// TemplateStore is the slice of the templates repository versioning needs.
type TemplateStore interface {
	Commit(ctx context.Context, v *models.TemplateVersion, expectedActive *uuid.UUID) (*models.TemplateVersion, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateVersion, error)
	GetActiveByCluster(ctx context.Context, clusterID uuid.UUID) (*models.TemplateVersion, error)
	ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error)
}

// ClusterReader re-reads cluster state between optimistic commit attempts.
type ClusterReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
}

// EventStore appends evolution events.
type EventStore interface {
	Create(ctx context.Context, e *models.EvolutionEvent) (*models.EvolutionEvent, error)
}

// VersioningService turns extracted templates into append-only version rows
// with semver bump classification and evolution events.
type VersioningService struct {
	templates TemplateStore
	clusters  ClusterReader
	events    EventStore
	attempts  int
	metrics   observability.PipelineMetrics
}

// NewVersioningService creates the version manager. metrics may be nil.
func NewVersioningService(templates TemplateStore, clusters ClusterReader, events EventStore, attempts int, metrics observability.PipelineMetrics) *VersioningService {
	if attempts <= 0 {
		attempts = 3
	}

	return &VersioningService{
		templates: templates,
		clusters:  clusters,
		events:    events,
		attempts:  attempts,
		metrics:   metrics,
	}
}

// Commit appends a new version for the cluster. The active-pointer repoint is
// optimistic: when a concurrent commit moves the pointer first, the attempt
// is discarded and the bump is reclassified against the new active version.
// detectedBy names the pipeline stage that produced the template.
func (s *VersioningService) Commit(ctx context.Context, clusterID uuid.UUID, extracted *ExtractedTemplate, detectedBy string) (*models.TemplateVersion, error) {
	var lastErr error

	for attempt := 0; attempt < s.attempts; attempt++ {
		cluster, err := s.clusters.GetByID(ctx, clusterID)
		if err != nil {
			return nil, err
		}

		var prev *models.TemplateVersion
		if cluster.ActiveVersionID != nil {
			prev, err = s.templates.GetByID(ctx, *cluster.ActiveVersionID)
			if err != nil {
				return nil, err
			}
		}

		next := models.InitialVersion
		var bump models.BumpKind
		if prev != nil {
			bump = classifyBump(prev, extracted)
			next = prev.Version.Bump(bump)
		}

		committed, err := s.templates.Commit(ctx, &models.TemplateVersion{
			ClusterID:   clusterID,
			Version:     next,
			Body:        extracted.Body,
			Slots:       extracted.Slots,
			Confidence:  extracted.Confidence,
			Explanation: extracted.Explanation,
		}, cluster.ActiveVersionID)
		if err != nil {
			var conflict *apperrors.ConflictError
			if errors.As(err, &conflict) {
				lastErr = err
				slog.Debug("template commit lost optimistic race, retrying",
					"cluster_id", clusterID,
					"attempt", attempt+1,
				)
				continue
			}
			return nil, err
		}

		if err := s.emitEvents(ctx, prev, committed, bump, detectedBy); err != nil {
			return nil, err
		}

		slog.Info("template version committed",
			"cluster_id", clusterID,
			"version", committed.Version.String(),
			"seq", committed.Seq,
			"bump", string(bump),
			"degraded", extracted.Degraded,
		)

		return committed, nil
	}

	return nil, fmt.Errorf("template commit exhausted %d optimistic attempts: %w", s.attempts, lastErr)
}

func (s *VersioningService) emitEvents(ctx context.Context, prev, committed *models.TemplateVersion, bump models.BumpKind, detectedBy string) error {
	record := func(e *models.EvolutionEvent) error {
		if _, err := s.events.Create(ctx, e); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordDriftEvent(ctx, string(e.Type))
		}
		return nil
	}

	if prev == nil {
		return record(&models.EvolutionEvent{
			ClusterID:    committed.ClusterID,
			Type:         models.EventCreated,
			NewVersionID: &committed.ID,
			Reason:       "initial canonical template",
			DetectedBy:   detectedBy,
		})
	}

	if err := record(&models.EvolutionEvent{
		ClusterID:         committed.ClusterID,
		Type:              models.EventUpdated,
		PreviousVersionID: &prev.ID,
		NewVersionID:      &committed.ID,
		Reason:            fmt.Sprintf("%s bump from %s", bump, prev.Version.String()),
		DetectedBy:        detectedBy,
	}); err != nil {
		return err
	}

	prevNames := prev.SlotNames()
	newNames := committed.SlotNames()

	for name := range newNames {
		if _, ok := prevNames[name]; !ok {
			if err := record(&models.EvolutionEvent{
				ClusterID:         committed.ClusterID,
				Type:              models.EventSlotAdded,
				PreviousVersionID: &prev.ID,
				NewVersionID:      &committed.ID,
				Reason:            fmt.Sprintf("slot %q added", name),
				DetectedBy:        detectedBy,
			}); err != nil {
				return err
			}
		}
	}

	for name := range prevNames {
		if _, ok := newNames[name]; !ok {
			if err := record(&models.EvolutionEvent{
				ClusterID:         committed.ClusterID,
				Type:              models.EventSlotRemoved,
				PreviousVersionID: &prev.ID,
				NewVersionID:      &committed.ID,
				Reason:            fmt.Sprintf("slot %q removed", name),
				DetectedBy:        detectedBy,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// classifyBump compares the previous version with the new extraction.
// Removing a slot or changing the static body skeleton breaks consumers of
// the template, so both are major. Adding a slot is minor. Everything else
// (examples, explanations, slot metadata) is patch.
func classifyBump(prev *models.TemplateVersion, next *ExtractedTemplate) models.BumpKind {
	prevNames := prev.SlotNames()
	newNames := make(map[string]struct{}, len(next.Slots))
	for _, s := range next.Slots {
		newNames[s.Name] = struct{}{}
	}

	for name := range prevNames {
		if _, ok := newNames[name]; !ok {
			return models.BumpMajor
		}
	}

	added := make(map[string]struct{})
	for name := range newNames {
		if _, ok := prevNames[name]; !ok {
			added[name] = struct{}{}
		}
	}

	// An added slot necessarily puts a new placeholder in the body. Elide
	// those placeholders before comparing skeletons so the addition itself
	// does not read as a structural break; only changes to the surrounding
	// static text are major.
	if bodySkeleton(prev.Body) != bodySkeleton(elidePlaceholders(next.Body, added)) {
		return models.BumpMajor
	}

	if len(added) > 0 {
		return models.BumpMinor
	}

	return models.BumpPatch
}

// elidePlaceholders strips the {{name}} markers for the given slot names.
func elidePlaceholders(body string, names map[string]struct{}) string {
	if len(names) == 0 {
		return body
	}

	return slotPattern.ReplaceAllStringFunc(body, func(m string) string {
		name := slotPattern.FindStringSubmatch(m)[1]
		if _, ok := names[name]; ok {
			return ""
		}
		return m
	})
}

// bodySkeleton is the template body with every slot placeholder collapsed to
// a fixed marker, so slot renames alone do not read as structural changes.
func bodySkeleton(body string) string {
	skeleton := slotPattern.ReplaceAllString(body, "{{_}}")
	return strings.Join(strings.Fields(skeleton), " ")
}

// ActiveArtifact resolves the cluster's active template as its external
// JSON contract, with updated_at taken from the newest version in the chain.
func (s *VersioningService) ActiveArtifact(ctx context.Context, clusterID uuid.UUID) (*models.TemplateArtifact, error) {
	active, err := s.templates.GetActiveByCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	chain, err := s.templates.ListByCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	updatedAt := active.CreatedAt
	if len(chain) > 0 {
		updatedAt = chain[len(chain)-1].CreatedAt
	}

	artifact := active.Artifact(updatedAt)

	return &artifact, nil
}

// VersionChain lists the full append-only chain for a cluster, oldest first.
func (s *VersioningService) VersionChain(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error) {
	return s.templates.ListByCluster(ctx, clusterID)
}
