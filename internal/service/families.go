package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// FamilyStore is the slice of the families repository the graph manager needs.
type FamilyStore interface {
	Create(ctx context.Context, f *models.PromptFamily) (*models.PromptFamily, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PromptFamily, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]models.PromptFamily, error)
	SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	ActiveMappingByCluster(ctx context.Context, clusterID uuid.UUID) (*models.FamilyClusterMapping, error)
	Attach(ctx context.Context, familyID, clusterID uuid.UUID) (*models.FamilyClusterMapping, error)
	Detach(ctx context.Context, clusterID uuid.UUID) error
	ListClusterIDs(ctx context.Context, familyID uuid.UUID) ([]uuid.UUID, error)
}

// FamilyClusterReader loads clusters for hierarchy views.
type FamilyClusterReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
}

// FamilyService maintains the family forest: cluster membership mappings and
// inter-family parent links. Every mutating edge operation walks the parent
// chain first and refuses with CycleRejectedError rather than applying a
// partial update.
type FamilyService struct {
	families FamilyStore
	clusters FamilyClusterReader
}

// NewFamilyService creates the family graph manager.
func NewFamilyService(families FamilyStore, clusters FamilyClusterReader) *FamilyService {
	return &FamilyService{families: families, clusters: clusters}
}

// CreateFamily creates a root family.
func (s *FamilyService) CreateFamily(ctx context.Context, name, description string) (*models.PromptFamily, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("name", "family name is required")
	}

	return s.families.Create(ctx, &models.PromptFamily{Name: name, Description: description})
}

// CreateChildFamily creates a family under parent. The new node cannot form
// a cycle because it has no descendants yet, but the parent must exist.
func (s *FamilyService) CreateChildFamily(ctx context.Context, parentID uuid.UUID, name, description string) (*models.PromptFamily, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("name", "family name is required")
	}

	if _, err := s.families.GetByID(ctx, parentID); err != nil {
		return nil, err
	}

	return s.families.Create(ctx, &models.PromptFamily{
		Name:        name,
		Description: description,
		ParentID:    &parentID,
	})
}

// Attach places a cluster in a family. Reattaching to the same family is a
// no-op; attaching to a different family supersedes the old mapping by
// stamping detached_at and inserting a fresh row.
func (s *FamilyService) Attach(ctx context.Context, familyID, clusterID uuid.UUID) (*models.FamilyClusterMapping, error) {
	if _, err := s.families.GetByID(ctx, familyID); err != nil {
		return nil, err
	}
	if _, err := s.clusters.GetByID(ctx, clusterID); err != nil {
		return nil, err
	}

	existing, err := s.families.ActiveMappingByCluster(ctx, clusterID)
	if err != nil {
		var notFound *apperrors.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if existing != nil {
		if existing.FamilyID == familyID {
			return existing, nil
		}
		if err := s.families.Detach(ctx, clusterID); err != nil {
			return nil, err
		}
	}

	mapping, err := s.families.Attach(ctx, familyID, clusterID)
	if err != nil {
		return nil, err
	}

	slog.Info("cluster attached to family", "cluster_id", clusterID, "family_id", familyID)

	return mapping, nil
}

// SetParent repoints a family's parent link after walking the prospective
// ancestor chain for a cycle.
func (s *FamilyService) SetParent(ctx context.Context, familyID uuid.UUID, parentID *uuid.UUID) error {
	if _, err := s.families.GetByID(ctx, familyID); err != nil {
		return err
	}

	if parentID != nil {
		if *parentID == familyID {
			return apperrors.NewCycleRejectedError("family cannot be its own parent")
		}
		if err := s.checkNoCycle(ctx, familyID, *parentID); err != nil {
			return err
		}
	}

	return s.families.SetParent(ctx, familyID, parentID)
}

// checkNoCycle walks up from candidateParent; finding family on the way up
// means the new edge would close a cycle.
func (s *FamilyService) checkNoCycle(ctx context.Context, family, candidateParent uuid.UUID) error {
	const maxDepth = 64

	current := candidateParent
	for depth := 0; depth < maxDepth; depth++ {
		node, err := s.families.GetByID(ctx, current)
		if err != nil {
			return err
		}
		if node.ID == family {
			return apperrors.NewCycleRejectedError(
				fmt.Sprintf("linking under %s would create a cycle through %s", candidateParent, family))
		}
		if node.ParentID == nil {
			return nil
		}
		current = *node.ParentID
	}

	return apperrors.NewCycleRejectedError("ancestor chain too deep, refusing edge")
}

// MergeFamilies re-homes everything in source under target: clusters are
// re-attached and child families re-parented, then source is left empty as a
// leaf under target. The cycle walk runs before any mutation.
func (s *FamilyService) MergeFamilies(ctx context.Context, targetID, sourceID uuid.UUID) error {
	if targetID == sourceID {
		return apperrors.NewValidationError("source", "cannot merge a family into itself")
	}

	if _, err := s.families.GetByID(ctx, targetID); err != nil {
		return err
	}
	if _, err := s.families.GetByID(ctx, sourceID); err != nil {
		return err
	}

	// Re-parenting source under target must not close a cycle; checking
	// first guarantees no partial mutation on rejection.
	if err := s.checkNoCycle(ctx, sourceID, targetID); err != nil {
		return err
	}

	clusterIDs, err := s.families.ListClusterIDs(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, clusterID := range clusterIDs {
		if _, err := s.Attach(ctx, targetID, clusterID); err != nil {
			return err
		}
	}

	children, err := s.families.ListChildren(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.families.SetParent(ctx, child.ID, &targetID); err != nil {
			return err
		}
	}

	if err := s.families.SetParent(ctx, sourceID, &targetID); err != nil {
		return err
	}

	slog.Info("families merged", "source_id", sourceID, "target_id", targetID, "clusters_moved", len(clusterIDs))

	return nil
}

// Hierarchy returns the parent, children, and attached clusters of a family.
func (s *FamilyService) Hierarchy(ctx context.Context, familyID uuid.UUID) (*models.FamilyHierarchy, error) {
	family, err := s.families.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}

	h := &models.FamilyHierarchy{Family: *family}

	if family.ParentID != nil {
		parent, err := s.families.GetByID(ctx, *family.ParentID)
		if err != nil {
			return nil, err
		}
		h.Parent = parent
	}

	children, err := s.families.ListChildren(ctx, familyID)
	if err != nil {
		return nil, err
	}
	h.Children = children

	clusterIDs, err := s.families.ListClusterIDs(ctx, familyID)
	if err != nil {
		return nil, err
	}
	h.Clusters = make([]models.Cluster, 0, len(clusterIDs))
	for _, id := range clusterIDs {
		cluster, err := s.clusters.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		h.Clusters = append(h.Clusters, *cluster)
	}

	return h, nil
}
