package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/observability"
	"github.com/promptlens/core/pkg/vectors"
)

// DriftClusterStore is the slice of the clusters repository the tracker needs.
type DriftClusterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
	Create(ctx context.Context, cluster *models.Cluster) (*models.Cluster, error)
	TransitionDriftState(ctx context.Context, id uuid.UUID, from, to models.DriftState) (bool, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	SetCentroid(ctx context.Context, id uuid.UUID, centroid []float32, memberCount int) error
	NearestActive(ctx context.Context, embedding []float32, k int) ([]models.ClusterCandidate, error)
	ListByDriftState(ctx context.Context, state models.DriftState, limit int) ([]models.Cluster, error)
}

// MemberStore reads cluster membership for dispersion and splits.
type MemberStore interface {
	RecentMemberEmbeddings(ctx context.Context, clusterID uuid.UUID, n int) ([][]float32, error)
	ListMemberEmbeddings(ctx context.Context, clusterID uuid.UUID) ([]models.MemberEmbedding, error)
	ListByCluster(ctx context.Context, clusterID uuid.UUID, limit int) ([]models.Prompt, error)
}

// AssignmentMover moves prompts between clusters during split/merge by
// superseding their live assignment rows.
type AssignmentMover interface {
	ReassignCluster(ctx context.Context, promptIDs []uuid.UUID, toCluster uuid.UUID, reason string) error
}

// DriftResolver is the reasoning collaborator's drift verdict call.
type DriftResolver interface {
	ResolveDrift(ctx context.Context, cluster *models.Cluster, recent []models.Prompt) (*DriftVerdict, error)
}

// TemplateExtractor derives a template from cluster members.
type TemplateExtractor interface {
	Extract(ctx context.Context, cluster *models.Cluster, members []models.Prompt) (*ExtractedTemplate, error)
}

// VersionCommitter appends a template version for a cluster.
type VersionCommitter interface {
	Commit(ctx context.Context, clusterID uuid.UUID, extracted *ExtractedTemplate, detectedBy string) (*models.TemplateVersion, error)
}

// DriftTracker runs the per-cluster evolution state machine: it computes the
// dispersion statistic on each accepted merge, flags drift, and resolves
// suspected clusters through the reasoning collaborator.
type DriftTracker struct {
	clusters    DriftClusterStore
	members     MemberStore
	assignments AssignmentMover
	events      EventStore
	resolver    DriftResolver
	extractor   TemplateExtractor
	versioning  VersionCommitter
	invalidator CacheInvalidator
	locks       *ClusterLocks

	windowSize int
	threshold  float64
	metrics    observability.PipelineMetrics
}

// NewDriftTracker creates the tracker. resolver, invalidator, and metrics
// may be nil; without a resolver suspected clusters stay suspected until a
// collaborator is configured.
func NewDriftTracker(
	clusters DriftClusterStore,
	members MemberStore,
	assignments AssignmentMover,
	events EventStore,
	resolver DriftResolver,
	extractor TemplateExtractor,
	versioning VersionCommitter,
	invalidator CacheInvalidator,
	locks *ClusterLocks,
	windowSize int,
	threshold float64,
	metrics observability.PipelineMetrics,
) *DriftTracker {
	if windowSize <= 0 {
		windowSize = 20
	}
	if threshold <= 0 {
		threshold = 0.15
	}
	if locks == nil {
		locks = NewClusterLocks()
	}

	return &DriftTracker{
		clusters:    clusters,
		members:     members,
		assignments: assignments,
		events:      events,
		resolver:    resolver,
		extractor:   extractor,
		versioning:  versioning,
		invalidator: invalidator,
		locks:       locks,
		windowSize:  windowSize,
		threshold:   threshold,
		metrics:     metrics,
	}
}

// Dispersion is the variance of centroid cosine distance over the sliding
// window of the most recent members. A tight cluster has near-zero variance;
// a cluster absorbing two intents spreads out.
func Dispersion(centroid []float32, window [][]float32) float64 {
	if len(window) == 0 {
		return 0
	}

	distances := make([]float64, len(window))
	var mean float64
	for i, emb := range window {
		distances[i] = 1 - vectors.Cosine(centroid, emb)
		mean += distances[i]
	}
	mean /= float64(len(distances))

	var variance float64
	for _, d := range distances {
		diff := d - mean
		variance += diff * diff
	}

	return variance / float64(len(distances))
}

// Evaluate recomputes the dispersion statistic after an accepted merge and
// moves Stable clusters to DriftSuspected when it crosses the threshold.
// The DRIFT_DETECTED event is emitted exactly once until the suspicion is
// resolved: the compare-and-set transition gates the emission.
func (t *DriftTracker) Evaluate(ctx context.Context, clusterID uuid.UUID) error {
	unlock := t.locks.Lock(clusterID)
	defer unlock()

	cluster, err := t.clusters.GetByID(ctx, clusterID)
	if err != nil {
		return err
	}

	if cluster.DriftState != models.DriftStable && cluster.DriftState != models.DriftResolved {
		return nil
	}

	window, err := t.members.RecentMemberEmbeddings(ctx, clusterID, t.windowSize)
	if err != nil {
		return err
	}
	if len(window) < 2 {
		return nil
	}

	dispersion := Dispersion(cluster.Centroid, window)
	if dispersion <= t.threshold {
		// A resolved cluster that has settled down returns to stable.
		if cluster.DriftState == models.DriftResolved {
			_, err := t.clusters.TransitionDriftState(ctx, clusterID, models.DriftResolved, models.DriftStable)
			return err
		}
		return nil
	}

	moved, err := t.clusters.TransitionDriftState(ctx, clusterID, cluster.DriftState, models.DriftSuspected)
	if err != nil {
		return err
	}
	if !moved {
		// Another writer already flagged this cluster; it owns the event.
		return nil
	}

	if _, err := t.events.Create(ctx, &models.EvolutionEvent{
		ClusterID:  clusterID,
		Type:       models.EventDriftDetected,
		Reason:     fmt.Sprintf("dispersion %.4f exceeded threshold %.2f over window of %d", dispersion, t.threshold, len(window)),
		DetectedBy: "drift_tracker",
	}); err != nil {
		return err
	}

	if t.metrics != nil {
		t.metrics.RecordDriftEvent(ctx, string(models.EventDriftDetected))
	}

	slog.Warn("cluster drift suspected",
		"cluster_id", clusterID,
		"dispersion", dispersion,
		"threshold", t.threshold,
	)

	return nil
}

// ResolveSuspected hands one drift-suspected cluster to the reasoning
// collaborator and applies its verdict.
func (t *DriftTracker) ResolveSuspected(ctx context.Context, clusterID uuid.UUID) error {
	if t.resolver == nil {
		return nil
	}

	unlock := t.locks.Lock(clusterID)
	defer unlock()

	cluster, err := t.clusters.GetByID(ctx, clusterID)
	if err != nil {
		return err
	}
	if cluster.DriftState != models.DriftSuspected {
		return nil
	}

	recent, err := t.members.ListByCluster(ctx, clusterID, t.windowSize)
	if err != nil {
		return err
	}

	verdict, err := t.resolver.ResolveDrift(ctx, cluster, recent)
	if err != nil {
		// Leave the cluster suspected; the next scan retries.
		slog.Warn("drift resolution failed, will retry", "cluster_id", clusterID, "error", err)
		return nil
	}

	switch verdict.Action {
	case DriftActionSplit:
		return t.split(ctx, cluster, verdict.Reasoning)
	case DriftActionMerge:
		return t.absorb(ctx, cluster, verdict.Reasoning)
	default:
		return t.resolveFalseAlarm(ctx, cluster, verdict.Reasoning)
	}
}

func (t *DriftTracker) resolveFalseAlarm(ctx context.Context, cluster *models.Cluster, reasoning string) error {
	moved, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftSuspected, models.DriftResolved)
	if err != nil || !moved {
		return err
	}

	slog.Info("drift suspicion resolved as false alarm", "cluster_id", cluster.ID, "reasoning", reasoning)

	return nil
}

// split partitions the cluster's members into two centroids: the original
// cluster keeps one half, a new cluster takes the other, and both are
// re-canonicalized independently.
func (t *DriftTracker) split(ctx context.Context, cluster *models.Cluster, reasoning string) error {
	if _, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftSuspected, models.DriftSplitPending); err != nil {
		return err
	}

	members, err := t.members.ListMemberEmbeddings(ctx, cluster.ID)
	if err != nil {
		return err
	}

	keep, move := partitionMembers(members)
	if len(keep) == 0 || len(move) == 0 {
		// Partitioning found no separation; treat as a false alarm.
		_, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftSplitPending, models.DriftResolved)
		return err
	}

	newCluster, err := t.clusters.Create(ctx, &models.Cluster{
		Name:           cluster.Name + " (split)",
		Centroid:       meanOf(move),
		MemberCount:    len(move),
		MergeThreshold: cluster.MergeThreshold,
		DriftState:     models.DriftStable,
	})
	if err != nil {
		return err
	}

	moveIDs := make([]uuid.UUID, len(move))
	for i, m := range move {
		moveIDs[i] = m.PromptID
	}
	reassignReason := fmt.Sprintf("moved by drift split from cluster %s", cluster.ID)
	if err := t.assignments.ReassignCluster(ctx, moveIDs, newCluster.ID, reassignReason); err != nil {
		return err
	}

	if err := t.clusters.SetCentroid(ctx, cluster.ID, meanOf(keep), len(keep)); err != nil {
		return err
	}

	if _, err := t.events.Create(ctx, &models.EvolutionEvent{
		ClusterID:  cluster.ID,
		Type:       models.EventSplit,
		Reason:     fmt.Sprintf("split into %s (%d members kept, %d moved): %s", newCluster.ID, len(keep), len(move), reasoning),
		DetectedBy: "reasoning_collaborator",
	}); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.RecordDriftEvent(ctx, string(models.EventSplit))
	}

	if t.invalidator != nil {
		t.invalidator.InvalidateCache()
	}

	// Both halves get fresh templates; failures are logged, not fatal, since
	// the split itself already committed.
	t.recanonicalize(ctx, cluster.ID, "drift_split")
	t.recanonicalize(ctx, newCluster.ID, "drift_split")

	if _, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftSplitPending, models.DriftStable); err != nil {
		return err
	}

	slog.Info("cluster split",
		"cluster_id", cluster.ID,
		"new_cluster_id", newCluster.ID,
		"kept", len(keep),
		"moved", len(move),
	)

	return nil
}

// absorb merges the drifted cluster into its nearest active sibling, marks
// it inactive, and reconciles the survivor's template.
func (t *DriftTracker) absorb(ctx context.Context, cluster *models.Cluster, reasoning string) error {
	candidates, err := t.clusters.NearestActive(ctx, cluster.Centroid, 2)
	if err != nil {
		return err
	}

	var sibling *models.ClusterCandidate
	for i := range candidates {
		if candidates[i].ClusterID != cluster.ID {
			sibling = &candidates[i]
			break
		}
	}
	if sibling == nil {
		// No sibling to merge into; false alarm.
		_, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftSuspected, models.DriftResolved)
		return err
	}

	if _, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftSuspected, models.DriftMergePending); err != nil {
		return err
	}

	survivor, err := t.clusters.GetByID(ctx, sibling.ClusterID)
	if err != nil {
		return err
	}

	members, err := t.members.ListMemberEmbeddings(ctx, cluster.ID)
	if err != nil {
		return err
	}

	moveIDs := make([]uuid.UUID, len(members))
	for i, m := range members {
		moveIDs[i] = m.PromptID
	}
	reassignReason := fmt.Sprintf("absorbed by drift merge from cluster %s", cluster.ID)
	if err := t.assignments.ReassignCluster(ctx, moveIDs, survivor.ID, reassignReason); err != nil {
		return err
	}

	merged := vectors.WeightedMean(survivor.Centroid, survivor.MemberCount, cluster.Centroid, cluster.MemberCount)
	if err := t.clusters.SetCentroid(ctx, survivor.ID, merged, survivor.MemberCount+cluster.MemberCount); err != nil {
		return err
	}

	if err := t.clusters.Deactivate(ctx, cluster.ID); err != nil {
		return err
	}

	if _, err := t.events.Create(ctx, &models.EvolutionEvent{
		ClusterID:  survivor.ID,
		Type:       models.EventMerge,
		Reason:     fmt.Sprintf("absorbed cluster %s (%d members): %s", cluster.ID, cluster.MemberCount, reasoning),
		DetectedBy: "reasoning_collaborator",
	}); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.RecordDriftEvent(ctx, string(models.EventMerge))
	}

	if t.invalidator != nil {
		t.invalidator.InvalidateCache()
	}

	t.recanonicalize(ctx, survivor.ID, "drift_merge")

	if _, err := t.clusters.TransitionDriftState(ctx, cluster.ID, models.DriftMergePending, models.DriftStable); err != nil {
		return err
	}

	slog.Info("cluster absorbed by sibling",
		"cluster_id", cluster.ID,
		"survivor_id", survivor.ID,
	)

	return nil
}

func (t *DriftTracker) recanonicalize(ctx context.Context, clusterID uuid.UUID, detectedBy string) {
	if t.extractor == nil || t.versioning == nil {
		return
	}

	cluster, err := t.clusters.GetByID(ctx, clusterID)
	if err != nil {
		slog.Error("recanonicalization read failed", "cluster_id", clusterID, "error", err)
		return
	}

	members, err := t.members.ListByCluster(ctx, clusterID, 0)
	if err != nil {
		slog.Error("recanonicalization member read failed", "cluster_id", clusterID, "error", err)
		return
	}
	if len(members) == 0 {
		return
	}

	extracted, err := t.extractor.Extract(ctx, cluster, members)
	if err != nil {
		slog.Error("recanonicalization extraction failed", "cluster_id", clusterID, "error", err)
		return
	}

	if _, err := t.versioning.Commit(ctx, clusterID, extracted, detectedBy); err != nil {
		slog.Error("recanonicalization commit failed", "cluster_id", clusterID, "error", err)
	}
}

// ScanOnce resolves up to limit drift-suspected clusters. The drift scan
// worker calls this periodically.
func (t *DriftTracker) ScanOnce(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 10
	}

	suspected, err := t.clusters.ListByDriftState(ctx, models.DriftSuspected, limit)
	if err != nil {
		return err
	}

	for _, cluster := range suspected {
		if err := t.ResolveSuspected(ctx, cluster.ID); err != nil {
			slog.Error("drift resolution error", "cluster_id", cluster.ID, "error", err)
		}
	}

	return nil
}

// partitionMembers seeds two groups from the farthest-apart pair of members
// and assigns every member to the nearer seed.
func partitionMembers(members []models.MemberEmbedding) (keep, move []models.MemberEmbedding) {
	if len(members) < 2 {
		return members, nil
	}

	// Farthest pair over the window; quadratic but the window is small.
	var seedA, seedB int
	minSim := 2.0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sim := vectors.Cosine(members[i].Embedding, members[j].Embedding)
			if sim < minSim {
				minSim = sim
				seedA, seedB = i, j
			}
		}
	}

	for i, m := range members {
		simA := vectors.Cosine(m.Embedding, members[seedA].Embedding)
		simB := vectors.Cosine(m.Embedding, members[seedB].Embedding)
		if simB > simA && i != seedA {
			move = append(move, m)
		} else {
			keep = append(keep, m)
		}
	}

	return keep, move
}

func meanOf(members []models.MemberEmbedding) []float32 {
	vecs := make([][]float32, len(members))
	for i, m := range members {
		vecs[i] = m.Embedding
	}
	return vectors.Mean(vecs)
}
