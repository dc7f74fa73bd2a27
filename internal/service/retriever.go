package service

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/observability"
	"github.com/promptlens/core/pkg/cache"
)

// ClusterSearcher is the slice of the clusters repository the retriever needs.
type ClusterSearcher interface {
	NearestActive(ctx context.Context, embedding []float32, k int) ([]models.ClusterCandidate, error)
}

// CandidateCache caches candidate lists keyed by prompt content hash. Any
// cluster mutation invalidates the whole cache; scores reference centroids
// and a moved centroid silently staling one entry is worse than a refill.
type CandidateCache = cache.LoaderCache[string, []models.ClusterCandidate]

// RetrieverService answers nearest-cluster queries. Index failures are
// retried with backoff and then surfaced as RetrievalUnavailableError, never
// as a silent empty result: an empty candidate list means "no clusters
// exist", which would wrongly route the prompt to a fresh cluster.
type RetrieverService struct {
	searcher ClusterSearcher
	cache    *CandidateCache // nil disables caching
	k        int
	attempts uint
	metrics  observability.PipelineMetrics
}

// NewRetrieverService creates a retriever. cache and metrics may be nil.
func NewRetrieverService(searcher ClusterSearcher, candidateCache *CandidateCache, k, attempts int, metrics observability.PipelineMetrics) *RetrieverService {
	if k <= 0 {
		k = 5
	}
	if attempts <= 0 {
		attempts = 3
	}

	return &RetrieverService{
		searcher: searcher,
		cache:    candidateCache,
		k:        k,
		attempts: uint(attempts),
		metrics:  metrics,
	}
}

// Retrieve returns up to k candidates ordered by similarity descending, ties
// broken by cluster recency. contentHash keys the read-through cache.
func (s *RetrieverService) Retrieve(ctx context.Context, contentHash string, embedding []float32) ([]models.ClusterCandidate, error) {
	load := func(ctx context.Context, _ string) ([]models.ClusterCandidate, error) {
		return s.search(ctx, embedding)
	}

	if s.cache == nil {
		return s.search(ctx, embedding)
	}

	candidates, hit, err := s.cache.Get(ctx, contentHash, load)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, hit)
	}

	return candidates, nil
}

func (s *RetrieverService) search(ctx context.Context, embedding []float32) ([]models.ClusterCandidate, error) {
	var candidates []models.ClusterCandidate

	err := retry.Do(
		func() error {
			var searchErr error
			candidates, searchErr = s.searcher.NearestActive(ctx, embedding, s.k)
			return searchErr
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, apperrors.NewRetrievalUnavailableError(err)
	}

	return candidates, nil
}

// InvalidateCache drops all cached candidate lists. Called after any cluster
// mutation (merge, create, split, deactivate).
func (s *RetrieverService) InvalidateCache() {
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}
