// backfill-embeddings re-embeds prompts whose stored embedding was produced by
// a model other than the configured EMBEDDING_MODEL, then recomputes every
// active cluster centroid from its members' current embeddings. Run it once
// after changing the embedding model; the API can stay up while it runs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	openaisdk "github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"github.com/promptlens/core/internal/config"
	"github.com/promptlens/core/internal/embeddings"
	"github.com/promptlens/core/internal/repository"
	"github.com/promptlens/core/pkg/database"
	"github.com/promptlens/core/pkg/vectors"
)

const reembedBatchSize = 64

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required to re-embed prompts")
		os.Exit(1)
	}

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithVectorTypes())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	prompts := repository.NewPromptsRepository(db)
	clusters := repository.NewClustersRepository(db)

	embedder := embeddings.NewOpenAIClient(cfg.OpenAIAPIKey,
		embeddings.WithDimensions(cfg.EmbeddingDimensions),
		embeddings.WithModel(openaisdk.EmbeddingModel(cfg.EmbeddingModel)),
	)
	limiter := rate.NewLimiter(rate.Limit(cfg.LLMRateLimit), 1)

	updated, err := reembedStale(ctx, prompts, embedder, limiter, cfg.EmbeddingModel)
	if err != nil {
		slog.Error("Re-embedding failed", "updated", updated, "error", err)
		os.Exit(1)
	}
	slog.Info("Re-embedding complete", "updated", updated)

	if updated == 0 {
		return
	}

	refreshed, err := refreshCentroids(ctx, clusters, prompts)
	if err != nil {
		slog.Error("Centroid refresh failed", "refreshed", refreshed, "error", err)
		os.Exit(1)
	}
	slog.Info("Centroid refresh complete", "clusters", refreshed)
}

// reembedStale walks prompts with stale embeddings in batches until none
// remain, returning how many rows were updated.
func reembedStale(
	ctx context.Context,
	prompts *repository.PromptsRepository,
	embedder embeddings.Client,
	limiter *rate.Limiter,
	model string,
) (int, error) {
	updated := 0
	for {
		batch, err := prompts.ListStaleEmbeddings(ctx, model, reembedBatchSize)
		if err != nil {
			return updated, err
		}
		if len(batch) == 0 {
			return updated, nil
		}

		if err := limiter.Wait(ctx); err != nil {
			return updated, err
		}

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
		}

		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return updated, err
		}

		for i, p := range batch {
			if err := prompts.UpdateEmbedding(ctx, p.ID, vecs[i], model); err != nil {
				return updated, err
			}
			updated++
		}

		slog.Info("Re-embedded batch", "size", len(batch), "total", updated)
	}
}

// refreshCentroids recomputes each active cluster's centroid as the mean of
// its members' current embeddings. Empty clusters are left untouched.
func refreshCentroids(
	ctx context.Context,
	clusters *repository.ClustersRepository,
	prompts *repository.PromptsRepository,
) (int, error) {
	refreshed := 0
	offset := 0
	for {
		page, err := clusters.List(ctx, reembedBatchSize, offset)
		if err != nil {
			return refreshed, err
		}
		if len(page) == 0 {
			return refreshed, nil
		}
		offset += len(page)

		for _, cluster := range page {
			if !cluster.IsActive {
				continue
			}

			members, err := prompts.ListMemberEmbeddings(ctx, cluster.ID)
			if err != nil {
				return refreshed, err
			}
			if len(members) == 0 {
				continue
			}

			embs := make([][]float32, len(members))
			for i, m := range members {
				embs[i] = m.Embedding
			}

			if err := clusters.SetCentroid(ctx, cluster.ID, vectors.Mean(embs), len(members)); err != nil {
				return refreshed, err
			}
			refreshed++
		}
	}
}
