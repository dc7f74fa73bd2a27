package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	openaisdk "github.com/openai/openai-go/v3"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/promptlens/core/internal/api/handlers"
	"github.com/promptlens/core/internal/api/middleware"
	"github.com/promptlens/core/internal/config"
	"github.com/promptlens/core/internal/embeddings"
	"github.com/promptlens/core/internal/llm"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/observability"
	"github.com/promptlens/core/internal/repository"
	"github.com/promptlens/core/internal/service"
	"github.com/promptlens/core/internal/worker"
	"github.com/promptlens/core/internal/workers"
	"github.com/promptlens/core/pkg/cache"
	"github.com/promptlens/core/pkg/moderation"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg           *config.Config
	db            *pgxpool.Pool
	server        *http.Server
	river         *river.Client[pgx.Tx]
	driftWorker   *worker.DriftScanWorker
	meterProvider observability.MeterProviderShutdown
}

const driftScanBatchSize = 10

// NewApp builds and wires all components. It does not start the HTTP server,
// River, or the drift scan worker; call Run to start and block until shutdown
// or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	meterProvider, metricsHandler, metrics, err := observability.NewMeterProvider(ctx, observability.MeterProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("create meter provider: %w", err)
	}

	promptsRepo := repository.NewPromptsRepository(db)
	clustersRepo := repository.NewClustersRepository(db)
	assignmentsRepo := repository.NewAssignmentsRepository(db)
	templatesRepo := repository.NewTemplatesRepository(db)
	eventsRepo := repository.NewEventsRepository(db)
	familiesRepo := repository.NewFamiliesRepository(db)

	// Shared per-cluster locks: centroid updates from the assignment engine
	// and state transitions from the drift tracker serialize on the same lock.
	locks := service.NewClusterLocks()

	var candidateCache *service.CandidateCache
	if cfg.SimilarityCacheSize > 0 {
		candidateCache, err = cache.NewLoaderCache[string, []models.ClusterCandidate](
			cfg.SimilarityCacheSize,
			func(hash string) string { return hash },
		)
		if err != nil {
			return nil, fmt.Errorf("create candidate cache: %w", err)
		}
	}

	retriever := service.NewRetrieverService(clustersRepo, candidateCache, cfg.RetrievalK, cfg.ProviderRetryAttempts, metrics)

	var embedder embeddings.Client
	var resolver service.EscalationResolver
	var driftResolver service.DriftResolver
	var extractor service.TemplateExtractor

	if cfg.OpenAIAPIKey != "" {
		embedder = embeddings.NewOpenAIClient(cfg.OpenAIAPIKey,
			embeddings.WithDimensions(cfg.EmbeddingDimensions),
			embeddings.WithModel(openaisdk.EmbeddingModel(cfg.EmbeddingModel)),
		)

		llmClient := llm.NewResilientClient(
			llm.NewOpenAIClient(cfg.OpenAIAPIKey),
			llm.WithRateLimit(cfg.LLMRateLimit),
			llm.WithRetryAttempts(cfg.ProviderRetryAttempts),
		)
		router := llm.NewRouter(cfg.GeneralModel, cfg.CodeModel)

		extractor = service.NewExtractorService(llmClient, router, metrics)

		collaborator := service.NewReasoningCollaborator(llmClient, cfg.ReasoningModel, cfg.ReasoningTimeout)
		resolver = collaborator
		driftResolver = collaborator

		slog.Info("OpenAI collaborators enabled",
			"embedding_model", cfg.EmbeddingModel,
			"general_model", cfg.GeneralModel,
			"code_model", cfg.CodeModel,
			"reasoning_model", cfg.ReasoningModel,
		)
	} else {
		// Deterministic local embeddings keep the pipeline usable without an
		// API key; escalation and extraction degrade to their fallbacks.
		embedder = embeddings.NewMockClient(cfg.EmbeddingDimensions)
		slog.Warn("OPENAI_API_KEY not set; using deterministic local embeddings, no reasoning collaborator")
	}

	engine := service.NewAssignmentEngine(
		clustersRepo, assignmentsRepo, resolver, retriever, locks,
		cfg.MergeThreshold, cfg.EscalationFloor, metrics,
	)

	versioning := service.NewVersioningService(templatesRepo, clustersRepo, eventsRepo, cfg.CommitRetryAttempts, metrics)

	driftTracker := service.NewDriftTracker(
		clustersRepo, promptsRepo, assignmentsRepo, eventsRepo,
		driftResolver, extractor, versioning, retriever, locks,
		cfg.DriftWindowSize, cfg.DriftDispersionThreshold, metrics,
	)

	var moderator service.ModerationChecker
	if cfg.ModerationBaseURL != "" {
		moderator = moderation.NewClient(cfg.ModerationBaseURL)
		slog.Info("moderation enabled", "base_url", cfg.ModerationBaseURL)
	}

	pipeline := service.NewPipelineService(
		promptsRepo, embedder, moderator, retriever, engine,
		extractor, versioning, versioning, driftTracker,
		cfg.EmbeddingModel,
	)

	families := service.NewFamilyService(familiesRepo, clustersRepo)

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewPromptIngestWorker(pipeline))

	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			service.IngestQueueName: {MaxWorkers: cfg.IngestWorkers},
		},
		Workers:     riverWorkers,
		MaxAttempts: cfg.IngestMaxAttempts,
	})
	if err != nil {
		if err2 := meterProvider.Shutdown(context.Background()); err2 != nil {
			slog.Error("shutdown meter provider after River client error", "error", err2)
		}

		return nil, fmt.Errorf("create River client: %w", err)
	}

	enqueuer := service.NewIngestEnqueuer(riverClient, cfg.IngestMaxAttempts)

	server := newHTTPServer(cfg, metrics, metricsHandler,
		handlers.NewHealthHandler(),
		handlers.NewPromptsHandler(enqueuer, pipeline),
		handlers.NewClustersHandler(clustersRepo, assignmentsRepo, versioning),
		handlers.NewEventsHandler(eventsRepo),
		handlers.NewFamiliesHandler(families),
	)

	return &App{
		cfg:           cfg,
		db:            db,
		server:        server,
		river:         riverClient,
		driftWorker:   worker.NewDriftScanWorker(driftTracker, cfg.DriftScanInterval, driftScanBatchSize),
		meterProvider: meterProvider,
	}, nil
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health and
// /metrics, API key on /v1/).
func newHTTPServer(
	cfg *config.Config,
	metrics observability.PipelineMetrics,
	metricsHandler http.Handler,
	health *handlers.HealthHandler,
	prompts *handlers.PromptsHandler,
	clusters *handlers.ClustersHandler,
	events *handlers.EventsHandler,
	families *handlers.FamiliesHandler,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", health.Check)
	public.Handle("GET /metrics", metricsHandler)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/prompts", prompts.Submit)
	protected.HandleFunc("GET /v1/prompts/{hash}/assignment", prompts.GetAssignment)

	protected.HandleFunc("GET /v1/clusters", clusters.List)
	protected.HandleFunc("GET /v1/clusters/{id}", clusters.Get)
	protected.HandleFunc("GET /v1/clusters/{id}/template", clusters.GetTemplate)
	protected.HandleFunc("GET /v1/clusters/{id}/versions", clusters.ListVersions)
	protected.HandleFunc("GET /v1/clusters/{id}/assignments", clusters.ListAssignments)

	protected.HandleFunc("GET /v1/evolution/events", events.List)

	protected.HandleFunc("POST /v1/families", families.Create)
	protected.HandleFunc("GET /v1/families/{id}", families.Get)
	protected.HandleFunc("POST /v1/families/{id}/attach", families.Attach)
	protected.HandleFunc("POST /v1/families/{id}/merge", families.Merge)
	protected.HandleFunc("PATCH /v1/families/{id}/parent", families.SetParent)

	protectedWithAuth := middleware.Auth(cfg.APIKey)(protected)
	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedWithAuth)
	mux.Handle("/", public)

	// Metrics wraps everything so durations cover the full request; RequestID
	// runs first so every log line carries the id.
	var handler http.Handler = middleware.MaxBody(cfg.MaxRequestBodyBytes)(mux)
	handler = middleware.Metrics(metrics)(handler)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 15 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts River, the drift scan worker, and the HTTP server, then blocks
// until ctx is cancelled (e.g. signal) or a component fails. Caller should
// then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	go func() {
		if err := a.river.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case runErr <- fmt.Errorf("river: %w", err):
			default:
			}
		}
	}()

	go a.driftWorker.Start(workerCtx)

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelWorkers()

		return err
	case <-ctx.Done():
		cancelWorkers()

		return nil
	}
}

// Shutdown stops the server and River in order, then the meter provider.
// Call after Run returns.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		if a.meterProvider != nil {
			if mpErr := a.meterProvider.Shutdown(ctx); mpErr != nil {
				if err == nil {
					err = mpErr
				} else {
					slog.Error("shutdown meter provider", "error", mpErr)
				}
			}
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			slog.Error("river stop during server shutdown", "error", stopErr)
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	if err = a.river.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}
