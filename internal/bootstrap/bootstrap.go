package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkropachev/ragpipe/internal/config"
	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/core/usecase"
	"github.com/mkropachev/ragpipe/internal/infrastructure/cache/redis"
	"github.com/mkropachev/ragpipe/internal/infrastructure/extractor"
	"github.com/mkropachev/ragpipe/internal/infrastructure/llm/ollama"
	"github.com/mkropachev/ragpipe/internal/infrastructure/llm/openaicompat"
	"github.com/mkropachev/ragpipe/internal/infrastructure/notify"
	"github.com/mkropachev/ragpipe/internal/infrastructure/queue/nats"
	"github.com/mkropachev/ragpipe/internal/infrastructure/repository/postgres"
	"github.com/mkropachev/ragpipe/internal/infrastructure/resilience"
	"github.com/mkropachev/ragpipe/internal/infrastructure/secrets"
	"github.com/mkropachev/ragpipe/internal/infrastructure/storage/localfs"
	"github.com/mkropachev/ragpipe/internal/infrastructure/vector/qdrant"
	"github.com/mkropachev/ragpipe/internal/observability/metrics"
	"github.com/mkropachev/ragpipe/internal/pipeline"
	"github.com/mkropachev/ragpipe/internal/strategy"
)

// App wires the full dependency graph once; the api and worker binaries pick
// the pieces they serve.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Configs   *usecase.ConfigService
	Ingest    *usecase.IngestUseCase
	Query     *usecase.QueryUseCase
	Status    *usecase.TaskStatusUseCase
	Documents ports.DocumentRepository

	Pipeline        *pipeline.Pipeline
	PipelineMetrics *metrics.PipelineMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, service string) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	taskRepo := postgres.NewTaskRepository(db)
	configRepo := postgres.NewConfigRepository(db)
	docRepo := postgres.NewDocumentRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init queue transport: %w", err)
	}

	index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	creds := secrets.NewEnvStore()

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaRPS)
	factory := buildFactory(cfg, creds, index, ollamaClient)

	redisClient := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	embedCache := redis.NewEmbeddingCache(redisClient, cfg.EmbeddingCacheTTL)

	pinger := &providerPinger{ollama: ollamaClient, openAIBaseURL: cfg.OpenAIBaseURL}
	validator := usecase.NewConfigValidator(creds, pinger, configRepo, factory.RerankerIDs(),
		usecase.ConfigValidatorOptions{PingCacheTTL: cfg.ValidationPingCache})
	configService := usecase.NewConfigService(validator, configRepo)

	docs := extractor.NewDispatcher(storage)
	processor := usecase.NewProcessTaskUseCase(taskRepo, docRepo, docs, index, factory, embedCache, logger)
	ingest := usecase.NewIngestUseCase(configRepo, docRepo, taskRepo, storage, queue, logger)
	query := usecase.NewQueryUseCase(configRepo, docRepo, factory, logger)
	status := usecase.NewTaskStatusUseCase(taskRepo)

	pipelineMetrics := metrics.NewPipelineMetrics(service)
	notifier := notify.NewLogNotifier(logger)
	worker := pipeline.New(queue, taskRepo, processor, notifier, pipelineMetrics, logger, pipeline.Config{
		Workers:     cfg.PipelineWorkers,
		TaskTimeout: cfg.TaskTimeout,
		Backoff:     pipeline.Backoff{Base: cfg.RetryBackoffBase, Max: cfg.RetryBackoffMax},
		Service:     service,
	})

	return &App{
		Config: cfg,
		Logger: logger,

		Configs:   configService,
		Ingest:    ingest,
		Query:     query,
		Status:    status,
		Documents: docRepo,

		Pipeline:        worker,
		PipelineMetrics: pipelineMetrics,

		closeFn: func() {
			queue.Close()
			_ = redisClient.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// buildFactory registers every provider the config schema can name. Unknown
// providers stay unregistered and resolve to ErrConfigNotResolvable.
func buildFactory(cfg config.Config, creds ports.CredentialStore, index ports.ChunkIndex, ollamaClient *ollama.Client) *strategy.Factory {
	factory := strategy.NewFactory(creds, index)

	factory.RegisterEmbedderProvider("ollama", func(_ context.Context, spec domain.EmbeddingSpec, _ string) (ports.Embedder, error) {
		return ollama.NewEmbedder(ollamaClient, spec.ModelID), nil
	})
	factory.RegisterGeneratorProvider("ollama", func(_ context.Context, spec domain.GenerationSpec, _ string) (ports.Generator, error) {
		return ollama.NewGenerator(ollamaClient, spec), nil
	})

	factory.RegisterEmbedderProvider("openai", func(_ context.Context, spec domain.EmbeddingSpec, credential string) (ports.Embedder, error) {
		return openaicompat.NewEmbedder(openaicompat.New(cfg.OpenAIBaseURL, credential, 0), spec.ModelID), nil
	})
	factory.RegisterGeneratorProvider("openai", func(_ context.Context, spec domain.GenerationSpec, credential string) (ports.Generator, error) {
		return openaicompat.NewGenerator(openaicompat.New(cfg.OpenAIBaseURL, credential, 0), spec), nil
	})

	if cfg.OpenAIRerankerID != "" {
		factory.RegisterReranker(cfg.OpenAIRerankerID, func(ctx context.Context) (ports.Reranker, error) {
			key, err := creds.Resolve(ctx, "env:OPENAI_API_KEY")
			if err != nil {
				return nil, err
			}
			return openaicompat.NewReranker(openaicompat.New(cfg.OpenAIBaseURL, key, 0), cfg.OpenAIRerankerID), nil
		})
	}
	return factory
}

// providerPinger routes validation probes to the right backend.
type providerPinger struct {
	ollama        *ollama.Client
	openAIBaseURL string
}

func (p *providerPinger) Ping(ctx context.Context, provider, credential string) error {
	if provider == "ollama" {
		return p.ollama.Ping(ctx, provider, credential)
	}
	return openaicompat.New(p.openAIBaseURL, credential, 0).Ping(ctx, provider, credential)
}
