package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ollamaapi "github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/mo"

	coreask "github.com/jinford/rag-query/internal/core/ask"
	coresearch "github.com/jinford/rag-query/internal/core/search"
	coretemporal "github.com/jinford/rag-query/internal/core/temporal"
	"github.com/jinford/rag-query/internal/infra/ollama"
	"github.com/jinford/rag-query/internal/infra/openai"
	"github.com/jinford/rag-query/internal/infra/pinecone"
	"github.com/jinford/rag-query/internal/infra/postgres"
	"github.com/jinford/rag-query/internal/infra/qdrant"
	"github.com/jinford/rag-query/internal/infra/rediscache"
	"github.com/jinford/rag-query/internal/infra/tokenizer"
	"github.com/jinford/rag-query/internal/platform/metrics"
	"github.com/jinford/rag-query/pkg/config"
	"github.com/jinford/rag-query/pkg/db"
)

// ServiceContainer は質問応答に必要な依存関係を保持する。
type ServiceContainer struct {
	SearchService *coresearch.SearchService
	AskService    *coreask.AskService
	DateParser    *coretemporal.Parser
	Metrics       *metrics.Collector
	Registry      *prometheus.Registry

	logger  *slog.Logger
	closers []func()
}

type containerOptions struct {
	logger      *slog.Logger
	embedder    coresearch.Embedder
	llmClient   coreask.LLMClient
	vectorIndex coresearch.VectorIndex
	registry    *prometheus.Registry
	clock       func() time.Time
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder coresearch.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client coreask.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerVectorIndex はベクトルインデックスを差し替える
func WithContainerVectorIndex(index coresearch.VectorIndex) ContainerOption {
	return func(opts *containerOptions) {
		opts.vectorIndex = index
	}
}

// WithContainerRegistry はメトリクスの登録先を差し替える
func WithContainerRegistry(registry *prometheus.Registry) ContainerOption {
	return func(opts *containerOptions) {
		opts.registry = registry
	}
}

// WithContainerClock は日付解析に使う現在時刻関数を差し替える
func WithContainerClock(now func() time.Time) ContainerOption {
	return func(opts *containerOptions) {
		opts.clock = now
	}
}

// NewContainer は設定からコンテナを生成する。
// 失敗した場合、それまでに開いたリソースはすべて閉じる。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &ServiceContainer{logger: options.logger}

	built, err := c.build(ctx, cfg, options)
	if err != nil {
		c.Close()
		return nil, err
	}
	return built, nil
}

func (c *ServiceContainer) build(ctx context.Context, cfg *config.Config, options containerOptions) (*ServiceContainer, error) {
	logger := options.logger

	// Ollama クライアントは Embedder と LLM で共有する
	var ollamaClient *ollamaapi.Client
	ollamaAPI := func() (*ollamaapi.Client, error) {
		if ollamaClient != nil {
			return ollamaClient, nil
		}
		client, err := ollama.NewAPIClient(cfg.Ollama.Host, cfg.Ollama.Timeout)
		if err != nil {
			return nil, fmt.Errorf("Ollamaクライアント初期化に失敗しました: %w", err)
		}
		ollamaClient = client
		return client, nil
	}

	// Embedder
	embedder := options.embedder
	if embedder == nil {
		switch cfg.Providers.Embedding {
		case config.ProviderOllama:
			client, err := ollamaAPI()
			if err != nil {
				return nil, err
			}
			embedder = ollama.NewEmbedder(client, cfg.Ollama.EmbeddingModel)
		default:
			e, err := openai.NewEmbedder(
				cfg.OpenAI.APIKey,
				openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
				openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
				openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
			)
			if err != nil {
				return nil, fmt.Errorf("OpenAI Embedder初期化に失敗しました: %w", err)
			}
			embedder = e
		}
	}

	// Embedding キャッシュ
	if cfg.Cache.RedisURL != "" {
		rdb, err := rediscache.NewClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("Embeddingキャッシュ初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		})
		embedder = rediscache.NewCachedEmbedder(embedder, rdb, embeddingModelName(cfg),
			rediscache.WithTTL(cfg.Cache.TTL),
			rediscache.WithCallTimeout(embeddingTimeout(cfg)),
			rediscache.WithLogger(logger),
		)
	}

	// LLMClient
	llmClient := options.llmClient
	llmModel := cfg.OpenAI.LLMModel
	if llmClient == nil {
		switch cfg.Providers.LLM {
		case config.ProviderOllama:
			client, err := ollamaAPI()
			if err != nil {
				return nil, err
			}
			llmModel = cfg.Ollama.LLMModel
			llmClient = ollama.NewClient(client, cfg.Ollama.LLMModel, mo.Some(cfg.Ollama.Temperature))
		default:
			client, err := openai.NewClient(
				cfg.OpenAI.APIKey,
				openai.WithModel(cfg.OpenAI.LLMModel),
				openai.WithBaseURL(cfg.OpenAI.BaseURL),
				openai.WithTemperature(cfg.OpenAI.Temperature),
				openai.WithMaxTokens(cfg.OpenAI.MaxTokens),
				openai.WithTimeout(cfg.OpenAI.Timeout),
			)
			if err != nil {
				return nil, fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
			}
			llmClient = client
		}
	}

	// VectorIndex
	index := options.vectorIndex
	if index == nil {
		var err error
		index, err = c.newVectorIndex(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	// Metrics
	registry := options.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	collector := metrics.NewCollector(metrics.DefaultNamespace, registry)

	// SearchService
	searchService := coresearch.NewSearchService(index, embedder, coresearch.WithSearchLogger(logger))

	// Generator / Judge
	generatorOpts := []coreask.GeneratorOption{coreask.WithGeneratorLogger(logger)}
	if cfg.RAG.ContextTokenBudget > 0 {
		counter, err := tokenizer.NewTokenCounterForModel(llmModel)
		if err != nil {
			return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
		}
		generatorOpts = append(generatorOpts, coreask.WithContextBudget(counter, cfg.RAG.ContextTokenBudget))
	}
	generator := coreask.NewResponseGenerator(llmClient, generatorOpts...)
	judge := coreask.NewSufficiencyJudge(llmClient, coreask.WithJudgeLogger(logger))

	// Strategies
	var defaultRun coreask.Strategy
	switch cfg.RAG.Strategy {
	case config.StrategySingle:
		defaultRun = coreask.NewSinglePassStrategy(coreask.StrategySingle, searchService, generator, cfg.RAG.SingleTopK)
	default:
		defaultRun = coreask.NewHierarchicalStrategy(searchService, generator, judge, coreask.HierarchicalOptions{
			SummaryTopK:                 cfg.RAG.SummaryTopK,
			SectionTopK:                 cfg.RAG.SectionTopK,
			FallbackOnEscalationFailure: cfg.RAG.EscalationFallback,
		}, logger)
	}
	dateRun := coreask.NewSinglePassStrategy(coreask.StrategyDateFiltered, searchService, generator, cfg.RAG.DateFilteredTopK)

	// DateParser
	parserOpts := []coretemporal.ParserOption{
		coretemporal.WithRelativeRangeFirst(cfg.RAG.RelativeRangeFirst),
	}
	if options.clock != nil {
		parserOpts = append(parserOpts, coretemporal.WithClock(options.clock))
	}
	parser := coretemporal.NewParser(parserOpts...)

	// AskService
	askService := coreask.NewAskService(parser, defaultRun, dateRun,
		coreask.WithAskLogger(logger),
		coreask.WithQueryTimeout(cfg.RAG.QueryTimeout),
		coreask.WithLinkTemplate(cfg.RAG.LinkTemplate),
		coreask.WithObserver(collector),
	)

	c.SearchService = searchService
	c.AskService = askService
	c.DateParser = parser
	c.Metrics = collector
	c.Registry = registry
	return c, nil
}

// embeddingModelName はキャッシュの名前空間に使うモデル名を返す
func embeddingModelName(cfg *config.Config) string {
	if cfg.Providers.Embedding == config.ProviderOllama {
		return cfg.Ollama.EmbeddingModel
	}
	return cfg.OpenAI.EmbeddingModel
}

func embeddingTimeout(cfg *config.Config) time.Duration {
	if cfg.Providers.Embedding == config.ProviderOllama {
		return cfg.Ollama.Timeout
	}
	return cfg.OpenAI.Timeout
}

// newVectorIndex は設定に応じたベクトルインデックスを生成し、後始末を closers に登録する。
func (c *ServiceContainer) newVectorIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (coresearch.VectorIndex, error) {
	switch cfg.Providers.VectorIndex {
	case config.IndexQdrant:
		index, err := qdrant.Dial(qdrant.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
		}, qdrant.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("Qdrant初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, func() {
			if err := index.Close(); err != nil {
				logger.Warn("failed to close qdrant connection", "error", err)
			}
		})
		return index, nil

	case config.IndexPgvector:
		database, err := db.New(ctx, db.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, database.Close)

		repo, err := postgres.NewSearchRepository(database.Pool,
			postgres.WithSearchLogger(logger),
			postgres.WithTable(cfg.Database.Table),
		)
		if err != nil {
			return nil, fmt.Errorf("pgvector検索リポジトリ初期化に失敗しました: %w", err)
		}
		return repo, nil

	default:
		index, err := pinecone.NewIndex(pinecone.Config{
			APIKey:    cfg.Pinecone.APIKey,
			Index:     cfg.Pinecone.Index,
			Host:      cfg.Pinecone.Host,
			Namespace: cfg.Pinecone.Namespace,
		}, pinecone.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("Pinecone初期化に失敗しました: %w", err)
		}
		return index, nil
	}
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
