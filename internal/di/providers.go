package di

import (
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/config"
	"github.com/eatchicken1/frequency-ai-engine/internal/dashscope"
	"github.com/eatchicken1/frequency-ai-engine/internal/database"
	"github.com/eatchicken1/frequency-ai-engine/internal/kafka"
	"github.com/eatchicken1/frequency-ai-engine/internal/knowledge"
	"github.com/eatchicken1/frequency-ai-engine/internal/storage"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config, logger *zap.Logger) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return logger },
		newRedisProvider,
		provideEmbedder,
		provideVectorStore,
		provideLedger,
		providePublisher,
		provideFetcher,
		provideEngine,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// RedisProvider 首次使用时才创建Redis客户端
type RedisProvider struct {
	once   sync.Once
	cfg    config.RedisConfig
	logger *zap.Logger
	client *redis.Client
}

func newRedisProvider(cfg *config.Config, logger *zap.Logger) *RedisProvider {
	return &RedisProvider{cfg: cfg.Redis, logger: logger.Named("redis")}
}

// NewRedisProviderWithClient 使用已有客户端
func NewRedisProviderWithClient(client *redis.Client) *RedisProvider {
	p := &RedisProvider{client: client}
	p.once.Do(func() {})
	return p
}

// Client 返回共享的Redis客户端
func (p *RedisProvider) Client() *redis.Client {
	p.once.Do(func() {
		p.client = database.NewRedisClient(p.cfg, p.logger)
	})
	return p.client
}

// Created 客户端是否已创建
func (p *RedisProvider) Created() bool {
	return p.client != nil
}

func provideEmbedder(cfg *config.Config, logger *zap.Logger) knowledge.Embedder {
	ec := cfg.Knowledge.Embedding
	switch strings.ToLower(ec.Provider) {
	case "openai":
		return knowledge.NewOpenAIEmbedder(ec.APIKey, ec.BaseURL, ec.Model, ec.BatchSize)
	default:
		opts := []dashscope.Option{dashscope.WithLogger(logger.Named("dashscope"))}
		// OpenAI兼容地址不能用于原生接口
		if ec.BaseURL != "" && !strings.Contains(ec.BaseURL, "compatible-mode") {
			opts = append(opts, dashscope.WithBaseURL(ec.BaseURL))
		}
		return knowledge.NewDashScopeEmbedder(dashscope.NewService(ec.APIKey, opts...), ec.Model, ec.BatchSize)
	}
}

func provideVectorStore(cfg *config.Config, embedder knowledge.Embedder, rp *RedisProvider, logger *zap.Logger) (knowledge.VectorStore, error) {
	vc := cfg.Knowledge.VectorStore
	switch strings.ToLower(vc.Provider) {
	case "redis":
		return knowledge.NewRedisVectorStore(rp.Client(), embedder, knowledge.RedisVectorOptions{
			IndexName:  vc.Redis.IndexName,
			KeyPrefix:  vc.Redis.KeyPrefix,
			VectorSize: vc.Redis.VectorSize,
			Distance:   vc.Redis.Distance,
		}, logger.Named("redis_vector")), nil
	case "milvus":
		return knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:    vc.Milvus.Address,
			Username:   vc.Milvus.Username,
			Password:   vc.Milvus.Password,
			Collection: vc.Milvus.Collection,
			Database:   vc.Milvus.Database,
			UseTLS:     vc.Milvus.TLS,
			VectorSize: vc.Milvus.VectorSize,
			Distance:   vc.Milvus.Distance,
		}, embedder, logger.Named("milvus")), nil
	case "memory":
		return knowledge.NewMemoryVectorStore(embedder), nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", vc.Provider)
	}
}

func provideLedger(cfg *config.Config, rp *RedisProvider) (knowledge.DedupLedger, error) {
	dc := cfg.Knowledge.Dedup
	switch strings.ToLower(dc.Provider) {
	case "redis":
		return knowledge.NewRedisLedger(rp.Client(), dc.TTL), nil
	case "memory", "":
		return knowledge.NewMemoryLedger(dc.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported dedup provider: %s", dc.Provider)
	}
}

// providePublisher Kafka不可用时降级为空实现，事件不影响主流程
func providePublisher(cfg *config.Config, logger *zap.Logger) knowledge.EventPublisher {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return knowledge.NoopPublisher{}
	}
	publisher, err := kafka.NewEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
	if err != nil {
		logger.Warn("Kafka不可用，知识事件不会发布", zap.Error(err))
		return knowledge.NoopPublisher{}
	}
	return publisher
}

// provideFetcher 未配置对象存储时返回nil，训练接口会报告对象存储错误
func provideFetcher(cfg *config.Config, logger *zap.Logger) (knowledge.ObjectFetcher, error) {
	sc := cfg.Storage
	if sc.Provider != "minio" {
		return nil, nil
	}
	fetcher, err := storage.NewMinIOFetcher(storage.MinIOConfig{
		Endpoint:  sc.Endpoint,
		AccessKey: sc.AccessKey,
		SecretKey: sc.SecretKey,
		Bucket:    sc.Bucket,
		Region:    sc.Region,
		UseSSL:    sc.UseSSL,
	}, logger.Named("storage"))
	if err != nil {
		return nil, err
	}
	return fetcher, nil
}

type engineParams struct {
	dig.In

	Config    *config.Config
	Logger    *zap.Logger
	Store     knowledge.VectorStore
	Embedder  knowledge.Embedder
	Ledger    knowledge.DedupLedger
	Publisher knowledge.EventPublisher
	Fetcher   knowledge.ObjectFetcher
}

func provideEngine(p engineParams) *knowledge.Engine {
	kc := p.Config.Knowledge
	return knowledge.NewEngine(knowledge.EngineOptions{
		Store:        p.Store,
		Embedder:     p.Embedder,
		Ledger:       p.Ledger,
		Chunker:      knowledge.NewChunker(kc.Chunk.Size, kc.Chunk.Overlap, kc.Chunk.Separators),
		Publisher:    p.Publisher,
		Fetcher:      p.Fetcher,
		Parsers:      knowledge.NewFileParserManager(),
		DefaultLimit: kc.Search.DefaultLimit,
		MaxLimit:     kc.Search.MaxLimit,
		Logger:       p.Logger.Named("knowledge"),
	})
}
