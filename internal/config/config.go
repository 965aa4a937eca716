package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Port int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	Env  string `mapstructure:"env" validate:"required,oneof=dev development staging production"`
	// 为空时允许所有来源
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// Addr Redis地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// KnowledgeConfig 知识库检索引擎配置
type KnowledgeConfig struct {
	Chunk       ChunkConfig       `mapstructure:"chunk"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	Search      SearchConfig      `mapstructure:"search"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
}

type ChunkConfig struct {
	Size       int      `mapstructure:"size" validate:"gt=0"`
	Overlap    int      `mapstructure:"overlap" validate:"gte=0,ltfield=Size"`
	Separators []string `mapstructure:"separators"`
}

type DedupConfig struct {
	Provider string        `mapstructure:"provider" validate:"required,oneof=memory redis"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit" validate:"gt=0"`
	MaxLimit     int `mapstructure:"max_limit" validate:"gtefield=DefaultLimit"`
}

type VectorStoreConfig struct {
	Provider string            `mapstructure:"provider" validate:"required,oneof=redis milvus memory"`
	Warmup   bool              `mapstructure:"warmup"`
	Redis    RedisVectorConfig `mapstructure:"redis"`
	Milvus   MilvusConfig      `mapstructure:"milvus"`
}

type RedisVectorConfig struct {
	IndexName  string `mapstructure:"index_name"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	VectorSize int    `mapstructure:"vector_size"`
	Distance   string `mapstructure:"distance"`
}

type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Collection string `mapstructure:"collection"`
	Database   string `mapstructure:"database"`
	TLS        bool   `mapstructure:"tls"`
	VectorSize int    `mapstructure:"vector_size"`
	Distance   string `mapstructure:"distance"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider" validate:"required,oneof=dashscope openai"`
	Model     string `mapstructure:"model" validate:"required"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	BatchSize int    `mapstructure:"batch_size" validate:"gt=0"`
}

// StorageConfig 对象存储配置（知识训练下载文件）
type StorageConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=minio none"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ConfigLoader 配置加载器
type ConfigLoader struct {
	viper     *viper.Viper
	validator *validator.Validate
}

// NewConfigLoader 创建配置加载器
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetEnvPrefix("ECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		viper:     v,
		validator: validator.New(),
	}
}

// Load 依次应用默认值、配置文件、环境变量并校验
func (cl *ConfigLoader) Load() (*Config, error) {
	cl.setDefaults()

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		cl.viper.SetConfigFile(configFile)
		if err := cl.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if err := cl.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	var config Config
	if err := cl.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cl.validator.Struct(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	v := cl.viper

	v.SetDefault("server.name", "Frequency AI Engine")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.env", "dev")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	// 知识库配置
	v.SetDefault("knowledge.chunk.size", 500)
	v.SetDefault("knowledge.chunk.overlap", 100)
	v.SetDefault("knowledge.chunk.separators", []string{})
	v.SetDefault("knowledge.dedup.provider", "memory")
	v.SetDefault("knowledge.dedup.ttl", 7*24*time.Hour)
	v.SetDefault("knowledge.search.default_limit", 3)
	v.SetDefault("knowledge.search.max_limit", 20)

	v.SetDefault("knowledge.vector_store.provider", "redis")
	v.SetDefault("knowledge.vector_store.warmup", false)
	v.SetDefault("knowledge.vector_store.redis.index_name", "frequency_knowledge_idx")
	v.SetDefault("knowledge.vector_store.redis.key_prefix", "frequency:doc")
	v.SetDefault("knowledge.vector_store.redis.vector_size", 1536)
	v.SetDefault("knowledge.vector_store.redis.distance", "COSINE")
	v.SetDefault("knowledge.vector_store.milvus.address", "localhost:19530")
	v.SetDefault("knowledge.vector_store.milvus.username", "")
	v.SetDefault("knowledge.vector_store.milvus.password", "")
	v.SetDefault("knowledge.vector_store.milvus.collection", "echo_knowledge")
	v.SetDefault("knowledge.vector_store.milvus.database", "default")
	v.SetDefault("knowledge.vector_store.milvus.tls", false)
	v.SetDefault("knowledge.vector_store.milvus.vector_size", 1536)
	v.SetDefault("knowledge.vector_store.milvus.distance", "COSINE")

	v.SetDefault("knowledge.embedding.provider", "dashscope")
	v.SetDefault("knowledge.embedding.model", "text-embedding-v1")
	v.SetDefault("knowledge.embedding.api_key", "")
	v.SetDefault("knowledge.embedding.base_url", "")
	v.SetDefault("knowledge.embedding.batch_size", 25)

	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "pig-frequency")
	v.SetDefault("storage.region", "cn-beijing")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "echo-knowledge-events")

	v.SetDefault("metrics.enabled", true)
}

// loadFromEnv 兼容旧部署使用的环境变量名
func (cl *ConfigLoader) loadFromEnv() error {
	v := cl.viper

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		v.Set("server.port", p)
	}
	if env := os.Getenv("ENV_MODE"); env != "" {
		v.Set("server.env", env)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		v.Set("redis.host", redisHost)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		v.Set("redis.port", redisPort)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}

	// Milvus 地址可由 host/port 拆分配置
	milvusHost := os.Getenv("MILVUS_HOST")
	milvusPort := os.Getenv("MILVUS_PORT")
	if milvusHost != "" || milvusPort != "" {
		if milvusHost == "" {
			milvusHost = "localhost"
		}
		if milvusPort == "" {
			milvusPort = "19530"
		}
		v.Set("knowledge.vector_store.milvus.address", fmt.Sprintf("%s:%s", milvusHost, milvusPort))
	}

	// 向量化服务 Key
	if key := os.Getenv("DASHSCOPE_API_KEY"); key != "" {
		v.Set("knowledge.embedding.api_key", key)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("knowledge.embedding.api_key", key)
	}
	if base := os.Getenv("OPENAI_API_BASE"); base != "" {
		v.Set("knowledge.embedding.base_url", base)
	}

	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		v.Set("storage.endpoint", endpoint)
		v.Set("storage.provider", "minio")
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		v.Set("storage.access_key", accessKey)
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		v.Set("storage.secret_key", secretKey)
	}

	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		// 支持逗号分隔的broker列表
		brokers := strings.Split(kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		v.Set("kafka.brokers", brokers)
	}
	if kafkaEnabled := os.Getenv("KAFKA_ENABLED"); kafkaEnabled == "true" {
		v.Set("kafka.enabled", true)
	}

	return nil
}
