// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf 是进程级配置，由 Init 填充，仅供 main 使用；组件通过构造函数接收各自的配置段。
var Conf Config

// Config 与 configs/config.yaml 的结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	RAG           RAGConfig           `mapstructure:"rag"`
	VectorIndex   VectorIndexConfig   `mapstructure:"vector_index"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// MaxUploadMB 限制单个上传文件的大小。
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 取值 mysql 或 sqlite。
	Driver   string         `mapstructure:"driver"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不启用入库租约。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig 仅在 vector_index.type=pgvector 时使用。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// JWTConfig 存储 JWT 校验相关的配置。令牌由外部认证服务签发。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RAGConfig 汇总检索增强流程中的可调阈值。
type RAGConfig struct {
	TopK               int     `mapstructure:"top_k"`
	MinScore           float64 `mapstructure:"min_score"`
	MaxContextChars    int     `mapstructure:"max_context_chars"`
	MetadataMaxBytes   int     `mapstructure:"metadata_max_bytes"`
	UpsertBatchSize    int     `mapstructure:"upsert_batch_size"`
	ChunkSize          int     `mapstructure:"chunk_size"`
	ChunkOverlap       int     `mapstructure:"chunk_overlap"`
	EmbedConcurrency   int     `mapstructure:"embed_concurrency"`
	IngestLeaseSeconds int     `mapstructure:"ingest_lease_seconds"`
}

// DefaultRAG 返回默认阈值，与 setDefaults 中的取值一致。
func DefaultRAG() RAGConfig {
	return RAGConfig{
		TopK:               5,
		MinScore:           0.7,
		MaxContextChars:    3000,
		MetadataMaxBytes:   36000,
		UpsertBatchSize:    10,
		ChunkSize:          1000,
		ChunkOverlap:       200,
		EmbedConcurrency:   4,
		IngestLeaseSeconds: 600,
	}
}

// VectorIndexConfig 选择向量索引后端：es、pgvector 或 memory。
type VectorIndexConfig struct {
	Type       string `mapstructure:"type"`
	Dimensions int    `mapstructure:"dimensions"`
}

type ElasticsearchConfig struct {
	// Addresses 以逗号分隔。
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ExtractorConfig 选择 PDF 分页提取方式：fitz（本地 MuPDF）或 tika。
type ExtractorConfig struct {
	Type string     `mapstructure:"type"`
	Tika TikaConfig `mapstructure:"tika"`
}

type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// QueueConfig 选择异步入库使用的消息队列：kafka、rabbitmq 或 none（同步入库）。
type QueueConfig struct {
	Type     string         `mapstructure:"type"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type RabbitMQConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成参数，零值表示使用服务端默认。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置 system 提示词与上下文包裹格式。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

func setDefaults(v *viper.Viper) {
	rag := DefaultRAG()
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("jwt.token_expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("rag.top_k", rag.TopK)
	v.SetDefault("rag.min_score", rag.MinScore)
	v.SetDefault("rag.max_context_chars", rag.MaxContextChars)
	v.SetDefault("rag.metadata_max_bytes", rag.MetadataMaxBytes)
	v.SetDefault("rag.upsert_batch_size", rag.UpsertBatchSize)
	v.SetDefault("rag.chunk_size", rag.ChunkSize)
	v.SetDefault("rag.chunk_overlap", rag.ChunkOverlap)
	v.SetDefault("rag.embed_concurrency", rag.EmbedConcurrency)
	v.SetDefault("rag.ingest_lease_seconds", rag.IngestLeaseSeconds)
	v.SetDefault("vector_index.type", "es")
	v.SetDefault("elasticsearch.index_prefix", "docchat-")
	v.SetDefault("extractor.type", "fitz")
	v.SetDefault("queue.type", "none")
	v.SetDefault("queue.kafka.group_id", "docchat-ingest")
	v.SetDefault("queue.rabbitmq.queue", "docchat.ingest")
}

// Load 读取 YAML 配置文件，并允许 DOCCHAT_ 前缀的环境变量覆盖同名键
// （如 DOCCHAT_RAG_MIN_SCORE 覆盖 rag.min_score）。当前目录存在 .env 时会先加载它。
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		return nil, fmt.Errorf("rag.chunk_overlap (%d) 必须小于 rag.chunk_size (%d)", cfg.RAG.ChunkOverlap, cfg.RAG.ChunkSize)
	}
	return &cfg, nil
}

// Init 加载配置到 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
