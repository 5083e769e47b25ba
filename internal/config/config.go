// Package config loads the fabric's runtime configuration from environment
// variables (and an optional YAML file) via viper, mirroring the teacher's
// nested-struct-per-concern Config pattern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

type Config struct {
	Environment Environment

	Server   ServerConfig
	Auth     AuthConfig
	Postgres PostgresConfig
	Vector   VectorConfig
	Redis    RedisConfig
	Embedding EmbeddingConfig
	Agent    AgentConfig
	Cache    CacheConfig
	Jobs     JobsConfig
	Compaction CompactionConfig
	Neo4j    Neo4jConfig
	Minio    MinioConfig
	Elastic  ElasticConfig
}

type ServerConfig struct {
	Port int
}

type AuthConfig struct {
	JWTSecret          string
	TokenMasterSecret  string
	EncryptionKeyB64   string
}

type PostgresConfig struct {
	DSN         string
	MaxOpenConns int
}

type VectorConfig struct {
	Host     string
	Port     int
	GRPCPort int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmbeddingConfig struct {
	Model      string
	Dimensions int
}

type AgentConfig struct {
	DefaultModel string
	ContextLimit int
	TimeoutLLM   time.Duration
	TimeoutEmbed time.Duration
}

type CacheConfig struct {
	SemanticCacheEnabled bool
	SimilarityThreshold  float64
}

type JobsConfig struct {
	Enabled    bool
	DuckDBPath string
}

type CompactionConfig struct {
	SynthesisBudgetUSD float64
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type ElasticConfig struct {
	Addresses []string
}

// Load reads environment variables (prefix-free, matching spec.md §6's
// enumeration) and an optional config.yaml in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("CONTEXT_LIMIT", 10)
	v.SetDefault("SEMANTIC_CACHE_ENABLED", true)
	v.SetDefault("JOBS_ENABLED", true)
	v.SetDefault("SYNTHESIS_BUDGET_USD", 0.50)
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-large")
	v.SetDefault("DEFAULT_MODEL", "claude-sonnet-4.5")
	v.SetDefault("DUCKDB_PATH", "")
	v.SetDefault("HTTP_PORT", 8080)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := &Config{
		Environment: Environment(v.GetString("ENVIRONMENT")),
		Server: ServerConfig{
			Port: v.GetInt("HTTP_PORT"),
		},
		Auth: AuthConfig{
			JWTSecret:         v.GetString("JWT_SECRET"),
			TokenMasterSecret: v.GetString("TOKEN_MASTER_SECRET"),
			EncryptionKeyB64:  v.GetString("ENCRYPTION_KEY_B64"),
		},
		Postgres: PostgresConfig{
			DSN:          v.GetString("POSTGRES_DSN"),
			MaxOpenConns: v.GetInt("POSTGRES_MAX_OPEN_CONNS"),
		},
		Vector: VectorConfig{
			Host:     v.GetString("VECTOR_HOST"),
			Port:     v.GetInt("VECTOR_PORT"),
			GRPCPort: v.GetInt("VECTOR_GRPC_PORT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Embedding: EmbeddingConfig{
			Model:      v.GetString("EMBEDDING_MODEL"),
			Dimensions: 1536,
		},
		Agent: AgentConfig{
			DefaultModel: v.GetString("DEFAULT_MODEL"),
			ContextLimit: v.GetInt("CONTEXT_LIMIT"),
			TimeoutLLM:   90 * time.Second,
			TimeoutEmbed: 10 * time.Second,
		},
		Cache: CacheConfig{
			SemanticCacheEnabled: v.GetBool("SEMANTIC_CACHE_ENABLED"),
			SimilarityThreshold:  0.92,
		},
		Jobs: JobsConfig{
			Enabled:    v.GetBool("JOBS_ENABLED"),
			DuckDBPath: v.GetString("DUCKDB_PATH"),
		},
		Compaction: CompactionConfig{
			SynthesisBudgetUSD: v.GetFloat64("SYNTHESIS_BUDGET_USD"),
		},
		Neo4j: Neo4jConfig{
			URI:      v.GetString("NEO4J_URI"),
			Username: v.GetString("NEO4J_USERNAME"),
			Password: v.GetString("NEO4J_PASSWORD"),
		},
		Minio: MinioConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		Elastic: ElasticConfig{
			Addresses: v.GetStringSlice("ELASTIC_ADDRESSES"),
		},
	}

	if cfg.Environment != EnvDevelopment && cfg.Environment != EnvProduction {
		return nil, fmt.Errorf("config: ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.Environment)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }
