// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Storage   StorageConfig
	LLM       LLMConfig
	RAG       RAGConfig
	Session   SessionConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout int
	RequestTimeout  time.Duration
	StageTimeout    time.Duration
	RateLimitPerMin int
}

// CORSConfig holds the browser origin allow-list.
type CORSConfig struct {
	AllowedOrigins []string
}

// DatabaseConfig holds the finance database configuration.
type DatabaseConfig struct {
	Driver       string // mysql, postgres or sqlite3
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	Path         string // sqlite3 only
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL       string
	ClusterID string
}

// StorageConfig holds object storage configuration for index artifacts.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
	IndexPrefix     string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider        string
	OpenAIKey       string
	AnthropicKey    string
	BaseURL         string
	ClassifierModel string
	SQLModel        string
	RAGModel        string
	EmbeddingModel  string
	MaxTokens       int
	SQLTemperature  float64
}

// RAGConfig holds retrieval configuration.
type RAGConfig struct {
	VectorStore      string // local or pgvector
	IndexDir         string
	ChunksFile       string
	TopK             int
	MaxContextTokens int
	PgVectorDSN      string
}

// SessionConfig holds session store configuration.
type SessionConfig struct {
	Store        string // memory or redis
	TTL          time.Duration
	MaxUserTurns int
}

// TelemetryConfig controls tracing and metrics.
type TelemetryConfig struct {
	TracingEnabled bool
	TraceFile      string
	MetricsEnabled bool
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Format     string
	AddSource  bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads an optional .env file and then environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8000),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsInt("SHUTDOWN_TIMEOUT", 30),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 90*time.Second),
			StageTimeout:    getEnvAsDuration("STAGE_TIMEOUT", 30*time.Second),
			RateLimitPerMin: getEnvAsInt("CHAT_RATE_LIMIT_PER_MIN", 30),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "mysql"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 3306),
			User:         getEnv("DB_USER", "root"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "finance"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			Path:         getEnv("DB_PATH", "finance.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:       getEnv("NATS_URL", ""),
			ClusterID: getEnv("NATS_CLUSTER_ID", "finance-chat"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("STORAGE_BUCKET", "finance-chat"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
			IndexPrefix:     getEnv("STORAGE_INDEX_PREFIX", "index"),
		},
		LLM: LLMConfig{
			Provider:        getEnv("LLM_PROVIDER", "openai"),
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnv("LLM_BASE_URL", ""),
			ClassifierModel: getEnv("CLASSIFIER_MODEL", "gpt-4o"),
			SQLModel:        getEnv("SQL_MODEL", "gpt-4o"),
			RAGModel:        getEnv("RAG_MODEL", "gpt-4.1-nano"),
			EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
			MaxTokens:       getEnvAsInt("LLM_MAX_TOKENS", 1024),
			SQLTemperature:  getEnvAsFloat("SQL_TEMPERATURE", 0.2),
		},
		RAG: RAGConfig{
			VectorStore:      getEnv("VECTOR_STORE", "local"),
			IndexDir:         getEnv("INDEX_DIR", "faiss_oracle_index"),
			ChunksFile:       getEnv("CHUNKS_FILE", "resources/chunks.json"),
			TopK:             getEnvAsInt("RAG_TOP_K", 4),
			MaxContextTokens: getEnvAsInt("RAG_MAX_CONTEXT_TOKENS", 6000),
			PgVectorDSN:      getEnv("PGVECTOR_DSN", ""),
		},
		Session: SessionConfig{
			Store:        getEnv("SESSION_STORE", "memory"),
			TTL:          getEnvAsDuration("SESSION_TTL", 0),
			MaxUserTurns: getEnvAsInt("SESSION_MAX_USER_TURNS", 20),
		},
		Telemetry: TelemetryConfig{
			TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),
			TraceFile:      getEnv("TRACE_FILE", "logs/traces.log"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			AddSource:  getEnvAsBool("LOG_ADD_SOURCE", false),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.Session.Store)
	}
	if c.Session.Store == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when SESSION_STORE=redis")
	}

	switch c.RAG.VectorStore {
	case "local":
	case "pgvector":
		if c.RAG.PgVectorDSN == "" {
			return fmt.Errorf("PGVECTOR_DSN is required when VECTOR_STORE=pgvector")
		}
	default:
		return fmt.Errorf("unsupported VECTOR_STORE %q", c.RAG.VectorStore)
	}

	if c.Session.MaxUserTurns <= 0 {
		return fmt.Errorf("SESSION_MAX_USER_TURNS must be positive")
	}

	// For development, we don't require API keys
	if c.Server.Environment == "production" {
		if c.LLM.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set in production")
		}
		if c.LLM.Provider == "anthropic" && c.LLM.AnthropicKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY must be set when LLM_PROVIDER=anthropic")
		}
	}
	return nil
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		)
	case "sqlite3":
		return c.Path
	default:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	}
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
