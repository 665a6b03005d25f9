package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendSupabase = "supabase"
)

// Embedding providers
const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderGenAI  = "genai"
)

// Config holds all configuration for the application
type Config struct {
	PostgreSQL PostgreSQLConfig
	Server     ServerConfig
	Store      StoreConfig
	Supabase   SupabaseConfig
	Matching   MatchingConfig
	Embedding  EmbeddingConfig
	Breaker    BreakerConfig
	Backfill   BackfillConfig
	Logging    LoggingConfig
}

// PostgreSQLConfig holds PostgreSQL database configuration
type PostgreSQLConfig struct {
	DSN                string // full connection string, wins over the individual fields
	Host               string
	Port               int
	User               string
	Password           string
	Database           string
	SSLMode            string
	MaxConnections     int
	MaxIdleConnections int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Host            string
	GinMode         string
	AllowedOrigins  string
	ShutdownTimeout time.Duration
}

// StoreConfig selects the intention store implementation
type StoreConfig struct {
	Backend string
}

// SupabaseConfig holds the hosted backend settings
type SupabaseConfig struct {
	URL          string
	Key          string
	AuthRequired bool
}

// Enabled reports whether a Supabase project is configured
func (s SupabaseConfig) Enabled() bool {
	return s.URL != "" && s.Key != ""
}

// MatchingConfig holds the grouping parameters
type MatchingConfig struct {
	Threshold     float64
	MatchCount    int
	FallbackLimit int
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string
	OpenAI   OpenAIConfig
	GenAI    GenAIConfig
}

// OpenAIConfig holds OpenAI-compatible embedding API configuration
type OpenAIConfig struct {
	APIKey              string
	APIBase             string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingExtraBody  string // JSON string for extra_body (e.g., {"truncate":"NONE"})
	BatchSize           int
	Timeout             int
	Enabled             bool
}

// GenAIConfig holds Google Gemini embedding configuration
type GenAIConfig struct {
	APIKey     string
	Model      string
	TaskType   string
	Dimensions int
}

// BreakerConfig holds circuit breaker settings for the embedding provider
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// BackfillConfig holds embedding backfill settings
type BackfillConfig struct {
	BatchSize   int
	Concurrency int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	dimensions := getEnvAsInt("OPENAI_EMBEDDING_DIMENSIONS", 1536)

	cfg := &Config{
		PostgreSQL: PostgreSQLConfig{
			DSN:                getEnv("DATABASE_URL", getEnv("POSTGRESQL_URI", getEnv("PG_DSN", ""))),
			Host:               getEnv("PG_HOST", "localhost"),
			Port:               getEnvAsInt("PG_PORT", 5432),
			User:               getEnv("PG_USER", "postgres"),
			Password:           getEnv("PG_PASSWORD", ""),
			Database:           getEnv("PG_DATABASE", "manifest"),
			SSLMode:            getEnv("PG_SSLMODE", "disable"),
			MaxConnections:     getEnvAsInt("PG_MAX_CONNECTIONS", 25),
			MaxIdleConnections: getEnvAsInt("PG_MAX_IDLE_CONNECTIONS", 5),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			GinMode:         getEnv("GIN_MODE", "release"),
			AllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", "*"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		},
		Supabase: SupabaseConfig{
			URL:          getEnv("SUPABASE_URL", ""),
			Key:          getEnv("SUPABASE_SERVICE_ROLE_KEY", getEnv("SUPABASE_ANON_KEY", "")),
			AuthRequired: getEnvAsBool("AUTH_REQUIRED", false),
		},
		Matching: MatchingConfig{
			Threshold:     getEnvAsFloat("MATCH_THRESHOLD", 0.83),
			MatchCount:    getEnvAsInt("MATCH_COUNT", 10),
			FallbackLimit: getEnvAsInt("MATCH_FALLBACK_LIMIT", 10),
		},
		Embedding: EmbeddingConfig{
			Provider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", EmbeddingProviderOpenAI)),
			OpenAI: OpenAIConfig{
				APIKey:              getEnv("OPENAI_API_KEY", ""),
				APIBase:             strings.TrimRight(getEnv("OPENAI_API_BASE", "https://api.openai.com/v1"), "/"),
				EmbeddingModel:      getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
				EmbeddingDimensions: dimensions,
				EmbeddingExtraBody:  getEnv("OPENAI_EMBEDDING_EXTRA_BODY", ""),
				BatchSize:           getEnvAsInt("OPENAI_BATCH_SIZE", 100),
				Timeout:             getEnvAsInt("OPENAI_TIMEOUT", 30),
				Enabled:             getEnv("OPENAI_API_KEY", "") != "",
			},
			GenAI: GenAIConfig{
				APIKey:     getEnv("GENAI_API_KEY", getEnv("GEMINI_API_KEY", "")),
				Model:      getEnv("GENAI_EMBEDDING_MODEL", "gemini-embedding-001"),
				TaskType:   getEnv("GENAI_TASK_TYPE", "SEMANTIC_SIMILARITY"),
				Dimensions: dimensions,
			},
		},
		Breaker: BreakerConfig{
			MaxRequests:  uint32(getEnvAsInt("BREAKER_MAX_REQUESTS", 5)),
			Interval:     getEnvAsDuration("BREAKER_INTERVAL", 30*time.Second),
			Timeout:      getEnvAsDuration("BREAKER_TIMEOUT", 60*time.Second),
			FailureRatio: getEnvAsFloat("BREAKER_FAILURE_RATIO", 0.8),
			MinRequests:  uint32(getEnvAsInt("BREAKER_MIN_REQUESTS", 5)),
		},
		Backfill: BackfillConfig{
			BatchSize:   getEnvAsInt("BACKFILL_BATCH_SIZE", 50),
			Concurrency: getEnvAsInt("BACKFILL_CONCURRENCY", 2),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside a request
func (c *Config) Validate() error {
	var errs []error

	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be in (0,1], got %v", c.Matching.Threshold))
	}
	if c.Matching.MatchCount <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_COUNT must be positive, got %d", c.Matching.MatchCount))
	}
	if c.Matching.FallbackLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_FALLBACK_LIMIT must be positive, got %d", c.Matching.FallbackLimit))
	}
	if c.Backfill.BatchSize <= 0 || c.Backfill.Concurrency <= 0 {
		errs = append(errs, errors.New("BACKFILL_BATCH_SIZE and BACKFILL_CONCURRENCY must be positive"))
	}

	switch c.Store.Backend {
	case StoreBackendPostgres:
	case StoreBackendSupabase:
		if !c.Supabase.Enabled() {
			errs = append(errs, errors.New("STORE_BACKEND=supabase requires SUPABASE_URL and a service role or anon key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Embedding.Provider {
	case EmbeddingProviderOpenAI, EmbeddingProviderGenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}

	if c.Supabase.AuthRequired && !c.Supabase.Enabled() {
		errs = append(errs, errors.New("AUTH_REQUIRED needs SUPABASE_URL and a key"))
	}

	return errors.Join(errs...)
}

// GetPostgreSQLDSN returns PostgreSQL connection string
func (c *Config) GetPostgreSQLDSN() string {
	if c.PostgreSQL.DSN != "" {
		return c.PostgreSQL.DSN
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host,
		c.PostgreSQL.Port,
		c.PostgreSQL.User,
		c.PostgreSQL.Password,
		c.PostgreSQL.Database,
		c.PostgreSQL.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float value for %s, using default %f", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration value for %s, using default %s", key, defaultValue)
		return defaultValue
	}
	return value
}
