package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "POSTGRESQL_URI", "PG_DSN", "STORE_BACKEND", "EMBEDDING_PROVIDER",
		"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_ANON_KEY", "AUTH_REQUIRED",
		"MATCH_THRESHOLD", "MATCH_COUNT", "MATCH_FALLBACK_LIMIT", "OPENAI_API_KEY",
		"OPENAI_API_BASE", "SERVER_SHUTDOWN_TIMEOUT", "BACKFILL_BATCH_SIZE", "BACKFILL_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.83, cfg.Matching.Threshold)
	assert.Equal(t, 10, cfg.Matching.MatchCount)
	assert.Equal(t, 10, cfg.Matching.FallbackLimit)
	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, EmbeddingProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.OpenAI.EmbeddingModel)
	assert.Equal(t, 1536, cfg.Embedding.OpenAI.EmbeddingDimensions)
	assert.False(t, cfg.Embedding.OpenAI.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MATCH_THRESHOLD", "0.9")
	t.Setenv("MATCH_COUNT", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_BASE", "http://localhost:9000/v1/")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Matching.Threshold)
	assert.Equal(t, 5, cfg.Matching.MatchCount)
	assert.True(t, cfg.Embedding.OpenAI.Enabled)
	assert.Equal(t, "http://localhost:9000/v1", cfg.Embedding.OpenAI.APIBase)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_InvalidNumberFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("MATCH_COUNT", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Matching.MatchCount)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Matching.Threshold = 1.5 },
			wantErr: "MATCH_THRESHOLD",
		},
		{
			name:    "zero match count",
			mutate:  func(c *Config) { c.Matching.MatchCount = 0 },
			wantErr: "MATCH_COUNT",
		},
		{
			name:    "supabase store without credentials",
			mutate:  func(c *Config) { c.Store.Backend = StoreBackendSupabase },
			wantErr: "STORE_BACKEND=supabase",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "word2vec" },
			wantErr: "EMBEDDING_PROVIDER",
		},
		{
			name:    "auth without supabase",
			mutate:  func(c *Config) { c.Supabase.AuthRequired = true },
			wantErr: "AUTH_REQUIRED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetPostgreSQLDSN(t *testing.T) {
	cfg := &Config{PostgreSQL: PostgreSQLConfig{
		Host: "db", Port: 5433, User: "u", Password: "p", Database: "manifest", SSLMode: "require",
	}}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=manifest sslmode=require", cfg.GetPostgreSQLDSN())

	cfg.PostgreSQL.DSN = "postgres://u:p@db/manifest"
	assert.Equal(t, "postgres://u:p@db/manifest", cfg.GetPostgreSQLDSN())
}
