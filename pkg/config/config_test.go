package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBase(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	validBase(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 512, cfg.Ingest.ChunkTargetTokens)
	assert.Equal(t, 20, cfg.Query.KRetrieve)
}

func TestEnvOverrides(t *testing.T) {
	validBase(t)
	t.Setenv("DATABASE_URL", "postgres://x:y@db:5432/tome")
	t.Setenv("EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("EMBEDDING_DIMENSION", "768")
	t.Setenv("SCRAPER_BASE_DELAY_MS", "2500")
	t.Setenv("QUERY_CACHE_TTL_S", "120")
	t.Setenv("QUERY_MIN_CONFIDENCE", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://x:y@db:5432/tome", cfg.Database.URL)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 2500*time.Millisecond, cfg.Scraper.BaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.Query.CacheTTL)
	assert.Equal(t, 0.5, cfg.Query.MinConfidence)
}

func TestYAMLFile(t *testing.T) {
	validBase(t)

	path := filepath.Join(t.TempDir(), "tome.yaml")
	data := []byte(`
api:
  addr: ":9090"
ingest:
  chunk_target_tokens: 256
  chunk_overlap_tokens: 32
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, 256, cfg.Ingest.ChunkTargetTokens)
	// untouched keys keep defaults
	assert.Equal(t, int64(50<<20), cfg.Ingest.UploadMaxBytes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "dimension mismatch for known model",
			mutate:  func(c *Config) { c.Embedding.Dimension = 768 },
			wantErr: "1536",
		},
		{
			name: "unknown model with explicit dimension passes",
			mutate: func(c *Config) {
				c.Embedding.Model = "my-custom-embedder"
				c.Embedding.Dimension = 1024
			},
		},
		{
			name:    "overlap not below target",
			mutate:  func(c *Config) { c.Ingest.ChunkOverlapTokens = 512 },
			wantErr: "overlap",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Query.MinConfidence = 1.5 },
			wantErr: "QUERY_MIN_CONFIDENCE",
		},
		{
			name:    "access ttl too long",
			mutate:  func(c *Config) { c.Auth.AccessTokenTTL = 2 * time.Hour },
			wantErr: "ACCESS_TOKEN_TTL",
		},
		{
			name:    "unknown index backend",
			mutate:  func(c *Config) { c.Index.Backend = "faiss" },
			wantErr: "INDEX_BACKEND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "s"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
