package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsFromEmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "chroma", cfg.Store.Driver)
	assert.Equal(t, "memory_documents", cfg.Store.Collection)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text:v1.5", cfg.Embedding.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Embedding.BaseURL)
	assert.Equal(t, "gemini", cfg.Generation.Provider)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 5, cfg.Query.DefaultTopK)
	assert.Equal(t, 100, cfg.Query.LatestScanLimit)
	assert.Equal(t, 1000, cfg.Query.FilterScanLimit)
	assert.Equal(t, 3, cfg.Query.CandidateFactor)
	assert.Equal(t, 7*24*time.Hour, cfg.CacheTTL())
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_MEMORY_PORT", "9090")
	t.Setenv("TEST_MEMORY_KEY", "secret")

	cfg, err := Parse([]byte(`
http:
  port: ${TEST_MEMORY_PORT}
generation:
  provider: openai
  api_key: ${TEST_MEMORY_KEY}
  base_url: ${TEST_MEMORY_UNSET:-https://openrouter.ai/api/v1}
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "secret", cfg.Generation.APIKey)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Generation.BaseURL)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Generation.Model)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"port out of range", "http: {port: 70000}", "http.port"},
		{"unknown store driver", "store: {driver: sqlite}", "store.driver"},
		{"unknown embedding provider", "embedding: {provider: cohere}", "embedding.provider"},
		{"unknown generation provider", "generation: {provider: claude}", "generation.provider"},
		{"overlap too large", "chunking: {size: 100, overlap: 150}", "chunking.overlap"},
		{"importer without user", "importer: {dir: /tmp/notes}", "importer.user_id"},
		{"malformed yaml", "http: [", "failed to parse config"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_LocalFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("NOTES_DIR", "")

	cfg, err := Load("local")
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.Store.Driver)
	assert.Equal(t, "./memory_db", cfg.Store.ChromemDir)
	assert.Empty(t, cfg.Importer.Dir)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "does-not-exist.yaml")

	_, err := Load("local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	assert.Equal(t, "local", GetEnv())

	t.Setenv("ENV", "prod")
	assert.Equal(t, "prod", GetEnv())
}
