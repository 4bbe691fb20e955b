package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the memory engine configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Cache      CacheConfig      `yaml:"cache"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Query      QueryConfig      `yaml:"query"`
	Importer   ImporterConfig   `yaml:"importer"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"` // chroma, chromem (default: chroma)
	ChromaURL  string `yaml:"chroma_url"`
	Collection string `yaml:"collection"`
	ChromemDir string `yaml:"chromem_dir"` // empty keeps chromem in memory
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // openai, ollama (default: ollama)
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini (default: gemini)
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// CacheConfig holds the embedding cache settings. No addrs disables the cache.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// ChunkingConfig holds text splitter settings.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// QueryConfig holds retrieval limits.
type QueryConfig struct {
	DefaultTopK     int `yaml:"default_top_k"`
	LatestScanLimit int `yaml:"latest_scan_limit"`
	FilterScanLimit int `yaml:"filter_scan_limit"`
	CandidateFactor int `yaml:"candidate_factor"`
	TimeoutSec      int `yaml:"timeout_sec"`
}

// ImporterConfig holds the directory importer settings. An empty dir disables it.
type ImporterConfig struct {
	Dir    string `yaml:"dir"`
	UserID string `yaml:"user_id"`
	Watch  bool   `yaml:"watch"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// CONFIG_PATH, when set, overrides the lookup.
func Load(env string) (Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = findConfigPath(env)
	}

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, expanding ${VAR} and ${VAR:-default} first.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "chroma"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "memory_documents"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.Model == "" {
		switch c.Embedding.Provider {
		case "ollama":
			c.Embedding.Model = "nomic-embed-text:v1.5"
		default:
			c.Embedding.Model = "text-embedding-3-small"
		}
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == "ollama" {
		c.Embedding.BaseURL = "http://localhost:11434"
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "gemini"
	}
	if c.Generation.Model == "" {
		switch c.Generation.Provider {
		case "gemini":
			c.Generation.Model = "gemini-2.5-flash"
		default:
			c.Generation.Model = "gpt-3.5-turbo"
		}
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 7 * 24 * 3600
	}
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 1000
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = min(200, c.Chunking.Size/5)
	}
	if c.Query.DefaultTopK <= 0 {
		c.Query.DefaultTopK = 5
	}
	if c.Query.LatestScanLimit <= 0 {
		c.Query.LatestScanLimit = 100
	}
	if c.Query.FilterScanLimit <= 0 {
		c.Query.FilterScanLimit = 1000
	}
	if c.Query.CandidateFactor <= 0 {
		c.Query.CandidateFactor = 3
	}
	if c.Query.TimeoutSec <= 0 {
		c.Query.TimeoutSec = 90
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Store.Driver {
	case "chroma", "chromem":
	default:
		return fmt.Errorf("store.driver must be \"chroma\" or \"chromem\", got %q", c.Store.Driver)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be \"openai\" or \"ollama\", got %q", c.Embedding.Provider)
	}
	switch c.Generation.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("generation.provider must be \"openai\" or \"gemini\", got %q", c.Generation.Provider)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)",
			c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Importer.Dir != "" && c.Importer.UserID == "" {
		return fmt.Errorf("importer.user_id is required when importer.dir is set")
	}
	return nil
}

// CacheTTL returns the embedding cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// relative to the source file: config -> project root
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(b))
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
