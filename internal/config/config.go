// Package config loads and validates Fathom configuration from YAML
// files and environment variables. Env vars (FATHOM_*) take precedence
// over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Fathom configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Persist    PersistConfig    `yaml:"persist" json:"persist"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// StorageConfig configures the document store.
type StorageConfig struct {
	// DataDir is the root directory for all on-disk state.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// DocumentDB is the SQLite file for documents, relative to DataDir
	// unless absolute.
	DocumentDB string `yaml:"document_db" json:"document_db"`
}

// LexicalConfig configures BM25 scoring and index maintenance.
type LexicalConfig struct {
	// K1 is the BM25 term frequency saturation parameter.
	K1 float64 `yaml:"k1" json:"k1"`
	// B is the BM25 length normalization parameter.
	B float64 `yaml:"b" json:"b"`
	// MinTokenLength filters out tokens shorter than this.
	MinTokenLength int `yaml:"min_token_length" json:"min_token_length"`
	// RebuildFraction triggers a full statistics rebuild when a batch
	// touches more than this fraction of the corpus (0 disables).
	RebuildFraction float64 `yaml:"rebuild_fraction" json:"rebuild_fraction"`
}

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	// Dimensions is the embedding dimensionality. 0 means auto-detect
	// from the embedding provider.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// M is the maximum number of HNSW graph connections per node.
	M int `yaml:"m" json:"m"`
	// EfSearch is the HNSW search beam width.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// BruteForceThreshold is the corpus size at or below which queries
	// use an exact scan instead of the graph.
	BruteForceThreshold int `yaml:"brute_force_threshold" json:"brute_force_threshold"`
	// OrphanThreshold triggers compaction when the fraction of lazily
	// deleted entries exceeds it.
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
}

// RetryConfig configures embedding request retries.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "openai" or "static".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`
	// BaseURL overrides the provider API endpoint (for proxies or
	// compatible servers). Empty uses the provider default.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey is the provider API key. Usually set via FATHOM_OPENAI_API_KEY
	// or OPENAI_API_KEY rather than the config file.
	APIKey string `yaml:"api_key" json:"api_key"`
	// BatchSize is the maximum number of texts per provider request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the number of embeddings kept in the LRU cache
	// (0 disables caching).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// RequestTimeout bounds a single provider request.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// Retry configures backoff for transient provider failures.
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// SearchConfig configures hybrid search behavior.
type SearchConfig struct {
	// LexicalWeight is the weight for BM25 keyword matching.
	// Weights are relative; they need not sum to 1.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	// VectorWeight is the weight for semantic similarity.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	// Fusion selects the score fusion strategy: "weighted" or "rrf".
	Fusion string `yaml:"fusion" json:"fusion"`
	// RRFConstant is the RRF smoothing parameter (k). Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// DefaultTopK is the result count when the caller does not specify one.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
	// MaxTopK caps the requested result count.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
	// Timeout bounds a single search operation.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// PersistConfig configures index snapshots.
type PersistConfig struct {
	// Enabled turns periodic snapshots on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval between automatic snapshots.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:    DefaultDataDir(),
			DocumentDB: "documents.db",
		},
		Lexical: LexicalConfig{
			K1:              1.5,
			B:               0.75,
			MinTokenLength:  1,
			RebuildFraction: 0.5,
		},
		Vector: VectorConfig{
			Dimensions:          0, // auto-detect from embedder
			M:                   16,
			EfSearch:            50,
			BruteForceThreshold: 1024,
			OrphanThreshold:     0.2,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "openai",
			Model:          "text-embedding-3-small",
			BatchSize:      100,
			CacheSize:      10000,
			RequestTimeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxRetries:   4,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     8 * time.Second,
				Multiplier:   2.0,
			},
		},
		Search: SearchConfig{
			LexicalWeight: 0.4,
			VectorWeight:  0.6,
			Fusion:        "weighted",
			RRFConstant:   60,
			DefaultTopK:   10,
			MaxTopK:       100,
			Timeout:       10 * time.Second,
		},
		Persist: PersistConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns the default data directory (~/.fathom).
// Falls back to temp directory if home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fathom")
	}
	return filepath.Join(home, ".fathom")
}

// DocumentDBPath resolves the document database path against DataDir.
func (c *Config) DocumentDBPath() string {
	if filepath.IsAbs(c.Storage.DocumentDB) {
		return c.Storage.DocumentDB
	}
	return filepath.Join(c.Storage.DataDir, c.Storage.DocumentDB)
}

// Load reads configuration from the given YAML file, applies env var
// overrides, and validates the result. An empty path loads defaults
// plus env overrides only.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadYAML reads and merges a YAML config file into the config.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies FATHOM_* environment variables on top of
// file values. OPENAI_API_KEY is honored as a fallback for the key.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FATHOM_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("FATHOM_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("FATHOM_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("FATHOM_FUSION"); v != "" {
		c.Search.Fusion = v
	}
	if v := os.Getenv("FATHOM_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("FATHOM_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("FATHOM_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("FATHOM_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("FATHOM_OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("FATHOM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Lexical.K1 <= 0 {
		return fmt.Errorf("lexical.k1 must be positive, got %f", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %f", c.Lexical.B)
	}
	if c.Lexical.RebuildFraction < 0 || c.Lexical.RebuildFraction > 1 {
		return fmt.Errorf("lexical.rebuild_fraction must be between 0 and 1, got %f", c.Lexical.RebuildFraction)
	}

	// Weights own their scale and need not sum to 1; they only have
	// to be non-negative with at least one channel contributing.
	if c.Search.LexicalWeight < 0 {
		return fmt.Errorf("search.lexical_weight must be non-negative, got %f", c.Search.LexicalWeight)
	}
	if c.Search.VectorWeight < 0 {
		return fmt.Errorf("search.vector_weight must be non-negative, got %f", c.Search.VectorWeight)
	}
	if c.Search.LexicalWeight+c.Search.VectorWeight == 0 {
		return fmt.Errorf("search weights must not both be zero")
	}

	switch strings.ToLower(c.Search.Fusion) {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("search.fusion must be 'weighted' or 'rrf', got %s", c.Search.Fusion)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.default_top_k must be positive, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.max_top_k must be >= default_top_k, got %d", c.Search.MaxTopK)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'openai' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
