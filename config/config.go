package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the knowledge base.
type Config struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChunkingConfig holds text splitting configuration.
type ChunkingConfig struct {
	MaxChunkSize   int `yaml:"max_chunk_size"`
	ChunkOverlap   int `yaml:"chunk_overlap"`
	BoundaryWindow int `yaml:"boundary_window"` // how far back to look for a sentence break
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider    string  `yaml:"provider"`    // "openai", "hash"
	Model       string  `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv   string  `yaml:"api_key_env"` // Environment variable for API key
	BaseURL     string  `yaml:"base_url"`
	Dimension   int     `yaml:"dimension"`
	BatchSize   int     `yaml:"batch_size"`
	TimeoutSec  int     `yaml:"timeout_sec"`
	MaxRetries  int     `yaml:"max_retries"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second
	CacheSize   int     `yaml:"cache_size"`
}

// IndexConfig holds vector index configuration.
type IndexConfig struct {
	Quantization   string `yaml:"quantization"` // "none", "int8", "int4"
	ProbeEffort    int    `yaml:"probe_effort"`
	TrainThreshold int    `yaml:"train_threshold"`
}

// SearchConfig holds retrieval configuration.
type SearchConfig struct {
	Mode          string  `yaml:"mode"` // "vector", "lexical", "hybrid"
	TopK          int     `yaml:"top_k"`
	MMREnabled    bool    `yaml:"mmr_enabled"`
	MMRLambda     float64 `yaml:"mmr_lambda"`
	DedupJaccard  float64 `yaml:"dedup_jaccard"`
	RRFK          int     `yaml:"rrf_k"`
	BM25K1        float64 `yaml:"bm25_k1"`
	BM25B         float64 `yaml:"bm25_b"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	MinScore      float64 `yaml:"min_score"` // Filter results below this score (0 = disabled)
}

// IngestConfig holds file ingestion configuration.
type IngestConfig struct {
	Includes        []string `yaml:"includes"`
	Excludes        []string `yaml:"excludes"`
	Parallelism     int      `yaml:"parallelism"`
	FetchTimeoutSec int      `yaml:"fetch_timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			MaxChunkSize:   1000,
			ChunkOverlap:   200,
			BoundaryWindow: 120,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			APIKeyEnv:  "OPENAI_API_KEY",
			Dimension:  1536,
			BatchSize:  50,
			TimeoutSec: 30,
			MaxRetries: 3,
			RateLimit:  5,
			CacheSize:  1024,
		},
		Index: IndexConfig{
			Quantization:   "int8",
			ProbeEffort:    8,
			TrainThreshold: 256,
		},
		Search: SearchConfig{
			Mode:          "vector",
			TopK:          5,
			MMREnabled:    false,
			MMRLambda:     0.7,
			DedupJaccard:  0.8,
			RRFK:          60,
			BM25K1:        1.2,
			BM25B:         0.75,
			LexicalWeight: 0.3,
		},
		Ingest: IngestConfig{
			Includes:        []string{"**/*.md", "**/*.txt"},
			Excludes:        []string{"**/node_modules/**", "**/vendor/**", "**/.git/**"},
			Parallelism:     4,
			FetchTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for kbase.yaml).
func LoadFromDir(dir string) (*Config, error) {
	// Try kbase.yaml in the directory
	path := filepath.Join(dir, "kbase.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// Try .kbase/config.yaml
	path = filepath.Join(dir, ".kbase", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// Return defaults
	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StoreDBPath returns the path to the metadata database.
func StoreDBPath(dir string) string {
	return filepath.Join(dir, ".kbase", "store.db")
}

// EnsureDataDir ensures the .kbase directory exists.
func EnsureDataDir(dir string) error {
	dataDir := filepath.Join(dir, ".kbase")
	return os.MkdirAll(dataDir, 0755)
}
