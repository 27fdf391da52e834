package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kbase/config"
	"kbase/internal/adapter/analyzer"
	"kbase/internal/adapter/cache"
	"kbase/internal/adapter/chunk"
	"kbase/internal/adapter/embed"
	"kbase/internal/adapter/normalize"
	"kbase/internal/adapter/quant"
	"kbase/internal/adapter/store"
	"kbase/internal/adapter/vecindex"
	"kbase/internal/logging"
	"kbase/internal/port"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	userID  string
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kbase",
	Short: "Personal knowledge base - ingest documents and retrieve relevant passages",
	Long: `kbase ingests text files and web pages into a per-user knowledge base,
embeds and indexes their content, and answers natural-language queries with
the most relevant passages.

Example usage:
  kbase ingest notes/            # Ingest a directory of text files
  kbase ingest --url https://... # Ingest a web page
  kbase query -q "object pools"  # Retrieve relevant passages
  kbase docs                     # List ingested documents`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log, err = logging.New(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to init logging: %w", err)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kbase.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "data directory (default is current directory)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "user space to operate in")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openStore opens the metadata database under the data directory.
func openStore() (*store.BoltStore, error) {
	if err := config.EnsureDataDir(rootDir); err != nil {
		return nil, fmt.Errorf("failed to create .kbase directory: %w", err)
	}
	st, err := store.Open(config.StoreDBPath(rootDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// newEmbedder builds the configured embedding provider.
func newEmbedder() (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "hash":
		return embed.NewHash(cfg.Embedding.Dimension), nil
	case "openai", "":
		apiKey := os.Getenv(cfg.Embedding.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("embedding API key not set: export %s or use provider \"hash\"", cfg.Embedding.APIKeyEnv)
		}
		return embed.NewOpenAI(apiKey, cfg.Embedding.Model, func(o *embed.Options) {
			o.BaseURL = cfg.Embedding.BaseURL
			o.Dimension = cfg.Embedding.Dimension
			o.BatchSize = cfg.Embedding.BatchSize
			o.MaxRetries = cfg.Embedding.MaxRetries
			o.RequestsPerSec = cfg.Embedding.RateLimit
			if cfg.Embedding.TimeoutSec > 0 {
				o.Timeout = time.Duration(cfg.Embedding.TimeoutSec) * time.Second
			}
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// newIndex builds the in-process vector index with the configured
// quantization level. The index is rebuilt from stored vectors on demand
// by the caller; this only wires the empty structure.
func newIndex(dim int) (*vecindex.Index, error) {
	level, err := quant.ParseLevel(cfg.Index.Quantization)
	if err != nil {
		return nil, err
	}
	q, err := quant.New(level, dim)
	if err != nil {
		return nil, err
	}
	return vecindex.New(q, func(o *vecindex.Options) {
		if cfg.Index.ProbeEffort > 0 {
			o.ProbeEffort = cfg.Index.ProbeEffort
		}
		if cfg.Index.TrainThreshold > 0 {
			o.TrainThreshold = cfg.Index.TrainThreshold
		}
	}), nil
}

func newChunker() (*chunk.Splitter, error) {
	return chunk.NewSplitter(cfg.Chunking.MaxChunkSize, cfg.Chunking.ChunkOverlap, cfg.Chunking.BoundaryWindow)
}

func newNormalizer() *normalize.TextNormalizer { return normalize.New() }

func newAnalyzer() *analyzer.Analyzer { return analyzer.New(true) }

func newCache() *cache.EmbeddingCache { return cache.New(cfg.Embedding.CacheSize) }
