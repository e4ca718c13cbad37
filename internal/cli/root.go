package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storefront/config"
	"storefront/internal/adapter/embedding"
	"storefront/internal/adapter/snapshot"
	"storefront/internal/port"
	"storefront/internal/usecase"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "storefront",
	Short: "Storefront - e-commerce backend with semantic product search",
	Long: `Storefront is an e-commerce backend exposing a product catalog, user
registration and order placement over HTTP, with semantic product search
backed by vector embeddings.

Example usage:
  storefront serve                     # Run the HTTP API
  storefront seed "fixtures/**/*.json" # Load and index product fixtures
  storefront search -q "wireless audio"
  storefront reindex                   # Rebuild the search index`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			wd, wdErr := os.Getwd()
			if wdErr != nil {
				return fmt.Errorf("failed to get working directory: %w", wdErr)
			}
			cfg, err = config.LoadFromDir(wd)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./storefront.yaml)")
}

func GetConfig() *config.Config {
	return cfg
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openIndexManager wires the embedder, snapshot store and index manager in
// initialization order.
func openIndexManager(cfg *config.Config, logger *slog.Logger) (*usecase.IndexManager, error) {
	return buildIndexManager(cfg, logger, false)
}

// openFreshIndexManager skips snapshot restore; used by full reindexing.
func openFreshIndexManager(cfg *config.Config, logger *slog.Logger) (*usecase.IndexManager, error) {
	return buildIndexManager(cfg, logger, true)
}

func buildIndexManager(cfg *config.Config, logger *slog.Logger, fresh bool) (*usecase.IndexManager, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	snapshots, err := snapshot.NewStore(cfg.Index.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	return usecase.NewIndexManager(embedder, snapshots, func(o *usecase.IndexManagerOptions) {
		o.CompactionThreshold = cfg.Index.CompactionThreshold
		o.SnapshotTimeout = cfg.SnapshotTimeout()
		o.Logger = logger
		o.SkipSnapshotRestore = fresh
	})
}

// newEmbedder constructs the configured embedding provider. It must be
// called once per process; the result is shared by everything that embeds.
func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	withOpts := func(o *embedding.Options) {
		o.BatchSize = cfg.Embedding.BatchSize
		o.Timeout = cfg.EmbeddingTimeout()
		o.RequestsPerSecond = cfg.Embedding.RequestsPerSecond
	}

	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BaseURL, withOpts)
		}
		return embedding.NewOpenAIEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, withOpts)
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.Embedding.Model, cfg.Embedding.BaseURL, withOpts)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}
