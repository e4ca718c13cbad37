package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"storefront/internal/adapter/store"
	"storefront/internal/domain"
)

var seedBatchSize int

var seedCmd = &cobra.Command{
	Use:   "seed <glob>...",
	Short: "Load product fixtures into the store and search index",
	Long: `Load product fixture files matching the given glob patterns, store them
in the record store and ingest them into the search index. Each fixture
file holds a JSON array of products. Products already indexed are skipped,
so seeding is idempotent.

Examples:
  storefront seed fixtures/products.json
  storefront seed "fixtures/**/*.json" "extra/*.json"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().IntVar(&seedBatchSize, "batch-size", 64, "products per ingestion batch")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := newLogger(cfg)

	var paths []string
	for _, pattern := range args {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no fixture files match the given patterns")
	}

	var products []domain.Product
	for _, path := range paths {
		batch, err := loadFixture(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		products = append(products, batch...)
	}

	fmt.Printf("Loaded %d products from %d fixture files\n", len(products), len(paths))

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer st.Close()

	indexMgr, err := openIndexManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create index manager: %w", err)
	}

	for _, p := range products {
		if err := st.PutProduct(p); err != nil {
			return fmt.Errorf("failed to store product %s: %w", p.ID, err)
		}
	}

	bar := progressbar.NewOptions(len(products),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	batchSize := seedBatchSize
	if batchSize < 1 {
		batchSize = 64
	}

	var added, skipped int
	ctx := context.Background()
	for i := 0; i < len(products); i += batchSize {
		end := i + batchSize
		if end > len(products) {
			end = len(products)
		}

		report, err := indexMgr.Ingest(ctx, products[i:end])
		if err != nil {
			return fmt.Errorf("ingestion failed at batch %d: %w", i/batchSize, err)
		}
		added += report.Added
		skipped += report.Skipped
		bar.Set(end)
	}

	if err := indexMgr.Close(ctx); err != nil {
		fmt.Printf("Warning: final snapshot flush failed: %v\n", err)
	}

	fmt.Printf("\nSeeding complete:\n")
	fmt.Printf("  Products added:   %d\n", added)
	fmt.Printf("  Products skipped: %d (already indexed)\n", skipped)
	return nil
}

// loadFixture reads one fixture file holding a JSON array of products.
func loadFixture(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("invalid fixture format: %w", err)
	}
	for i, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product at position %d has no id", i)
		}
	}
	return products, nil
}
