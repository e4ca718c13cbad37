package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"storefront/internal/adapter/store"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the product store",
	Long: `Discard the current vector index and catalog projection and rebuild
them from every product in the record store. Use this after losing the
snapshot files or switching the embedding model.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := newLogger(cfg)

	st, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer st.Close()

	products, err := st.ListProducts()
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}
	if len(products) == 0 {
		fmt.Println("No products in the record store; nothing to index.")
		return nil
	}

	// Start empty: the existing snapshot may carry a stale dimension, and
	// the rebuild overwrites it anyway.
	indexMgr, err := openFreshIndexManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create index manager: %w", err)
	}

	fmt.Printf("Rebuilding index for %d products...\n", len(products))
	report, err := indexMgr.Rebuild(context.Background(), products)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	fmt.Printf("Reindex complete: %d products indexed\n", report.Added)
	if report.PersistErr != nil {
		fmt.Printf("Warning: snapshot write failed: %v\n", report.PersistErr)
	}
	return nil
}
