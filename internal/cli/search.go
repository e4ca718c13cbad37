package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchQuery string
	searchK     int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search indexed products",
	Long: `Search the product index with a free-text query.

Examples:
  storefront search -q "wireless audio device"
  storefront search -q "ergonomic mouse" -k 10 --json`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := newLogger(cfg)

	indexMgr, err := openIndexManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create index manager: %w", err)
	}

	k := cfg.Index.DefaultK
	if searchK > 0 {
		k = searchK
	}

	hits, err := indexMgr.Search(context.Background(), searchQuery, k)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		output, _ := json.MarshalIndent(hits, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %s\n\n", len(hits), searchQuery)
	for i, hit := range hits {
		p := hit.Product
		fmt.Printf("--- [%d] %s (distance: %.4f) ---\n", i+1, p.Name, hit.Distance)
		fmt.Printf("    id=%s category=%s price=%.2f stock=%d\n", p.ID, p.Category, p.Price, p.Stock)
		desc := p.Description
		if len(desc) > 200 {
			desc = desc[:200] + "..."
		}
		if desc != "" {
			fmt.Printf("    %s\n", desc)
		}
		fmt.Println()
	}

	return nil
}
