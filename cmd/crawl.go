package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/model"
)

var (
	crawlQuery string
	crawlLimit int
	crawlJSON  bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the search results for a query without storing them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		query, err := model.NormalizeQuery(crawlQuery)
		if err != nil {
			return err
		}
		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		rec, _ := initMetrics()
		snaps, err := initCatalog(rec).FetchCatalog(ctx, query)
		if err != nil {
			return err
		}
		zap.L().Info("crawl complete", zap.String("query", query), zap.Int("products", len(snaps)))

		if crawlLimit > 0 && len(snaps) > crawlLimit {
			snaps = snaps[:crawlLimit]
		}

		out := cmd.OutOrStdout()
		if crawlJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snaps)
		}
		for _, s := range snaps {
			marker := ""
			if s.Promoted() {
				marker = " (promoted)"
			}
			fmt.Fprintf(out, "%4d  %-12d  %8d  %s%s\n", s.EffectivePosition(), s.ArticleID, s.PriceMajor(), s.Name, marker)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlQuery, "query", "", "search query (required)")
	crawlCmd.Flags().IntVar(&crawlLimit, "limit", 100, "max products to print (0 for all)")
	crawlCmd.Flags().BoolVar(&crawlJSON, "json", false, "print snapshots as JSON")
	_ = crawlCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(crawlCmd)
}
