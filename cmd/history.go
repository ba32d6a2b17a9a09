package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sells-group/position-tracker/internal/history"
	"github.com/sells-group/position-tracker/internal/model"
)

var (
	historyQuery   string
	historyArticle int64
	historyDays    int
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the position and price history of an article",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		query, err := model.NormalizeQuery(historyQuery)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "history")
		if err != nil {
			return err
		}
		defer env.Close()

		days := historyDays
		if days == 0 {
			days = cfg.History.WindowDays
		}
		chart, err := env.History.Window(ctx, historyArticle, query, days)
		if err != nil {
			return err
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(chart)
		}
		printChart(cmd.OutOrStdout(), chart, days)
		return nil
	},
}

// printChart writes the samples grouped by calendar day, then the extremes.
func printChart(w io.Writer, chart history.Chart, days int) {
	fmt.Fprintf(w, "article %d, query %q, last %d days\n", chart.ArticleID, chart.Query, days)
	if len(chart.Points) == 0 {
		fmt.Fprintln(w, "no observations")
		return
	}

	var day string
	for _, p := range chart.Points {
		if d := p.At.Format("2006-01-02"); d != day {
			day = d
			fmt.Fprintln(w, day)
		}
		fmt.Fprintf(w, "  %s  position %d  price %d\n", p.At.Format("15:04"), p.Position, p.Price)
	}
	fmt.Fprintf(w, "best %d at %s\n", chart.Best.Position, chart.Best.At.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "worst %d at %s\n", chart.Worst.Position, chart.Worst.At.Format("2006-01-02 15:04"))
}

func init() {
	historyCmd.Flags().StringVar(&historyQuery, "query", "", "search query (required)")
	historyCmd.Flags().Int64Var(&historyArticle, "article", 0, "article ID (required)")
	historyCmd.Flags().IntVar(&historyDays, "days", 0, "window length in days (default from config)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print the chart as JSON")
	_ = historyCmd.MarkFlagRequired("query")
	_ = historyCmd.MarkFlagRequired("article")
	rootCmd.AddCommand(historyCmd)
}
