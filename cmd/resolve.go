package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/resolver"
)

var (
	resolveQuery       string
	resolveArticles    []int64
	resolveConcurrency int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the current search position of one or more articles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		query, err := model.NormalizeQuery(resolveQuery)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		type result struct {
			res resolver.Resolution
			err error
		}
		var mu sync.Mutex
		results := make(map[int64]result, len(resolveArticles))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(resolveConcurrency, 1))
		for _, article := range resolveArticles {
			g.Go(func() error {
				res, err := env.Resolver.Resolve(gctx, article, query)
				if err != nil && !errors.Is(err, model.ErrNotFound) {
					return eris.Wrapf(err, "resolve article %d", article)
				}
				mu.Lock()
				results[article] = result{res: res, err: err}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, article := range resolveArticles {
			r := results[article]
			if r.err != nil {
				fmt.Fprintf(out, "%d\t%s\tnot found\n", article, query)
				continue
			}
			fmt.Fprintf(out, "%d\t%s\tposition %d\tprice %d\t(%s)\n",
				article, query, r.res.Position, r.res.Price, r.res.Source)
			if r.res.PersistErr != nil {
				zap.L().Warn("history append failed", zap.Int64("article", article), zap.Error(r.res.PersistErr))
			}
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveQuery, "query", "", "search query (required)")
	resolveCmd.Flags().Int64SliceVar(&resolveArticles, "article", nil, "article ID, repeatable (required)")
	resolveCmd.Flags().IntVar(&resolveConcurrency, "concurrency", 4, "articles resolved in parallel")
	_ = resolveCmd.MarkFlagRequired("query")
	_ = resolveCmd.MarkFlagRequired("article")
	rootCmd.AddCommand(resolveCmd)
}
