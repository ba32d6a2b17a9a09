package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/position-tracker/internal/api"
	"github.com/sells-group/position-tracker/internal/notify"
	"github.com/sells-group/position-tracker/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking scheduler and the subscription API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		restored, err := env.Registry.Restore(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("subscriptions restored", zap.Int("count", restored))

		inbox := notify.NewInbox(cfg.Notify.InboxSize)
		sinks := notify.FanOut{notify.NewLogSink(), inbox}
		if cfg.Notify.WebhookURL != "" {
			sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.TimeoutSecs)*time.Second))
		}

		sched := scheduler.New(env.Registry, env.Resolver, sinks, env.Metrics, scheduler.Config{
			Tick:         cfg.Scheduler.Tick(),
			CycleTimeout: cfg.Scheduler.CycleTimeout(),
		})

		server := api.New(env.Registry, env.History, inbox, api.Config{
			Metrics:        env.MetricsHandler,
			HealthCheck:    env.Store.Ping,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			WindowDays:     cfg.History.WindowDays,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
