package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvcache/internal/bootstrap"
	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
	"kvcache/internal/infrastructure/httpapi"
	"kvcache/internal/usecase/kv"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the key-value HTTP server",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *kv.Service) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("component", "cmd.serve"))

		opts := httpapi.Options{
			Ping:  app.Ping,
			Stats: func() any { return app.Stats() },
		}
		if app.Telemetry != nil {
			opts.Metrics = app.Telemetry.Handler()
		}

		cfg := app.Config.Server
		server := &http.Server{
			Addr:         cfg.Addr,
			Handler:      httpapi.NewRouter(ctx, svc, opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "kvcache listening on %s\n", cfg.Addr)
		fmt.Fprintf(out, "  cache capacity: %d\n", app.Config.Cache.Capacity)
		fmt.Fprintf(out, "  worker threads: %d (queue %d, %s)\n", app.Config.Workers.Size, app.Config.Workers.QueueSize, app.Config.Workers.QueuePolicy)
		fmt.Fprintf(out, "  db connections: %d\n", app.Config.Pool.Size)
		fmt.Fprintf(out, "  database:       %s\n", app.Config.Database.DSN)

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- server.ListenAndServe()
		}()

		logging.Info(ctx, "http server started", slog.String("addr", cfg.Addr))

		select {
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error(ctx, "http server failed", slog.Any("err", errs.Loggable(err)))
				return errs.Wrap(err, "listen and serve")
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info(ctx, "shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "http server shutdown incomplete", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "shutdown http server")
		}
		return nil
	}),
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Int("cache", 1000, "LRU cache capacity (entries)")
	serveCmd.Flags().Int("threads", 8, "Worker pool size")
	serveCmd.Flags().Int("pool", 8, "Database connection pool size")
	rootCmd.AddCommand(serveCmd)
}
