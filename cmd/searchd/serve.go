package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/config"
	"github.com/alfredjeanlab/savedsearch/internal/events"
	"github.com/alfredjeanlab/savedsearch/internal/export"
	"github.com/alfredjeanlab/savedsearch/internal/metrics"
	"github.com/alfredjeanlab/savedsearch/internal/searches"
	"github.com/alfredjeanlab/savedsearch/internal/server"
	"github.com/alfredjeanlab/savedsearch/internal/shard"
	"github.com/alfredjeanlab/savedsearch/internal/store"
	"github.com/alfredjeanlab/savedsearch/internal/store/memory"
	"github.com/alfredjeanlab/savedsearch/internal/store/postgres"
	"github.com/spf13/cobra"
)

// stores is what serve needs from its library-to-store resolution.
type stores interface {
	searches.Locator
	server.Pinger
	Close() error
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the saved-search server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Override PersistentPreRunE so we don't create a client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, cfg.Logger(os.Stderr))
	},
}

func openPostgres(databaseURL string) (store.Store, error) {
	st, err := postgres.New(databaseURL)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()

	// Resolve libraries to shard stores.
	var shards stores
	if cfg.ShardsFile != "" {
		dir, err := shard.LoadDirectory(cfg.ShardsFile)
		if err != nil {
			return err
		}
		shards = shard.NewRouter(dir, openPostgres)

		watcher := shard.NewWatcher(dir, shard.DefaultDebounce, logger)
		watcher.OnReload = m.ObserveShardReload
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("shard directory watcher stopped", "err", err)
			}
		}()
		logger.Info("shard directory loaded", "path", cfg.ShardsFile, "shards", len(dir.Shards()))
	} else {
		shards = shard.Single{Store: memory.New()}
		logger.Warn("SEARCHD_SHARDS_FILE not set, using in-memory store")
	}
	defer func() {
		if err := shards.Close(); err != nil {
			logger.Error("error closing stores", "err", err)
		}
	}()

	// Create event publisher.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = events.Noop{}
		logger.Info("events disabled (SEARCHD_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	// Create server components.
	svc := searches.NewService(shards, publisher, m, logger)
	searchServer := server.NewSearchServer(svc, shards, m, logger)
	grpcServer := server.NewGRPCServer(searchServer, cfg.AuthToken)

	// The export destinations are built before any listener starts, so a bad
	// export config leaves nothing running.
	scheduler, err := newExportScheduler(ctx, cfg, svc, m, logger)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           searchServer.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	go searchServer.RunHealthChecks(ctx, cfg.HealthInterval)

	if scheduler != nil {
		scheduler.Start()
		logger.Info("export scheduler started", "interval", cfg.ExportInterval, "libraries", cfg.ExportLibraries)
	}

	logger.Info("saved-search server started",
		"grpc_addr", cfg.GRPCAddr,
		"http_addr", cfg.HTTPAddr,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown.
	if scheduler != nil {
		scheduler.Stop()
		logger.Info("export scheduler stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")

	logger.Info("shutdown complete")
	return nil
}

// newExportScheduler builds the periodic export from the configured
// destinations. It returns nil when exports are disabled.
func newExportScheduler(ctx context.Context, cfg *config.Config, src export.Source, m *metrics.Metrics, logger *slog.Logger) (*export.Scheduler, error) {
	if cfg.ExportInterval <= 0 {
		return nil, nil
	}
	var dests []export.Destination
	if cfg.ExportDir != "" {
		d, err := export.NewDirDestination(cfg.ExportDir, path.Base(cfg.ExportS3Key))
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
		logger.Info("export directory destination enabled", "path", d.Path())
	}
	if cfg.ExportS3Bucket != "" {
		d, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			return nil, fmt.Errorf("create S3 export destination: %w", err)
		}
		dests = append(dests, d)
		logger.Info("export S3 destination enabled", "bucket", cfg.ExportS3Bucket, "key", cfg.ExportS3Key)
	}
	if len(dests) == 0 {
		logger.Warn("SEARCHD_EXPORT_INTERVAL set but no export destination configured")
		return nil, nil
	}
	return export.NewScheduler(src, cfg.ExportLibraries, dests, cfg.ExportInterval, m, logger), nil
}
