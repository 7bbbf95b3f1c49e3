package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	grpcgo "google.golang.org/grpc"

	"github.com/TomasB/geolocator/internal/batch"
	"github.com/TomasB/geolocator/internal/config"
	"github.com/TomasB/geolocator/internal/data"
	grpchandler "github.com/TomasB/geolocator/internal/handler/grpc"
	"github.com/TomasB/geolocator/internal/telemetry"
	"github.com/TomasB/geolocator/internal/workpool"
)

const (
	shutdownTimeout    = 30 * time.Second
	grpcHealthInterval = 5 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP (and optional gRPC) lookup server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(os.Stdout, cfg.Log.Level)
	logLevel := getLogLevel(cfg.Log.Level)

	slog.Info("service starting", "version", version, "log_level", logLevel.String())

	// Set Gin mode based on log level
	if logLevel == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	dbs, err := newDatabases(cfg, logger)
	if err != nil {
		return err
	}
	defer dbs.Close()

	if err := dbs.load(logger); err != nil {
		if cfg.Startup.FailFast {
			slog.Error("failed to open location database", "path", cfg.Location.Path, "error", err)
			return err
		}
		slog.Warn("location database unavailable, lookups will answer 503 until it loads",
			"path", cfg.Location.Path, "error", err)
	}

	if cfg.Reload.Enabled {
		watcher, err := data.NewWatcher(dbs.handles(), cfg.Reload.Debounce, logger)
		if err != nil {
			slog.Warn("hot reload disabled", "error", err)
		} else {
			defer watcher.Close()
			slog.Info("watching databases for updates", "debounce", cfg.Reload.Debounce.String())
		}
	}

	providers, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	pool := workpool.New(cfg.Workers.Capacity)
	resolver, err := newResolver(dbs, pool, providers, logger)
	if err != nil {
		return err
	}
	orchestrator := batch.NewOrchestrator(resolver, cfg.Batch.MaxItems, logger)

	deps := routerDeps{
		resolver:     resolver,
		orchestrator: orchestrator,
		readyFn:      dbs.location.Ready,
		timeout:      cfg.Lookup.Timeout,
		corsOrigins:  cfg.HTTP.CORSOrigins,
	}
	if cfg.Metrics.Enabled {
		deps.metrics = providers.Handler()
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           newRouter(deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 2)

	var grpcServer *grpcgo.Server
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()

	if cfg.GRPC.Port > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}

		grpcServer = grpcgo.NewServer(grpcgo.UnaryInterceptor(grpchandler.LoggingInterceptor(logger)))
		grpchandler.NewHandler(resolver, orchestrator, cfg.Lookup.Timeout).Register(grpcServer)

		grpcHealth := grpchandler.NewHealth(dbs.location.Ready)
		grpcHealth.Register(grpcServer)
		go grpcHealth.Run(healthCtx, grpcHealthInterval)

		go func() {
			slog.Info("grpc service started", "port", cfg.GRPC.Port)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpcgo.ErrServerStopped) {
				serveErr <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		slog.Info("service started", "port", cfg.HTTP.Port, "workers", pool.Size())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serveErr:
		slog.Error("server failed", "error", runErr)
	}

	slog.Info("service shutting down")

	// Graceful shutdown with 30s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopHealth()
	if grpcServer != nil {
		stopGRPC(shutdownCtx, grpcServer)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		runErr = errors.Join(runErr, err)
	}

	if err := providers.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("service stopped")
	return runErr
}

// stopGRPC drains in-flight calls, forcing a stop when ctx expires first.
func stopGRPC(ctx context.Context, s *grpcgo.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}
