package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hirepath/jobsync-server/internal/api"
	"github.com/hirepath/jobsync-server/internal/ats"
	"github.com/hirepath/jobsync-server/internal/config"
	"github.com/hirepath/jobsync-server/internal/store"
	syncmgr "github.com/hirepath/jobsync-server/internal/sync"
	"github.com/hirepath/jobsync-server/internal/sync/scheduler"
	"github.com/hirepath/jobsync-server/internal/telemetry"
	"github.com/hirepath/jobsync-server/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job sync API server",
	Long: `Start the job sync API server.

The server requires a configuration file (--config) that specifies:
- The remote source endpoint and credentials
- Sync interval, mode and lock behavior
- Database connection parameters

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 60 * time.Second // Manual sync triggers run inline and can take a while
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 65 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.Server.GetAddress()
	}

	slog.Info("Starting job sync API server",
		"address", address, "source", cfg.Source.Endpoint, "config", configPath)

	// Database pool and store
	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// Remote source client
	token, err := cfg.Source.GetToken()
	if err != nil {
		return fmt.Errorf("failed to read source credential: %w", err)
	}
	client := ats.NewClient(cfg.Source.Endpoint, token,
		ats.WithTimeout(cfg.Source.GetRequestTimeout()),
		ats.WithMaxRetries(cfg.Source.GetMaxRetries()),
	)

	// Metrics
	registry := prometheus.NewRegistry()
	meterProvider, err := telemetry.NewMeterProvider(registry, versions.GetVersionInfo().Version)
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}
	metrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	manager := syncmgr.NewManager(client, st, cfg, syncmgr.WithMetrics(metrics))

	// Scheduled sync runs under a cancellable background context so an
	// in-flight run finalizes as partial on shutdown.
	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()

	sched := scheduler.New(manager, cfg)
	if err := sched.Start(syncCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	router := api.NewServer(manager, st,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Cancel any in-flight sync run, then wait for the scheduler to drain.
	syncCancel()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
