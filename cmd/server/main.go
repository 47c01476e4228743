/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the sales pipeline server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, environment) and apply command-line flags
  2. Configure structured logging
  3. Open the selected store (memory, SQLite or Redis)
  4. Load payment terms and wire the services
  5. Configure HTTP router and the overdue scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -store   memory | sqlite | redis
  -db      SQLite database path, ":memory:" allowed
  -redis   Redis URL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/sales.db"

  # Run against Redis
  ./server -store=redis -redis="redis://localhost:6379/0"

  # Run with nothing persisted
  ./server -store=memory

ENVIRONMENT:
  See config/config.go for every variable.

SEE ALSO:
  - api/server.go: Router configuration
  - factory/engine.go: Service wiring
  - store/sqlite, store/redis: Store implementations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/sales-engine/api"
	"github.com/warp/sales-engine/config"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/crm/store"
	"github.com/warp/sales-engine/factory"
	"github.com/warp/sales-engine/store/redis"
	"github.com/warp/sales-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	backend := flag.String("store", cfg.Store, "Store backend: memory, sqlite or redis")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	redisURL := flag.String("redis", cfg.RedisURL, "Redis URL")
	flag.Parse()
	cfg.Port, cfg.Store, cfg.DBPath, cfg.RedisURL = *port, *backend, *dbPath, *redisURL

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	st, closer, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("store ready", "store", cfg.Store)

	terms := crm.NewPaymentTerms(cfg.DefaultPaymentTermsDays)
	if cfg.PaymentTermsFile != "" {
		if terms, err = factory.LoadPaymentTerms(cfg.PaymentTermsFile, cfg.DefaultPaymentTermsDays); err != nil {
			return err
		}
		logger.Info("payment terms loaded", "file", cfg.PaymentTermsFile)
	}

	// Wire services and handler
	engine := factory.NewEngine(st, factory.Options{Logger: logger, Terms: terms})
	handler := api.NewHandler(engine)
	handler.Logger = logger

	router := api.NewRouter(handler, cfg.CORSOrigins...)

	scheduler := api.NewOverdueScheduler(engine.Invoices)
	scheduler.Logger = logger
	scheduler.CheckInterval = cfg.OverdueCheckInterval
	scheduler.Enabled = cfg.OverdueCheckInterval > 0
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "api", fmt.Sprintf("http://localhost:%d/api", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg *config.Config) (crm.EntityStore, io.Closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewTxMemory(), nopCloser{}, nil
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize database: %w", err)
		}
		return s, s, nil
	case config.StoreRedis:
		s, err := redis.New(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
