/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the wallet engine server: configuration, logger,
  database pool, schema bootstrap, HTTP router, graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags with env fallbacks
  2. Build the zap logger
  3. Open the postgres pool, migrate schema, seed system accounts
  4. Wire the wallet service and chi router
  5. Serve until SIGINT/SIGTERM, then drain

CONFIGURATION:
  -port              HTTP port            (env PORT, default 8080)
  -database-url      Postgres DSN         (env DATABASE_URL)
  -log-level         zap level            (env LOG_LEVEL, default info)
  -min-conns         pool minimum         (default 10)
  -max-conns         pool maximum         (default 50)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  in-flight requests, then close the pool. Transactions still open at the
  hard timeout are rolled back by the database on connection close.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/wallet-engine/api"
	"github.com/warp/wallet-engine/store/postgres"
	"github.com/warp/wallet-engine/wallet"
)

func main() {
	_ = godotenv.Load() // optional; real deployments inject env directly

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	minConns := flag.Int("min-conns", 10, "minimum pool connections")
	maxConns := flag.Int("max-conns", 50, "maximum pool connections")
	flag.Parse()

	logger, err := buildLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *databaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	store, err := postgres.New(ctx, postgres.Config{
		URL:      *databaseURL,
		MinConns: int32(*minConns),
		MaxConns: int32(*maxConns),
	}, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	if err := store.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}

	service := wallet.NewService(store, wallet.Config{}, nil, logger)
	handler := api.NewHandler(service, store, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
