// Package main serves the docrag tools over MCP, on stdio or streamable HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/docrag/internal/bootstrap"
	"github.com/bull/docrag/internal/config"
	mcpserver "github.com/bull/docrag/internal/mcp"
)

func main() {
	configPath := flag.String("config", os.Getenv("DOCRAG_CONFIG"), "path to a YAML config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	allowFiles := flag.Bool("allow-file-ingest", false, "let ingest_document read files on this host")
	flag.Parse()

	// stdout carries the stdio transport, so logs go to stderr.
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	if err := run(*configPath, *allowFiles, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, allowFiles bool, logger *slog.Logger) error {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server := mcpserver.NewServer(&mcpserver.Config{
		Service:          app.Orchestrator,
		Generator:        app.Generator,
		Persist:          app.SaveSnapshot,
		AllowFileIngest:  allowFiles,
		DefaultTopK:      cfg.Search.TopK,
		DefaultMaxTokens: cfg.Search.MaxTokens,
		BatchSize:        cfg.Embedding.Dispatch.BatchSize,
		Logger:           logger,
	})
	mux := mcpserver.NewMux(server, app.Orchestrator, nil)

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Transport == "http" {
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Stdio mode still serves /health in the background for local checks.
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting docrag MCP server (stdio mode)",
		"embedding", app.Embedder.ModelName(), "storage", cfg.Storage.Driver)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
