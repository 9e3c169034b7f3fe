// Package main is the entry point for the stub answering server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/capitalize-ai/docchat/internal/config"
	"github.com/capitalize-ai/docchat/internal/stub"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting stub answering server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "docchat-stub", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Create the stub server
	srv, err := stub.NewServer(cfg, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	srv.Start(ctx)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.StubPort,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.StubReadTimeout,
		WriteTimeout: cfg.StubWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", "port", cfg.StubPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	cancel()

	log.Info("server stopped")
}
