package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/config"
	"github.com/coderaid/partysync/internal/eventlog"
	"github.com/coderaid/partysync/internal/server"
	"github.com/coderaid/partysync/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadFakerConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.Int("tokens", len(cfg.Tokens)),
		zap.Float64("ratePerSec", cfg.RatePerSec),
		zap.Int("burst", cfg.Burst),
		zap.Int("pageLimit", cfg.PageLimit),
		zap.String("seedFile", cfg.SeedFile),
		zap.Bool("wsEnabled", cfg.WSEnabled),
	)

	log := eventlog.New(cfg.PageLimit, logger.Named("eventlog"))
	if cfg.SeedFile != "" {
		start := time.Now()
		if _, err := log.LoadJSONL(cfg.SeedFile); err != nil {
			logger.Error("failed to seed event log", zap.Error(err))
			return 1
		}
		logger.Info("seed loaded", zap.Duration("duration", time.Since(start)))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub (optional)
	var hub *ws.Hub
	var nudger server.Nudger
	if cfg.WSEnabled {
		hub = ws.NewHub(cfg.Allows, logger.Named("ws"))
		go hub.Run(ctx)
		nudger = hub
		logger.Info("WebSocket enabled", zap.String("path", "/party/ws"))
	}

	srv := server.NewServer(log, nudger, logger)

	// Create router
	router, err := server.NewRouter(srv, cfg, hub, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// websocket connections outlive any write timeout
		WriteTimeout: 0,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Cancel context to stop WebSocket components
	cancel()

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
