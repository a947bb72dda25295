package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting relay server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	logger.Info("=== Server Configuration ===")
	logger.Info("Listen: %s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("CORS: %v", cfg.Server.EnableCORS)
	logger.Info("Heartbeat: %s", cfg.Server.HeartbeatInterval)
	logger.Info("Metrics: %v (port %d)", cfg.Metrics.Enabled, cfg.Metrics.PrometheusPort)
	logger.Info("===========================")

	metrics, err := observability.NewMetricsCollector(cfg.Metrics)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	srv := server.New(cfg.Server, logger, metrics)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metrics.Shutdown(ctx); err != nil {
		logger.Warn("Metrics shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
