package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bulktok/internal/api/v1/router"
	"bulktok/internal/config"
	"bulktok/internal/logbuf"
	"bulktok/internal/logger"

	"github.com/joho/godotenv"
)

// @title BulkTok API
// @version 1.0
// @description BulkTok bulk video generation API documentation
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	log := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Msgf("Error loading config: %v", err)
	}

	// 2. Mirror logs into the buffer backing /logs
	diag := logbuf.New(cfg.LogBufferCapacity)
	log = log.Hook(logbuf.Hook{Buffer: diag})

	// 3. Build router (and get DB connections)
	r, pool, queueDB, err := router.New(cfg, log, diag)
	if err != nil {
		log.Fatal().Msgf("Failed to build router: %v", err)
	}
	defer pool.Close()
	defer queueDB.Close()

	// 4. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 5. Start server in a goroutine
	go func() {
		log.Info().Msgf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Msgf("Listen: %s\n", err)
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Msgf("Server forced to shutdown: %v", err)
	}
	log.Info().Msg("Server shut down gracefully")
}
