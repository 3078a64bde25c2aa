package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"

	"bulktok/internal/config"
	"bulktok/internal/logger"
	"bulktok/internal/orchestrator/completion"
	"bulktok/internal/pgmq"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "completion", "Orchestrator mode: completion")
	flag.Parse()

	// Initialize logger
	log := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Msgf("Error loading config: %v", err)
	}

	// Initialize DB connection
	db, err := sql.Open("postgres", cfg.DBConnectionString)
	if err != nil {
		log.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	log.Info().Msg("Database connection established")

	// Initialize PGMQ client
	pgmqClient := pgmq.New(db)
	log.Info().Msg("PGMQ client initialized")

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Dispatch to the selected orchestrator
	var runErr error
	switch *mode {
	case "completion":
		runErr = completion.Run(ctx, log, pgmqClient)
	default:
		log.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		log.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}

	log.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
