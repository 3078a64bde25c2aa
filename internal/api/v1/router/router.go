package router

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"bulktok/internal/api/v1/handler"
	"bulktok/internal/config"
	"bulktok/internal/hedra"
	"bulktok/internal/logbuf"
	"bulktok/internal/middleware"
	"bulktok/internal/pgmq"
	"bulktok/internal/repository"
	"bulktok/internal/service"
	"bulktok/internal/tier"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires the full HTTP surface: repositories on a pgx pool, the pgmq
// queue client on a database/sql handle, and every v1 handler. Both
// database handles are returned so the caller can close them on shutdown.
func New(cfg *config.Config, logger zerolog.Logger, diag *logbuf.Buffer) (http.Handler, *pgxpool.Pool, *sql.DB, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	dsn := normalizeDSN(cfg.DBConnectionString, cfg.Environment)

	// 1. Open the pgx pool used by the repositories
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DB pool")
		return nil, nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Open a database/sql handle for the pgmq queue client
	queueDB, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open queue DB connection")
		return nil, nil, nil, err
	}
	queueDB.SetMaxOpenConns(5)
	queueDB.SetMaxIdleConns(5)
	queueDB.SetConnMaxIdleTime(5 * time.Minute)

	// 3. Initialize S3 client for the video archive
	s3Client, err := service.NewS3Client(context.Background(), cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create S3 client")
		return nil, nil, nil, err
	}

	// 4. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 5. Initialize secret store for per-user Hedra keys
	secrets, err := service.NewSecretStore(context.Background(), cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create secret store")
		return nil, nil, nil, err
	}

	// 6. Initialize repositories, services and handlers
	tiers := tier.NewResolver(cfg.StripePricePro, cfg.StripePriceUnlimited)
	queue := pgmq.New(queueDB)
	hedraFactory := newHedraFactory(cfg, logger)

	profileRepo := repository.NewProfileRepo(pool)
	videoRepo := repository.NewVideoRepo(pool)

	quotaSvc := service.NewQuotaService(profileRepo, logger)
	profileSvc := service.NewProfileService(profileRepo, secrets, quotaSvc, logger)
	stripeSvc := service.NewStripeService(cfg, tiers, profileRepo, logger)
	storageSvc := service.NewStorageService(s3Client, cfg.S3Bucket, logger)
	videoSvc := service.NewVideoService(videoRepo, storageSvc, logger)
	genSvc := service.NewGenerationService(quotaSvc, profileRepo, videoRepo, secrets, hedraFactory, queue, cfg.CompletionQueueName, diag, logger)

	userHandler := handler.NewUserHandler(profileSvc, validate)
	generateHandler := handler.NewGenerateHandler(genSvc, logger)
	billingHandler := handler.NewBillingHandler(stripeSvc, validate, logger)
	videoHandler := handler.NewVideoHandler(videoSvc, logger)
	cronHandler := handler.NewCronHandler(quotaSvc, logger)
	logsHandler := handler.NewLogsHandler(diag)

	// 7. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)
	cronMiddleware := middleware.CronAuthMiddleware(cfg.CronSecret, logger)

	// 8. Create ServeMux router
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	userHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	generateHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	billingHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	videoHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	logsHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	cronHandler.RegisterRoutes(apiV1Mux, cronMiddleware)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Swagger documentation
	mux.HandleFunc("/swagger/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger/swagger.json")
	})
	mux.Handle("/swagger/", http.StripPrefix("/swagger/", http.FileServer(http.Dir("./docs/swagger/swagger-ui"))))

	// Redirect root-level requests to /v1/{path}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || strings.HasPrefix(r.URL.Path, "/swagger/") {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/v1"+r.URL.Path, http.StatusMovedPermanently)
	})

	// 9. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger, c.Handler(mux)), pool, queueDB, nil
}

// newHedraFactory adapts the shared Hedra client factory to the
// generator interface consumed by the generation service.
func newHedraFactory(cfg *config.Config, logger zerolog.Logger) service.GeneratorFactory {
	f := hedra.NewFactory(cfg.HedraBaseURL, cfg.HedraModelID, time.Duration(cfg.HedraRequestTimeoutSec)*time.Second, logger)
	return func(apiKey string) service.BulkGenerator {
		return f(apiKey)
	}
}

// normalizeDSN applies environment-specific connection string tweaks.
// Local development disables SSL; everything else goes through a
// transaction pooler, which needs the simple query protocol because
// server-side prepared statements are not shared across pooled sessions.
func normalizeDSN(dsn, environment string) string {
	if environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := " "
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			if strings.Contains(dsn, "?") {
				separator = "&"
			} else {
				separator = "?"
			}
		}
		dsn += separator + "sslmode=disable"
	}
	if environment != "development" && !strings.Contains(dsn, "prefer_simple_protocol") {
		separator := "&"
		if !strings.Contains(dsn, "?") {
			separator = "?"
		}
		dsn += separator + "prefer_simple_protocol=true"
	}
	return dsn
}

