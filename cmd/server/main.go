package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	h "github.com/gorilla/handlers"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/config"
	"github.com/tunekit/tunekit-api/internal/controller"
	"github.com/tunekit/tunekit-api/internal/handlers"
	"github.com/tunekit/tunekit-api/internal/middleware"
	"github.com/tunekit/tunekit-api/internal/migration"
	"github.com/tunekit/tunekit-api/internal/notification"
	"github.com/tunekit/tunekit-api/internal/repository"
	"github.com/tunekit/tunekit-api/internal/routes"
	"github.com/tunekit/tunekit-api/internal/runner"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type application struct {
	config        *config.Config
	db            *sqlx.DB
	logger        zerolog.Logger
	notifications notification.Service
	controller    *controller.Controller
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()

	// Run database migrations.
	migration.RunMigrations(db.DB, cfg.Database.Driver, logger)

	// Initialize notification service.
	notificationRepo := repository.NewNotificationRepository(db)
	notificationService := notification.NewService(notificationRepo, logger)

	// Initialize the Docker-backed training runner.
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Docker client")
	}
	trainingRunner := runner.NewDockerRunner(dockerClient, cfg.Runner, []byte(cfg.JWTSecret), logger)

	// Repositories
	jobRepo := repository.NewJobRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)
	telemetryRepo := repository.NewTelemetryRepository(db, cfg.Telemetry.LogCap)
	datasetRepo := repository.NewDatasetRepository(db)
	modelRepo := repository.NewModelRepository(db)

	jobController := controller.New(
		jobRepo,
		checkpointRepo,
		telemetryRepo,
		datasetRepo,
		modelRepo,
		notificationService,
		trainingRunner,
		logger,
	)

	// Create the application instance.
	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
		controller:    jobController,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.Logging(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	jobRepo := repository.NewJobRepository(app.db)
	checkpointRepo := repository.NewCheckpointRepository(app.db)
	telemetryRepo := repository.NewTelemetryRepository(app.db, app.config.Telemetry.LogCap)
	datasetRepo := repository.NewDatasetRepository(app.db)
	modelRepo := repository.NewModelRepository(app.db)

	healthHandler := handlers.NewHealthHandler(app.db, logger)
	jobHandler := handlers.NewJobHandler(app.controller, jobRepo, checkpointRepo, telemetryRepo, logger)
	datasetHandler := handlers.NewDatasetHandler(datasetRepo, app.config.Runner.DataDir, logger)
	modelHandler := handlers.NewModelHandler(modelRepo, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)
	reportHandler := handlers.NewReportHandler(app.controller, logger)

	return routes.NewRouter(
		healthHandler,
		jobHandler,
		datasetHandler,
		modelHandler,
		notificationHandler,
		reportHandler,
		app.config.JWTSecret,
	)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
