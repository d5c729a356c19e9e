package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"paycollect/internal/common/database"
	"paycollect/internal/common/middleware"
	natspkg "paycollect/internal/common/nats"
	"paycollect/internal/daraja"
	"paycollect/internal/payments"
	paymentsapi "paycollect/internal/payments/api"
	"paycollect/migrations"
)

// Config holds service configuration
type Config struct {
	Port           int    `envconfig:"PORT" default:"5001"`
	Environment    string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"json"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	NATSEnabled    bool   `envconfig:"NATS_ENABLED" default:"false"`

	Database database.Config
	NATS     natspkg.Config
	Daraja   daraja.Config
}

func main() {
	// Local development reads a .env file; missing is fine.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Database
	if err := database.Migrate(migrations.FS, cfg.Database.URL, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Events (optional)
	var publisher payments.Publisher
	if cfg.NATSEnabled {
		nc, err := natspkg.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		if err := nc.EnsureStream(ctx, "PAYMENTS", []string{"payments.>"}); err != nil {
			logger.Error("failed to ensure payments stream", "error", err)
			os.Exit(1)
		}
		publisher = natspkg.NewPublisher(nc, logger)
	}

	// Services
	gateway := payments.NewDarajaGateway(daraja.NewClient(cfg.Daraja, logger))
	store := payments.NewPostgresStore(db)
	service := payments.NewService(store, gateway, publisher, logger)

	// Handlers
	handler := paymentsapi.NewHandler(service, logger)

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(strings.Split(cfg.AllowedOrigins, ",")))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Mount("/", handler.Routes())
	})

	// The gateway posts results here.
	r.Post("/callbacks/daraja", handler.Callback)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting paycollect service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
