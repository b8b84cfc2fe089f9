package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abdusco/reftrack/internal/auth"
	"github.com/abdusco/reftrack/internal/catalog"
	"github.com/abdusco/reftrack/internal/db"
	"github.com/abdusco/reftrack/internal/handler"
	"github.com/abdusco/reftrack/internal/logger"
	"github.com/abdusco/reftrack/internal/metrics"
	"github.com/abdusco/reftrack/internal/repo"
	"github.com/abdusco/reftrack/internal/stats"
	"github.com/abdusco/reftrack/internal/tracking"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type Config struct {
	Host             string
	Port             string
	DatabaseURL      string
	AdminCreds       string `json:"-"`
	EditorCreds      string `json:"-"`
	JWTSecret        string `json:"-"`
	LogLevel         string
	Debug            bool
	TrackRPS         float64
	TrackBurst       int
	AllowOrigins     []string
	TrustProxy       bool
	ShutdownTimeout  time.Duration
	MetricsNamespace string
}

func newConfigFromEnv() (Config, error) {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Config{
		Host:             cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:             cmp.Or(os.Getenv("PORT"), "8080"),
		DatabaseURL:      cmp.Or(os.Getenv("DATABASE_URL"), os.Getenv("DB_PATH"), "reftrack.db"),
		AdminCreds:       os.Getenv("ADMIN_CREDENTIALS"),
		EditorCreds:      os.Getenv("EDITOR_CREDENTIALS"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:            os.Getenv("DEBUG") == "1",
		TrustProxy:       os.Getenv("TRUST_PROXY") == "1",
		MetricsNamespace: cmp.Or(os.Getenv("METRICS_NAMESPACE"), "reftrack"),
	}

	var err error
	if cfg.TrackRPS, err = strconv.ParseFloat(cmp.Or(os.Getenv("TRACK_RPS"), "5"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid TRACK_RPS: %w", err)
	}
	if cfg.TrackBurst, err = strconv.Atoi(cmp.Or(os.Getenv("TRACK_BURST"), "20")); err != nil {
		return Config{}, fmt.Errorf("invalid TRACK_BURST: %w", err)
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(cmp.Or(os.Getenv("SHUTDOWN_TIMEOUT"), "10s")); err != nil {
		return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	}

	if cfg.AdminCreds == "" {
		cfg.AdminCreds = "admin:admin"
		log.Warn().Msg("using default admin credentials - set ADMIN_CREDENTIALS for production")
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AdminCreds
		log.Warn().Msg("using ADMIN_CREDENTIALS as JWT_SECRET - set JWT_SECRET for production")
	}

	return cfg, nil
}

func main() {
	cfg, err := newConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	if err := logger.Setup(cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to parse log level")
	}

	log.Info().
		Interface("config", cfg).
		Msg("current configuration")

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(ctx context.Context, cfg Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	credentials, err := parseCredentials(cfg)
	if err != nil {
		return err
	}

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.MetricsNamespace, registry)

	referralsRepo := repo.NewReferralsRepo(database)
	clicksRepo := repo.NewClicksRepo(database)

	e := handler.NewRouter(handler.RouterConfig{
		Authenticator: auth.NewAuthenticator(cfg.JWTSecret, credentials...),
		Catalog:       catalog.NewService(referralsRepo),
		Recorder:      tracking.NewRecorder(clicksRepo, tracking.WithMetrics(m)),
		Clicks:        clicksRepo,
		Aggregator:    stats.NewAggregator(clicksRepo),
		Metrics:       m,
		Gatherer:      registry,
		TrackRate:     rate.Limit(cfg.TrackRPS),
		TrackBurst:    cfg.TrackBurst,
		AllowOrigins:  cfg.AllowOrigins,
		TrustProxy:    cfg.TrustProxy,
	})
	defer e.Close()

	log.Info().Str("address", cfg.Port).Msg("server starting")

	// Run server and handle graceful shutdown
	return runServer(ctx, e, cfg)
}

func parseCredentials(cfg Config) ([]auth.Credentials, error) {
	admin, err := auth.NewCredentials(cfg.AdminCreds, auth.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin credentials: %w", err)
	}
	credentials := []auth.Credentials{admin}

	if cfg.EditorCreds != "" {
		editor, err := auth.NewCredentials(cfg.EditorCreds, auth.RoleEditor)
		if err != nil {
			return nil, fmt.Errorf("failed to parse editor credentials: %w", err)
		}
		credentials = append(credentials, editor)
	}
	return credentials, nil
}

func runServer(ctx context.Context, e *echo.Echo, cfg Config) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(":" + cfg.Port)
	}()

	// Wait for context cancellation (Ctrl+C or SIGTERM) or an early listen failure
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
	return nil
}
