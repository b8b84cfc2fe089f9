package handler

import (
	"net/http"
	"time"

	"github.com/abdusco/reftrack/internal/auth"
	"github.com/abdusco/reftrack/internal/catalog"
	"github.com/abdusco/reftrack/internal/metrics"
	"github.com/abdusco/reftrack/internal/stats"
	"github.com/abdusco/reftrack/internal/tracking"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	Authenticator *auth.Authenticator
	Catalog       *catalog.Service
	Recorder      *tracking.Recorder
	Clicks        ClickFinder
	Aggregator    *stats.Aggregator

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// TrackRate limits POST /api/track per client IP. Zero disables it.
	TrackRate    rate.Limit
	TrackBurst   int
	AllowOrigins []string

	// TrustProxy takes the client IP from X-Forwarded-For, but only across
	// loopback and private-network hops. Otherwise the socket peer is used.
	TrustProxy bool
}

// NewRouter wires handlers, middleware and route gating into an echo
// instance.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.IPExtractor = echo.ExtractIPDirect()
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	// outermost, so requests that panic are still counted
	e.Use(cfg.Metrics.Middleware())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowCredentials: true,
	}))
	e.Use(cfg.Authenticator.Identify())
	e.Use(auth.NewGate(auth.DefaultRules))

	authHandler := NewAuthHandler(cfg.Authenticator)
	referralHandler := NewReferralHandler(cfg.Catalog)
	clickHandler := NewClickHandler(cfg.Recorder, cfg.Clicks, cfg.Catalog)
	statsHandler := NewStatsHandler(cfg.Aggregator)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	e.POST("/login", authHandler.Login)
	e.GET("/logout", authHandler.Logout)
	e.GET("/r/:slug", clickHandler.Redirect)

	api := e.Group("/api")

	var trackMiddleware []echo.MiddlewareFunc
	if cfg.TrackRate > 0 {
		trackMiddleware = append(trackMiddleware, newTrackLimiter(cfg.TrackRate, cfg.TrackBurst))
	}
	api.POST("/track", clickHandler.Track, trackMiddleware...)
	api.GET("/catalog", referralHandler.Catalog)
	api.GET("/me", authHandler.Me)
	api.GET("/stats", statsHandler.Stats)

	admin := api.Group("/admin")
	admin.POST("/referrals", referralHandler.Create)
	admin.GET("/referrals", referralHandler.List)
	admin.GET("/referrals/:id", referralHandler.Get)
	admin.PATCH("/referrals/:id", referralHandler.Update)
	admin.DELETE("/referrals/:id", referralHandler.Delete)
	admin.GET("/referrals/:id/clicks", clickHandler.ListByReferral)
	admin.POST("/clicks/:id/convert", clickHandler.Convert)

	return e
}

func newTrackLimiter(limit rate.Limit, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      limit,
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			log.Warn().Str("ip", identifier).Msg("track rate limit exceeded")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
