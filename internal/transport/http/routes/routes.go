package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/infra/config"
	"github.com/arklim/paid-storage/internal/transport/http/handlers"
	"github.com/arklim/paid-storage/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Gate        handlers.StorageGate
	Verifier    middleware.TenantVerifier
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Gatherer)))

	if deps.Gate == nil || deps.Verifier == nil {
		return r
	}

	api := r.Group("/api/v1")
	if limiter := buildClientIPRateLimit(deps); limiter != nil {
		api.Use(limiter)
	}
	api.Use(middleware.RequireTenant(deps.Verifier))
	if limiter := buildTenantRateLimit(deps); limiter != nil {
		api.Use(limiter)
	}

	handlers.NewStorageHandler(deps.Gate, maxBodyBytes(deps.Config)).RegisterRoutes(api)

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// buildClientIPRateLimit runs before authentication and caps bearer-token guessing per client.
func buildClientIPRateLimit(deps Dependencies) gin.HandlerFunc {
	return buildRateLimit(deps, "ip", deps.Config.RateLimit.IPMaxRequests, middleware.ClientIPIdentifier())
}

func buildTenantRateLimit(deps Dependencies) gin.HandlerFunc {
	return buildRateLimit(deps, "tenant", deps.Config.RateLimit.TenantMaxRequests, middleware.TenantIdentifier())
}

func buildRateLimit(deps Dependencies, name string, limit int, identifier middleware.IdentifierFunc) gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	return deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: identifier,
	})
}

// maxBodyBytes bounds write bodies: a value longer than the whole quota can never be admitted.
func maxBodyBytes(cfg *config.AppConfig) int64 {
	if cfg.Storage.LimitBytes <= 0 {
		return 0
	}
	return cfg.Storage.LimitBytes
}
