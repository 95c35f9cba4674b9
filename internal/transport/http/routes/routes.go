package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
	"github.com/kenjohansen/optin-manager-sub000/internal/transport/http/handlers"
	"github.com/kenjohansen/optin-manager-sub000/internal/transport/http/middleware"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Verification *usecase.VerificationService
	Preferences  *usecase.PreferenceService
	Catalog      *usecase.CatalogService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Dispatcher  handlers.NotificationDispatcher
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
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))

	if deps.Config != nil && len(deps.Config.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	}

	if metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err == nil {
		r.Use(metrics.Handler())
	} else if deps.Logger != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
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

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		isDev := deps.Config != nil && deps.Config.App.IsDev()

		dispatcher := deps.Dispatcher
		if dispatcher == nil {
			dispatcher = handlers.NewLoggingNotificationDispatcher(deps.Logger)
		}

		reviewURL := ""
		if deps.Config != nil {
			reviewURL = deps.Config.Verification.ReviewBaseURL
		}

		verificationHandler := handlers.NewVerificationHandler(deps.Services.Verification, deps.Logger,
			handlers.WithNotificationDispatcher(dispatcher),
			handlers.WithDevMode(isDev),
			handlers.WithReviewURL(reviewURL),
		)
		verificationHandler.RegisterRoutes(api.Group("/verification"), buildSendCodeMiddlewares(deps)...)

		preferenceHandler := handlers.NewPreferenceHandler(deps.Services.Preferences, deps.Logger)
		preferenceHandler.RegisterRoutes(api.Group("/preferences"))

		programHandler := handlers.NewProgramHandler(deps.Services.Catalog, deps.Logger)
		programHandler.RegisterRoutes(api.Group("/programs"))
	}

	return r
}

// buildSendCodeMiddlewares guards the code-send endpoint with a per-IP limit,
// complementing the per-contact limit enforced inside the service.
func buildSendCodeMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.SendMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	return []gin.HandlerFunc{deps.RateLimiter.LimitByClientIP("verification_send_ip", limit, window)}
}
