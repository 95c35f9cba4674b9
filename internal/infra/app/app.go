package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/database"
	kafkainfra "github.com/kenjohansen/optin-manager-sub000/internal/infra/kafka"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/logger"
	redisinfra "github.com/kenjohansen/optin-manager-sub000/internal/infra/redis"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/security"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/telemetry"
	postgresrepo "github.com/kenjohansen/optin-manager-sub000/internal/repository/postgres"
	redisrepo "github.com/kenjohansen/optin-manager-sub000/internal/repository/redis"
	"github.com/kenjohansen/optin-manager-sub000/internal/transport/http/handlers"
	"github.com/kenjohansen/optin-manager-sub000/internal/transport/http/middleware"
	"github.com/kenjohansen/optin-manager-sub000/internal/transport/http/routes"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

// devCredentialSecret signs credentials outside production so the service
// starts without configuration. validate() rejects an empty secret in
// production before this fallback is reached.
const devCredentialSecret = "optin-dev-credential-secret"

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool      *pgxpool.Pool
	redis     *redisinfra.Client
	producer  *kafkainfra.Producer
	telemetry *telemetry.Provider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	telemetryProvider, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	credentialSecret := cfg.Credential.Secret
	if credentialSecret == "" {
		log.Warn("credential secret not configured, using development fallback")
		credentialSecret = devCredentialSecret
	}
	issuer, err := security.NewCredentialIssuer(credentialSecret, cfg.Credential.Issuer, cfg.Credential.TTL)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init credential issuer: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	codeStore := redisrepo.NewCodeStore(redisClient.Client(), cfg.Redis.CodePrefix)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitStore(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "optin:rate-limit",
		TTL:       rateLimitWindow * 2,
	})

	var eventPublisher port.EventPublisher
	var producer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			producer = nil
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.Kafka, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	verificationService := usecase.NewVerificationService(cfg, codeStore, rateLimitStore, eventPublisher, issuer, log)
	verificationService.WithRequestCounter(telemetryProvider.VerificationCounter())
	preferenceService := usecase.NewPreferenceService(repos.Programs, repos.Preferences, eventPublisher, issuer, log)
	catalogService := usecase.NewCatalogService(repos.Programs)

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Dispatcher:  handlers.NewLoggingNotificationDispatcher(log),
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Verification: verificationService,
			Preferences:  preferenceService,
			Catalog:      catalogService,
		},
	})

	return &Application{
		cfg:       cfg,
		engine:    engine,
		logger:    log,
		pool:      pool,
		redis:     redisClient,
		producer:  producer,
		telemetry: telemetryProvider,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.telemetry != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.telemetry.Shutdown(shutdownCtx)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting opt-in manager API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
