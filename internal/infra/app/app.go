package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
	"github.com/arklim/paid-storage/internal/infra/config"
	"github.com/arklim/paid-storage/internal/infra/database"
	kafkainfra "github.com/arklim/paid-storage/internal/infra/kafka"
	"github.com/arklim/paid-storage/internal/infra/ledger"
	"github.com/arklim/paid-storage/internal/infra/logger"
	redisinfra "github.com/arklim/paid-storage/internal/infra/redis"
	"github.com/arklim/paid-storage/internal/infra/security"
	"github.com/arklim/paid-storage/internal/infra/telemetry"
	memoryrepo "github.com/arklim/paid-storage/internal/repository/memory"
	postgresrepo "github.com/arklim/paid-storage/internal/repository/postgres"
	redisrepo "github.com/arklim/paid-storage/internal/repository/redis"
	transportgrpc "github.com/arklim/paid-storage/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/paid-storage/internal/transport/grpc/interceptors"
	"github.com/arklim/paid-storage/internal/transport/http/middleware"
	"github.com/arklim/paid-storage/internal/transport/http/routes"
	"github.com/arklim/paid-storage/internal/usecase"
)

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	tracer     *telemetry.TracerProvider
	reconciler *usecase.SettlementReconciler
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	tracerProvider := otel.GetTracerProvider()
	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
		tracerProvider = tp.TracerProvider()
	}

	serviceMetrics, err := telemetry.NewServiceMetrics(telemetry.MetricsOptions{})
	if err != nil {
		return fmt.Errorf("init service metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	epoch, err := cfg.Entitlement.Epoch()
	if err != nil {
		return fmt.Errorf("parse period epoch: %w", err)
	}
	clock := domain.NewPeriodClock(epoch, cfg.Entitlement.PeriodLength)

	querier, err := ledger.NewHTTPQuerier(ledger.HTTPQuerierOptions{
		BaseURL:        cfg.Ledger.QueryURL,
		AuthToken:      cfg.Ledger.AuthToken,
		Retries:        cfg.Ledger.RequestRetries,
		TracerProvider: tracerProvider,
	}, log)
	if err != nil {
		return fmt.Errorf("init ledger querier: %w", err)
	}

	policy := domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Entitlement.DegradationPolicy))
	resolver := usecase.NewEntitlementResolver(querier, usecase.EntitlementOptions{
		FreshnessWindow: cfg.Entitlement.FreshnessWindow,
		QueryTimeout:    cfg.Ledger.QueryTimeout,
		Policy:          policy,
	}).WithLogger(log).WithMetrics(serviceMetrics)
	log.Info("entitlement resolver configured",
		zap.Duration("freshness_window", cfg.Entitlement.FreshnessWindow),
		zap.Duration("query_timeout", cfg.Ledger.QueryTimeout),
		zap.String("degradation_policy", string(policy.Mode())),
	)

	var rateLimiter *middleware.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = redisClient

		resolver.WithMirror(redisrepo.NewSettlementMirror(redisClient.Client(), cfg.Redis.SettlementPrefix, cfg.Redis.SettlementTTL))
		rateLimiter = middleware.NewRateLimiter(redisrepo.NewRateLimitRepository(redisClient.Client(), cfg.Redis.RateLimitPrefix), log)
	} else {
		log.Info("redis disabled, settlement mirror and rate limiting are off")
	}

	store, err := a.tenantStore(ctx)
	if err != nil {
		return err
	}

	gate := usecase.NewAccessGate(resolver, store, clock, cfg.Storage.MaxKeyBytes).
		WithLogger(log).
		WithMetrics(serviceMetrics)

	a.reconciler = usecase.NewSettlementReconciler(resolver, clock, usecase.SettlementReconcilerOptions{
		Interval:          cfg.Entitlement.ReconcileInterval,
		ReconnectBaseWait: cfg.Entitlement.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Entitlement.ReconnectMaxWait,
	}, a.subscribers()...).
		WithLogger(log).
		WithObservers(a.observer())

	verifier, err := security.NewDIDTokenVerifier(cfg.Auth.JWTSecret,
		security.WithIssuer(cfg.Auth.Issuer),
		security.WithAudience(cfg.Auth.Audience),
	)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Gate:        gate,
		Verifier:    verifier,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		Gatherer:    prometheus.DefaultGatherer,
	}
	if a.pool != nil {
		deps.Database = a.pool
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	a.engine = routes.Register(deps)

	if cfg.GRPC.Enabled {
		grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{})
		if err != nil {
			return fmt.Errorf("init grpc metrics: %w", err)
		}
		a.grpcServer = transportgrpc.NewServer(transportgrpc.ServerDependencies{
			Metrics:        grpcMetrics,
			TracerProvider: tracerProvider,
			Logger:         log,
		})
		a.grpcAddr = fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	}

	return nil
}

func (a *Application) tenantStore(ctx context.Context) (port.TenantStore, error) {
	cfg := a.cfg
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.pool = pool
		if err := postgresrepo.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return postgresrepo.NewTenantStore(pool, cfg.Storage.LimitBytes), nil
	default:
		a.logger.Info("using in-memory tenant store", zap.Int64("limit_bytes", cfg.Storage.LimitBytes))
		return memoryrepo.NewTenantStore(cfg.Storage.LimitBytes), nil
	}
}

func (a *Application) subscribers() []port.SettlementSubscriber {
	cfg := a.cfg
	subs := make([]port.SettlementSubscriber, 0, 2)
	if cfg.Ledger.SubscribeURL != "" {
		subs = append(subs, ledger.NewWebsocketSubscriber(ledger.WebsocketSubscriberOptions{
			URL:       cfg.Ledger.SubscribeURL,
			EventName: cfg.Ledger.EventName,
			AuthToken: cfg.Ledger.AuthToken,
		}, a.logger))
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.SettlementTopic != "" {
		subs = append(subs, kafkainfra.NewSettlementConsumer(cfg.Kafka, a.logger))
	}
	if len(subs) == 0 {
		a.logger.Warn("no settlement subscription configured, relying on freshness window only")
	}
	return subs
}

func (a *Application) observer() port.SettlementObserver {
	cfg := a.cfg
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.ObserverTopic == "" {
		a.logger.Info("kafka observer not configured, logging settlements only")
		return kafkainfra.NewLoggingSettlementObserver(a.logger)
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, logging settlements only", zap.Error(err))
		return kafkainfra.NewLoggingSettlementObserver(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka settlement publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return kafkainfra.NewSettlementPublisher(producer, cfg.Kafka.ObserverTopic, cfg.App, a.logger)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		if err := a.reconciler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("settlement reconciler stopped", zap.Error(err))
		}
	}()
	defer func() {
		cancelRun()
		<-reconcilerDone
	}()

	grpcErrCh := make(chan error, 1)
	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("gRPC server panicked", zap.Any("panic", r))
					grpcErrCh <- fmt.Errorf("grpc server panicked: %v", r)
				}
			}()
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
		a.grpcServer.MarkServing()
		defer a.grpcServer.Drain()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting paid storage API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage_backend", a.cfg.Storage.Backend),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	case err := <-grpcErrCh:
		return err
	}
}

func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
