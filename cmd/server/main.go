// Command server runs the marketsync admin API together with the background
// import, sweep and order status jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/application/integration"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/infrastructure/cache"
	"github.com/storefront/marketsync/internal/infrastructure/config"
	"github.com/storefront/marketsync/internal/infrastructure/ecommerce"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/migration"
	"github.com/storefront/marketsync/internal/infrastructure/persistence"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"github.com/storefront/marketsync/internal/infrastructure/scheduler"
	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
	"github.com/storefront/marketsync/internal/interfaces/http/handler"
	"github.com/storefront/marketsync/internal/interfaces/http/middleware"
	"github.com/storefront/marketsync/internal/interfaces/http/router"
	"github.com/storefront/marketsync/migrations"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.ISO8601Millis,
		Service:    cfg.Telemetry.ServiceName,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting marketsync",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Environment:       cfg.App.Env,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer shutdownWithTimeout(log, "tracer provider", tp.Shutdown)

	// Metrics
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsExporter != telemetry.ExporterNone,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Environment:       cfg.App.Env,
		Insecure:          cfg.Telemetry.Insecure,
		Exporter:          cfg.Telemetry.MetricsExporter,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer shutdownWithTimeout(log, "meter provider", mp.Shutdown)

	marketplaceMetrics, err := telemetry.NewMarketplaceMetrics(telemetry.MarketplaceMetricsConfig{
		Meter:  mp.Meter("marketsync.marketplace"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to initialize marketplace metrics", zap.Error(err))
	}
	defer marketplaceMetrics.Stop()

	// Database
	gormLog := logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	dbInstrumentation, err := telemetry.NewGORMInstrumentation(telemetry.DBConfig{
		Tracing:            cfg.Telemetry.DBTraceEnabled,
		FullSQL:            cfg.Telemetry.DBLogFullSQL,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, mp.Meter("marketsync.db"), log)
	if err != nil {
		log.Fatal("Failed to create database instrumentation", zap.Error(err))
	}
	if err := dbInstrumentation.Register(db.DB); err != nil {
		log.Fatal("Failed to register database instrumentation", zap.Error(err))
	}
	log.Info("Database connected successfully")

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(db, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Idempotency claims and token revocation share one Redis connection
	claims, err := cache.OpenIdempotencyStore(cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() { _ = claims.Close() }()

	readiness := map[string]handler.HealthCheck{
		"database": db.PingContext,
	}
	var blacklist auth.TokenBlacklist = auth.NewInMemoryTokenBlacklist()
	if redisStore, ok := claims.(*cache.RedisIdempotencyStore); ok {
		client := redisStore.Client()
		blacklist = auth.NewRedisTokenBlacklist(client, "")
		readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	// Repositories
	productRepo := persistence.NewGormProductRepository(db.DB)
	categoryRepo := persistence.NewGormCategoryRepository(db.DB)
	categoryMappingRepo := persistence.NewGormCategoryMappingRepository(db.DB)
	syncLogRepo := persistence.NewGormSyncLogRepository(db.DB)
	settingsRepo := persistence.NewGormConnectionSettingsRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	returnRepo := persistence.NewGormOrderReturnRepository(db.DB)
	fulfillmentLogRepo := persistence.NewGormFulfillmentLogRepository(db.DB)

	// Reliability layer
	limits := ratelimit.NewRegistry(log,
		ratelimit.WithPauseHook(marketplaceMetrics.RecordLimiterPause),
		ratelimit.WithPauseBounds(cfg.Reliability.DefaultRetryAfter, cfg.Reliability.MaxPause),
	)
	defer limits.Close()

	breakers := reliability.NewBreakerRegistry(reliability.BreakerConfig{
		FailureThreshold: cfg.Reliability.FailureThreshold,
		ResetTimeout:     cfg.Reliability.ResetTimeout,
	}, reliability.WithStateChangeHook(marketplaceMetrics.RecordBreakerTransition))

	executor := reliability.NewExecutor(breakers, reliability.RetryPolicy{
		MaxRetries:    cfg.Reliability.MaxRetries,
		BaseDelay:     cfg.Reliability.BaseDelay,
		MaxDelay:      cfg.Reliability.MaxDelay,
		Multiplier:    cfg.Reliability.Multiplier,
		MaxRetryAfter: cfg.Reliability.MaxPause,
	}, log,
		reliability.WithRetryHook(marketplaceMetrics.RecordRetry),
		reliability.WithPauseLookup(func(key string) time.Duration {
			return limits.PauseRemaining(marketplace.Name(key))
		}),
	)

	gateway := integration.NewMarketplaceGateway(limits, executor)

	// Marketplace adapters
	adapterConfigs, credentials := adapterSettings(cfg)
	factory := ecommerce.NewFactory(adapterConfigs, limits, log)
	adapters := ecommerce.NewRegistry(factory, settingsRepo, ecommerce.NewStaticCredentialStore(credentials), log)

	// Application services
	connectionService := integration.NewConnectionService(
		settingsRepo, syncLogRepo, adapters, gateway, limits, breakers, log,
	)
	productSyncService := integration.NewProductSyncService(
		productRepo, categoryRepo, categoryMappingRepo, syncLogRepo, adapters, gateway, log,
		integration.WithBatchSize(cfg.Sync.BatchSize),
	)
	productSyncService.SetMarketplaceMetrics(marketplaceMetrics)
	fulfillmentService := integration.NewOrderFulfillmentService(
		orderRepo, returnRepo, fulfillmentLogRepo, adapters, gateway, claims, cfg.Fulfillment.IdempotencyTTL, log,
	)
	fulfillmentService.SetMarketplaceMetrics(marketplaceMetrics)

	created, err := connectionService.EnsureConnections(ctx, connectionSeeds(cfg))
	if err != nil {
		log.Fatal("Failed to seed marketplace connections", zap.Error(err))
	}
	if err := connectionService.ReloadLimits(ctx); err != nil {
		log.Fatal("Failed to load rate limits", zap.Error(err))
	}
	log.Info("Marketplace connections ready",
		zap.Int("created", created),
		zap.Strings("enabled", namesOf(cfg.EnabledMarketplaces())),
	)

	marketplaceMetrics.StartPeriodicCollection(ctx, limits, breakers, cfg.Telemetry.MetricsInterval)

	// Background jobs
	dailySync := integration.DailySyncConfig{
		DelayBetweenCalls: cfg.Sync.DelayBetweenCalls,
		BatchSize:         cfg.Sync.BatchSize,
		MaxConcurrent:     cfg.Sync.MaxConcurrent,
	}
	jobExecutor := scheduler.NewMarketplaceJobExecutor(scheduler.Handlers{
		Import: func(ctx context.Context, name marketplace.Name) (*marketplace.SyncResult, error) {
			return productSyncService.ImportFromMarketplace(ctx, name, integration.ImportOptions{
				MaxProducts: cfg.Sync.MaxProducts,
			})
		},
		DailySweep: func(ctx context.Context, name marketplace.Name) (*marketplace.SyncResult, error) {
			return productSyncService.RunDailySync(ctx, name, dailySync)
		},
		StatusPoll: func(ctx context.Context) (int, []string, error) {
			res, err := fulfillmentService.RefreshOpenOrders(ctx, cfg.Fulfillment.StatusPollLimit)
			if err != nil {
				return 0, nil, err
			}
			return res.Checked, res.Errors, nil
		},
	}, log)

	jobs, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Enabled:           cfg.Scheduler.Enabled,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		RetryAttempts:     cfg.Scheduler.RetryAttempts,
		RetryDelay:        cfg.Scheduler.RetryDelay,
		MaxRetryDelay:     cfg.Scheduler.MaxRetryDelay,
	}, jobExecutor, log)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}
	if err := jobs.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer shutdownWithTimeout(log, "scheduler", jobs.Stop)

	trigger := scheduler.NewIntervalTrigger(scheduler.IntervalTriggerConfig{
		CheckInterval:      cfg.Scheduler.CheckInterval,
		ImportInterval:     cfg.Sync.ImportInterval,
		SweepInterval:      cfg.Sync.SweepInterval,
		StatusPollInterval: cfg.Fulfillment.StatusPollInterval,
	}, jobs, settingsRepo, log)
	if cfg.Scheduler.Enabled {
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start job trigger", zap.Error(err))
		}
		defer shutdownWithTimeout(log, "job trigger", trigger.Stop)
		log.Info("Background jobs scheduled",
			zap.Duration("import_interval", cfg.Sync.ImportInterval),
			zap.Duration("sweep_interval", cfg.Sync.SweepInterval),
			zap.Duration("status_poll_interval", cfg.Fulfillment.StatusPollInterval),
		)
	}

	// HTTP
	tokens := auth.NewTokenService(cfg.JWT)
	engine := newEngine(cfg, log, mp)

	systemHandler := handler.NewSystemHandler(cfg.App.Version, readiness)
	engine.GET("/health", systemHandler.Health)
	engine.GET("/ready", systemHandler.Ready)
	if metricsHandler := mp.Handler(); metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Rate limiting runs after authentication so API calls are keyed by operator
	apiMiddleware := []gin.HandlerFunc{middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		Validator:      tokens,
		TokenBlacklist: blacklist,
		SkipPaths: []string{
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Logger: log,
	})}
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		defer limiter.Stop()
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(limiter))
		log.Info("API rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	r := router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithMiddleware(apiMiddleware...),
	)

	timeout := middleware.Timeout(cfg.HTTP.RequestTimeout)
	for _, g := range handler.SyncRoutes(handler.NewSyncHandler(productSyncService, connectionService)) {
		r.Register(g)
	}
	for _, g := range handler.ConnectionRoutes(handler.NewConnectionHandler(connectionService, connectionService), timeout) {
		r.Register(g)
	}
	for _, g := range handler.OrderRoutes(handler.NewOrderHandler(fulfillmentService), timeout) {
		r.Register(g)
	}
	r.Register(handler.JobRoutes(handler.NewJobHandler(trigger, jobs), timeout)).
		Register(handler.AuthRoutes(handler.NewAuthHandler(tokens, blacklist), timeout)).
		Register(handler.SystemRoutes(systemHandler))
	routes := r.Setup()
	for _, route := range routes {
		log.Debug("Route registered",
			zap.String("group", route.Group),
			zap.String("method", route.Method),
			zap.String("path", route.Path),
			zap.String("description", route.Description),
		)
	}
	log.Info("API routes registered", zap.Int("count", len(routes)))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// stops the trigger and metric collection before the deferred shutdowns run
	stop()
	log.Info("Server exited gracefully")
}

// newEngine builds the gin engine with the middleware every route shares
func newEngine(cfg *config.Config, log *zap.Logger, mp *telemetry.MeterProvider) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Order matters: the request ID must exist before the logger and tracer
	// read it, and recovery must wrap everything after it.
	engine.Use(logger.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	})...)
	engine.Use(middleware.HTTPMetrics(mp, log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	cors := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	engine.Use(middleware.CORSWithConfig(cors))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	return engine
}

// adapterSettings splits the marketplace config into adapter endpoints and
// the credentials the static store serves by reference
func adapterSettings(cfg *config.Config) (map[marketplace.Name]ecommerce.AdapterConfig, map[string]marketplace.Credentials) {
	configs := make(map[marketplace.Name]ecommerce.AdapterConfig, len(cfg.Marketplaces))
	creds := make(map[string]marketplace.Credentials, len(cfg.Marketplaces))
	for name, mc := range cfg.Marketplaces {
		configs[name] = ecommerce.AdapterConfig{
			BaseURL:               mc.BaseURL,
			AuthURL:               mc.AuthURL,
			SiteID:                mc.SiteID,
			Region:                mc.Region,
			UseAWSCredentialChain: name == marketplace.Amazon && mc.Credentials.AWSAccessKeyID == "",
			ShipToCountry:         mc.ShipToCountry,
			TimeoutSeconds:        mc.TimeoutSeconds,
		}
		creds[mc.CredentialRef] = mc.Credentials
	}
	return configs, creds
}

// connectionSeeds lists a connection row for every enabled marketplace
func connectionSeeds(cfg *config.Config) []integration.ConnectionSeed {
	enabled := cfg.EnabledMarketplaces()
	seeds := make([]integration.ConnectionSeed, 0, len(enabled))
	for _, name := range enabled {
		mc := cfg.Marketplaces[name]
		seeds = append(seeds, integration.ConnectionSeed{
			Marketplace:   name,
			CredentialRef: mc.CredentialRef,
			RateLimit:     mc.RateLimit,
		})
	}
	return seeds
}

func applyMigrations(db *persistence.Database, log *zap.Logger) error {
	m, err := migration.NewEmbedded(db.SQL(), migrations.FS, log)
	if err != nil {
		return err
	}
	// Close would also close the pool, which the server keeps using
	return m.Up()
}

func namesOf(names []marketplace.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}
	return out
}

func shutdownWithTimeout(log *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error("Error stopping "+name, zap.Error(err))
	}
}
