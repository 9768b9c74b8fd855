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
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	apprelay "github.com/neese/crmsync/internal/application/relay"
	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/infrastructure/broker"
	"github.com/neese/crmsync/internal/infrastructure/cache"
	"github.com/neese/crmsync/internal/infrastructure/config"
	"github.com/neese/crmsync/internal/infrastructure/crm"
	"github.com/neese/crmsync/internal/infrastructure/ecommerce"
	"github.com/neese/crmsync/internal/infrastructure/logger"
	"github.com/neese/crmsync/internal/infrastructure/persistence"
	"github.com/neese/crmsync/internal/infrastructure/scheduler"
	"github.com/neese/crmsync/internal/infrastructure/telemetry"
	"github.com/neese/crmsync/internal/interfaces/http/handler"
	"github.com/neese/crmsync/internal/interfaces/http/middleware"
	"github.com/neese/crmsync/internal/interfaces/http/router"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting crmsync",
		zap.String("version", version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()
	clock := clockwork.NewRealClock()
	telemetry.ServiceVersion = version

	// Log export: entries also reach the collector once bridged
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	defer func() {
		if err := loggerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	log = loggerProvider.Bridge(log, logger.ParseLevel(cfg.Log.Level))

	// Tracing
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:           cfg.Telemetry.TracesEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected", zap.String("driver", db.Driver))

	if err := telemetry.InstrumentDB(db.DB, telemetry.DBTracingConfig{
		Enabled:               tracerProvider.IsEnabled() && cfg.Telemetry.DBTraceEnabled,
		DBName:                cfg.Database.DBName,
		IncludeQueryVariables: cfg.Telemetry.DBLogFullSQL,
		SlowQueryThreshold:    cfg.Telemetry.DBSlowQueryThresh,
	}, tracerProvider.Provider(), log); err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}

	ledger := persistence.NewGormLedger(db.DB)
	syncLogs := persistence.NewGormSyncLogRepository(db.DB)

	// Coordination stores: Redis when enabled, in-memory otherwise
	stores, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithClock(clock),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	).CreateStores(ctx)
	if err != nil {
		log.Fatal("Failed to create coordination stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing coordination stores", zap.Error(err))
		}
	}()

	// Metrics
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter("crmsync/sync"), log)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Storefront and CRM adapters
	magazordCfg := ecommerce.NewMagazordConfig(cfg.Magazord.BaseURL, cfg.Magazord.Username, cfg.Magazord.Password)
	magazordCfg.PageLimit = cfg.Magazord.PageLimit
	magazordCfg.MaxPages = cfg.Magazord.MaxPages
	if cfg.Magazord.Timeout > 0 {
		magazordCfg.Timeout = cfg.Magazord.Timeout
	}
	source, err := ecommerce.NewMagazordAdapter(magazordCfg, log)
	if err != nil {
		log.Fatal("Invalid Magazord configuration", zap.Error(err))
	}

	crmCfg := crm.NewWebhookConfig(cfg.CRM.WebhookURL)
	crmCfg.EventDelay = cfg.CRM.EventDelay
	if cfg.CRM.Timeout > 0 {
		crmCfg.Timeout = cfg.CRM.Timeout
	}
	if cfg.CRM.UserAgent != "" {
		crmCfg.UserAgent = cfg.CRM.UserAgent
	}
	sink, err := crm.NewWebhookSink(crmCfg, log, crm.WithTracerProvider(tracerProvider.Provider()))
	if err != nil {
		log.Fatal("Invalid CRM configuration", zap.Error(err))
	}

	persons := cache.NewCachingPersonResolver(source, stores.Persons, cfg.Redis.PersonCacheTTL, log)

	// Optional fan-out of delivered events
	orchestratorOpts := []apprelay.OrchestratorOption{apprelay.WithTracerProvider(tracerProvider.Provider())}
	if cfg.Broker.Enabled {
		publisher, err := broker.NewJetStreamPublisher(ctx, broker.JetStreamConfig{
			URL:             cfg.Broker.URL,
			StreamName:      cfg.Broker.StreamName,
			SubjectPrefix:   cfg.Broker.SubjectPrefix,
			MaxReconnects:   cfg.Broker.MaxReconnects,
			ReconnectWait:   cfg.Broker.ReconnectWait,
			MaxAge:          cfg.Broker.MaxAge,
			Replicas:        cfg.Broker.Replicas,
			DuplicateWindow: cfg.Broker.DuplicateWindow,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error("Error closing event publisher", zap.Error(err))
			}
		}()
		orchestratorOpts = append(orchestratorOpts, apprelay.WithPublisher(publisher))
	}

	// Relay services
	cartPolicy, err := relay.CartStatusPolicyByName(cfg.Sync.CartPolicy)
	if err != nil {
		log.Fatal("Invalid cart policy", zap.Error(err))
	}
	window, err := windowPolicy(&cfg.Sync, clock)
	if err != nil {
		log.Fatal("Invalid sync window", zap.Error(err))
	}

	orderAllowList := relay.SituationSetFromInts(cfg.Sync.OrderAllowList)
	transformer := apprelay.NewTransformer(apprelay.TransformerConfig{
		StorefrontURL:  cfg.Magazord.StorefrontURL,
		OrderAllowList: orderAllowList,
		Clock:          clock,
	}, log)

	orchestrator := apprelay.NewOrchestrator(
		orchestratorConfig(&cfg.Sync, cartPolicy, orderAllowList),
		source, persons, transformer, ledger, sink, log,
		orchestratorOpts...,
	)
	syncService := apprelay.NewSyncService(orchestrator, window, ledger, log,
		apprelay.WithPassLock(stores.PassLock),
		apprelay.WithPassObserver(syncMetrics),
		apprelay.WithSyncLogs(syncLogs),
	)
	retention := apprelay.NewRetentionService(apprelay.RetentionConfig{
		LedgerDays:  cfg.Retention.LedgerDays,
		SyncLogDays: cfg.Retention.SyncLogDays,
	}, ledger, syncLogs, clock, log)
	webhookRelay := apprelay.NewWebhookRelay(transformer, sink, log)

	// Background triggers
	var triggers []*scheduler.CronTrigger
	addTrigger := func(tc scheduler.CronTriggerConfig, job scheduler.JobFunc) {
		trigger, err := scheduler.NewCronTrigger(tc, job, clock, log)
		if err != nil {
			log.Fatal("Invalid trigger configuration", zap.String("trigger", tc.Name), zap.Error(err))
		}
		triggers = append(triggers, trigger)
	}
	if cfg.Sync.Enabled {
		addTrigger(scheduler.CronTriggerConfig{
			Name:       "sync",
			Interval:   cfg.Sync.Interval,
			RunOnStart: true,
		}, scheduler.SyncJob(syncService, log))
	}
	if cfg.Retention.Enabled {
		addTrigger(scheduler.CronTriggerConfig{
			Name:       "retention",
			Interval:   cfg.Retention.Interval,
			JobTimeout: 5 * time.Minute,
		}, scheduler.RetentionJob(retention))
	}
	if meterProvider.IsEnabled() {
		addTrigger(scheduler.CronTriggerConfig{
			Name:       "ledger-stats",
			Interval:   time.Minute,
			RunOnStart: true,
			JobTimeout: 10 * time.Second,
		}, scheduler.LedgerStatsJob(syncService, syncMetrics))
	}

	// HTTP
	webhookHandler := handler.NewWebhookHandler(ecommerce.DecodeMagazordWebhook, webhookRelay, log,
		handler.WithWebhookObserver(syncMetrics),
	)
	systemHandler := handler.NewSystemHandler(version).
		AddCheck("database", db.Ping)
	if stores.Client != nil {
		systemHandler.AddCheck("redis", func(ctx context.Context) error {
			return stores.Client.Ping(ctx).Err()
		})
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	var httpMetrics gin.HandlerFunc
	if meterProvider.IsEnabled() {
		httpMetrics = middleware.HTTPMetrics(meterProvider.Meter("crmsync/http"), log)
	}
	var httpTracing gin.HandlerFunc
	if tracerProvider.IsEnabled() {
		httpTracing = middleware.Tracing(cfg.Telemetry.ServiceName, tracerProvider.Provider())
	}
	engine, err := router.NewEngine(router.EngineConfig{
		Logger:         log,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		CronSecret:     cfg.HTTP.CronSecret,
		Metrics:        httpMetrics,
		Tracing:        httpTracing,
	}, router.Handlers{
		System:      systemHandler,
		Cron:        handler.NewCronHandler(syncService, log),
		Sync:        handler.NewSyncHandler(syncService, syncMetrics),
		Webhook:     webhookHandler,
		Maintenance: handler.NewMaintenanceHandler(retention),
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}
	if cfg.HTTP.CronSecret == "" {
		log.Warn("Cron secret not configured, trigger and maintenance endpoints are open")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	for _, trigger := range triggers {
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start trigger", zap.Error(err))
		}
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, trigger := range triggers {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping trigger", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := webhookHandler.Wait(shutdownCtx); err != nil {
		log.Warn("Pending webhook relays abandoned", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func windowPolicy(cfg *config.SyncConfig, clock clockwork.Clock) (relay.WindowPolicy, error) {
	epoch, err := cfg.Epoch()
	if err != nil {
		return relay.WindowPolicy{}, err
	}
	policy := relay.WindowPolicy{
		Mode:        relay.WindowMode(cfg.WindowMode),
		FixedEpoch:  epoch,
		RollingDays: cfg.RollingDays,
		Overlap:     cfg.Overlap,
		Clock:       clock,
	}
	return policy, policy.Validate()
}

func orchestratorConfig(cfg *config.SyncConfig, cartPolicy relay.CartStatusPolicy, allow relay.SituationSet) apprelay.OrchestratorConfig {
	oc := apprelay.DefaultOrchestratorConfig()
	oc.CartPolicy = cartPolicy
	oc.OrderAllowList = allow
	if len(cfg.ShipmentLookupCodes) > 0 {
		oc.ShipmentLookup = relay.SituationSetFromInts(cfg.ShipmentLookupCodes)
	}
	if len(cfg.PaymentLookupCodes) > 0 {
		oc.PaymentLookup = relay.SituationSetFromInts(cfg.PaymentLookupCodes)
	}
	if cfg.PassTimeout > 0 {
		oc.PassTimeout = cfg.PassTimeout
	}
	if cfg.PassSetLimit > 0 {
		oc.PassSetLimit = cfg.PassSetLimit
	}
	if cfg.PersonConcurrency > 0 {
		oc.PersonConcurrency = cfg.PersonConcurrency
	}
	oc.Retry = apprelay.RetryPolicy{
		Enabled:     cfg.RetryEnabled,
		Horizon:     cfg.RetryHorizon,
		MaxAttempts: cfg.RetryMaxAttempts,
		BatchSize:   cfg.RetryBatchSize,
	}
	return oc
}
