package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/infrastructure/logger"
	"github.com/neese/crmsync/internal/interfaces/http/handler"
	"github.com/neese/crmsync/internal/interfaces/http/middleware"
)

// Handlers bundles the HTTP handlers of the relay service
type Handlers struct {
	System      *handler.SystemHandler
	Cron        *handler.CronHandler
	Sync        *handler.SyncHandler
	Webhook     *handler.WebhookHandler
	Maintenance *handler.MaintenanceHandler
}

// EngineConfig configures the gin engine
type EngineConfig struct {
	Logger         *zap.Logger
	MaxBodySize    int64
	TrustedProxies []string
	CronSecret     string
	// Metrics is the HTTP metrics middleware, nil when metrics are off
	Metrics gin.HandlerFunc
	// Tracing opens the request span, nil when tracing is off
	Tracing gin.HandlerFunc
}

// quietPaths are probes logged at debug when they succeed
var quietPaths = []string{"/health", "/api/v1/webhook/health", "/api/v1/system/ping"}

// NewEngine builds the gin engine with the global middleware chain and
// every relay route registered
func NewEngine(cfg EngineConfig, h Handlers) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	chain := []gin.HandlerFunc{middleware.RequestID(log)}
	if cfg.Tracing != nil {
		chain = append(chain, cfg.Tracing, middleware.SpanAttributes())
	}
	chain = append(chain, logger.GinMiddleware(log, quietPaths...), logger.Recovery(log))
	if cfg.Metrics != nil {
		chain = append(chain, cfg.Metrics)
	}
	chain = append(chain, middleware.Secure(), middleware.BodyLimit(cfg.MaxBodySize))
	engine.Use(chain...)

	api := NewAPI(engine).Add(relayGroups(h, middleware.CronSecret(cfg.CronSecret))...)
	api.Mount()
	h.System.SetEndpoints(api.Endpoints())

	engine.GET("/", h.System.Index)
	engine.GET("/health", h.System.Health)
	engine.NoRoute(h.System.NotFound)
	return engine, nil
}

// relayGroups is the route table. Sync triggers and housekeeping sit behind
// the cron secret; storefront webhooks cannot send it.
func relayGroups(h Handlers, cronSecret gin.HandlerFunc) []*Group {
	return []*Group{
		NewGroup("/cron", cronSecret).
			GET("cron", "", "scheduled sync pass", h.Cron.Scheduled).
			POST("cronManual", "/manual", "manual sync pass", h.Cron.Manual),
		NewGroup("/webhook").
			POST("webhook", "/magazord", "Magazord notifications", h.Webhook.Magazord).
			GET("health", "/health", "webhook status", h.Webhook.Health),
		NewGroup("/sync").
			GET("syncLogs", "/logs", "pass history", h.Sync.ListLogs),
		NewGroup("/ledger").
			GET("ledger", "/stats", "ledger counts", h.Sync.LedgerStats),
		NewGroup("/maintenance", cronSecret).
			POST("cleanup", "/cleanup", "retention purge", h.Maintenance.Cleanup),
		NewGroup("/system").
			GET("", "/info", "", h.System.GetSystemInfo).
			GET("", "/ping", "", h.System.Ping),
	}
}
