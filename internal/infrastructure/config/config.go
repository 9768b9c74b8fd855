package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "CRMSYNC"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Magazord  MagazordConfig
	CRM       CRMConfig
	Sync      SyncConfig
	Retention RetentionConfig
	HTTP      HTTPConfig
	Broker    BrokerConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string `validate:"oneof=development testing staging production"`
	Port string `validate:"required,numeric"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string `validate:"oneof=postgres sqlite"`
	Host            string
	Port            int `validate:"gte=0,lte=65535"`
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string // file path or ":memory:" when Driver is sqlite
	MaxOpenConns    int    `validate:"gte=1"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime int    // in minutes
	ConnMaxIdleTime int    // in minutes
	SlowQuery       time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           int
	Password       string
	DB             int
	KeyPrefix      string
	PersonCacheTTL time.Duration
}

// MagazordConfig holds storefront API settings
type MagazordConfig struct {
	BaseURL       string `validate:"omitempty,url"`
	Username      string
	Password      string
	StorefrontURL string `validate:"omitempty,url"` // base URL for cart recovery links
	PageLimit     int    `validate:"gte=1,lte=100"`
	MaxPages      int    `validate:"gte=1"`
	Timeout       time.Duration
}

// CRMConfig holds CRM webhook settings
type CRMConfig struct {
	WebhookURL string `validate:"omitempty,url"`
	Timeout    time.Duration
	UserAgent  string
	EventDelay time.Duration // pause between consecutive events
}

// SyncConfig holds sync pass settings
type SyncConfig struct {
	Enabled             bool
	Interval            time.Duration
	PassTimeout         time.Duration
	WindowMode          string `validate:"oneof=watermark rolling fixed"`
	FixedEpoch          string // RFC 3339, required when WindowMode is fixed
	RollingDays         int    `validate:"gte=1"`
	Overlap             time.Duration
	CartPolicy          string `validate:"oneof=abandoned-only checkout-only checkout-and-abandoned all-open"`
	OrderAllowList      []int
	ShipmentLookupCodes []int // effective only for codes also in OrderAllowList
	PaymentLookupCodes  []int
	PassSetLimit        int
	PersonConcurrency   int
	RetryEnabled        bool
	RetryMaxAttempts    int `validate:"gte=1"`
	RetryHorizon        time.Duration
	RetryBatchSize      int `validate:"gte=0"`
}

// RetentionConfig holds housekeeping settings
type RetentionConfig struct {
	Enabled     bool
	LedgerDays  int `validate:"gte=1"`
	SyncLogDays int `validate:"gte=1"`
	Interval    time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodySize    int64
	CronSecret     string // checked against X-Cron-Secret when set
	TrustedProxies []string
}

// BrokerConfig holds NATS JetStream settings for event fan-out
type BrokerConfig struct {
	Enabled         bool
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	Replicas        int
	DuplicateWindow time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration. Metrics, traces and
// logs share the collector but are switched on separately.
type TelemetryConfig struct {
	Enabled           bool   // metrics export
	CollectorEndpoint string // OTEL Collector endpoint (e.g., "localhost:4317")
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	ExportInterval    time.Duration
	TracesEnabled     bool
	SamplingRatio     float64 `validate:"gte=0,lte=1"`
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Record query variables (dev only)
	DBSlowQueryThresh time.Duration // Slow query mark on database spans
}

// Load loads configuration from .env, TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CRMSYNC_ prefix (e.g., CRMSYNC_CRM_WEBHOOK_URL)
// 2. .env file (does not override variables already set)
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			SlowQuery:       v.GetDuration("database.slow_query"),
		},
		Redis: RedisConfig{
			Enabled:        v.GetBool("redis.enabled"),
			Host:           v.GetString("redis.host"),
			Port:           v.GetInt("redis.port"),
			Password:       v.GetString("redis.password"),
			DB:             v.GetInt("redis.db"),
			KeyPrefix:      v.GetString("redis.key_prefix"),
			PersonCacheTTL: v.GetDuration("redis.person_cache_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Magazord: MagazordConfig{
			BaseURL:       v.GetString("magazord.base_url"),
			Username:      v.GetString("magazord.username"),
			Password:      v.GetString("magazord.password"),
			StorefrontURL: v.GetString("magazord.storefront_url"),
			PageLimit:     v.GetInt("magazord.page_limit"),
			MaxPages:      v.GetInt("magazord.max_pages"),
			Timeout:       v.GetDuration("magazord.timeout"),
		},
		CRM: CRMConfig{
			WebhookURL: v.GetString("crm.webhook_url"),
			Timeout:    v.GetDuration("crm.timeout"),
			UserAgent:  v.GetString("crm.user_agent"),
			EventDelay: v.GetDuration("crm.event_delay"),
		},
		Sync: SyncConfig{
			Enabled:             v.GetBool("sync.enabled"),
			Interval:            v.GetDuration("sync.interval"),
			PassTimeout:         v.GetDuration("sync.pass_timeout"),
			WindowMode:          v.GetString("sync.window_mode"),
			FixedEpoch:          v.GetString("sync.fixed_epoch"),
			RollingDays:         v.GetInt("sync.rolling_days"),
			Overlap:             v.GetDuration("sync.overlap"),
			CartPolicy:          v.GetString("sync.cart_policy"),
			OrderAllowList:      v.GetIntSlice("sync.order_allow_list"),
			ShipmentLookupCodes: v.GetIntSlice("sync.shipment_lookup_codes"),
			PaymentLookupCodes:  v.GetIntSlice("sync.payment_lookup_codes"),
			PassSetLimit:        v.GetInt("sync.pass_set_limit"),
			PersonConcurrency:   v.GetInt("sync.person_concurrency"),
			RetryEnabled:        v.GetBool("sync.retry_enabled"),
			RetryMaxAttempts:    v.GetInt("sync.retry_max_attempts"),
			RetryHorizon:        v.GetDuration("sync.retry_horizon"),
			RetryBatchSize:      v.GetInt("sync.retry_batch_size"),
		},
		Retention: RetentionConfig{
			Enabled:     v.GetBool("retention.enabled"),
			LedgerDays:  v.GetInt("retention.ledger_days"),
			SyncLogDays: v.GetInt("retention.sync_log_days"),
			Interval:    v.GetDuration("retention.interval"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			CronSecret:     v.GetString("http.cron_secret"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Broker: BrokerConfig{
			Enabled:         v.GetBool("broker.enabled"),
			URL:             v.GetString("broker.url"),
			StreamName:      v.GetString("broker.stream_name"),
			SubjectPrefix:   v.GetString("broker.subject_prefix"),
			MaxReconnects:   v.GetInt("broker.max_reconnects"),
			ReconnectWait:   v.GetDuration("broker.reconnect_wait"),
			MaxAge:          v.GetDuration("broker.max_age"),
			Replicas:        v.GetInt("broker.replicas"),
			DuplicateWindow: v.GetDuration("broker.duplicate_window"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			TracesEnabled:     v.GetBool("telemetry.traces_enabled"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	// Toggles default to on unless explicitly disabled
	if !v.IsSet("sync.enabled") {
		cfg.Sync.Enabled = true
	}
	if !v.IsSet("sync.retry_enabled") {
		cfg.Sync.RetryEnabled = true
	}
	if !v.IsSet("retention.enabled") {
		cfg.Retention.Enabled = true
	}
	if !v.IsSet("telemetry.sampling_ratio") {
		cfg.Telemetry.SamplingRatio = 1.0
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "crmsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "crmsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "crmsync.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.SlowQuery == 0 {
		cfg.Database.SlowQuery = 200 * time.Millisecond
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "crmsync:"
	}
	if cfg.Redis.PersonCacheTTL == 0 {
		cfg.Redis.PersonCacheTTL = 30 * time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Magazord.PageLimit == 0 {
		cfg.Magazord.PageLimit = 100
	}
	if cfg.Magazord.MaxPages == 0 {
		cfg.Magazord.MaxPages = 20
	}
	if cfg.Magazord.Timeout == 0 {
		cfg.Magazord.Timeout = 30 * time.Second
	}

	if cfg.CRM.Timeout == 0 {
		cfg.CRM.Timeout = 30 * time.Second
	}
	if cfg.CRM.UserAgent == "" {
		cfg.CRM.UserAgent = "Neese-Integration/1.0"
	}
	if cfg.CRM.EventDelay == 0 {
		cfg.CRM.EventDelay = 500 * time.Millisecond
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 20 * time.Minute
	}
	if cfg.Sync.PassTimeout == 0 {
		cfg.Sync.PassTimeout = 4 * time.Minute
	}
	if cfg.Sync.WindowMode == "" {
		cfg.Sync.WindowMode = "watermark"
	}
	if cfg.Sync.RollingDays == 0 {
		cfg.Sync.RollingDays = 7
	}
	if cfg.Sync.Overlap == 0 {
		cfg.Sync.Overlap = 5 * time.Minute
	}
	if cfg.Sync.CartPolicy == "" {
		cfg.Sync.CartPolicy = "abandoned-only"
	}
	if len(cfg.Sync.OrderAllowList) == 0 {
		cfg.Sync.OrderAllowList = []int{1, 2, 14}
	}
	if len(cfg.Sync.ShipmentLookupCodes) == 0 {
		cfg.Sync.ShipmentLookupCodes = []int{6, 7, 8}
	}
	if len(cfg.Sync.PaymentLookupCodes) == 0 {
		cfg.Sync.PaymentLookupCodes = []int{1, 2, 14}
	}
	if cfg.Sync.PassSetLimit == 0 {
		cfg.Sync.PassSetLimit = 10000
	}
	if cfg.Sync.PersonConcurrency == 0 {
		cfg.Sync.PersonConcurrency = 8
	}
	if cfg.Sync.RetryMaxAttempts == 0 {
		cfg.Sync.RetryMaxAttempts = 5
	}
	if cfg.Sync.RetryHorizon == 0 {
		cfg.Sync.RetryHorizon = 72 * time.Hour
	}
	if cfg.Sync.RetryBatchSize == 0 {
		cfg.Sync.RetryBatchSize = 50
	}

	if cfg.Retention.LedgerDays == 0 {
		cfg.Retention.LedgerDays = 30
	}
	if cfg.Retention.SyncLogDays == 0 {
		cfg.Retention.SyncLogDays = 15
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = 48 * time.Hour
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// Manual passes answer synchronously
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 120 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}

	if cfg.Broker.URL == "" {
		cfg.Broker.URL = "nats://localhost:4222"
	}
	if cfg.Broker.StreamName == "" {
		cfg.Broker.StreamName = "CRMSYNC_EVENTS"
	}
	if cfg.Broker.SubjectPrefix == "" {
		cfg.Broker.SubjectPrefix = "crmsync.events"
	}
	if cfg.Broker.MaxReconnects == 0 {
		cfg.Broker.MaxReconnects = 10
	}
	if cfg.Broker.ReconnectWait == 0 {
		cfg.Broker.ReconnectWait = 2 * time.Second
	}
	if cfg.Broker.MaxAge == 0 {
		cfg.Broker.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Broker.Replicas == 0 {
		cfg.Broker.Replicas = 1
	}
	if cfg.Broker.DuplicateWindow == 0 {
		cfg.Broker.DuplicateWindow = 2 * time.Hour
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate checks configuration for required values and constraints
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.WindowMode == "fixed" {
		if c.Sync.FixedEpoch == "" {
			return fmt.Errorf("sync.fixed_epoch is required when sync.window_mode is fixed")
		}
		if _, err := c.Sync.Epoch(); err != nil {
			return fmt.Errorf("sync.fixed_epoch must be RFC 3339: %w", err)
		}
	}

	if c.Sync.PassTimeout >= c.Sync.Interval {
		return fmt.Errorf("sync.pass_timeout (%s) must be shorter than sync.interval (%s)",
			c.Sync.PassTimeout, c.Sync.Interval)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Magazord.BaseURL == "" || c.Magazord.Username == "" || c.Magazord.Password == "" {
			return fmt.Errorf("magazord.base_url, magazord.username and magazord.password are required in production")
		}
		if c.CRM.WebhookURL == "" {
			return fmt.Errorf("crm.webhook_url is required in production")
		}
		if c.HTTP.CronSecret == "" {
			return fmt.Errorf("http.cron_secret is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	return nil
}

// Epoch parses the fixed window epoch
func (s *SyncConfig) Epoch() (time.Time, error) {
	if s.FixedEpoch == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s.FixedEpoch)
}

// IsProduction reports whether the app runs in production
func (a *AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
