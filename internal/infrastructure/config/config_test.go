package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every CRMSYNC_ variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix+"_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "crmsync", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "8080", cfg.App.Port)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2, cfg.Database.MaxIdleConns)

	assert.Equal(t, 100, cfg.Magazord.PageLimit)
	assert.Equal(t, 30*time.Second, cfg.CRM.Timeout)
	assert.Equal(t, "Neese-Integration/1.0", cfg.CRM.UserAgent)
	assert.Equal(t, 500*time.Millisecond, cfg.CRM.EventDelay)

	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 20*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 4*time.Minute, cfg.Sync.PassTimeout)
	assert.Equal(t, "watermark", cfg.Sync.WindowMode)
	assert.Equal(t, 7, cfg.Sync.RollingDays)
	assert.Equal(t, "abandoned-only", cfg.Sync.CartPolicy)
	assert.Equal(t, []int{1, 2, 14}, cfg.Sync.OrderAllowList)
	assert.Equal(t, []int{6, 7, 8}, cfg.Sync.ShipmentLookupCodes)
	assert.True(t, cfg.Sync.RetryEnabled)
	assert.Equal(t, 5, cfg.Sync.RetryMaxAttempts)

	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 30, cfg.Retention.LedgerDays)
	assert.Equal(t, 15, cfg.Retention.SyncLogDays)

	assert.False(t, cfg.Broker.Enabled)
	assert.Equal(t, "CRMSYNC_EVENTS", cfg.Broker.StreamName)
	assert.Equal(t, "crmsync", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.Telemetry.TracesEnabled)
	assert.False(t, cfg.Telemetry.LogsEnabled)
	assert.Equal(t, 1.0, cfg.Telemetry.SamplingRatio)
	assert.Equal(t, 200*time.Millisecond, cfg.Telemetry.DBSlowQueryThresh)
	assert.False(t, cfg.Telemetry.DBLogFullSQL)
}

func TestLoad_TelemetryOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRMSYNC_TELEMETRY_TRACES_ENABLED", "true")
	t.Setenv("CRMSYNC_TELEMETRY_LOGS_ENABLED", "true")
	t.Setenv("CRMSYNC_TELEMETRY_SAMPLING_RATIO", "0")
	t.Setenv("CRMSYNC_TELEMETRY_DB_TRACE_ENABLED", "true")
	t.Setenv("CRMSYNC_TELEMETRY_DB_SLOW_QUERY_THRESHOLD", "50ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.TracesEnabled)
	assert.True(t, cfg.Telemetry.LogsEnabled)
	assert.Zero(t, cfg.Telemetry.SamplingRatio, "an explicit zero is kept")
	assert.True(t, cfg.Telemetry.DBTraceEnabled)
	assert.Equal(t, 50*time.Millisecond, cfg.Telemetry.DBSlowQueryThresh)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRMSYNC_APP_PORT", "3000")
	t.Setenv("CRMSYNC_CRM_WEBHOOK_URL", "https://hooks.example.com/crm")
	t.Setenv("CRMSYNC_SYNC_INTERVAL", "10m")
	t.Setenv("CRMSYNC_SYNC_PASS_TIMEOUT", "2m")
	t.Setenv("CRMSYNC_SYNC_CART_POLICY", "checkout-and-abandoned")
	t.Setenv("CRMSYNC_SYNC_ENABLED", "false")
	t.Setenv("CRMSYNC_DATABASE_DRIVER", "sqlite")
	t.Setenv("CRMSYNC_DATABASE_SQLITE_PATH", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.App.Port)
	assert.Equal(t, "https://hooks.example.com/crm", cfg.CRM.WebhookURL)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "checkout-and-abandoned", cfg.Sync.CartPolicy)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, ":memory:", cfg.Database.DSN())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{
			name: "unknown cart policy",
			env:  map[string]string{"CRMSYNC_SYNC_CART_POLICY": "everything"},
			msg:  "CartPolicy",
		},
		{
			name: "fixed window without epoch",
			env:  map[string]string{"CRMSYNC_SYNC_WINDOW_MODE": "fixed"},
			msg:  "sync.fixed_epoch is required",
		},
		{
			name: "fixed window with bad epoch",
			env: map[string]string{
				"CRMSYNC_SYNC_WINDOW_MODE": "fixed",
				"CRMSYNC_SYNC_FIXED_EPOCH": "yesterday",
			},
			msg: "RFC 3339",
		},
		{
			name: "pass timeout longer than interval",
			env: map[string]string{
				"CRMSYNC_SYNC_INTERVAL":     "1m",
				"CRMSYNC_SYNC_PASS_TIMEOUT": "2m",
			},
			msg: "sync.pass_timeout",
		},
		{
			name: "production without credentials",
			env:  map[string]string{"CRMSYNC_APP_ENV": "production"},
			msg:  "required in production",
		},
		{
			name: "sampling ratio above one",
			env:  map[string]string{"CRMSYNC_TELEMETRY_SAMPLING_RATIO": "1.5"},
			msg:  "SamplingRatio",
		},
		{
			name: "full sql in production",
			env: map[string]string{
				"CRMSYNC_APP_ENV":                   "production",
				"CRMSYNC_MAGAZORD_BASE_URL":         "https://loja.painel.magazord.com.br/api",
				"CRMSYNC_MAGAZORD_USERNAME":         "user",
				"CRMSYNC_MAGAZORD_PASSWORD":         "secret",
				"CRMSYNC_CRM_WEBHOOK_URL":           "https://hooks.example.com/crm",
				"CRMSYNC_HTTP_CRON_SECRET":          "cron",
				"CRMSYNC_DATABASE_PASSWORD":         "db",
				"CRMSYNC_TELEMETRY_DB_LOG_FULL_SQL": "true",
			},
			msg: "db_log_full_sql",
		},
		{
			name: "bad webhook url",
			env:  map[string]string{"CRMSYNC_CRM_WEBHOOK_URL": "not a url"},
			msg:  "WebhookURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad_ProductionComplete(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRMSYNC_APP_ENV", "production")
	t.Setenv("CRMSYNC_MAGAZORD_BASE_URL", "https://loja.painel.magazord.com.br/api")
	t.Setenv("CRMSYNC_MAGAZORD_USERNAME", "user")
	t.Setenv("CRMSYNC_MAGAZORD_PASSWORD", "secret")
	t.Setenv("CRMSYNC_CRM_WEBHOOK_URL", "https://hooks.example.com/crm")
	t.Setenv("CRMSYNC_HTTP_CRON_SECRET", "cron")
	t.Setenv("CRMSYNC_DATABASE_PASSWORD", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.App.IsProduction())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Driver:   "postgres",
		Host:     "db",
		Port:     5432,
		User:     "relay",
		Password: "p@ss word",
		DBName:   "crmsync",
		SSLMode:  "require",
	}
	assert.Equal(t, "postgres://relay:p%40ss%20word@db:5432/crmsync?sslmode=require", d.DSN())

	d.Driver = "sqlite"
	d.SQLitePath = "/data/crmsync.db"
	assert.Equal(t, "/data/crmsync.db", d.DSN())
}

func TestSyncConfig_Epoch(t *testing.T) {
	s := SyncConfig{FixedEpoch: "2025-01-01T00:00:00Z"}
	epoch, err := s.Epoch()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), epoch)

	empty, err := (&SyncConfig{}).Epoch()
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}
