package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig controls span creation for GORM statements
type DBTracingConfig struct {
	Enabled               bool
	DBName                string
	IncludeQueryVariables bool
	// SlowQueryThreshold flags spans of statements slower than this; zero
	// turns the flag off
	SlowQueryThreshold time.Duration
}

const startedAtKey = "crmsync:span_started_at"

// InstrumentDB registers the otelgorm plugin on db and adds row counts and
// slow query marks to its spans
func InstrumentDB(db *gorm.DB, cfg DBTracingConfig, tp trace.TracerProvider, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(cfg.DBName),
		otelgorm.WithTracerProvider(tp),
	}
	if !cfg.IncludeQueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("register otelgorm plugin: %w", err)
	}

	cb := db.Callback()
	after := annotator(cfg)
	hooks := []struct {
		callback interface {
			Register(string, func(*gorm.DB)) error
		}
		name string
		fn   func(*gorm.DB)
	}{
		{cb.Create().Before("gorm:create"), "before:create", markStart},
		{cb.Create().After("gorm:create").Before("otel:after:create"), "after:create", after},
		{cb.Query().Before("gorm:query"), "before:query", markStart},
		{cb.Query().After("gorm:query").Before("otel:after:query"), "after:query", after},
		{cb.Update().Before("gorm:update"), "before:update", markStart},
		{cb.Update().After("gorm:update").Before("otel:after:update"), "after:update", after},
		{cb.Delete().Before("gorm:delete"), "before:delete", markStart},
		{cb.Delete().After("gorm:delete").Before("otel:after:delete"), "after:delete", after},
		{cb.Row().Before("gorm:row"), "before:row", markStart},
		{cb.Row().After("gorm:row").Before("otel:after:row"), "after:row", after},
		{cb.Raw().Before("gorm:raw"), "before:raw", markStart},
		{cb.Raw().After("gorm:raw").Before("otel:after:raw"), "after:raw", after},
	}
	for _, h := range hooks {
		if err := h.callback.Register("crmsync:"+h.name, h.fn); err != nil {
			return fmt.Errorf("register %s hook: %w", h.name, err)
		}
	}

	logger.Info("Database tracing enabled",
		zap.String("db_name", cfg.DBName),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
	)
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func annotator(cfg DBTracingConfig) func(*gorm.DB) {
	return func(db *gorm.DB) {
		span := trace.SpanFromContext(db.Statement.Context)
		if !span.IsRecording() {
			return
		}

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}

		if cfg.SlowQueryThreshold > 0 {
			if v, ok := db.InstanceGet(startedAtKey); ok {
				if elapsed := time.Since(v.(time.Time)); elapsed >= cfg.SlowQueryThreshold {
					span.SetAttributes(attribute.Bool("db.slow_query", true))
					span.AddEvent("slow_query", trace.WithAttributes(
						attribute.Int64("db.duration_ms", elapsed.Milliseconds()),
					))
				}
			}
		}

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			RecordError(span, db.Error)
		}
	}
}
