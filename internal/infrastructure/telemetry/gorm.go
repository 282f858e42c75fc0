package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBConfig controls GORM instrumentation
type DBConfig struct {
	// Tracing registers the otelgorm plugin so every statement gets a span
	Tracing bool
	// FullSQL keeps bound variables in span statements
	FullSQL bool
	// SlowQueryThreshold marks and logs statements slower than this (default 200ms)
	SlowQueryThreshold time.Duration
	// DBSystem is reported as db.system, e.g. postgresql or sqlite
	DBSystem string
}

// GORMInstrumentation adds spans, query metrics and slow query logging to a
// *gorm.DB. Metrics are recorded only when a meter is supplied.
type GORMInstrumentation struct {
	config DBConfig
	logger *zap.Logger

	queryTotal    *Counter
	queryDuration *Histogram
	slowTotal     *Counter
}

type queryStartKey struct{}

// NewGORMInstrumentation creates the instrumentation; meter may be nil
func NewGORMInstrumentation(cfg DBConfig, meter metric.Meter, logger *zap.Logger) (*GORMInstrumentation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}

	g := &GORMInstrumentation{config: cfg, logger: logger}
	if meter == nil {
		return g, nil
	}

	var err error
	if g.queryTotal, err = NewCounter(meter, "marketsync_db_queries_total", "Statements executed through GORM", "{queries}"); err != nil {
		return nil, err
	}
	if g.slowTotal, err = NewCounter(meter, "marketsync_db_slow_queries_total", "Statements slower than the slow query threshold", "{queries}"); err != nil {
		return nil, err
	}
	g.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "marketsync_db_query_duration_seconds",
		Description: "GORM statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Register installs the callbacks on db. The otelgorm plugin goes first so
// the after callbacks see its span in the statement context.
func (g *GORMInstrumentation) Register(db *gorm.DB) error {
	if g.config.Tracing {
		opts := []otelgorm.Option{otelgorm.WithDBName(g.config.DBSystem)}
		if !g.config.FullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	// after hooks run ahead of otelgorm's so its span is still recording
	cb := db.Callback()
	hooks := []struct {
		op     string
		before callbackRegistrar
		after  callbackRegistrar
	}{
		{"create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create").Before("otel:after:create")},
		{"query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query").Before("otel:after:select")},
		{"update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update").Before("otel:after:update")},
		{"delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete").Before("otel:after:delete")},
		{"row", cb.Row().Before("gorm:row"), cb.Row().After("gorm:row").Before("otel:after:row")},
		{"raw", cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw").Before("otel:after:raw")},
	}
	for _, h := range hooks {
		if err := h.before.Register("marketsync:before_"+h.op, g.before); err != nil {
			return err
		}
		if err := h.after.Register("marketsync:after_"+h.op, g.after(h.op)); err != nil {
			return err
		}
	}

	g.logger.Info("Database instrumentation enabled",
		zap.Bool("tracing", g.config.Tracing),
		zap.Bool("full_sql", g.config.FullSQL),
		zap.Bool("metrics", g.queryTotal != nil),
		zap.Duration("slow_query_threshold", g.config.SlowQueryThreshold),
	)
	return nil
}

type callbackRegistrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

func (g *GORMInstrumentation) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (g *GORMInstrumentation) after(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		start, ok := ctx.Value(queryStartKey{}).(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(start)
		table := db.Statement.Table
		failed := db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound)

		if g.queryTotal != nil {
			status := "ok"
			if failed {
				status = "error"
			}
			attrs := []attribute.KeyValue{AttrDBOperation.String(op), AttrDBTable.String(table)}
			g.queryTotal.Inc(ctx, append(attrs, attribute.String("status", status))...)
			g.queryDuration.RecordDuration(ctx, elapsed, attrs...)
		}

		span := trace.SpanFromContext(ctx)
		if span.IsRecording() {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
			if failed {
				span.SetStatus(codes.Error, db.Error.Error())
			}
		}

		if elapsed <= g.config.SlowQueryThreshold {
			return
		}
		if g.slowTotal != nil {
			g.slowTotal.Inc(ctx, AttrDBOperation.String(op), AttrDBTable.String(table))
		}
		if span.IsRecording() {
			span.SetAttributes(attribute.Bool("db.slow_query", true))
			span.AddEvent("slow_query", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", g.config.SlowQueryThreshold.Milliseconds()),
			))
		}
		g.logger.Warn("Slow database query",
			zap.String("operation", op),
			zap.String("table", table),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows_affected", db.Statement.RowsAffected),
			zap.String("trace_id", GetTraceID(ctx)),
		)
	}
}
