package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger implements GORM's logger interface using zap. SQL entries
// carry the request, marketplace and trace fields of the query context.
type GormLogger struct {
	base        *zap.Logger
	level       gormlogger.LogLevel
	slow        time.Duration
	logNotFound bool
}

// GormOption configures a GormLogger
type GormOption func(*GormLogger)

// WithSlowThreshold sets the duration above which statements log at warn.
// Zero disables slow statement logging.
func WithSlowThreshold(d time.Duration) GormOption {
	return func(l *GormLogger) { l.slow = d }
}

// WithNotFoundErrors logs gorm.ErrRecordNotFound as a failed statement.
// Lookups by marketplace identity miss routinely, so it is off by default.
func WithNotFoundErrors(enabled bool) GormOption {
	return func(l *GormLogger) { l.logNotFound = enabled }
}

// NewGormLogger returns a gorm logger writing to the "gorm" child of log
func NewGormLogger(log *zap.Logger, level gormlogger.LogLevel, opts ...GormOption) *GormLogger {
	gl := &GormLogger{
		base:  log.Named("gorm"),
		level: level,
		slow:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode returns a copy of l at level
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []any) {
	if l.level < min {
		return
	}
	l.base.Log(level, fmt.Sprintf(msg, data...), contextFields(ctx)...)
}

// Trace implements gormlogger.Interface. Failed statements are logged at
// error, slow ones at warn and everything else at debug when the level is Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	took := time.Since(begin)
	failed := err != nil && (l.logNotFound || !errors.Is(err, gormlogger.ErrRecordNotFound))
	slow := l.slow > 0 && took > l.slow

	var (
		level zapcore.Level
		msg   string
	)
	switch {
	case failed && l.level >= gormlogger.Error:
		level, msg = zapcore.ErrorLevel, "Database statement failed"
	case slow && l.level >= gormlogger.Warn:
		level, msg = zapcore.WarnLevel, "Slow database statement"
	case err == nil && l.level >= gormlogger.Info:
		level, msg = zapcore.DebugLevel, "Database statement"
	default:
		return
	}

	sql, rows := fc()
	fields := append([]zap.Field{
		zap.String("operation", statementVerb(sql)),
		zap.String("sql", truncateSQL(sql)),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", took),
	}, contextFields(ctx)...)
	if failed {
		fields = append(fields, zap.Error(err))
	}
	if slow {
		fields = append(fields, zap.Duration("slow_threshold", l.slow))
	}
	l.base.Log(level, msg, fields...)
}

// maxLoggedSQL caps statement text; bulk upserts of imported products can
// run to hundreds of kilobytes
const maxLoggedSQL = 2048

func truncateSQL(sql string) string {
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	return sql[:maxLoggedSQL] + "...(truncated)"
}

func statementVerb(sql string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(sql), " ")
	return strings.ToLower(verb)
}

// GormLevel maps the service log level onto gorm's. Statements only reach
// the debug output when the service itself logs at debug or info.
func GormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
