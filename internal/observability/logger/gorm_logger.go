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

// GormConfig configures SQL logging.
type GormConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// DefaultGormConfig logs failed and slow statements only.
func DefaultGormConfig() GormConfig {
	return GormConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// GormLogger writes GORM output through zap. Statements are logged with the
// actor, document and batch fields the services attach to ctx, so a slow
// counter lock can be traced back to the command that held it.
type GormLogger struct {
	base  *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func NewGormLogger(base *zap.Logger, cfg GormConfig) *GormLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &GormLogger{
		base:  base.Named("gorm"),
		level: cfg.Level,
		slow:  cfg.SlowThreshold,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data...)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data...)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data...)
}

func (l *GormLogger) printf(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data ...interface{}) {
	if l.level < min {
		return
	}
	if len(data) > 0 {
		msg = fmt.Sprintf(msg, data...)
	}
	WithContext(ctx, l.base).Log(level, msg)
}

// Trace logs failed, slow and (at Info) all statements. Missing rows are not
// failures: repositories report them as nil results.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		if l.level >= gormlogger.Error {
			l.logStatement(ctx, zapcore.ErrorLevel, "query failed", fc, elapsed, err)
		}
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		l.logStatement(ctx, zapcore.WarnLevel, "slow query", fc, elapsed, nil)
	case l.level >= gormlogger.Info:
		l.logStatement(ctx, zapcore.DebugLevel, "query", fc, elapsed, nil)
	}
}

// ParamsFilter drops bound values; bank accounts and payee names must not
// reach the logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) logStatement(ctx context.Context, level zapcore.Level, msg string, fc func() (string, int64), elapsed time.Duration, err error) {
	sql, rows := fc()
	sql = strings.TrimSpace(sql)
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.String("operation", operationFromSQL(sql)),
		zap.String("table", tableFromSQL(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if strings.Contains(strings.ToUpper(sql), "FOR UPDATE") {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	WithContext(ctx, l.base).Log(level, msg, fields...)
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return token
		}
	}
	return "UNKNOWN"
}

// tableFromSQL returns the first table named after FROM, INTO or UPDATE.
func tableFromSQL(sql string) string {
	tokens := strings.Fields(sql)
	for i := 0; i < len(tokens)-1; i++ {
		switch strings.ToUpper(tokens[i]) {
		case "FROM", "INTO", "UPDATE":
			name := strings.Trim(tokens[i+1], "\"`'();")
			if name != "" && !strings.EqualFold(name, "SELECT") {
				return name
			}
		}
	}
	return ""
}

var _ gormlogger.Interface = (*GormLogger)(nil)
