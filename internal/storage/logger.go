package storage

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"shopharness/internal/ctxkeys"
	"shopharness/internal/logger"
)

// slowQuery 慢查询阈值
const slowQuery = 200 * time.Millisecond

// GormLogger 将 gorm 日志转发到 logger.Logger
type GormLogger struct {
	logger.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger 创建 GormLogger
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{Logger: l, LogLevel: gormlogger.Warn}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.LogLevel = level
	return &cp
}

// Info 打印info级别日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(msg, withTrace(ctx, "data", data)...)
	}
}

// Warn 打印warn级别日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(msg, withTrace(ctx, "data", data)...)
	}
}

// Error 打印error级别日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error(msg, withTrace(ctx, "data", data)...)
	}
}

// Trace 打印SQL日志
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := withTrace(ctx, "sql", sql, "rows", rows, "elapsed", elapsed)

	switch {
	case err != nil && err != gormlogger.ErrRecordNotFound && l.LogLevel >= gormlogger.Error:
		l.Logger.Err(err, "SQL执行错误", fields...)
	case elapsed > slowQuery && l.LogLevel >= gormlogger.Warn:
		l.Logger.Warn("慢SQL查询", append(fields, "threshold", slowQuery)...)
	case l.LogLevel == gormlogger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}

// withTrace 附加上下文中的 traceId 和 sessionId
func withTrace(ctx context.Context, kv ...any) []any {
	out := make([]any, 0, len(kv)+4)
	if v := ctx.Value(ctxkeys.TraceIDKey{}); v != nil {
		out = append(out, "traceId", v)
	}
	if v := ctx.Value(ctxkeys.SessionIDKey{}); v != nil {
		out = append(out, "session", v)
	}
	return append(out, kv...)
}
