/*
Package logger 提供 GORM 到 Zap 的日志适配。

写库上的 SQL 按结果分类记录:
  - 失败的语句记 Error，未找到记录只在 LogNotFound 时记 Debug
  - 带 version 条件的 UPDATE/DELETE 影响 0 行记 Warn (乐观锁冲突)
  - 超过 SlowThreshold 的语句记 Warn
*/
package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"library/infrastructure/persistence"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

type GormLoggerConfig struct {
	SlowThreshold time.Duration
	// LogNotFound 仓储把 ErrRecordNotFound 转成 NotFound，默认不记录
	LogNotFound bool
	// MaxSQLLength outbox 的 INSERT 带完整事件 payload，超长截断
	MaxSQLLength int
	AddCaller    bool
}

func DefaultGormLoggerConfig() *GormLoggerConfig {
	return &GormLoggerConfig{
		SlowThreshold: 200 * time.Millisecond,
		MaxSQLLength:  2048,
		AddCaller:     true,
	}
}

type GormLoggerAdapter struct {
	logLevel logger.LogLevel
	logger   *zap.Logger
	config   *GormLoggerConfig
}

func NewGormLoggerAdapter(logLevel logger.LogLevel) *GormLoggerAdapter {
	return NewGormLoggerAdapterWithConfig(logLevel, DefaultGormLoggerConfig())
}

func NewGormLoggerAdapterWithConfig(logLevel logger.LogLevel, config *GormLoggerConfig) *GormLoggerAdapter {
	if config == nil {
		config = DefaultGormLoggerConfig()
	}
	base := log
	if base == nil {
		base = zap.NewNop()
	}
	return &GormLoggerAdapter{logLevel: logLevel, logger: base.Named("gorm"), config: config}
}

func (l *GormLoggerAdapter) LogMode(logLevel logger.LogLevel) logger.Interface {
	clone := *l
	clone.logLevel = logLevel
	return &clone
}

// withRequest 带上请求和事务信息，同一命令的 SQL 可以按 request_id 串起来
func (l *GormLoggerAdapter) withRequest(ctx context.Context) *zap.Logger {
	lg := l.logger
	fields := make([]zap.Field, 0, 3)
	if requestID := persistence.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if userID := persistence.UserIDFromContext(ctx); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if persistence.TxFromContext(ctx) != nil {
		fields = append(fields, zap.Bool("in_tx", true))
	}
	if len(fields) > 0 {
		lg = lg.With(fields...)
	}
	if l.config.AddCaller {
		lg = lg.WithOptions(zap.AddCaller())
	}
	return lg
}

func (l *GormLoggerAdapter) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.logLevel >= logger.Info {
		l.withRequest(ctx).Info(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLoggerAdapter) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.withRequest(ctx).Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLoggerAdapter) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.logLevel >= logger.Error {
		l.withRequest(ctx).Error(fmt.Sprintf(msg, args...))
	}
}

type statementKind int

const (
	statementOK statementKind = iota
	statementFailed
	statementNotFound
	statementVersionMiss
	statementSlow
)

func (l *GormLoggerAdapter) classify(sql string, rows int64, elapsed time.Duration, err error) statementKind {
	switch {
	case errors.Is(err, logger.ErrRecordNotFound):
		return statementNotFound
	case err != nil:
		return statementFailed
	case rows == 0 && isVersionGuarded(sql):
		return statementVersionMiss
	case l.config.SlowThreshold > 0 && elapsed > l.config.SlowThreshold:
		return statementSlow
	}
	return statementOK
}

// isVersionGuarded 匹配仓储的 "WHERE id = ? AND version = ?" 写法
func isVersionGuarded(sql string) bool {
	head := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(head, "UPDATE") && !strings.HasPrefix(head, "DELETE") {
		return false
	}
	return strings.Contains(strings.ToLower(sql), "version =")
}

func (l *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	sql, rows := fc()
	elapsed := time.Since(begin)
	if limit := l.config.MaxSQLLength; limit > 0 && len(sql) > limit {
		sql = sql[:limit] + "...(truncated)"
	}
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
	}
	lg := l.withRequest(ctx)

	switch l.classify(sql, rows, elapsed, err) {
	case statementNotFound:
		if l.config.LogNotFound {
			lg.Debug("Database record not found", fields...)
		}
	case statementFailed:
		if l.logLevel >= logger.Error {
			lg.Error("Database operation failed", append(fields, zap.Error(err))...)
		}
	case statementVersionMiss:
		if l.logLevel >= logger.Warn {
			lg.Warn("Versioned write matched no row", append(fields, zap.String("type", "version_miss"))...)
		}
	case statementSlow:
		if l.logLevel >= logger.Warn {
			lg.Warn("Slow SQL query", append(fields, zap.String("type", "slow_query"))...)
		}
	default:
		if l.logLevel >= logger.Info {
			lg.Debug("SQL query executed", fields...)
		}
	}
}
