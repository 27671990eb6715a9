/*
Package logger 提供项目统一日志能力。

进程内只有一个全局 zap.Logger，Init 之前所有调用都是空操作。
网关、relay、projector 三个进程共用这套配置，每条日志带 process 字段区分来源；
写入链路的日志再带上 request_id / event_id 等字段，便于把一次请求
与它产生的事件、投影处理串起来。
*/
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"library/config"
	"library/domain/shared"
	"library/infrastructure/persistence"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log       *zap.Logger
	atomLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the global logger for one process (gateway, relay, projector).
func Init(cfg *config.LogConfig, env, process string) error {
	atomLevel.SetLevel(parseLevel(cfg.Level))

	sink, err := newSink(cfg)
	if err != nil {
		return err
	}

	core := zapcore.NewCore(newEncoder(cfg.Format, env), sink, atomLevel)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if process != "" {
		opts = append(opts, zap.Fields(zap.String("process", process)))
	}
	log = zap.New(core, opts...)
	return nil
}

func newEncoder(format, env string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.MessageKey = "msg"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(ec)
	case "console":
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	// 未指定格式: 开发环境用 console，其余 json
	if env == "dev" || env == "development" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// newSink output: stdout | file | both
func newSink(cfg *config.LogConfig) (zapcore.WriteSyncer, error) {
	if cfg.Output != "file" && cfg.Output != "both" {
		return zapcore.AddSync(os.Stdout), nil
	}
	if cfg.FilePath == "" {
		return nil, errors.New("log.file_path is required for file output")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	var file io.Writer = &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.MaxSizeMB, 10),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}
	if cfg.Output == "both" {
		return zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(file)), nil
	}
	return zapcore.AddSync(file), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func Get() *zap.Logger { return log }

// Replace swaps the global logger (tests use it with zaptest/observer) and
// returns a function restoring the previous one.
func Replace(l *zap.Logger) func() {
	prev := log
	log = l
	return func() { log = prev }
}

func UpdateLevel(level string) {
	atomLevel.SetLevel(parseLevel(level))
}

// Sync flushes buffered entries. stdout 是终端或管道时 fsync 必然失败，忽略。
func Sync() error {
	if log == nil {
		return nil
	}
	err := log.Sync()
	if errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return err
}

func With(fields ...zap.Field) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.With(fields...)
}

func WithRequestID(requestID string) *zap.Logger {
	return With(zap.String("request_id", requestID))
}

// FromContext returns a logger carrying the request and user found in ctx.
func FromContext(ctx context.Context) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if requestID := persistence.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if userID := persistence.UserIDFromContext(ctx); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	return With(fields...)
}

// WithEvent returns a logger carrying the identifying fields of evt.
func WithEvent(evt shared.DomainEvent) *zap.Logger {
	fields := []zap.Field{
		zap.String("event_id", evt.EventID()),
		zap.String("event_name", evt.EventName()),
		zap.String("aggregate_id", evt.GetAggregateID()),
	}
	md := evt.Metadata()
	if md.AggregateVersion > 0 {
		fields = append(fields, zap.Int("aggregate_version", md.AggregateVersion))
	}
	if md.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", md.CorrelationID))
	}
	return With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	if log != nil {
		log.Debug(msg, fields...)
	}
}

func Info(msg string, fields ...zap.Field) {
	if log != nil {
		log.Info(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if log != nil {
		log.Warn(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if log != nil {
		log.Error(msg, fields...)
	}
}

func Fatal(msg string, fields ...zap.Field) {
	if log != nil {
		log.Fatal(msg, fields...)
	}
}
