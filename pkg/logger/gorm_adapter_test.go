package logger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"library/infrastructure/persistence"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func observeGorm(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	original := log
	t.Cleanup(func() { log = original })

	core, logs := observer.New(zapcore.DebugLevel)
	log = zap.New(core)
	return logs
}

func trace(ctx context.Context, a logger.Interface, sql string, rows int64, err error) {
	a.Trace(ctx, time.Now(), func() (string, int64) { return sql, rows }, err)
}

func fieldValue(entry observer.LoggedEntry, key string) (zapcore.Field, bool) {
	for _, f := range entry.Context {
		if f.Key == key {
			return f, true
		}
	}
	return zapcore.Field{}, false
}

func TestGormTraceClassification(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		rows    int64
		err     error
		message string
		level   zapcore.Level
	}{
		{
			name:    "versioned update hit",
			sql:     "UPDATE `books` SET `title`=\"Solaris\",`version`=4 WHERE id = \"b1\" AND version = 3",
			rows:    1,
			message: "SQL query executed",
			level:   zapcore.DebugLevel,
		},
		{
			name:    "versioned update miss",
			sql:     "UPDATE `books` SET `title`=\"Solaris\",`version`=4 WHERE id = \"b1\" AND version = 3",
			rows:    0,
			message: "Versioned write matched no row",
			level:   zapcore.WarnLevel,
		},
		{
			name:    "versioned delete miss",
			sql:     "DELETE FROM `authors` WHERE id = \"a1\" AND version = 2",
			rows:    0,
			message: "Versioned write matched no row",
			level:   zapcore.WarnLevel,
		},
		{
			name:    "empty outbox poll",
			sql:     "SELECT * FROM `outbox_events` WHERE status = \"PENDING\" LIMIT 100",
			rows:    0,
			message: "SQL query executed",
			level:   zapcore.DebugLevel,
		},
		{
			name:    "failed insert",
			sql:     "INSERT INTO `book_quotes` (`id`,`book_id`) VALUES (\"q1\",\"b1\")",
			err:     errors.New("UNIQUE constraint failed: book_quotes.id"),
			message: "Database operation failed",
			level:   zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observeGorm(t)
			adapter := NewGormLoggerAdapter(logger.Info)

			trace(context.Background(), adapter, tt.sql, tt.rows, tt.err)

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			if entries[0].Message != tt.message || entries[0].Level != tt.level {
				t.Errorf("got %s %q, want %s %q", entries[0].Level, entries[0].Message, tt.level, tt.message)
			}
			if entries[0].LoggerName != "gorm" {
				t.Errorf("logger name = %q", entries[0].LoggerName)
			}
		})
	}
}

func TestGormWarnLevelSkipsRoutineQueries(t *testing.T) {
	logs := observeGorm(t)
	adapter := NewGormLoggerAdapter(logger.Warn)

	adapter.Info(context.Background(), "migrated %d tables", 4)
	trace(context.Background(), adapter, "SELECT * FROM `books` WHERE id = \"b1\"", 1, nil)
	trace(context.Background(), adapter, "UPDATE `books` SET `version`=2 WHERE id = \"b1\" AND version = 1", 0, nil)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want only the version miss", len(entries))
	}
	if f, ok := fieldValue(entries[0], "type"); !ok || f.String != "version_miss" {
		t.Errorf("type field = %+v", f)
	}
}

func TestGormSilentLogsNothing(t *testing.T) {
	logs := observeGorm(t)
	adapter := NewGormLoggerAdapter(logger.Info).LogMode(logger.Silent)

	trace(context.Background(), adapter, "DELETE FROM `books` WHERE id = \"b1\" AND version = 1", 0, nil)
	trace(context.Background(), adapter, "SELECT 1", 0, errors.New("boom"))

	if n := logs.Len(); n != 0 {
		t.Errorf("silent adapter wrote %d entries", n)
	}
}

func TestGormRecordNotFound(t *testing.T) {
	lookup := "SELECT * FROM `books` WHERE id = \"missing\" ORDER BY `books`.`id` LIMIT 1"

	t.Run("hidden by default", func(t *testing.T) {
		logs := observeGorm(t)
		trace(context.Background(), NewGormLoggerAdapter(logger.Info), lookup, 0, gorm.ErrRecordNotFound)
		if n := logs.Len(); n != 0 {
			t.Errorf("got %d entries, not found is an expected lookup result", n)
		}
	})

	t.Run("debug when enabled", func(t *testing.T) {
		logs := observeGorm(t)
		cfg := DefaultGormLoggerConfig()
		cfg.LogNotFound = true
		trace(context.Background(), NewGormLoggerAdapterWithConfig(logger.Info, cfg), lookup, 0, gorm.ErrRecordNotFound)

		entries := logs.FilterMessage("Database record not found").All()
		if len(entries) != 1 || entries[0].Level != zapcore.DebugLevel {
			t.Errorf("entries = %+v", entries)
		}
	})
}

func TestGormSlowQueryCarriesRequestContext(t *testing.T) {
	logs := observeGorm(t)
	adapter := NewGormLoggerAdapterWithConfig(logger.Warn, &GormLoggerConfig{SlowThreshold: time.Millisecond})

	ctx := persistence.ContextWithRequestID(context.Background(), "req-42")
	ctx = persistence.ContextWithUserID(ctx, "reader-7")
	ctx = persistence.ContextWithTx(ctx, &gorm.DB{})

	adapter.Trace(ctx, time.Now().Add(-50*time.Millisecond), func() (string, int64) {
		return "SELECT * FROM `book_notes` WHERE book_id = \"b1\"", 3
	}, nil)

	entries := logs.FilterMessage("Slow SQL query").All()
	if len(entries) != 1 {
		t.Fatalf("got %d slow entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-42" || fields["user_id"] != "reader-7" || fields["in_tx"] != true {
		t.Errorf("context fields = %v", fields)
	}
	if fields["rows"] != int64(3) {
		t.Errorf("rows = %v", fields["rows"])
	}
}

func TestGormTruncatesLongStatements(t *testing.T) {
	logs := observeGorm(t)
	cfg := DefaultGormLoggerConfig()
	cfg.MaxSQLLength = 32
	adapter := NewGormLoggerAdapterWithConfig(logger.Info, cfg)

	payload := strings.Repeat("x", 500)
	trace(context.Background(), adapter, "INSERT INTO `outbox_events` (`payload`) VALUES (\""+payload+"\")", 1, nil)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	f, _ := fieldValue(entries[0], "sql")
	if !strings.HasSuffix(f.String, "...(truncated)") || len(f.String) != 32+len("...(truncated)") {
		t.Errorf("sql = %q", f.String)
	}
}
