package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// GormLogger routes gorm's query log into the structured logger.
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

// NewGormLogger logs warnings, errors and queries slower than threshold.
func NewGormLogger(threshold time.Duration) gormlogger.Interface {
	if threshold <= 0 {
		threshold = 200 * time.Millisecond
	}
	return &GormLogger{SlowThreshold: threshold, LogLevel: gormlogger.Warn}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		logging.Debug(fmt.Sprintf(msg, data...), map[string]interface{}{"component": "remote.postgres"})
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		logging.Warn(fmt.Sprintf(msg, data...), map[string]interface{}{"component": "remote.postgres"})
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		logging.Error(fmt.Sprintf(msg, data...), nil, map[string]interface{}{"component": "remote.postgres"})
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error:
		sql, rows := fc()
		logging.Error("remote query failed", err, map[string]interface{}{
			"component": "remote.postgres", "sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds(),
		})
	case elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		sql, rows := fc()
		logging.Warn("slow remote query", map[string]interface{}{
			"component": "remote.postgres", "sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds(),
		})
	case l.LogLevel >= gormlogger.Info:
		sql, rows := fc()
		logging.Debug("remote query", map[string]interface{}{
			"component": "remote.postgres", "sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds(),
		})
	}
}
