// Package logger bridges gorm's logging onto relmigrate's Logger.
package logger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bookshelf/relmigrate"
)

// GormLogger writes SQL at debug level, slow statements at warn and failures at error.
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
	logger        relmigrate.Logger
}

// NewGormLogger creates a GormLogger. A nil logger means relmigrate.DefaultLogger at the
// time of each call.
func NewGormLogger(logger relmigrate.Logger, slowThreshold time.Duration, level gormlogger.LogLevel) *GormLogger {
	return &GormLogger{SlowThreshold: slowThreshold, LogLevel: level, logger: logger}
}

func (l *GormLogger) target() relmigrate.Logger {
	if l.logger != nil {
		return l.logger
	}
	return relmigrate.DefaultLogger
}

// LogMode implements logger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info implements logger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.target().Info(ctx, msg, data...)
	}
}

// Warn implements logger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.target().Warn(ctx, msg, data...)
	}
}

// Error implements logger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.target().Error(ctx, msg, data...)
	}
}

// Trace implements logger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey) && l.LogLevel >= gormlogger.Error:
		sql, rows := fc()
		l.target().Error(ctx, "query failed, sql:%v, rows:%v, elapsed:%v, err:%v", sql, rows, elapsed, err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		sql, rows := fc()
		l.target().Warn(ctx, "slow query, sql:%v, rows:%v, elapsed:%v, threshold:%v", sql, rows, elapsed, l.SlowThreshold)
	case l.LogLevel >= gormlogger.Info:
		sql, rows := fc()
		l.target().Debug(ctx, "query, sql:%v, rows:%v, elapsed:%v", sql, rows, elapsed)
	}
}
