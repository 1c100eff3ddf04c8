package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const defaultSlowThreshold = 200 * time.Millisecond

// gormLogger routes gorm's query log through the service's zap logger.
type gormLogger struct {
	zap           *zap.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
	showSQL       bool
}

func newGormLogger(z *zap.Logger, level logger.LogLevel, showSQL bool) *gormLogger {
	return &gormLogger{
		zap:           z,
		level:         level,
		showSQL:       showSQL,
		slowThreshold: defaultSlowThreshold,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.zap.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.zap.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.zap.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound):
		l.zap.Error("gorm.query", append(fields, zap.Error(err))...)
	case l.slowThreshold != 0 && elapsed > l.slowThreshold:
		l.zap.Warn("gorm.slow_query", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level == logger.Info && l.showSQL:
		l.zap.Info("gorm.query", fields...)
	}
}
