package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// maxStatementLength caps the SQL text carried in a record. Incident inserts
// are short; the cap only bites on migrations.
const maxStatementLength = 512

// GormLogger routes gorm's statement log into a module logger. Statements go
// out at trace, so they show only when the owning module runs at "trace".
// Failed and slow statements are warnings.
//
//	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
//	    Logger: logger.NewGormLogger(history.GetLogger(), settings.History.SlowQuery),
//	})
type GormLogger struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger wraps l. Statements slower than slow are warned about; zero
// or less turns slow warnings off. A nil l logs to stdout at info.
func NewGormLogger(l Logger, slow time.Duration) *GormLogger {
	if l == nil {
		l = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLogger{log: l, slow: slow}
}

// SlowThreshold reports the configured slow statement threshold.
func (g *GormLogger) SlowThreshold() time.Duration { return g.slow }

// LogMode is ignored; verbosity follows the module level.
func (g *GormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

// Info is demoted to debug; gorm is chatty at info.
func (g *GormLogger) Info(_ context.Context, format string, args ...any) {
	g.log.Debug(fmt.Sprintf(format, args...))
}

func (g *GormLogger) Warn(_ context.Context, format string, args ...any) {
	g.log.Warn(fmt.Sprintf(format, args...))
}

func (g *GormLogger) Error(_ context.Context, format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}

// Trace is called by gorm after every statement.
func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []Field{
		String("sql", truncateStatement(sql)),
		Int64("rows", rows),
		Duration("elapsed", elapsed),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.log.Warn("statement failed", append(fields, Error(err))...)
	case g.slow > 0 && elapsed > g.slow:
		g.log.Warn("slow statement", append(fields, Duration("threshold", g.slow))...)
	default:
		g.log.Trace("statement", fields...)
	}
}

func truncateStatement(sql string) string {
	if len(sql) <= maxStatementLength {
		return sql
	}
	return sql[:maxStatementLength] + "..."
}
