package tipstatedb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	DBTypeSQLite   DatabaseType = "sqlite"
	DBTypePostgres DatabaseType = "postgres"
	DBTypeMySQL    DatabaseType = "mysql"
)

type Options struct {
	Driver DatabaseType
	// DSN is used by postgres and mysql. For sqlite it overrides Path.
	DSN  string
	Path string
}

// Open connects to the configured database. It does not migrate.
func Open(opts Options) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch opts.Driver {
	case DBTypeSQLite, "":
		dsn := opts.DSN
		if dsn == "" {
			dir := filepath.Dir(opts.Path)
			if dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("failed to create directory: %w", err)
				}
			}
			dsn = opts.Path
		}
		dial = sqlite.Open(dsn)
	case DBTypePostgres:
		dial = postgres.Open(opts.DSN)
	case DBTypeMySQL:
		dial = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported db type: %s", opts.Driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         newGormLogger(gormlog.Error),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates every table the engine uses.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&SQLUser{},
		&SQLWallet{},
		&SQLSetting{},
		&SQLMember{},
		&SQLPending{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database schema up to date")
	return nil
}

// gormLogger forwards gorm's log output to the application logger.
type gormLogger struct {
	level gormlog.LogLevel
}

func newGormLogger(level gormlog.LogLevel) *gormLogger {
	return &gormLogger{level: level}
}

func (l *gormLogger) LogMode(level gormlog.LogLevel) gormlog.Interface {
	return &gormLogger{level: level}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlog.Info {
		logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlog.Warn {
		logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlog.Error {
		logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlog.Silent {
		return
	}
	sql, rows := fc()
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlog.Error:
		logger.Error("gorm query failed", "sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
	case l.level >= gormlog.Info:
		logger.Debug("gorm query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
