// Package gormstore implements the persistence collaborator on gorm, backed by
// a local SQLite file by default or PostgreSQL.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
)

const slowQueryThreshold = 250 * time.Millisecond

// models lists every table managed by AutoMigrate.
var models = []interface{}{
	&domain.User{},
	&domain.Group{},
	&domain.GroupSetting{},
	&domain.Owner{},
	&domain.CommandLog{},
	&domain.UserStats{},
	&domain.PluginRecord{},
	&domain.Task{},
}

// Store implements domain.Store on a gorm connection.
type Store struct {
	db     *gorm.DB
	logger *logrus.Entry
	now    func() time.Time
}

var _ domain.Store = (*Store)(nil)

// SQLiteDialector opens a file-backed SQLite database in WAL mode with foreign
// keys enabled, creating the parent directory when needed.
func SQLiteDialector(path string) (gorm.Dialector, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return sqlite.Open(dsn), nil
}

// PostgresDialector opens a PostgreSQL connection from a DSN.
func PostgresDialector(dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	return postgres.Open(dsn), nil
}

// Open connects through dialector and migrates the schema.
func Open(ctx context.Context, dialector gorm.Dialector, logger *logrus.Entry) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if dialector == nil {
		return nil, errors.New("dialector is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(gormWriter{logger: logger}, gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.WithFields(logging.Fields{
		"event":   "store_migrated",
		"dialect": dialector.Name(),
		"tables":  len(models),
	}).Info("database schema ready")

	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	return s.db.WithContext(ctx), nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

type gormWriter struct {
	logger *logrus.Entry
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.WithField("event", "gorm").Warnf(format, args...)
}
