// Package store selects and opens the configured persistence backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wa_command_bot/internal/config"
	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/store/gormstore"
	"wa_command_bot/internal/store/mongostore"
)

// Backend is a domain.Store with connection lifecycle hooks.
type Backend interface {
	domain.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// openSQL is overridable for tests.
var openSQL = func(ctx context.Context, cfg config.Config, logger *logrus.Entry) (Backend, error) {
	var (
		dialector gorm.Dialector
		err       error
	)
	if cfg.DBDriver == config.DriverPostgres {
		dialector, err = gormstore.PostgresDialector(cfg.PostgresDSN)
	} else {
		dialector, err = gormstore.SQLiteDialector(cfg.SQLitePath)
	}
	if err != nil {
		return nil, err
	}

	store, err := gormstore.Open(ctx, dialector, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// openMongo is overridable for tests.
var openMongo = func(ctx context.Context, cfg config.Config, logger *logrus.Entry) (Backend, error) {
	store, err := mongostore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return store, nil
}

// Open connects to the backend named by cfg.DBDriver.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Entry) (Backend, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	logger = logging.Component(logger, "store")

	var (
		backend Backend
		err     error
	)
	switch cfg.DBDriver {
	case config.DriverSQLite, config.DriverPostgres:
		backend, err = openSQL(ctx, cfg, logger)
	case config.DriverMongo:
		backend, err = openMongo(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}

	logger.WithFields(logging.Fields{
		"event":  "store_connected",
		"driver": cfg.DBDriver,
	}).Info("store connected")

	return backend, nil
}
