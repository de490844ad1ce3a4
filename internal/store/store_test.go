package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"wa_command_bot/internal/config"
)

func TestOpenSQLiteMigratesAndPings(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	cfg := config.Config{DBDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "bot.db")}

	backend, err := Open(context.Background(), cfg, logger.WithField("test", t.Name()))
	if err != nil {
		t.Fatalf("expected sqlite store to open, got error: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close(context.Background())
	})

	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping to succeed, got %v", err)
	}

	last := hook.LastEntry()
	if last == nil || last.Data["event"] != "store_connected" || last.Data["component"] != "store" {
		t.Fatalf("expected store_connected log entry, got %+v", last)
	}
}

func TestOpenRoutesMongoDriver(t *testing.T) {
	called := false
	prev := openMongo
	openMongo = func(context.Context, config.Config, *logrus.Entry) (Backend, error) {
		called = true
		return nil, errors.New("mongo unavailable")
	}
	t.Cleanup(func() { openMongo = prev })

	_, err := Open(context.Background(), config.Config{DBDriver: config.DriverMongo}, nil)
	if err == nil || !called {
		t.Fatalf("expected mongo opener to be used and fail, got called=%v err=%v", called, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Config{DBDriver: "redis"}, nil); err == nil {
		t.Fatalf("expected unknown driver to be rejected")
	}
	if _, err := Open(nil, config.Config{DBDriver: config.DriverSQLite}, nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}
