package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/commands"
	"wa_command_bot/internal/config"
	"wa_command_bot/internal/cooldown"
	"wa_command_bot/internal/dispatch"
	"wa_command_bot/internal/feature/group"
	"wa_command_bot/internal/feature/owner"
	"wa_command_bot/internal/health"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/scheduler"
	"wa_command_bot/internal/store"
	"wa_command_bot/internal/telegram"
	"wa_command_bot/internal/transport"
	"wa_command_bot/internal/whatsapp"
)

const (
	storeConnectTimeout   = 10 * time.Second
	storeCloseTimeout     = 5 * time.Second
	ownerBootstrapTimeout = 5 * time.Second
	healthShutdownTimeout = 5 * time.Second
	dispatchDrainTimeout  = 10 * time.Second
	sendBurst             = 5
)

var processStart = time.Now()

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	var pairCode bool
	flag.BoolVar(&pairCode, "paircode", false, "log in with a pairing code instead of a QR code")
	flag.BoolVar(&pairCode, "p", false, "shorthand for --paircode")
	flag.Parse()

	cfg, err := config.Load()
	if err == nil && pairCode {
		cfg, err = cfg.WithAuthMode(config.AuthPairCode)
	}
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":     "startup",
		"transport": cfg.Transport,
		"db_driver": cfg.DBDriver,
		"prefix":    cfg.Prefix,
		"auth_mode": cfg.AuthMode,
	}).Info("configuration loaded")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("bot stopped with error")
		fmt.Fprintf(os.Stderr, "bot error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func run(cfg config.Config, logger *logrus.Entry) error {
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(signalCtx, storeConnectTimeout)
	backend, err := store.Open(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.WithField("event", "store_connect").Info("connected to store")
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), storeCloseTimeout)
		defer cancelClose()
		if err := backend.Close(closeCtx); err != nil {
			logger.WithError(err).Error("store close error")
			return
		}
		logger.WithField("event", "store_disconnect").Info("store closed")
	}()

	session, ownerID, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	client := transport.Throttle(session, cfg.SendRate, sendBurst)

	ownerCtx, cancelOwner := context.WithTimeout(signalCtx, ownerBootstrapTimeout)
	err = owner.NewRegistrar(backend, logger).EnsureOwner(ownerCtx, ownerID)
	cancelOwner()
	if err != nil {
		return fmt.Errorf("owner bootstrap: %w", err)
	}

	evaluator := permission.NewEvaluator(ownerID, backend, backend, client, logger)
	registry := plugin.NewRegistry()
	manager, err := plugin.NewManager(cfg.PluginsDir, registry, backend,
		time.Duration(cfg.DefaultCooldown)*time.Millisecond, logger)
	if err != nil {
		return fmt.Errorf("init plugin manager: %w", err)
	}

	sched, err := scheduler.New(backend, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Prefix:    cfg.Prefix,
		Workers:   cfg.DispatchWorkers,
		Registry:  registry,
		Roles:     evaluator,
		Cooldowns: cooldown.New(),
		Store:     backend,
		Client:    client,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	builtins, err := commands.New(commands.Deps{
		Prefix:      cfg.Prefix,
		Manager:     manager,
		Permissions: evaluator,
		Store:       backend,
		Scheduler:   sched,
		Client:      client,
		Stats:       dispatcher,
		StartedAt:   processStart,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init commands: %w", err)
	}
	// Built-ins go first so plugin files cannot shadow them.
	if err := builtins.Register(signalCtx); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	loaded, loadErrs := manager.LoadAll(signalCtx)
	for _, loadErr := range loadErrs {
		logger.WithError(loadErr).WithField("event", "plugin_load_failed").Warn("plugin failed to load")
	}
	logger.WithFields(logging.Fields{
		"event":    "plugins_loaded",
		"loaded":   loaded,
		"failed":   len(loadErrs),
		"commands": registry.Len(),
	}).Info("plugins loaded")

	if cfg.CommandOverrides != "" {
		overrides, err := plugin.NewOverridesWatcher(cfg.CommandOverrides, manager, 0, logger)
		if err != nil {
			return fmt.Errorf("init overrides watcher: %w", err)
		}
		if err := overrides.Start(); err != nil {
			return fmt.Errorf("start overrides watcher: %w", err)
		}
		defer func() { _ = overrides.Stop() }()
	}

	watcher, err := plugin.NewWatcher(manager, 0)
	if err != nil {
		return fmt.Errorf("init plugin watcher: %w", err)
	}
	if err := watcher.Start(signalCtx); err != nil {
		return fmt.Errorf("start plugin watcher: %w", err)
	}
	defer watcher.Stop()

	pending, err := sched.Start(signalCtx)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	logger.WithFields(logging.Fields{
		"event":   "scheduler_started",
		"pending": pending,
	}).Info("scheduler started")

	healthServer := health.NewServer(cfg.HTTPPort, health.Deps{
		Store:     backend,
		Transport: session,
		Plugins:   registry,
	}, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).WithField("event", "health_failed").Error("health server error")
		}
	}()
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), healthShutdownTimeout)
		defer cancelShutdown()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("health server shutdown error")
		}
	}()

	groups := group.NewRegistrar(backend, client, logger)
	runErr := session.Run(signalCtx, eventHandlers(dispatcher, groups, logger))

	if signalCtx.Err() != nil {
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	}
	drainDispatch(dispatcher, logger)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("transport session: %w", runErr)
	}
	return nil
}

// newSession builds the configured transport and returns the real owner id
// in that transport's user id form.
func newSession(cfg config.Config, logger *logrus.Entry) (transport.Session, string, error) {
	switch cfg.Transport {
	case config.TransportTelegram:
		if cfg.AuthMode == config.AuthPairCode {
			logger.WithField("event", "paircode_unsupported").Warn("pair-code login does not apply to telegram; using the bot token")
		}
		client, err := telegram.NewClient(cfg, logger)
		if err != nil {
			return nil, "", fmt.Errorf("telegram client setup: %w", err)
		}
		return client, cfg.RealOwner, nil
	default:
		ownerID, err := whatsapp.UserID(cfg.RealOwner)
		if err != nil {
			return nil, "", fmt.Errorf("invalid %s: %w", config.KeyRealOwner, err)
		}
		client, err := whatsapp.New(whatsapp.Options{
			SessionDir: cfg.SessionDir,
			AuthMode:   cfg.AuthMode,
			PairPhone:  cfg.PairPhone,
			Logger:     logger,
		})
		if err != nil {
			return nil, "", fmt.Errorf("whatsapp client setup: %w", err)
		}
		return client, ownerID, nil
	}
}

func eventHandlers(dispatcher *dispatch.Dispatcher, groups *group.Registrar, logger *logrus.Entry) transport.Handlers {
	return transport.Handlers{
		OnMessage: func(ctx context.Context, msg transport.Message) {
			if msg.IsGroup && !msg.IsStatus {
				if _, err := groups.EnsureGroup(ctx, msg.ChatID, ""); err != nil {
					logger.WithError(err).WithFields(logging.Fields{
						"event":   "group_upsert_failed",
						"chat_id": msg.ChatID,
					}).Warn("failed to record group")
				}
			}
			if err := dispatcher.Submit(ctx, msg); err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("event", "dispatch_submit_failed").Warn("failed to submit message")
			}
		},
		OnParticipants: func(ctx context.Context, evt transport.ParticipantsEvent) {
			if err := groups.HandleParticipants(ctx, evt); err != nil {
				logger.WithError(err).WithFields(logging.Fields{
					"event":   "group_update_failed",
					"chat_id": evt.ChatID,
					"action":  evt.Action,
				}).Warn("failed to handle group update")
			}
		},
		OnConnection: func(_ context.Context, evt transport.ConnectionEvent) {
			entry := logger.WithFields(logging.Fields{
				"event": "transport_state",
				"state": evt.State,
			})
			if evt.Err != nil {
				entry.WithError(evt.Err).Warn("transport state changed")
				return
			}
			entry.Info("transport state changed")
		},
		OnCall: func(_ context.Context, evt transport.CallEvent) {
			logger.WithFields(logging.Fields{
				"event":    "call_rejected",
				"from":     evt.From,
				"is_video": evt.IsVideo,
			}).Info("rejected incoming call")
		},
	}
}

func drainDispatch(dispatcher *dispatch.Dispatcher, logger *logrus.Entry) {
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(dispatchDrainTimeout):
		logger.WithField("event", "dispatch_drain_timeout").Warn("timed out waiting for in-flight commands")
	}
}
