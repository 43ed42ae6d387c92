// Package app composes the client: engine, snapshot cache and TUI wired
// through fx.
package app

import (
	"context"

	"github.com/kaanbt/pazar/internal/api"
	"github.com/kaanbt/pazar/internal/bus"
	"github.com/kaanbt/pazar/internal/cache"
	"github.com/kaanbt/pazar/internal/config"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/lock"
	"github.com/kaanbt/pazar/internal/logging"
	"github.com/kaanbt/pazar/internal/outbox"
	"github.com/kaanbt/pazar/internal/receipt"
	"github.com/kaanbt/pazar/internal/session"
	"github.com/kaanbt/pazar/internal/status"
	"github.com/kaanbt/pazar/internal/store"
	engine "github.com/kaanbt/pazar/internal/sync"
	"github.com/kaanbt/pazar/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultServerURL is used when neither flag, environment nor config set one.
const DefaultServerURL = "http://localhost:8000"

// Params holds the resolved invocation configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string // optional override; empty = config or default
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("pazar",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideClient,
			provideIdentity,
			provideMessageStore,
			provideIndex,
			provideTracker,
			provideCoordinator,
			provideCache,
			provideScheduler,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing config means defaults.
		return &config.Config{}
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideClient(p Params, cfg *config.Config) *api.Client {
	base := p.ServerURL
	if base == "" {
		base = cfg.ServerURL
	}
	if base == "" {
		base = DefaultServerURL
	}
	return api.NewClient(base)
}

func provideIdentity(p Params) *session.Store {
	return session.NewStore(session.IdentityPath(p.SessionName))
}

func provideMessageStore() *store.Store {
	return store.New()
}

func provideIndex(logger *zap.Logger) *conv.Index {
	return conv.NewIndex(logger)
}

func provideTracker(st *store.Store, client *api.Client, b *bus.Bus, logger *zap.Logger) *outbox.Tracker {
	return outbox.NewTracker(st, client, b, logger)
}

func provideCoordinator(client *api.Client, b *bus.Bus, logger *zap.Logger) *receipt.Coordinator {
	return receipt.NewCoordinator(client, b, logger)
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("cache migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("snapshot cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideScheduler(
	st *store.Store,
	ix *conv.Index,
	tracker *outbox.Tracker,
	receipts *receipt.Coordinator,
	client *api.Client,
	identity *session.Store,
	db *cache.DB,
	machine *status.Machine,
	b *bus.Bus,
	cfg *config.Config,
	logger *zap.Logger,
) *engine.Scheduler {
	return engine.NewScheduler(engine.Params{
		Store:    st,
		Index:    ix,
		Tracker:  tracker,
		Receipts: receipts,
		Fetcher:  client,
		Identity: identity,
		Cache:    db,
		Machine:  machine,
		Bus:      b,
		Logger:   logger,
		Interval: cfg.PollInterval(),
	})
}

func provideApp(
	p Params,
	client *api.Client,
	sched *engine.Scheduler,
	tracker *outbox.Tracker,
	receipts *receipt.Coordinator,
	identity *session.Store,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *tui.App {
	return tui.NewApp(tui.Params{
		Client:    client,
		Scheduler: sched,
		Tracker:   tracker,
		Receipts:  receipts,
		Identity:  identity,
		Machine:   machine,
		Bus:       b,
		Logger:    logger,
		Session:   p.SessionName,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	sched *engine.Scheduler,
	db *cache.DB,
	lk *lock.Lock,
	ui *tui.App,
	identity *session.Store,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm the view from the last persisted snapshot so the list is
			// populated before the first poll answers.
			if id, ok := identity.Current(); ok {
				if msgs, err := db.LoadSnapshot(id.Username); err != nil {
					logger.Warn("snapshot load failed", zap.Error(err))
				} else if len(msgs) > 0 {
					sched.WarmStart(id.Username, msgs)
					logger.Info("warm start from cache",
						zap.String("username", id.Username),
						zap.Int("messages", len(msgs)))
				}
			}

			sched.Start(context.Background())

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			sched.Stop()
			_ = machine.Transition(status.Stopped)
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
