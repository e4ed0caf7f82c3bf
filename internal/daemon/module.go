package daemon

import (
	"context"
	"errors"

	"github.com/99designs/keyring"
	"github.com/matheus3301/smsinbox/internal/api"
	"github.com/matheus3301/smsinbox/internal/backend"
	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/config"
	"github.com/matheus3301/smsinbox/internal/credential"
	"github.com/matheus3301/smsinbox/internal/inbox"
	"github.com/matheus3301/smsinbox/internal/lock"
	"github.com/matheus3301/smsinbox/internal/logging"
	"github.com/matheus3301/smsinbox/internal/metrics"
	"github.com/matheus3301/smsinbox/internal/outbox"
	"github.com/matheus3301/smsinbox/internal/profile"
	"github.com/matheus3301/smsinbox/internal/realtime"
	"github.com/matheus3301/smsinbox/internal/status"
	"github.com/matheus3301/smsinbox/internal/store"
	intsync "github.com/matheus3301/smsinbox/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Debug      bool
	SocketPath string // optional override for testing; empty = use default

	// Optional overrides for testing.
	Config  *config.Config
	Keyring keyring.Keyring
	Logger  *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMetrics,
			provideLock,
			provideStore,
			provideCredentials,
			provideBackend,
			provideEngine,
			provideSender,
			provideController,
			provideCheckpoints,
			provideSynchronizer,
			provideRealtime,
			provideBridge,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile), p.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) (*credential.Store, error) {
	ring := p.Keyring
	if ring == nil {
		var err error
		if ring, err = credential.Open(profile.KeyringDir()); err != nil {
			return nil, err
		}
	}
	return credential.NewStore(ring, p.Profile), nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.BackendURL, cfg.RequestTimeout.Duration, logger)
}

func provideEngine(db *store.DB, be *backend.Client, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *inbox.Engine {
	return inbox.NewEngine(db, be, b, machine, m, logger)
}

func provideSender(cfg *config.Config, be *backend.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(be, cfg.SendRate, cfg.SendBurst, b, m, logger)
}

func provideController(engine *inbox.Engine, be *backend.Client, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) *inbox.Controller {
	return inbox.NewController(engine, be, sender, machine, logger)
}

func provideCheckpoints(db *store.DB) *intsync.Checkpoints {
	return intsync.NewCheckpoints(db)
}

func provideSynchronizer(cfg *config.Config, engine *inbox.Engine, be *backend.Client, cp *intsync.Checkpoints, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *intsync.Synchronizer {
	return intsync.NewSynchronizer(engine, be, cp, b, machine, m, logger, intsync.Options{
		PollInterval:      cfg.PollInterval.Duration,
		UnreadConcurrency: cfg.UnreadConcurrency,
	})
}

func provideRealtime(cfg *config.Config, creds *credential.Store, b *bus.Bus, logger *zap.Logger) *realtime.Client {
	return realtime.NewClient(cfg.RealtimeURL, creds.UserID, b, logger)
}

func provideBridge(engine *inbox.Engine, rt *realtime.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *realtime.Bridge {
	return realtime.NewBridge(engine, rt, b, m, logger)
}

func provideService(p Params, db *store.DB, b *bus.Bus, machine *status.Machine, ctrl *inbox.Controller, syncer *intsync.Synchronizer, cp *intsync.Checkpoints, creds *credential.Store, be *backend.Client, rt *realtime.Client, logger *zap.Logger) *api.Service {
	return api.NewService(api.Deps{
		Profile:     p.Profile,
		DB:          db,
		Bus:         b,
		Machine:     machine,
		Controller:  ctrl,
		Sync:        syncer,
		Checkpoints: cp,
		Credentials: creds,
		Auth:        be,
		Realtime:    rt,
		Logger:      logger,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	metricsSrv *MetricsServer,
	lk *lock.Lock,
	db *store.DB,
	engine *inbox.Engine,
	creds *credential.Store,
	be *backend.Client,
	syncer *intsync.Synchronizer,
	bridge *realtime.Bridge,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Owned accounts and selection from the last run, before any fetch.
			if err := engine.Restore(); err != nil {
				return err
			}

			c, err := creds.Load()
			switch {
			case err == nil:
				be.SetToken(c.Token)
			case errors.Is(err, credential.ErrNotFound):
				logger.Info("no credentials found, auth required")
			default:
				logger.Warn("reading credentials failed", zap.Error(err))
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			metricsSrv.Start()

			// The synchronizer moves the machine out of BOOTING on its first refresh.
			syncer.Start(context.Background())
			bridge.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			bridge.Stop()
			syncer.Stop()
			srv.Stop(ctx)
			metricsSrv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped", zap.String("state", string(machine.Current())))
			return nil
		},
	})
}
