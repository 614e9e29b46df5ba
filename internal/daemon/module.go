package daemon

import (
	"context"
	"fmt"

	"github.com/lfelipesv/talkd/internal/api"
	"github.com/lfelipesv/talkd/internal/archive"
	"github.com/lfelipesv/talkd/internal/bus"
	"github.com/lfelipesv/talkd/internal/channel"
	"github.com/lfelipesv/talkd/internal/config"
	"github.com/lfelipesv/talkd/internal/lock"
	"github.com/lfelipesv/talkd/internal/logging"
	"github.com/lfelipesv/talkd/internal/model"
	"github.com/lfelipesv/talkd/internal/presence"
	"github.com/lfelipesv/talkd/internal/session"
	"github.com/lfelipesv/talkd/internal/state"
	"github.com/lfelipesv/talkd/internal/status"
	intsync "github.com/lfelipesv/talkd/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
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
			provideLock,
			provideViewer,
			provideStore,
			provideTracker,
			provideBackend,
			provideAdapter,
			provideArchive,
			provideArchiveWriter,
			provideEngine,
			NewHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
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

// provideViewer resolves the account the daemon syncs for: explicit config
// wins, otherwise the JWT subject claim.
func provideViewer(cfg *config.Config) (model.ChatUser, error) {
	userID := cfg.UserID
	if userID == "" {
		userID = channel.TokenSubject(cfg.Token)
	}
	if userID == "" {
		return model.ChatUser{}, fmt.Errorf("no user identity: set user_id in config or provide a JWT token")
	}
	return model.ChatUser{ID: userID, DisplayName: cfg.DisplayName}, nil
}

func provideStore(viewer model.ChatUser) *state.Store {
	return state.NewStore(viewer.ID)
}

func provideTracker() *presence.Tracker {
	return presence.NewTracker(0)
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.ServerURL, cfg.Token, logger)
}

func provideAdapter(cfg *config.Config, logger *zap.Logger) *channel.Adapter {
	return channel.NewAdapter(cfg.ChannelURL, logger)
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := session.ArchiveDBPath(p.SessionName)
	db, err := archive.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("archive migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("archive migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideArchiveWriter(db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Writer {
	return archive.NewWriter(db, b, logger)
}

func provideEngine(viewer model.ChatUser, st *state.Store, tr *presence.Tracker, backend *api.Client, adapter *channel.Adapter, b *bus.Bus, machine *status.Machine, logger *zap.Logger, cfg *config.Config) *intsync.Engine {
	return intsync.NewEngine(viewer, st, tr, backend, adapter, b, machine, logger, intsync.Options{
		RefreshInterval: cfg.RefreshInterval(),
		TypingIdle:      cfg.TypingIdle(),
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, cfg *config.Config, viewer model.ChatUser, adapter *channel.Adapter, engine *intsync.Engine, writer *archive.Writer, db *archive.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the archive sink and sync engine (both subscribe to bus
			// events) before anything can publish.
			writer.Start(context.Background())
			engine.Start(context.Background())

			// Bridge channel callbacks onto the bus.
			handler := channel.NewEventHandler(b, machine, logger)
			handler.Register(adapter)

			// Start the local API in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("local API server error", zap.Error(err))
				}
			}()

			if cfg.Token == "" {
				logger.Info("no token configured, auth required")
				_ = machine.Transition(status.AuthRequired)
				return nil
			}

			_ = machine.Transition(status.Connecting)
			if err := adapter.Connect(context.Background(), channel.Identity{
				UserID: viewer.ID,
				Token:  cfg.Token,
			}); err != nil {
				logger.Error("channel connect failed", zap.Error(err))
				_ = machine.Transition(status.AuthRequired)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			adapter.Disconnect()
			engine.Stop()
			writer.Stop()
			srv.Stop(ctx)
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
