// Package daemon composes the sync stack into a long-running process: per-user
// lock, logger, config and session, tied to the application lifecycle.
package daemon

import (
	"context"
	"fmt"

	"github.com/nestmate/chatsync/internal/config"
	"github.com/nestmate/chatsync/internal/lock"
	"github.com/nestmate/chatsync/internal/logging"
	"github.com/nestmate/chatsync/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	UserID     string
	ConfigPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the sync daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.UserID); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.UserID), p.UserID)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring user lock", zap.String("user", p.UserID))
	l, err := lock.Acquire(session.Dir(p.UserID), p.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("user lock acquired")
	return l, nil
}

func provideSession(p Params, cfg *config.Config, logger *zap.Logger) (*session.Session, error) {
	return session.New(cfg, p.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, s *session.Session, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seeding and the push channel outlive the start hook's deadline.
			if err := s.Start(context.Background()); err != nil {
				return err
			}
			logger.Info("sync daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			s.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("sync daemon stopped")
			return nil
		},
	})
}
