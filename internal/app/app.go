package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/park285/kriegspiel-server/internal/admin"
	"github.com/park285/kriegspiel-server/internal/config"
	"github.com/park285/kriegspiel-server/internal/coordinator"
	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/park285/kriegspiel-server/internal/matchmaking"
	"github.com/park285/kriegspiel-server/internal/msgcat"
	"github.com/park285/kriegspiel-server/internal/store"
	"github.com/park285/kriegspiel-server/internal/wsgate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App holds every long-lived component of the server.
type App struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Store       game.Store
	Manager     *game.Manager
	Coordinator *coordinator.Coordinator
	Gateway     *wsgate.Gateway
	Admin       *admin.Server
	Sweeper     *store.Sweeper

	redis *store.Redis
	http  *http.Server
}

// New wires the server from cfg. REDIS_URL selects the Redis store, otherwise
// sessions live in process memory.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := store.DialRedis(dialCtx, cfg.RedisURL, cfg.SessionTTL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		a.redis = rs
		a.Store = rs
		logger.Info("store_ready", zap.String("kind", "redis"), zap.Duration("ttl", cfg.SessionTTL))
	} else {
		a.Store = store.NewMemory(cfg.SessionTTL)
		logger.Info("store_ready", zap.String("kind", "memory"), zap.Duration("ttl", cfg.SessionTTL))
	}

	a.Manager = game.NewManager(a.Store)
	a.Coordinator = coordinator.New(a.Manager, coordinator.Options{
		Queue: matchmaking.Config{
			MinMatchInterval: cfg.MinMatchInterval,
			MaxQueueTime:     cfg.MaxQueueTime,
			CleanupInterval:  cfg.QueueCleanupInterval,
			StatusInterval:   cfg.QueueStatusInterval,
		},
		BotThinking: cfg.BotThinking,
		Catalog:     catalog,
		Logger:      logger,
	})
	a.Gateway = wsgate.New(a.Coordinator, wsgate.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	a.Coordinator.AttachTransport(a.Gateway)
	a.Sweeper = store.NewSweeper(a.Store, cfg.SweepInterval)

	if cfg.AdminAddr != "" {
		opts := admin.Options{QueueLen: a.Coordinator.Queue().Len, Logger: logger}
		if a.redis != nil {
			opts.Ping = a.redis.Ping
		}
		a.Admin = admin.New(a.Store, opts)
	}

	a.http = &http.Server{
		Handler:           a.Gateway.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run listens on the configured addresses and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Config.ListenAddr, err)
	}
	var adminLn net.Listener
	if a.Admin != nil {
		adminLn, err = net.Listen("tcp", a.Config.AdminAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen admin %s: %w", a.Config.AdminAddr, err)
		}
	}
	return a.Serve(ctx, ln, adminLn)
}

// Serve runs every component on the given listeners. adminLn may be nil.
func (a *App) Serve(ctx context.Context, ln, adminLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Coordinator.Start(gctx)
	a.Logger.Info("server_start", zap.String("addr", ln.Addr().String()))

	g.Go(func() error {
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if a.Admin != nil && adminLn != nil {
		a.Logger.Info("admin_start", zap.String("addr", adminLn.Addr().String()))
		g.Go(func() error {
			if err := a.Admin.Serve(adminLn); err != nil {
				return fmt.Errorf("admin serve: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return a.Sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	a.Logger.Info("server_stop", zap.Error(err))
	return err
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.Gateway.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway close: %w", err))
	}
	if a.Admin != nil {
		if err := a.Admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}
	a.Coordinator.Stop()
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the store connection. Serve calls it on shutdown.
func (a *App) Close() error {
	if a.redis == nil {
		return nil
	}
	err := a.redis.Close()
	a.redis = nil
	return err
}
