package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/ptyhost/internal/api"
	"github.com/user/ptyhost/internal/config"
	"github.com/user/ptyhost/internal/db"
	"github.com/user/ptyhost/internal/hub"
	"github.com/user/ptyhost/internal/logging"
	"github.com/user/ptyhost/internal/metrics"
	"github.com/user/ptyhost/internal/pty"
	"github.com/user/ptyhost/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ptyhost: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Development = logCfg.Development || cfg.LogDev
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer store.Close()
	history := db.NewHistoryRepo(store.SQL(), logger.Named("history"))

	var mgr *pty.Manager
	stats := metrics.New(func() int { return mgr.Len() })
	mgr, err = pty.NewManager(pty.Options{
		Command:      cfg.Command,
		WriteTimeout: cfg.WriteTimeout,
		EventBuffer:  cfg.EventBuffer,
		OnStart: func(info pty.SessionInfo) {
			history.OnStart(info)
			stats.RecordSpawn(info)
		},
		Logger: logger.Named("pty"),
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	h := hub.New(mgr, hub.Options{
		Token:         cfg.Token,
		DefaultDir:    cfg.DefaultDir,
		BatchInterval: cfg.BatchInterval,
		Logger:        logger.Named("hub"),
	})
	srv := server.New(cfg.Addr(), server.Handlers{
		WebSocket: h.HandleWebSocket,
		API: api.NewRouter(mgr, api.Options{
			Token:      cfg.Token,
			DefaultDir: cfg.DefaultDir,
			History:    history,
			Logger:     logger.Named("api"),
		}),
		Metrics: stats.Handler(),
	}, logger.Named("server"))

	if cfg.PrintToken {
		fmt.Printf("\nptyhost running at http://%s?token=%s\n\n", cfg.Addr(), cfg.Token)
	}
	logger.Info("ptyhost starting",
		zap.String("addr", cfg.Addr()),
		zap.String("command", cfg.Command),
		zap.String("db", cfg.DBPath),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := mgr.Dispatch(gctx, pty.Notifiers{h, history, stats})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("ptyhost stopped with error", zap.Error(err))
		return err
	}
	logger.Info("ptyhost stopped", zap.Int("live_sessions", mgr.Len()))
	return nil
}
