package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/park285/kriegspiel-server/internal/app"
	"github.com/park285/kriegspiel-server/internal/config"
	"github.com/park285/kriegspiel-server/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init_error", zap.Error(err))
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("server_error", zap.Error(err))
		os.Exit(1)
	}
}
