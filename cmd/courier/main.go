package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/boardwatch-hq/ptt-board-courier/internal/app"
	"github.com/boardwatch-hq/ptt-board-courier/internal/config"
	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	log.InfoObj("courier starting", "config", map[string]any{
		"app_name":      cfg.AppName,
		"env":           cfg.Env,
		"watches_file":  cfg.WatchesFile,
		"mirrors_file":  cfg.MirrorsFile,
		"tick_interval": cfg.TickInterval.String(),
		"storage_type":  cfg.StorageType,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	courier, err := app.NewCourier(ctx, cfg, log)
	if err != nil {
		log.ErrorObj("failed to initialize courier", "error", err)
		return err
	}

	if err := courier.Run(ctx); err != nil {
		return fmt.Errorf("courier run: %w", err)
	}

	return nil
}
