package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"library/cmd"
	"library/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("Outbox relay failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cmd.Bootstrap("relay")
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Outbox.Enabled {
		logger.Info("Outbox relay is disabled by config; exiting")
		return nil
	}
	if cfg.Broker.Driver == "memory" {
		// 内存 broker 只在网关进程内有效，那里已经跑着 relay
		return fmt.Errorf("outbox relay needs broker driver redis, got %q", cfg.Broker.Driver)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := cmd.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer cmd.CloseDatabase(db)

	broker, err := cmd.OpenBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	relay, err := cmd.NewOutboxRelay(cfg, db, broker.Transport)
	if err != nil {
		return fmt.Errorf("failed to create outbox relay: %w", err)
	}

	logger.Info("Outbox relay started",
		zap.Duration("poll_interval", cfg.Outbox.PollInterval),
		zap.Int("batch_size", cfg.Outbox.BatchSize),
		zap.Int("max_retries", cfg.Outbox.MaxRetries),
		zap.Duration("grace_period", cfg.Outbox.GracePeriod),
	)

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("outbox relay exited with error: %w", err)
	}

	logger.Info("Outbox relay stopped")
	return nil
}
