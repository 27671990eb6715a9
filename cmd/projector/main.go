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
		fmt.Printf("Projector failed: %v\n", err)
		os.Exit(1)
	}
}

// run consumes the event stream into the read store, one message at a time.
func run() error {
	cfg, err := cmd.Bootstrap("projector")
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Broker.Driver != "redis" {
		return fmt.Errorf("projector needs broker driver redis, got %q", cfg.Broker.Driver)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	broker, err := cmd.OpenBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	store, err := cmd.OpenReadStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.WithoutCancel(ctx))

	dispatcher := cmd.NewProjectionDispatcher(store)
	subscriber := cmd.NewRedisSubscriber(cfg, broker.Redis)

	logger.Info("Projector started",
		zap.String("group", cfg.Projector.Group),
		zap.String("consumer", cfg.Projector.Consumer),
		zap.Strings("events", dispatcher.EventNames()),
		zap.String("dead_letter_stream", subscriber.DeadLetterStream()),
	)

	if err := subscriber.Run(ctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("projector exited with error: %w", err)
	}

	logger.Info("Projector stopped")
	return nil
}
