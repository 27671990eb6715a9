package main

import (
	"context"
	"fmt"
	"os"

	"library/cmd"
	"library/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("Gateway failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cmd.Bootstrap("gateway")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	app, err := cmd.NewBuilder(cfg).Build(ctx)
	if err != nil {
		logger.Error("Failed to build application", zap.Error(err))
		return err
	}
	return app.Run(ctx)
}
