package cmd

import (
	"flag"
	"fmt"

	"library/config"
	"library/pkg/logger"
)

// Bootstrap parses -config, loads the configuration and initializes the logger
// for the named process. Every process entry point calls it first.
func Bootstrap(process string) (*config.Config, error) {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(&cfg.Log, cfg.App.Env, process); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
