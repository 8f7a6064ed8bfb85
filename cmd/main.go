package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/dlx/internal/services"
	"github.com/desertthunder/dlx/internal/shared"
	"github.com/urfave/cli/v3"
)

var version = "0.1.0"

func main() {
	logger := shared.NewLogger(nil)

	configPath := os.Getenv("DLX_CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loadedConfig, err := shared.LoadConfig(configPath)
		if err != nil {
			logger.Fatal("invalid configuration", "path", configPath, "error", err)
		}
		config = loadedConfig
	} else {
		config.ApplyEnv()
	}
	shared.SetLogLevel(logger, config.Logging.LogLevel())

	apiURL := os.Getenv("DLX_API_URL")
	if apiURL == "" {
		apiURL = fmt.Sprintf("http://localhost:%d", config.Server.Port)
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		API:        services.NewAPIService(apiURL, nil),
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "dlx",
		Usage:    "Download audio from Spotify links through a task-based HTTP API",
		Version:  version,
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("application error: %v", err)
	}
}
