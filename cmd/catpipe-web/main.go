// Command catpipe-web serves the categorical pipeline over HTTP with a
// WebSocket progress stream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"catpipe/internal/app"
	"catpipe/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFrom(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		application.Logger.Error("application_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
