package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"therapyline/internal/app"
	"therapyline/internal/config"
	"therapyline/pkg/logger"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration (defaults < environment < file) and serves until
// ctx is cancelled.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("therapyline", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to YAML configuration file")
	checkOnly := flags.Bool("check", false, "validate configuration and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *checkOnly {
		fmt.Fprintln(stderr, "configuration OK")
		return nil
	}

	log, err := logger.New(*cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	application, err := app.NewApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Run(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}
