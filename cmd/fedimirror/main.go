// Copyright 2025-2026 Roberto Szek

// Command fedimirror mirrors source social-media accounts onto federated
// microblogging backends. It is designed to run periodically (e.g. from
// cron): each invocation fetches new posts since the last run, transforms
// them for the target platform, and publishes them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/config"
	"github.com/robertoszek/fedimirror/pkg/mirror"
)

// Version is filled at build time with -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	dryRun := flag.Bool("dry-run", false, "fetch and transform but do not publish")
	forceDate := flag.String("force-date", "", "override the lookback start date (2006-01-02) for all accounts")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fedimirror " + Version)
		return
	}

	// Credentials come from the environment; a .env next to the binary is
	// a convenience for local runs.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fedimirror:", err)
		os.Exit(1)
	}
	if *forceDate != "" {
		if err := cfg.OverrideForceDate(*forceDate); err != nil {
			fmt.Fprintln(os.Stderr, "fedimirror:", err)
			os.Exit(1)
		}
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", Version).Int("accounts", len(cfg.Accounts)).Msg("Starting run")

	runner := mirror.NewRunner(cfg, *dryRun, log)
	if err := runner.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
	log.Info().Msg("Run complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
