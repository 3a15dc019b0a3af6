// Copyright 2025-2026 Roberto Szek

// Package mirror orchestrates a full run: one sequential fetch/publish flow
// per account, with the transformation stage fanned out across a small
// worker pool.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/robertoszek/fedimirror/pkg/config"
	"github.com/robertoszek/fedimirror/pkg/store"
)

// Runner executes mirror runs for a configuration.
type Runner struct {
	cfg    *config.Config
	log    zerolog.Logger
	dryRun bool
}

// NewRunner creates a runner. With dryRun the pipeline fetches and
// transforms but never publishes.
func NewRunner(cfg *config.Config, dryRun bool, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, dryRun: dryRun, log: log}
}

// Run processes every configured account under the process-wide run lock.
// A fatal error in one account aborts that account's remaining work only;
// the returned error reports how many accounts failed.
func (r *Runner) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	lock := store.NewRunLock(filepath.Join(r.cfg.StateDir, "run.lock"), r.cfg.LockTimeout())
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release()

	failed := 0
	for i := range r.cfg.Accounts {
		acct := &r.cfg.Accounts[i]
		log := r.log.With().Str("account", acct.SourceUsername).Logger()
		flow, err := newAccountFlow(r.cfg, acct, r.dryRun, log)
		if err != nil {
			log.Error().Err(err).Msg("Account setup failed")
			failed++
			continue
		}
		summary, err := flow.run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Account run failed")
			failed++
			continue
		}
		log.Info().
			Int("fetched", summary.Fetched).
			Int("published", summary.Published).
			Int("skipped", summary.Skipped).
			Msg("Account run complete")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(r.cfg.Accounts))
	}
	return nil
}
