package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/formatter"
	"github.com/urfave/cli/v3"
)

// ArtifactsSweep runs one expiry pass over the artifact directory.
//
// Run against a stopped server: a fresh store knows no in-flight slots or
// links, so every slot older than the TTL is eligible.
func (r *Runner) ArtifactsSweep(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Artifacts

	store, err := artifacts.NewStore(cfg.Dir, cfg.TTL, r.logger)
	if err != nil {
		return err
	}

	report := store.Sweep(time.Now())
	if err := r.writePlain("%s", formatter.SweepSummary(report)); err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d artifacts could not be removed", len(report.Errors))
	}
	return nil
}
