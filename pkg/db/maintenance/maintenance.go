package maintenance

import (
	"context"
	"log/slog"
	"time"

	"dubstudio/pkg/db"
	"dubstudio/pkg/store"
)

const lastRunStateKey = "maintenance_last_run"

// Settings control what startup maintenance prunes.
type Settings struct {
	CacheTTL time.Duration // clip cache lifetime, 0 keeps everything
	JobTTL   time.Duration // finished job lifetime, 0 keeps everything
}

// Run executes the startup maintenance tasks. Failures are logged, never fatal.
// It blocks until completion.
func Run(ctx context.Context, s store.Store, d *db.DB, cfg Settings) {
	slog.Info("Starting database maintenance...")

	if n, err := s.FailInterrupted(ctx, "interrupted by server restart"); err != nil {
		slog.Error("Marking interrupted jobs failed", "error", err)
	} else if n > 0 {
		slog.Warn("Jobs interrupted by restart marked failed", "count", n)
	}

	if cfg.CacheTTL > 0 {
		if n, err := d.PruneCache(cfg.CacheTTL); err != nil {
			slog.Error("Cache pruning failed", "error", err)
		} else {
			slog.Info("Cache pruning completed", "removed", n)
		}
	}

	if cfg.JobTTL > 0 {
		if n, err := d.PruneJobs(cfg.JobTTL); err != nil {
			slog.Error("Job pruning failed", "error", err)
		} else {
			slog.Info("Job pruning completed", "removed", n)
		}
	}

	if err := s.SetState(ctx, lastRunStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Error("Failed to record maintenance run", "error", err)
	}
}
