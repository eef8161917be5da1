package sandbox

import (
	"context"
	"log/slog"
	"time"
)

// OrphanReaper is the background sweep for worker containers that carry the
// configured prefix but belong to no session record: leftovers from crashes
// or containers whose release half-failed. The startup reap in Initialize
// handles the previous run; this catches anything that appears later.
// Containers younger than this are left alone: CreateSession makes the
// container before it registers the session record, so a fresh unowned
// container may simply be mid-creation.
const orphanMinAge = time.Minute

type OrphanReaper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

func NewOrphanReaper(manager *Manager, interval time.Duration, logger *slog.Logger) *OrphanReaper {
	return &OrphanReaper{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

func (r *OrphanReaper) Run(ctx context.Context) {
	r.logger.Info("orphan reaper started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("orphan reaper stopped")
			return
		case <-ticker.C:
			reaped, err := r.manager.ReapOrphans(ctx, orphanMinAge)
			if err != nil {
				r.logger.Error("orphan sweep", "error", err)
				continue
			}
			if reaped > 0 {
				r.logger.Info("orphan sweep reaped containers", "count", reaped)
			}
		}
	}
}
