package patreon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Refresher periodically re-syncs every linked account.
type Refresher struct {
	service  *Service
	interval time.Duration
	workers  int
	logger   *zap.Logger
}

// NewRefresher returns a refresher. A zero interval disables Run.
func NewRefresher(service *Service, interval time.Duration, workers int, logger *zap.Logger) *Refresher {
	if workers < 1 {
		workers = 1
	}
	return &Refresher{
		service:  service,
		interval: interval,
		workers:  workers,
		logger:   logger.With(zap.String("component", "patreon_refresher")),
	}
}

// Run refreshes on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("Patreon refresher disabled")
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			synced, failed, err := r.RefreshAll(ctx)
			if err != nil {
				r.logger.Error("Failed to list linked Patreon accounts", zap.Error(err))
				continue
			}
			r.logger.Info("Refreshed Patreon accounts",
				zap.Int("synced", synced),
				zap.Int("failed", failed))
		}
	}
}

// RefreshAll syncs every linked account with a bounded number of workers.
// Per-account failures are logged and counted, never returned.
func (r *Refresher) RefreshAll(ctx context.Context) (synced, failed int, err error) {
	owners, err := r.service.store.LinkedOwners(ctx)
	if err != nil {
		return 0, 0, err
	}

	var ok, bad atomic.Int64
	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.workers)
	for _, ownerID := range owners {
		p.Go(func(ctx context.Context) error {
			if _, err := r.service.Sync(ctx, ownerID); err != nil {
				bad.Add(1)
				r.logger.Warn("Failed to sync Patreon account",
					zap.String("ownerID", ownerID),
					zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = p.Wait()

	return int(ok.Load()), int(bad.Load()), nil
}
