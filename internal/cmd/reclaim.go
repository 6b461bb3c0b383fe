package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/zonemaster/zmbroker/internal/errcoll"
	"github.com/zonemaster/zmbroker/internal/store"
)

// reclaimer periodically returns stale claimed tests to the waiting state.
// A test is stale when it was claimed but its agent died before reporting any
// progress; without reclaiming such tests stay running forever.
type reclaimer struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	store   store.Interface

	done chan struct{}

	olderThan time.Duration
}

// reclaimerConfig is the [reclaimer] configuration.
type reclaimerConfig struct {
	logger    *slog.Logger
	errColl   errcoll.Interface
	store     store.Interface
	olderThan time.Duration
}

// newReclaimer returns a new *reclaimer.
func newReclaimer(c *reclaimerConfig) (r *reclaimer) {
	return &reclaimer{
		logger:    c.logger,
		errColl:   c.errColl,
		store:     c.store,
		done:      make(chan struct{}),
		olderThan: c.olderThan,
	}
}

// start launches the periodic reclaiming loop.
func (r *reclaimer) start() {
	go r.run()
}

// run is the reclaiming loop.  It ticks at the staleness threshold, which
// bounds how long a dead claim can linger to twice that threshold.
func (r *reclaimer) run() {
	t := time.NewTicker(r.olderThan)
	defer t.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-t.C:
			r.reclaim(context.Background())
		}
	}
}

// reclaim performs one reclaiming pass.
func (r *reclaimer) reclaim(ctx context.Context) {
	n, err := r.store.ReclaimStale(ctx, r.olderThan)
	if err != nil {
		errcoll.Collect(ctx, r.errColl, r.logger, "reclaiming stale tests", err)

		return
	}

	if n > 0 {
		r.logger.InfoContext(ctx, "reclaimed stale tests", "count", n)
	}
}

// Shutdown stops the reclaiming loop.
func (r *reclaimer) Shutdown(_ context.Context) (err error) {
	close(r.done)

	return nil
}
