// Package reaper periodically removes expired session rows from shared storage.
// Redis expires keys on its own; the Postgres backend needs an explicit sweep.
package reaper

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/mmk-auth/internal/observability/metrics"
	"github.com/target/mmk-auth/internal/observability/statsd"
)

// DefaultInterval is used when RunnerOptions.Interval is not positive.
const DefaultInterval = 10 * time.Minute

// Purger deletes expired entries and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Purger   Purger
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// Runner sweeps expired rows on a fixed interval.
type Runner struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Purger == nil {
		return nil, errors.New("purger is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		purger:   opts.Purger,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "reaper"),
		metrics:  opts.Metrics,
	}, nil
}

// RunOnce performs a single sweep.
func (r *Runner) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	removed, err := r.purger.PurgeExpired(ctx)
	metrics.EmitStoragePurge(r.metrics, removed, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.InfoContext(ctx, "purged expired sessions", "removed", removed)
	}
	return removed, nil
}

// Run sweeps immediately after a short jitter and then on every interval until ctx is
// canceled. Sweep failures are logged and do not stop the loop.
// Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper", "interval", r.interval)
	r.waitWithJitter(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "purge failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitWithJitter delays up to 10% of the interval so several hosts sharing one table
// do not sweep in lockstep.
func (r *Runner) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
