package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
)

// ReaperOptions configures the stale-job reaper.
type ReaperOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Reaper periodically recovers jobs orphaned by crashed workers. Reaped jobs
// with attempts left go back to the queue; jobs that already burned their
// last attempt are failed terminally so they cannot sit queued forever.
type Reaper struct {
	store    core.JobStore
	notifier Notifier
	bus      *events.EventBus
	logger   *logging.Logger
	opts     ReaperOptions
}

// NewReaper creates a reaper.
func NewReaper(store core.JobStore, notifier Notifier, bus *events.EventBus, logger *logging.Logger, opts ReaperOptions) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reaper{
		store:    store,
		notifier: notifier,
		bus:      bus,
		logger:   logger,
		opts:     opts,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick. The first sweep
// happens immediately so a restart recovers its own orphans without waiting
// a full interval.
func (r *Reaper) Run(ctx context.Context) error {
	if err := r.Sweep(ctx); err != nil {
		r.logger.Error("reaper sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one recovery pass.
func (r *Reaper) Sweep(ctx context.Context) error {
	reaped, err := r.store.ReapStaleJobs(ctx, r.opts.Timeout)
	if err != nil {
		return fmt.Errorf("reaping stale jobs: %w", err)
	}

	for _, job := range reaped {
		logger := r.logger.WithJob(string(job.ID))
		r.publish(events.NewJobEvent(events.TypeJobReaped, string(job.ID), string(job.TaskID)).
			WithRetry(job.RetryCount))

		if job.AttemptsLeft() {
			logger.Warn("stale job requeued", "attempt", job.RetryCount)
			continue
		}

		// The crashed attempt was the last one.
		errMsg := fmt.Sprintf("retries exhausted after %d attempts: worker lock expired", job.RetryCount)
		if err := r.store.FailJob(ctx, job.ID, errMsg); err != nil {
			logger.Error("failing exhausted job failed", "error", err)
			continue
		}
		logger.Error("stale job failed terminally", "attempt", job.RetryCount)
		r.publish(events.NewJobEvent(events.TypeJobFailed, string(job.ID), string(job.TaskID)).
			WithRetry(job.RetryCount).WithError(errMsg))

		if r.notifier != nil {
			if err := r.notifier.OnJobFailed(ctx, job, errMsg); err != nil {
				logger.Error("propagating job failure failed", "error", err)
			}
		}
	}
	return nil
}

func (r *Reaper) publish(event events.Event) {
	if r.bus != nil {
		r.bus.Publish(event)
	}
}
