package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
)

// Notifier receives job settlement callbacks. The workflow engine implements
// it to resume executions; a nil notifier leaves jobs standalone.
type Notifier interface {
	OnJobSucceeded(ctx context.Context, job *core.Job) error
	OnJobFailed(ctx context.Context, job *core.Job, errMsg string) error
}

// PoolOptions configures the worker pool.
type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	Backoff      Backoff
}

// Pool claims and runs queued jobs on a fixed set of workers. Workers poll
// the store rather than coordinating with each other; the atomic claim in
// the store is the only synchronization point.
type Pool struct {
	store    core.JobStore
	invoker  *Invoker
	notifier Notifier
	bus      *events.EventBus
	logger   *logging.Logger
	opts     PoolOptions
}

// NewPool creates a worker pool.
func NewPool(store core.JobStore, invoker *Invoker, notifier Notifier, bus *events.EventBus, logger *logging.Logger, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		store:    store,
		invoker:  invoker,
		notifier: notifier,
		bus:      bus,
		logger:   logger,
		opts:     opts,
	}
}

// Run blocks until ctx is cancelled, running all workers.
func (p *Pool) Run(ctx context.Context) error {
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d-w%d", host, os.Getpid(), i)
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, workerID string) error {
	logger := p.logger.WithWorker(workerID)
	logger.Info("worker started")

	for {
		job, err := p.store.ClaimJob(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("claim failed", "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				logger.Info("worker stopped")
				return ctx.Err()
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}

		p.process(ctx, workerID, job)
	}
}

// process runs one claimed job to a settled state. The job row is always
// settled here (completed, requeued or failed) except when the process dies
// mid-flight, which the reaper recovers.
func (p *Pool) process(ctx context.Context, workerID string, job *core.Job) {
	logger := p.logger.WithWorker(workerID).WithJob(string(job.ID))
	logger.Info("job claimed", "capability", job.Capability, "attempt", job.RetryCount)
	p.publish(events.NewJobEvent(events.TypeJobClaimed, string(job.ID), string(job.TaskID)).
		WithWorker(workerID).WithRetry(job.RetryCount))

	output, err := p.invoker.Invoke(ctx, job)
	if err != nil {
		p.settleFailure(ctx, logger, job, err)
		return
	}

	if err := p.store.CompleteJob(ctx, job.ID, output); err != nil {
		logger.Error("recording completion failed", "error", err)
		return
	}
	job.Output = output
	job.Status = core.JobStatusCompleted
	logger.Info("job completed")
	p.publish(events.NewJobEvent(events.TypeJobCompleted, string(job.ID), string(job.TaskID)))

	if p.notifier != nil {
		if err := p.notifier.OnJobSucceeded(ctx, job); err != nil {
			logger.Error("resuming workflow failed", "error", err)
		}
	}
}

// settleFailure decides between a backed-off requeue and a terminal failure.
// Retryable errors requeue while attempts remain; everything else fails the
// job and notifies the engine.
func (p *Pool) settleFailure(ctx context.Context, logger *logging.Logger, job *core.Job, invokeErr error) {
	if ctx.Err() != nil && errors.Is(invokeErr, context.Canceled) {
		// Shutdown mid-invoke: leave the row running for the reaper.
		return
	}

	errMsg := invokeErr.Error()
	if core.IsRetryable(invokeErr) && job.AttemptsLeft() {
		runAfter := p.opts.Backoff.NextRunAfter(time.Now(), job.RetryCount)
		if err := p.store.RequeueJob(ctx, job.ID, errMsg, runAfter); err != nil {
			logger.Error("requeue failed", "error", err)
			return
		}
		logger.Warn("job requeued", "error", errMsg, "attempt", job.RetryCount, "run_after", runAfter)
		p.publish(events.NewJobEvent(events.TypeJobRequeued, string(job.ID), string(job.TaskID)).
			WithRetry(job.RetryCount).WithError(errMsg))
		return
	}

	if core.IsRetryable(invokeErr) {
		errMsg = fmt.Sprintf("retries exhausted after %d attempts: %s", job.RetryCount, errMsg)
	}
	if err := p.store.FailJob(ctx, job.ID, errMsg); err != nil {
		logger.Error("recording failure failed", "error", err)
		return
	}
	logger.Error("job failed", "error", errMsg, "attempt", job.RetryCount)
	p.publish(events.NewJobEvent(events.TypeJobFailed, string(job.ID), string(job.TaskID)).
		WithRetry(job.RetryCount).WithError(errMsg))

	if p.notifier != nil {
		if err := p.notifier.OnJobFailed(ctx, job, errMsg); err != nil {
			logger.Error("propagating job failure failed", "error", err)
		}
	}
}

func (p *Pool) publish(event events.Event) {
	if p.bus != nil {
		p.bus.Publish(event)
	}
}
