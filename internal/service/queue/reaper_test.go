package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
)

// ageLock backdates a running job's lock so the reaper sees it as stale.
func ageLock(t *testing.T, store *state.SQLiteStore, id core.JobID, age time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-age)
	_, err := store.DB().Exec(`UPDATE jobs SET locked_at = ? WHERE id = ?`, past, id)
	require.NoError(t, err)
}

func TestReaperRequeuesStaleJob(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	reaper := NewReaper(store, notifier, nil, logging.NewNop(), ReaperOptions{Timeout: 10 * time.Minute})

	require.NoError(t, store.CreateJob(ctx, core.NewJob("job-1", "task-1", "draft_post", nil)))
	claimed, err := store.ClaimJob(ctx, "worker-dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	ageLock(t, store, claimed.ID, time.Hour)

	require.NoError(t, reaper.Sweep(ctx))

	recovered, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusQueued, recovered.Status)
	assert.Empty(t, recovered.LockedBy)
	// Attempts remain, so the failure is not terminal.
	assert.Empty(t, notifier.failed)

	// Idempotence: nothing new on the next sweep.
	require.NoError(t, reaper.Sweep(ctx))
	recovered, err = store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusQueued, recovered.Status)
}

func TestReaperFailsExhaustedJobTerminally(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	reaper := NewReaper(store, notifier, nil, logging.NewNop(), ReaperOptions{Timeout: 10 * time.Minute})

	job := core.NewJob("job-1", "task-1", "draft_post", nil).WithMaxRetries(1)
	require.NoError(t, store.CreateJob(ctx, job))

	// The single allowed attempt is claimed by a worker that then dies.
	claimed, err := store.ClaimJob(ctx, "worker-dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	ageLock(t, store, claimed.ID, time.Hour)

	require.NoError(t, reaper.Sweep(ctx))

	settled, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusFailed, settled.Status)
	assert.Contains(t, settled.Error, "retries exhausted")
	assert.Equal(t, []core.JobID{job.ID}, notifier.failed)
}

func TestReaperIgnoresFreshLocks(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	reaper := NewReaper(store, nil, nil, logging.NewNop(), ReaperOptions{Timeout: 10 * time.Minute})

	require.NoError(t, store.CreateJob(ctx, core.NewJob("job-1", "task-1", "draft_post", nil)))
	claimed, err := store.ClaimJob(ctx, "worker-live")
	require.NoError(t, err)

	require.NoError(t, reaper.Sweep(ctx))

	still, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusRunning, still.Status)
}

func TestReaperPublishesReapEvents(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	bus := events.New(16)
	defer bus.Close()
	sub := bus.Subscribe(events.TypeJobReaped)
	reaper := NewReaper(store, nil, bus, logging.NewNop(), ReaperOptions{Timeout: 10 * time.Minute})

	require.NoError(t, store.CreateJob(ctx, core.NewJob("job-1", "task-1", "draft_post", nil)))
	claimed, err := store.ClaimJob(ctx, "worker-dead")
	require.NoError(t, err)
	ageLock(t, store, claimed.ID, time.Hour)

	require.NoError(t, reaper.Sweep(ctx))

	select {
	case ev := <-sub:
		assert.Equal(t, events.TypeJobReaped, ev.EventType())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reap event")
	}
}

func TestReaperRunSweepsOnStart(t *testing.T) {
	store := newQueueStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper := NewReaper(store, nil, nil, logging.NewNop(), ReaperOptions{
		Interval: time.Hour, // only the startup sweep can fire
		Timeout:  10 * time.Minute,
	})

	require.NoError(t, store.CreateJob(ctx, core.NewJob("job-1", "task-1", "draft_post", nil)))
	claimed, err := store.ClaimJob(ctx, "worker-dead")
	require.NoError(t, err)
	ageLock(t, store, claimed.ID, time.Hour)

	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), claimed.ID)
		return err == nil && job.Status == core.JobStatusQueued
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}
