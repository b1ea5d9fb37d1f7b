// Package queue is the top-level scheduler: it accepts task submissions,
// persists them, drives them through the runner, records terminal statuses,
// releases locks, and periodically reconciles its in-memory view against
// durable storage for crash recovery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ingestq/internal/lockbox"
	"ingestq/internal/runner"
	"ingestq/internal/storage"
	"ingestq/internal/task"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Options configures queue behavior.
type Options struct {
	// SyncInterval is how often the in-memory active set is reconciled
	// against storage.
	SyncInterval time.Duration
	// StatusRetries bounds retried storage writes on the completion path.
	StatusRetries int
}

type activeTask struct {
	def      task.Definition
	shutdown chan struct{}
	stopOnce sync.Once
}

func (a *activeTask) signalShutdown() {
	a.stopOnce.Do(func() { close(a.shutdown) })
}

// Queue coordinates task admission, execution and recovery.
type Queue struct {
	opts    Options
	store   storage.TaskStore
	lockbox *lockbox.Lockbox
	runner  *runner.Runner

	mu        sync.Mutex
	active    map[string]*activeTask
	accepting bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	workers    sync.WaitGroup
}

func New(store storage.TaskStore, lb *lockbox.Lockbox, r *runner.Runner, opts Options) *Queue {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = time.Second
	}
	if opts.StatusRetries <= 0 {
		opts.StatusRetries = 3
	}
	return &Queue{
		opts:    opts,
		store:   store,
		lockbox: lb,
		runner:  r,
		active:  make(map[string]*activeTask),
	}
}

// Start syncs the lockbox from storage, resumes tasks recorded as RUNNING,
// and begins the reconciliation loop. Lock state is authoritative before any
// task can request new locks.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.lockbox.SyncFromStorage(ctx); err != nil {
		return fmt.Errorf("sync lockbox: %w", err)
	}

	q.baseCtx, q.baseCancel = context.WithCancel(context.Background())

	q.mu.Lock()
	q.accepting = true
	q.mu.Unlock()

	// Resume whatever the previous process left running.
	q.syncWithStorage(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	q.loopCancel = cancel
	q.loopDone = make(chan struct{})
	go func() {
		defer close(q.loopDone)
		ticker := time.NewTicker(q.opts.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				q.syncWithStorage(loopCtx)
			}
		}
	}()
	log.Info().Dur("sync_interval", q.opts.SyncInterval).Msg("task queue started")
	return nil
}

// Add accepts a task for execution. An empty id is assigned one. Safe to call
// concurrently with startup and reconciliation.
func (q *Queue) Add(ctx context.Context, def task.Definition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := def.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return "", ErrQueueStopped
	}
	if _, running := q.active[def.ID]; running {
		return "", ErrDuplicateTask
	}
	if err := q.store.Insert(ctx, def, task.Running(def.ID)); err != nil {
		if errors.Is(err, storage.ErrTaskExists) {
			return "", ErrDuplicateTask
		}
		return "", fmt.Errorf("persist task: %w", err)
	}
	q.admitLocked(def)
	log.Info().Str("task_id", def.ID).Str("type", string(def.Type)).
		Str("data_source", def.DataSource).Msg("task accepted")
	return def.ID, nil
}

// admitLocked hands the task to the runner. Caller holds q.mu.
func (q *Queue) admitLocked(def task.Definition) {
	entry := &activeTask{def: def, shutdown: make(chan struct{})}
	q.active[def.ID] = entry
	q.workers.Add(1)
	go func() {
		defer q.workers.Done()
		st := q.runner.Run(q.baseCtx, def, entry.shutdown)
		q.complete(def, st)
	}()
}

// complete records the terminal status, releases the task's locks and frees
// the slot. Storage hiccups are retried; a conflicting terminal status means
// the result was already recorded and is not an error here.
func (q *Queue) complete(def task.Definition, st task.Status) {
	ctx := context.Background()
	err := storage.Retry(ctx, q.opts.StatusRetries, 100*time.Millisecond, func() error {
		return q.store.SetStatus(ctx, st)
	})
	if err != nil && !errors.Is(err, storage.ErrStatusConflict) {
		log.Error().Str("task_id", def.ID).Err(err).Msg("failed to persist terminal status")
	}

	err = storage.Retry(ctx, q.opts.StatusRetries, 100*time.Millisecond, func() error {
		return q.lockbox.Release(ctx, def.ID)
	})
	if err != nil {
		log.Error().Str("task_id", def.ID).Err(err).Msg("failed to release locks")
	}

	q.mu.Lock()
	delete(q.active, def.ID)
	q.mu.Unlock()
}

// GetStatus returns the task's current status from storage.
func (q *Queue) GetStatus(ctx context.Context, taskID string) (task.Status, error) {
	st, err := q.store.GetStatus(ctx, taskID)
	if errors.Is(err, storage.ErrTaskNotFound) {
		return task.Status{}, ErrTaskNotFound
	}
	return st, err
}

// ActionLog returns the task's committed-action audit log.
func (q *Queue) ActionLog(ctx context.Context, taskID string) ([]storage.ActionRecord, error) {
	if _, err := q.GetStatus(ctx, taskID); err != nil {
		return nil, err
	}
	return q.store.GetActionLog(ctx, taskID)
}

// Shutdown delivers a cooperative stop signal to a running task. Stopping a
// task that already finished is a no-op.
func (q *Queue) Shutdown(ctx context.Context, taskID string) error {
	q.mu.Lock()
	entry, running := q.active[taskID]
	q.mu.Unlock()
	if running {
		entry.signalShutdown()
		return nil
	}
	_, err := q.GetStatus(ctx, taskID)
	return err
}

// syncWithStorage reconciles the in-memory active set against the durable
// ledger: storage-RUNNING tasks unknown in memory are re-admitted (crash
// recovery); in-memory tasks that storage no longer considers running are
// told to stop. Failures are logged and retried next cycle.
func (q *Queue) syncWithStorage(ctx context.Context) {
	stored, err := q.store.GetActiveTasks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("storage sync failed; will retry next cycle")
		return
	}
	storedIDs := make(map[string]struct{}, len(stored))
	for _, def := range stored {
		storedIDs[def.ID] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return
	}
	for _, def := range stored {
		if _, known := q.active[def.ID]; known {
			continue
		}
		// Re-check: the task may have completed between the ledger read and
		// taking the lock.
		st, err := q.store.GetStatus(ctx, def.ID)
		if err != nil || st.Code != task.StatusRunning {
			continue
		}
		log.Info().Str("task_id", def.ID).Msg("resuming task from storage")
		q.admitLocked(def)
	}
	for id, entry := range q.active {
		if _, ok := storedIDs[id]; !ok {
			log.Warn().Str("task_id", id).Msg("task no longer active in storage; signaling shutdown")
			entry.signalShutdown()
		}
	}
}

// Stop ceases admissions and reconciliation, then waits for in-flight tasks
// to finish on their own, up to the context deadline. Running tasks are not
// interrupted.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()

	if q.loopCancel != nil {
		q.loopCancel()
		<-q.loopDone
	}

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("task queue stopped")
	case <-ctx.Done():
		log.Warn().Msg("task queue stop timed out with tasks in flight")
	}
	if q.baseCancel != nil {
		q.baseCancel()
	}
	return nil
}
