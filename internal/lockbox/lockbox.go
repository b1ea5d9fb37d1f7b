// Package lockbox serializes concurrent write intent per data source. It is
// the in-memory authority for currently held interval locks; the durable
// ledger in storage is what the table is rebuilt from after a restart.
package lockbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ingestq/internal/storage"
	"ingestq/internal/task"
	"ingestq/internal/timeline"

	"github.com/rs/zerolog/log"
)

// ConflictError reports that a requested interval overlaps a lock held by a
// foreign group. Callers retry on their own schedule; the lockbox never
// blocks waiting for a conflicting lock to free.
type ConflictError struct {
	Requested timeline.Interval
	Blocking  task.Lock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("interval %s conflicts with lock held by group %q over %s",
		e.Requested, e.Blocking.GroupID, e.Blocking.Interval)
}

// posse is one held lock plus the set of tasks sharing it. Same-group tasks
// requesting the identical interval join the posse instead of minting a new
// version.
type posse struct {
	lock    task.Lock
	holders map[string]struct{}
}

// Lockbox hands out interval locks with per-dataSource monotonic versions.
type Lockbox struct {
	mu          sync.Mutex
	store       storage.TaskStore
	byDS        map[string][]*posse
	lastVersion map[string]time.Time
	now         func() time.Time
}

func New(store storage.TaskStore) *Lockbox {
	return &Lockbox{
		store:       store,
		byDS:        make(map[string][]*posse),
		lastVersion: make(map[string]time.Time),
		now:         time.Now,
	}
}

// TryAcquire grants taskID a lock over interval, or returns ConflictError if
// a foreign group already holds an overlapping lock on the data source.
// Re-requesting an interval the task's group already holds returns the
// existing lock with its original version.
func (lb *Lockbox) TryAcquire(ctx context.Context, taskID, groupID, dataSource string, interval timeline.Interval) (task.Lock, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	var joinable *posse
	for _, p := range lb.byDS[dataSource] {
		if !p.lock.Interval.Overlaps(interval) {
			continue
		}
		if p.lock.GroupID != groupID {
			return task.Lock{}, &ConflictError{Requested: interval, Blocking: p.lock}
		}
		if p.lock.Interval.Equal(interval) {
			joinable = p
		}
	}
	if joinable != nil {
		joinable.holders[taskID] = struct{}{}
		if err := lb.store.AddLock(ctx, taskID, joinable.lock); err != nil {
			delete(joinable.holders, taskID)
			return task.Lock{}, fmt.Errorf("persist lock: %w", err)
		}
		return joinable.lock, nil
	}

	lock := task.Lock{
		GroupID:    groupID,
		DataSource: dataSource,
		Interval:   interval,
		Version:    lb.nextVersion(dataSource),
	}
	// Durable before visible: the ledger write precedes the table insert.
	if err := lb.store.AddLock(ctx, taskID, lock); err != nil {
		return task.Lock{}, fmt.Errorf("persist lock: %w", err)
	}
	lb.byDS[dataSource] = append(lb.byDS[dataSource], &posse{
		lock:    lock,
		holders: map[string]struct{}{taskID: {}},
	})
	log.Debug().Str("task_id", taskID).Str("data_source", dataSource).
		Str("version", lock.Version).Msg("lock acquired")
	return lock, nil
}

// nextVersion returns a version string strictly greater than any previously
// issued for the data source. Caller holds lb.mu.
func (lb *Lockbox) nextVersion(dataSource string) string {
	v := lb.now().UTC()
	if last, ok := lb.lastVersion[dataSource]; ok && !v.After(last) {
		v = last.Add(time.Nanosecond)
	}
	lb.lastVersion[dataSource] = v
	return task.FormatVersion(v)
}

// Release drops every lock held by taskID, removing it from the durable
// ledger first. Releasing a task that holds nothing is a no-op.
func (lb *Lockbox) Release(ctx context.Context, taskID string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for ds, posses := range lb.byDS {
		kept := posses[:0]
		for _, p := range posses {
			if _, held := p.holders[taskID]; held {
				if err := lb.store.RemoveLock(ctx, taskID, p.lock); err != nil && storage.IsTransient(err) {
					return fmt.Errorf("remove lock: %w", err)
				}
				delete(p.holders, taskID)
			}
			if len(p.holders) > 0 {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(lb.byDS, ds)
		} else {
			lb.byDS[ds] = kept
		}
	}
	return nil
}

// HeldBy returns the locks currently held by taskID.
func (lb *Lockbox) HeldBy(taskID string) []task.Lock {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	var out []task.Lock
	for _, posses := range lb.byDS {
		for _, p := range posses {
			if _, held := p.holders[taskID]; held {
				out = append(out, p.lock)
			}
		}
	}
	return out
}

// SyncFromStorage replaces the in-memory table with the persisted lock
// ledger. Runs once at startup, before the queue dispatches anything;
// persisted locks are trusted as already-valid and not re-checked for
// overlap.
func (lb *Lockbox) SyncFromStorage(ctx context.Context) error {
	held, err := lb.store.GetActiveLocks(ctx)
	if err != nil {
		return fmt.Errorf("read lock ledger: %w", err)
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.byDS = make(map[string][]*posse)
	lb.lastVersion = make(map[string]time.Time)
	for _, h := range held {
		p := lb.findPosse(h.Lock)
		if p == nil {
			p = &posse{lock: h.Lock, holders: make(map[string]struct{})}
			lb.byDS[h.Lock.DataSource] = append(lb.byDS[h.Lock.DataSource], p)
		}
		p.holders[h.TaskID] = struct{}{}
		if t, err := time.Parse(task.VersionLayout, h.Lock.Version); err == nil {
			if t.After(lb.lastVersion[h.Lock.DataSource]) {
				lb.lastVersion[h.Lock.DataSource] = t
			}
		}
	}
	log.Info().Int("locks", len(held)).Msg("lockbox synced from storage")
	return nil
}

// findPosse locates the in-memory posse matching a persisted lock. Caller
// holds lb.mu.
func (lb *Lockbox) findPosse(l task.Lock) *posse {
	for _, p := range lb.byDS[l.DataSource] {
		if p.lock.GroupID == l.GroupID && p.lock.Interval.Equal(l.Interval) && p.lock.Version == l.Version {
			return p
		}
	}
	return nil
}
