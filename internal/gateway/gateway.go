// Package gateway is the only path by which a running task mutates shared
// cluster state. Every mutation is validated against the lock state before it
// is committed and, once committed, appended to the task's audit log.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ingestq/internal/lockbox"
	"ingestq/internal/storage"
	"ingestq/internal/task"

	"github.com/rs/zerolog/log"
)

// ValidationError marks an action that references lock state the task does
// not hold. This is a logic fault in the task, never retried by the gateway.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task %s: %s", e.TaskID, e.Reason)
}

// Gateway validates and applies task actions.
type Gateway struct {
	store    storage.TaskStore
	lockbox  *lockbox.Lockbox
	metadata MetadataStore
	deep     DeepStorage
}

func New(store storage.TaskStore, lb *lockbox.Lockbox, metadata MetadataStore, deep DeepStorage) *Gateway {
	return &Gateway{store: store, lockbox: lb, metadata: metadata, deep: deep}
}

// Submit validates and applies one action on behalf of taskID. Actions from a
// single task are applied in submission order; the lockbox provides the only
// cross-task atomicity.
func (g *Gateway) Submit(ctx context.Context, taskID string, action Action) (Result, error) {
	def, err := g.store.GetTask(ctx, taskID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve task %s: %w", taskID, err)
	}

	switch action.Kind {
	case KindAcquireLock:
		if action.AcquireLock == nil {
			return Result{}, &ValidationError{TaskID: taskID, Reason: "acquire_lock action missing body"}
		}
		lock, err := g.lockbox.TryAcquire(ctx, taskID, def.Group(), def.DataSource, action.AcquireLock.Interval)
		if err != nil {
			return Result{}, err
		}
		g.logAction(ctx, taskID, action, fmt.Sprintf("acquired lock %s v%s", lock.Interval, lock.Version))
		return Result{Lock: &lock}, nil

	case KindListLocks:
		return Result{Locks: g.lockbox.HeldBy(taskID)}, nil

	case KindPublish:
		if action.Publish == nil {
			return Result{}, &ValidationError{TaskID: taskID, Reason: "publish action missing body"}
		}
		return g.publish(ctx, taskID, action)

	case KindDelete:
		if action.Delete == nil {
			return Result{}, &ValidationError{TaskID: taskID, Reason: "delete action missing body"}
		}
		if !def.Type.DeletesSegments() {
			return Result{}, &ValidationError{TaskID: taskID, Reason: fmt.Sprintf("task type %q may not delete segments", def.Type)}
		}
		return g.delete(ctx, taskID, action)

	default:
		return Result{}, &ValidationError{TaskID: taskID, Reason: fmt.Sprintf("unknown action kind %q", action.Kind)}
	}
}

// publish commits a segment batch. Validation is completed for the entire
// batch before the metadata store sees any of it, so a publish either fully
// commits or fully fails.
func (g *Gateway) publish(ctx context.Context, taskID string, action Action) (Result, error) {
	segments := action.Publish.Segments
	held := g.lockbox.HeldBy(taskID)
	for _, seg := range segments {
		if !coveredBy(held, seg) {
			return Result{}, &ValidationError{
				TaskID: taskID,
				Reason: fmt.Sprintf("lock mismatch: no held lock covers segment %s", seg.ID()),
			}
		}
	}
	added, err := g.metadata.Announce(ctx, segments)
	if err != nil {
		return Result{}, fmt.Errorf("announce segments: %w", err)
	}
	g.logAction(ctx, taskID, action, fmt.Sprintf("published %d segments", len(segments)))
	return Result{Published: added}, nil
}

// delete resolves the batch from the metadata store's unused listing and
// removes it from metadata and deep storage. No lock is needed: the segments
// are already superseded.
func (g *Gateway) delete(ctx context.Context, taskID string, action Action) (Result, error) {
	unused, err := g.metadata.ListUnused(ctx, action.Delete.DataSource, action.Delete.Interval)
	if err != nil {
		return Result{}, fmt.Errorf("list unused segments: %w", err)
	}
	if err := g.metadata.Delete(ctx, unused); err != nil {
		return Result{}, fmt.Errorf("delete segment metadata: %w", err)
	}
	for _, seg := range unused {
		if err := g.deep.Delete(ctx, seg); err != nil {
			return Result{}, fmt.Errorf("delete segment %s from deep storage: %w", seg.ID(), err)
		}
	}
	g.logAction(ctx, taskID, action, fmt.Sprintf("deleted %d segments", len(unused)))
	return Result{Deleted: unused}, nil
}

// logAction appends a committed action to the audit log. The mutation has
// already been applied, so a failed append is reported but not fatal.
func (g *Gateway) logAction(ctx context.Context, taskID string, action Action, summary string) {
	err := storage.Retry(ctx, 3, 50*time.Millisecond, func() error {
		return g.store.LogAction(ctx, taskID, string(action.Kind), action.payload(), summary)
	})
	if err != nil {
		log.Warn().Str("task_id", taskID).Str("kind", string(action.Kind)).Err(err).
			Msg("audit log append failed")
	}
}

func coveredBy(held []task.Lock, seg task.Segment) bool {
	for _, l := range held {
		if l.Covers(seg) {
			return true
		}
	}
	return false
}

// PublishedSegments extracts every segment committed through publish actions
// from a task's audit log, answering "what segments did task X create".
func PublishedSegments(records []storage.ActionRecord) []task.Segment {
	var out []task.Segment
	for _, rec := range records {
		if rec.Kind != string(KindPublish) {
			continue
		}
		var action Action
		if err := json.Unmarshal(rec.Payload, &action); err != nil || action.Publish == nil {
			continue
		}
		out = append(out, action.Publish.Segments...)
	}
	return out
}
