// Package storage is the durable ledger behind the task queue: task
// definitions and statuses, the active lock table, and the append-only action
// log. It is the single source of truth the in-memory components are rebuilt
// from after a restart.
package storage

import (
	"context"
	"time"

	"ingestq/internal/task"
)

// HeldLock pairs a persisted lock with the task that holds it.
type HeldLock struct {
	TaskID string    `json:"task_id"`
	Lock   task.Lock `json:"lock"`
}

// ActionRecord is one committed action in a task's audit log.
type ActionRecord struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload,omitempty"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskStore is the durable ledger contract. Every method is individually
// atomic and durable before it returns; multi-call sequences are not.
type TaskStore interface {
	// Insert records a new task and its initial status. ErrTaskExists if the
	// id is already present.
	Insert(ctx context.Context, def task.Definition, st task.Status) error

	// SetStatus overwrites the task's status. Writing the same terminal code
	// twice is a no-op; changing an already-terminal status returns
	// ErrStatusConflict. ErrTaskNotFound for unknown ids.
	SetStatus(ctx context.Context, st task.Status) error

	// GetStatus returns the current status. ErrTaskNotFound when absent.
	GetStatus(ctx context.Context, taskID string) (task.Status, error)

	// GetTask returns the stored definition. ErrTaskNotFound when absent.
	GetTask(ctx context.Context, taskID string) (task.Definition, error)

	// GetActiveTasks returns all tasks whose status is RUNNING, in creation
	// order. The queue replays these at startup.
	GetActiveTasks(ctx context.Context) ([]task.Definition, error)

	// AddLock / RemoveLock maintain the durable lock ledger. The ledger is a
	// separate table from task status so locks survive task-record rewrites.
	AddLock(ctx context.Context, taskID string, l task.Lock) error
	RemoveLock(ctx context.Context, taskID string, l task.Lock) error
	GetActiveLocks(ctx context.Context) ([]HeldLock, error)

	// LogAction appends one committed action to the task's audit log. The log
	// is append-only and never rewritten.
	LogAction(ctx context.Context, taskID, kind string, payload []byte, summary string) error
	GetActionLog(ctx context.Context, taskID string) ([]ActionRecord, error)
}
