package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ingestq/internal/task"
	"ingestq/internal/timeline"
)

// Both implementations must honor the same contract, so every test runs
// against both.
func storesUnderTest(t *testing.T) map[string]TaskStore {
	t.Helper()
	sqlStore, err := OpenSQL(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	return map[string]TaskStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func noopDef(id string) task.Definition {
	return task.Definition{
		ID:         id,
		DataSource: "foo",
		Type:       task.TypeNoop,
		Interval:   timeline.MustParse("2010-01-01/P1D"),
		Noop:       &task.NoopSpec{},
	}
}

func TestInsertRejectsDuplicates(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Insert(ctx, noopDef("t1"), task.Running("t1")); err != nil {
				t.Fatalf("first insert: %v", err)
			}
			if err := store.Insert(ctx, noopDef("t1"), task.Running("t1")); !errors.Is(err, ErrTaskExists) {
				t.Fatalf("expected ErrTaskExists, got %v", err)
			}
		})
	}
}

func TestSetStatusLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.SetStatus(ctx, task.Success("ghost")); !errors.Is(err, ErrTaskNotFound) {
				t.Fatalf("expected ErrTaskNotFound, got %v", err)
			}

			if err := store.Insert(ctx, noopDef("t1"), task.Running("t1")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := store.SetStatus(ctx, task.Success("t1")); err != nil {
				t.Fatalf("terminal write: %v", err)
			}
			// Same terminal code again: idempotent no-op.
			if err := store.SetStatus(ctx, task.Success("t1")); err != nil {
				t.Fatalf("idempotent rewrite: %v", err)
			}
			// A different terminal code is a conflict.
			if err := store.SetStatus(ctx, task.Failed("t1", "boom")); !errors.Is(err, ErrStatusConflict) {
				t.Fatalf("expected ErrStatusConflict, got %v", err)
			}
			// Moving backward out of a terminal state is rejected too.
			if err := store.SetStatus(ctx, task.Running("t1")); !errors.Is(err, ErrStatusConflict) {
				t.Fatalf("expected ErrStatusConflict on RUNNING rewrite, got %v", err)
			}

			st, err := store.GetStatus(ctx, "t1")
			if err != nil || st.Code != task.StatusSuccess {
				t.Fatalf("status = %+v, err = %v", st, err)
			}
		})
	}
}

func TestGetActiveTasksOrdering(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				if err := store.Insert(ctx, noopDef(id), task.Running(id)); err != nil {
					t.Fatalf("insert %s: %v", id, err)
				}
			}
			if err := store.SetStatus(ctx, task.Success("b")); err != nil {
				t.Fatalf("complete b: %v", err)
			}

			active, err := store.GetActiveTasks(ctx)
			if err != nil {
				t.Fatalf("get active: %v", err)
			}
			if len(active) != 2 || active[0].ID != "a" || active[1].ID != "c" {
				t.Fatalf("unexpected active set: %+v", active)
			}
		})
	}
}

func TestTaskRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := task.Definition{
				ID:         "idx1",
				GroupID:    "g1",
				DataSource: "foo",
				Type:       task.TypeIndex,
				Interval:   timeline.MustParse("2010-01-01/P2D"),
				Index:      &task.IndexSpec{Granularity: timeline.GranularityDay, Firehose: "rows"},
			}
			if err := store.Insert(ctx, def, task.Running(def.ID)); err != nil {
				t.Fatalf("insert: %v", err)
			}
			got, err := store.GetTask(ctx, "idx1")
			if err != nil {
				t.Fatalf("get task: %v", err)
			}
			if got.GroupID != "g1" || got.Type != task.TypeIndex || got.Index == nil ||
				got.Index.Firehose != "rows" || !got.Interval.Equal(def.Interval) {
				t.Fatalf("round trip mismatch: %+v", got)
			}
			if _, err := store.GetTask(ctx, "ghost"); !errors.Is(err, ErrTaskNotFound) {
				t.Fatalf("expected ErrTaskNotFound, got %v", err)
			}
		})
	}
}

func TestLockLedger(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			lock := task.Lock{
				GroupID:    "g1",
				DataSource: "foo",
				Interval:   timeline.MustParse("2010-01-01/P1D"),
				Version:    "2010-01-05T00:00:00.000000000Z",
			}
			if err := store.AddLock(ctx, "t1", lock); err != nil {
				t.Fatalf("add lock: %v", err)
			}
			held, err := store.GetActiveLocks(ctx)
			if err != nil || len(held) != 1 {
				t.Fatalf("held = %+v, err = %v", held, err)
			}
			if held[0].TaskID != "t1" || held[0].Lock.Version != lock.Version ||
				!held[0].Lock.Interval.Equal(lock.Interval) {
				t.Fatalf("unexpected held lock: %+v", held[0])
			}

			if err := store.RemoveLock(ctx, "t1", lock); err != nil {
				t.Fatalf("remove lock: %v", err)
			}
			if err := store.RemoveLock(ctx, "t1", lock); !errors.Is(err, ErrLockNotFound) {
				t.Fatalf("expected ErrLockNotFound, got %v", err)
			}
			if held, _ := store.GetActiveLocks(ctx); len(held) != 0 {
				t.Fatalf("ledger should be empty, got %+v", held)
			}
		})
	}
}

func TestActionLogAppendOnly(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.LogAction(ctx, "t1", "acquire_lock", []byte(`{"a":1}`), "first"); err != nil {
				t.Fatalf("log 1: %v", err)
			}
			if err := store.LogAction(ctx, "t1", "publish_segments", []byte(`{"b":2}`), "second"); err != nil {
				t.Fatalf("log 2: %v", err)
			}
			if err := store.LogAction(ctx, "t2", "delete_segments", nil, "other task"); err != nil {
				t.Fatalf("log 3: %v", err)
			}

			records, err := store.GetActionLog(ctx, "t1")
			if err != nil {
				t.Fatalf("get log: %v", err)
			}
			if len(records) != 2 || records[0].Summary != "first" || records[1].Summary != "second" {
				t.Fatalf("unexpected log: %+v", records)
			}
			if records[1].Kind != "publish_segments" {
				t.Fatalf("unexpected kind: %s", records[1].Kind)
			}
		})
	}
}

func TestRetryStopsOnDomainErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, 5, time.Millisecond, func() error {
		calls++
		return ErrStatusConflict
	})
	if !errors.Is(err, ErrStatusConflict) || calls != 1 {
		t.Fatalf("domain error should not be retried: calls=%d err=%v", calls, err)
	}

	calls = 0
	err = Retry(ctx, 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("transient error should be retried to success: calls=%d err=%v", calls, err)
	}
}
