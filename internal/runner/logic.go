package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ingestq/internal/gateway"
	"ingestq/internal/task"
)

// isReady is the pre-execution readiness check, dispatched by task type.
// Fixed-interval ingestion is ready once it holds a lock over its whole
// declared interval; a lock conflict means not ready.
func isReady(ctx context.Context, def task.Definition, ec *Context) error {
	switch def.Type {
	case task.TypeIndex:
		_, err := ec.Submit(ctx, gateway.NewAcquireLock(def.Interval))
		return err
	case task.TypeNoop:
		if def.Noop.FailReady {
			return errors.New("noop task configured to fail readiness")
		}
		return nil
	case task.TypeKill, task.TypeStream:
		return nil
	default:
		return task.ErrUnknownType
	}
}

// run dispatches the task body. The switch is exhaustive over task.Type; a
// new task kind extends it here.
func run(ctx context.Context, def task.Definition, ec *Context) task.Status {
	switch def.Type {
	case task.TypeIndex:
		return runIndex(ctx, def, ec)
	case task.TypeKill:
		return runKill(ctx, def, ec)
	case task.TypeStream:
		return runStream(ctx, def, ec)
	case task.TypeNoop:
		return runNoop(ctx, def, ec)
	default:
		return task.Failed(def.ID, task.ErrUnknownType.Error())
	}
}

func runKill(ctx context.Context, def task.Definition, ec *Context) task.Status {
	if _, err := ec.Submit(ctx, gateway.NewDelete(def.DataSource, def.Interval)); err != nil {
		return task.Failed(def.ID, fmt.Sprintf("delete segments: %v", err))
	}
	return task.Success(def.ID)
}

func runNoop(ctx context.Context, def task.Definition, _ *Context) task.Status {
	spec := def.Noop
	if spec.PanicMessage != "" {
		panic(spec.PanicMessage)
	}
	if spec.RunDuration > 0 {
		select {
		case <-time.After(spec.RunDuration):
		case <-ctx.Done():
			return task.Failed(def.ID, "canceled")
		}
	}
	if spec.FailRun {
		return task.Failed(def.ID, "noop task configured to fail")
	}
	return task.Success(def.ID)
}

// connectFirehose resolves and connects the named firehose for ingestion
// tasks.
func connectFirehose(ctx context.Context, ec *Context, name string) (Firehose, error) {
	factory, ok := ec.Firehose(name)
	if !ok {
		return nil, fmt.Errorf("unknown firehose %q", name)
	}
	return factory.Connect(ctx)
}

// drainFirehose reads the firehose to exhaustion. Row errors abort the drain;
// the task fails rather than ingesting a partial, silently-truncated stream.
func drainFirehose(fh Firehose) ([]Row, error) {
	defer func() { _ = fh.Close() }()
	var rows []Row
	for fh.HasMore() {
		row, err := fh.NextRow()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnSet deduplicates dimension/metric names.
type columnSet struct {
	names []string
	seen  map[string]struct{}
}

func newColumnSet() *columnSet {
	return &columnSet{seen: make(map[string]struct{})}
}

func (c *columnSet) add(name string) {
	if _, ok := c.seen[name]; ok {
		return
	}
	c.seen[name] = struct{}{}
	c.names = append(c.names, name)
}

func (c *columnSet) sorted() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	sort.Strings(out)
	return out
}
