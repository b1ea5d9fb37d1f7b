package runner

import (
	"context"
	"fmt"

	"ingestq/internal/gateway"
	"ingestq/internal/task"
	"ingestq/internal/timeline"
)

// runStream is the long-running ingestion body: it publishes the current
// granule's segment and then suspends until the cluster view confirms a
// replica serves it. No busy-polling; termination comes from the
// confirmation channel, the task's shutdown signal, or context cancellation.
func runStream(ctx context.Context, def task.Definition, ec *Context) task.Status {
	spec := def.Stream

	// Subscribe before publishing so the confirmation cannot be missed.
	var served <-chan task.Segment
	if ec.View != nil {
		ch, cancel := ec.View.Subscribe()
		defer cancel()
		served = ch
	}

	fh, err := connectFirehose(ctx, ec, spec.Firehose)
	if err != nil {
		return task.Failed(def.ID, fmt.Sprintf("connect firehose: %v", err))
	}
	rows, err := drainFirehose(fh)
	if err != nil {
		return task.Failed(def.ID, err.Error())
	}
	if len(rows) == 0 {
		return task.Success(def.ID)
	}

	granule := timeline.Granule(rows[0].Timestamp, spec.Granularity)
	granuleRows := rowsWithin(rows, granule)

	lockRes, err := ec.Submit(ctx, gateway.NewAcquireLock(granule))
	if err != nil {
		return task.Failed(def.ID, fmt.Sprintf("acquire lock: %v", err))
	}
	seg, err := buildSegment(ctx, ec, def, granule, lockRes.Lock.Version, 0, granuleRows)
	if err != nil {
		return task.Failed(def.ID, err.Error())
	}
	if _, err := ec.Submit(ctx, gateway.NewPublish([]task.Segment{seg})); err != nil {
		return task.Failed(def.ID, fmt.Sprintf("publish segment: %v", err))
	}

	if served == nil {
		// No cluster view wired; nothing to await.
		return task.Success(def.ID)
	}
	for {
		select {
		case confirmed, ok := <-served:
			if !ok {
				return task.Failed(def.ID, "cluster view closed before replica confirmation")
			}
			if confirmed.ID() == seg.ID() {
				return task.Success(def.ID)
			}
		case <-ec.Shutdown:
			return task.Failed(def.ID, "shut down before replica confirmed segment")
		case <-ctx.Done():
			return task.Failed(def.ID, "canceled before replica confirmed segment")
		}
	}
}
