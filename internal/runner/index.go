package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ingestq/internal/gateway"
	"ingestq/internal/task"
	"ingestq/internal/timeline"
)

// runIndex drains the task's firehose, builds one segment per non-empty
// granule of the declared interval, pushes the artifacts to deep storage and
// publishes the whole batch under the lock acquired at readiness.
func runIndex(ctx context.Context, def task.Definition, ec *Context) task.Status {
	spec := def.Index

	locksRes, err := ec.Submit(ctx, gateway.NewListLocks())
	if err != nil {
		return task.Failed(def.ID, fmt.Sprintf("list locks: %v", err))
	}

	fh, err := connectFirehose(ctx, ec, spec.Firehose)
	if err != nil {
		return task.Failed(def.ID, fmt.Sprintf("connect firehose: %v", err))
	}
	rows, err := drainFirehose(fh)
	if err != nil {
		return task.Failed(def.ID, err.Error())
	}

	var built []task.Segment
	for i, granule := range def.Interval.Split(spec.Granularity) {
		granuleRows := rowsWithin(rows, granule)
		if len(granuleRows) == 0 {
			continue
		}
		lock, ok := coveringLock(locksRes.Locks, def.DataSource, granule)
		if !ok {
			return task.Failed(def.ID, fmt.Sprintf("no held lock covers granule %s", granule))
		}
		seg, err := buildSegment(ctx, ec, def, granule, lock.Version, i, granuleRows)
		if err != nil {
			return task.Failed(def.ID, err.Error())
		}
		built = append(built, seg)
	}

	if len(built) > 0 {
		if _, err := ec.Submit(ctx, gateway.NewPublish(built)); err != nil {
			return task.Failed(def.ID, fmt.Sprintf("publish segments: %v", err))
		}
	}
	return task.Success(def.ID)
}

// buildSegment writes the granule's rows to a local artifact and pushes it to
// deep storage, producing the final segment descriptor.
func buildSegment(ctx context.Context, ec *Context, def task.Definition, granule timeline.Interval, version string, seq int, rows []Row) (task.Segment, error) {
	dims, mets := columnsOf(rows)
	artifact, err := writeArtifact(ec.WorkDir, def.ID, fmt.Sprintf("segment_%d.json", seq), rows)
	if err != nil {
		return task.Segment{}, fmt.Errorf("build artifact: %w", err)
	}
	seg := task.Segment{
		DataSource:    def.DataSource,
		Interval:      granule,
		Version:       version,
		Shard:         0,
		Dimensions:    dims,
		Metrics:       mets,
		BinaryVersion: 1,
	}
	pushed, err := ec.Deep.Push(ctx, artifact, seg)
	if err != nil {
		return task.Segment{}, fmt.Errorf("push segment %s: %w", seg.ID(), err)
	}
	return pushed, nil
}

func rowsWithin(rows []Row, iv timeline.Interval) []Row {
	var out []Row
	for _, row := range rows {
		if iv.ContainsTime(row.Timestamp) {
			out = append(out, row)
		}
	}
	return out
}

// columnsOf returns the sorted union of dimension and metric names across
// the rows.
func columnsOf(rows []Row) (dims, mets []string) {
	dimSet := newColumnSet()
	metSet := newColumnSet()
	for _, row := range rows {
		for name := range row.Dimensions {
			dimSet.add(name)
		}
		for name := range row.Metrics {
			metSet.add(name)
		}
	}
	dims = dimSet.sorted()
	mets = metSet.sorted()
	return dims, mets
}

func coveringLock(locks []task.Lock, dataSource string, iv timeline.Interval) (task.Lock, bool) {
	for _, l := range locks {
		if l.DataSource == dataSource && l.Interval.Contains(iv) {
			return l, true
		}
	}
	return task.Lock{}, false
}

func writeArtifact(workDir, taskID, name string, rows []Row) (string, error) {
	dir := filepath.Join(workDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
