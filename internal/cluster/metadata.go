// Package cluster holds minimal local implementations of the external
// collaborators the coordinator consumes: the segment-metadata store, deep
// storage, and the cluster view. Production deployments substitute remote
// implementations behind the same interfaces.
package cluster

import (
	"context"
	"sort"
	"sync"

	"ingestq/internal/task"
	"ingestq/internal/timeline"
)

// MetaStore is an in-memory segment-metadata store. Announce is idempotent:
// a segment announced twice is added once and omitted from the second
// call's added set.
type MetaStore struct {
	mu     sync.Mutex
	used   map[string]task.Segment
	unused map[string]task.Segment
}

func NewMetaStore() *MetaStore {
	return &MetaStore{
		used:   make(map[string]task.Segment),
		unused: make(map[string]task.Segment),
	}
}

func (m *MetaStore) Announce(_ context.Context, segments []task.Segment) ([]task.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []task.Segment
	for _, seg := range segments {
		if _, ok := m.used[seg.ID()]; ok {
			continue
		}
		m.used[seg.ID()] = seg
		added = append(added, seg)
	}
	return added, nil
}

func (m *MetaStore) ListUnused(_ context.Context, dataSource string, interval timeline.Interval) ([]task.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Segment
	for _, seg := range m.unused {
		if seg.DataSource == dataSource && interval.Contains(seg.Interval) {
			out = append(out, seg)
		}
	}
	sortByInterval(out)
	return out, nil
}

func (m *MetaStore) Delete(_ context.Context, segments []task.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range segments {
		delete(m.used, seg.ID())
		delete(m.unused, seg.ID())
	}
	return nil
}

// MarkUnused moves segments into the unused listing, making them eligible
// for deletion by kill tasks.
func (m *MetaStore) MarkUnused(segments []task.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range segments {
		delete(m.used, seg.ID())
		m.unused[seg.ID()] = seg
	}
}

// Published returns the currently announced segments sorted by interval.
func (m *MetaStore) Published() []task.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]task.Segment, 0, len(m.used))
	for _, seg := range m.used {
		out = append(out, seg)
	}
	sortByInterval(out)
	return out
}

func sortByInterval(segs []task.Segment) {
	sort.Slice(segs, func(i, j int) bool {
		if !segs[i].Interval.Start.Equal(segs[j].Interval.Start) {
			return segs[i].Interval.Start.Before(segs[j].Interval.Start)
		}
		return segs[i].Interval.End.Before(segs[j].Interval.End)
	})
}
