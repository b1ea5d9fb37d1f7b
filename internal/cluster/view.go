package cluster

import (
	"sync"

	"ingestq/internal/task"
)

// View delivers asynchronous "a replica now serves segment S" notifications.
// Long-running tasks subscribe before publishing and await confirmation of
// their own segment.
type View interface {
	Subscribe() (<-chan task.Segment, func())
}

// LocalView is an in-process View fed by whoever learns of segment loads
// (tests, or a replication watcher in a full deployment).
type LocalView struct {
	mu   sync.Mutex
	subs map[int]chan task.Segment
	next int
}

func NewLocalView() *LocalView {
	return &LocalView{subs: make(map[int]chan task.Segment)}
}

// Subscribe returns a notification channel and its cancel func. The channel
// is buffered so a slow subscriber does not block announcers.
func (v *LocalView) Subscribe() (<-chan task.Segment, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.next
	v.next++
	ch := make(chan task.Segment, 16)
	v.subs[id] = ch
	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if existing, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(existing)
		}
	}
}

// SegmentServed broadcasts a served-segment notification to all subscribers.
func (v *LocalView) SegmentServed(seg task.Segment) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.subs {
		select {
		case ch <- seg:
		default: // subscriber fell behind; drop rather than block
		}
	}
}
