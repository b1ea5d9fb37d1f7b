package gateway

import (
	"encoding/json"

	"ingestq/internal/task"
	"ingestq/internal/timeline"
)

// Kind discriminates the closed set of actions a running task may submit.
type Kind string

const (
	KindAcquireLock Kind = "acquire_lock"
	KindListLocks   Kind = "list_locks"
	KindPublish     Kind = "publish_segments"
	KindDelete      Kind = "delete_segments"
)

// Action is a tagged union; the pointer matching Kind must be set. New action
// kinds are added here and in Gateway.Submit's switch, nowhere else.
type Action struct {
	Kind        Kind         `json:"kind"`
	AcquireLock *AcquireLock `json:"acquire_lock,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
	Delete      *Delete      `json:"delete,omitempty"`
}

// AcquireLock requests exclusive write authority over an interval of the
// task's data source.
type AcquireLock struct {
	Interval timeline.Interval `json:"interval"`
}

// Publish commits a batch of segments. All-or-nothing: one invalid segment
// rejects the whole batch.
type Publish struct {
	Segments []task.Segment `json:"segments"`
}

// Delete removes already-unused segments in the window from the metadata
// store and deep storage.
type Delete struct {
	DataSource string            `json:"data_source"`
	Interval   timeline.Interval `json:"interval"`
}

// Result carries whichever outcome matches the submitted action's kind.
type Result struct {
	Lock      *task.Lock     `json:"lock,omitempty"`
	Locks     []task.Lock    `json:"locks,omitempty"`
	Published []task.Segment `json:"published,omitempty"`
	Deleted   []task.Segment `json:"deleted,omitempty"`
}

func NewAcquireLock(interval timeline.Interval) Action {
	return Action{Kind: KindAcquireLock, AcquireLock: &AcquireLock{Interval: interval}}
}

func NewListLocks() Action {
	return Action{Kind: KindListLocks}
}

func NewPublish(segments []task.Segment) Action {
	return Action{Kind: KindPublish, Publish: &Publish{Segments: segments}}
}

func NewDelete(dataSource string, interval timeline.Interval) Action {
	return Action{Kind: KindDelete, Delete: &Delete{DataSource: dataSource, Interval: interval}}
}

func (a Action) payload() []byte {
	b, _ := json.Marshal(a)
	return b
}
