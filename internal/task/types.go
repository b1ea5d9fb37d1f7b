// Package task defines the immutable task definitions, their lifecycle
// status, interval locks and segment descriptors shared by the rest of the
// coordinator.
package task

import (
	"time"

	"ingestq/internal/timeline"
)

// Type discriminates the closed set of task kinds the coordinator can run.
type Type string

const (
	TypeIndex  Type = "index"
	TypeKill   Type = "kill"
	TypeStream Type = "stream"
	TypeNoop   Type = "noop"
)

// Definition is the immutable description of a unit of work. Exactly one of
// the per-type spec pointers matching Type must be set.
type Definition struct {
	ID         string            `json:"id"`
	GroupID    string            `json:"group_id"`
	DataSource string            `json:"data_source"`
	Type       Type              `json:"type"`
	Priority   int               `json:"priority"`
	Interval   timeline.Interval `json:"interval"`

	Index  *IndexSpec  `json:"index,omitempty"`
	Kill   *KillSpec   `json:"kill,omitempty"`
	Stream *StreamSpec `json:"stream,omitempty"`
	Noop   *NoopSpec   `json:"noop,omitempty"`
}

// IndexSpec describes a batch ingestion run over the task's interval.
type IndexSpec struct {
	Granularity timeline.Granularity `json:"granularity"`
	Firehose    string               `json:"firehose"`
}

// KillSpec scopes a deletion of already-unused segments.
type KillSpec struct{}

// StreamSpec describes a long-running ingestion that terminates only once a
// downstream replica confirms the published segment.
type StreamSpec struct {
	Granularity timeline.Granularity `json:"granularity"`
	Firehose    string               `json:"firehose"`
}

// NoopSpec is the do-nothing task used for smoke tests and capacity probes.
type NoopSpec struct {
	RunDuration  time.Duration `json:"run_duration,omitempty"`
	FailReady    bool          `json:"fail_ready,omitempty"`
	FailRun      bool          `json:"fail_run,omitempty"`
	PanicMessage string        `json:"panic_message,omitempty"`
}

// DeletesSegments reports whether this task type is allowed to issue
// delete-segments actions.
func (t Type) DeletesSegments() bool { return t == TypeKill }

// Validate checks structural well-formedness of a definition at submission
// time. Definitions are never mutated afterwards.
func (d Definition) Validate() error {
	if d.ID == "" {
		return ErrMissingID
	}
	if d.DataSource == "" && d.Type != TypeNoop {
		return ErrMissingDataSource
	}
	switch d.Type {
	case TypeIndex:
		if d.Index == nil {
			return ErrMissingSpec
		}
	case TypeKill:
		if d.Kill == nil {
			return ErrMissingSpec
		}
	case TypeStream:
		if d.Stream == nil {
			return ErrMissingSpec
		}
	case TypeNoop:
		if d.Noop == nil {
			return ErrMissingSpec
		}
	default:
		return ErrUnknownType
	}
	return nil
}

// Group returns the lock group of the task: the explicit GroupID when set,
// otherwise the task's own id.
func (d Definition) Group() string {
	if d.GroupID != "" {
		return d.GroupID
	}
	return d.ID
}
