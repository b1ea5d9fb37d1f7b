package task

import "time"

// StatusCode is the lifecycle state of a task. RUNNING is the only
// non-terminal state.
type StatusCode string

const (
	StatusRunning StatusCode = "RUNNING"
	StatusSuccess StatusCode = "SUCCESS"
	StatusFailed  StatusCode = "FAILED"
)

// Status is the mutable per-task lifecycle record. It is written once at
// acceptance (RUNNING) and exactly once more with a terminal code.
type Status struct {
	TaskID      string        `json:"task_id"`
	Code        StatusCode    `json:"code"`
	Duration    time.Duration `json:"duration"`
	ErrorDetail string        `json:"error_detail,omitempty"`
}

// Running returns the initial status for an accepted task.
func Running(taskID string) Status {
	return Status{TaskID: taskID, Code: StatusRunning}
}

// Success returns a terminal success status.
func Success(taskID string) Status {
	return Status{TaskID: taskID, Code: StatusSuccess}
}

// Failed returns a terminal failure status carrying the failure detail.
func Failed(taskID, detail string) Status {
	return Status{TaskID: taskID, Code: StatusFailed, ErrorDetail: detail}
}

// Complete reports whether the status is terminal.
func (s Status) Complete() bool {
	return s.Code == StatusSuccess || s.Code == StatusFailed
}

// WithDuration returns a copy of the status with the run duration attached.
func (s Status) WithDuration(d time.Duration) Status {
	s.Duration = d
	return s
}
