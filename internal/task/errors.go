package task

import "errors"

var (
	ErrMissingID         = errors.New("task id is required")
	ErrMissingDataSource = errors.New("task data source is required")
	ErrMissingSpec       = errors.New("task spec does not match its type")
	ErrUnknownType       = errors.New("unknown task type")
)
