package queue

import "errors"

var (
	ErrDuplicateTask = errors.New("task id already submitted")
	ErrQueueStopped  = errors.New("queue is not accepting tasks")
	ErrTaskNotFound  = errors.New("task not found")
)
