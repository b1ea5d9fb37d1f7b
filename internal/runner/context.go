package runner

import (
	"context"

	"ingestq/internal/cluster"
	"ingestq/internal/gateway"
)

// ActionSubmitter is the slice of the gateway the task logic sees.
type ActionSubmitter interface {
	Submit(ctx context.Context, taskID string, action gateway.Action) (gateway.Result, error)
}

// Context is the execution context handed to task logic. It binds the task
// id so every gateway call is attributable, and carries the cooperative
// shutdown signal. Task logic has no other access to shared state.
type Context struct {
	TaskID   string
	Shutdown <-chan struct{}
	View     cluster.View
	Deep     gateway.DeepStorage
	WorkDir  string

	actions   ActionSubmitter
	firehoses map[string]FirehoseFactory
}

// Submit sends an action to the gateway on behalf of this task.
func (c *Context) Submit(ctx context.Context, action gateway.Action) (gateway.Result, error) {
	return c.actions.Submit(ctx, c.TaskID, action)
}

// Firehose resolves a named firehose factory from the registry.
func (c *Context) Firehose(name string) (FirehoseFactory, bool) {
	f, ok := c.firehoses[name]
	return f, ok
}
