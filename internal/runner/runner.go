// Package runner executes task logic to a terminal status. One task's
// failure — error or panic — never escapes the runner boundary.
package runner

import (
	"context"
	"fmt"
	"time"

	"ingestq/internal/cluster"
	"ingestq/internal/gateway"
	"ingestq/internal/task"

	"github.com/rs/zerolog/log"
)

// Options configures the runner pool.
type Options struct {
	// Slots bounds how many tasks execute concurrently.
	Slots int
	// WorkDir is where tasks build local artifacts before pushing them.
	WorkDir string
}

// Runner executes tasks up to a bounded concurrency.
type Runner struct {
	slots     chan struct{}
	actions   ActionSubmitter
	deep      gateway.DeepStorage
	view      cluster.View
	firehoses map[string]FirehoseFactory
	workDir   string
}

func New(opts Options, actions ActionSubmitter, deep gateway.DeepStorage, view cluster.View, firehoses map[string]FirehoseFactory) *Runner {
	if opts.Slots <= 0 {
		opts.Slots = 1
	}
	if firehoses == nil {
		firehoses = make(map[string]FirehoseFactory)
	}
	return &Runner{
		slots:     make(chan struct{}, opts.Slots),
		actions:   actions,
		deep:      deep,
		view:      view,
		firehoses: firehoses,
		workDir:   opts.WorkDir,
	}
}

// Busy reports whether every execution slot is occupied.
func (r *Runner) Busy() bool { return len(r.slots) >= cap(r.slots) }

// Run executes the task and always returns a terminal status. The readiness
// check runs first; a task that is not ready fails without executing. Panics
// in task logic are converted to FAILED.
func (r *Runner) Run(ctx context.Context, def task.Definition, shutdown <-chan struct{}) task.Status {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return task.Failed(def.ID, "runner stopped before execution")
	}
	defer func() { <-r.slots }()

	started := time.Now()
	ec := &Context{
		TaskID:    def.ID,
		Shutdown:  shutdown,
		View:      r.view,
		Deep:      r.deep,
		WorkDir:   r.workDir,
		actions:   r.actions,
		firehoses: r.firehoses,
	}
	st := r.execute(ctx, def, ec)
	st = st.WithDuration(time.Since(started))
	log.Info().Str("task_id", def.ID).Str("type", string(def.Type)).
		Str("status", string(st.Code)).Dur("duration", st.Duration).Msg("task finished")
	return st
}

func (r *Runner) execute(ctx context.Context, def task.Definition, ec *Context) (st task.Status) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("task_id", def.ID).Any("panic", p).Msg("task panicked")
			st = task.Failed(def.ID, fmt.Sprintf("task panicked: %v", p))
		}
	}()

	if err := isReady(ctx, def, ec); err != nil {
		return task.Failed(def.ID, fmt.Sprintf("not ready: %v", err))
	}
	return run(ctx, def, ec)
}
