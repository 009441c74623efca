// Package scheduler implements submit-and-wait primitives against either
// a bounded local worker pool or a SLURM batch workload manager.
package scheduler

import (
	"context"

	"github.com/repx-run/repx/internal/model"
)

// Handle represents one in-flight dispatch; the orchestrator polls it
// until it reports a terminal Completion.
type Handle interface {
	JobID() model.JobId
	Poll(ctx context.Context) (*Completion, error)
	Cancel(ctx context.Context) error
}

// Completion is the terminal outcome of one scheduled invocation.
type Completion struct {
	Success  bool
	ExitCode int
}

// Invocation is everything a Scheduler needs to dispatch one job's
// runtime invocation.
type Invocation struct {
	JobID model.JobId
	Argv  []string
	Env   []string
	// RepxDir is the job's per-job metadata directory; schedulers that
	// capture their own stdout/stderr separately from the invocation
	// (slurm's sbatch output) write it here alongside the job's own logs.
	RepxDir   string
	Resources model.ResourceHints
}

// Scheduler is the contract the Target facade drives dispatch through.
type Scheduler interface {
	// Submit dispatches inv and returns a Handle to poll/cancel it.
	Submit(ctx context.Context, inv Invocation) (Handle, error)

	// Capacity reports the scheduler's concurrency ceiling (0 = unbounded,
	// meaningful only for the local driver; slurm delegates to the queue).
	Capacity() int
}
