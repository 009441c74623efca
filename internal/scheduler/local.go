package scheduler

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// Local is the bounded local worker pool: Submit blocks only when the
// pool is already at capacity (errgroup.Group.SetLimit), never spawning
// more than N concurrent invocations.
type Local struct {
	transport transport.Transport
	capacity  int
	eg        *errgroup.Group

	stdout io.Writer
	stderr io.Writer
}

var _ Scheduler = (*Local)(nil)

// NewLocal builds a local scheduler with a concurrency cap of capacity
// (the --jobs flag / [targets.<name>.local].local_concurrency).
func NewLocal(t transport.Transport, capacity int) *Local {
	if capacity <= 0 {
		capacity = 1
	}
	eg := &errgroup.Group{}
	eg.SetLimit(capacity)
	return &Local{transport: t, capacity: capacity, eg: eg}
}

func (l *Local) Capacity() int { return l.capacity }

type localHandle struct {
	jobID  model.JobId
	done   chan struct{}
	mu     sync.Mutex
	result Completion
	err    error
	cancel context.CancelFunc
}

func (h *localHandle) JobID() model.JobId { return h.jobID }

func (h *localHandle) Poll(ctx context.Context) (*Completion, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.err != nil {
			return nil, h.err
		}
		result := h.result
		return &result, nil
	default:
		return nil, nil
	}
}

func (h *localHandle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

// Submit enqueues inv onto the pool. The errgroup.Go call blocks the
// caller only when capacity is already saturated, which is exactly the
// "bounded worker pool" semantics the spec calls for.
func (l *Local) Submit(ctx context.Context, inv Invocation) (Handle, error) {
	invCtx, cancel := context.WithCancel(context.Background())
	h := &localHandle{jobID: inv.JobID, done: make(chan struct{}), cancel: cancel}

	l.eg.Go(func() error {
		defer close(h.done)
		defer cancel()

		completion, err := l.transport.Exec(invCtx, inv.Argv, inv.Env, nil, transport.Captures{
			Stdout: l.stdout,
			Stderr: l.stderr,
		})
		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			h.err = err
			return nil // a job failure must not cancel sibling invocations
		}
		h.result = Completion{Success: completion.ExitCode == 0, ExitCode: completion.ExitCode}
		return nil
	})

	return h, nil
}

// Wait blocks until every submitted invocation's goroutine has returned.
// Used at engine shutdown to guarantee no orphaned goroutines outlive the
// process; it never itself returns an error, since per-job errors are
// captured on each Handle rather than propagated through the group.
func (l *Local) Wait() {
	l.eg.Wait()
}
