// Package orchestrator resolves the subset of a job graph a run request
// names, then drives it to completion: promoting jobs whose dependencies
// have succeeded, submitting them through a Target facade, polling
// in-flight handles, and propagating failure/cancellation to dependents.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/metrics"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/store"
	"github.com/repx-run/repx/internal/target"
)

// DefaultPollInterval is how often the loop re-polls inflight handles
// when nothing else has woken it.
const DefaultPollInterval = 500 * time.Millisecond

// Orchestrator drives one job graph to completion against a single
// Target. The status map is mutated exclusively by the loop goroutine;
// callers observe it only through Snapshot.
type Orchestrator struct {
	lab    *model.Lab
	target *target.Target
	graph  *graph

	PollInterval time.Duration

	status       map[model.JobId]model.JobStatus
	inflight     map[model.JobId]*target.SubmissionHandle
	lockReleases map[model.JobId]func()
	runtimeKinds map[model.JobId]model.RuntimeKind
	cancelled    bool
}

// New resolves the transitive closure of roots within lab and prepares
// an Orchestrator to run it against tgt.
func New(lab *model.Lab, tgt *target.Target, roots []model.JobId) (*Orchestrator, error) {
	g, err := buildGraph(lab, roots)
	if err != nil {
		return nil, apperror.New(apperror.KindConfig, "build dependency graph", err)
	}
	status := make(map[model.JobId]model.JobStatus, len(g.nodes))
	for _, id := range g.order {
		status[id] = model.JobStatus{Kind: model.StatusPending}
	}
	return &Orchestrator{
		lab:          lab,
		target:       tgt,
		graph:        g,
		PollInterval: DefaultPollInterval,
		status:       status,
		inflight:     make(map[model.JobId]*target.SubmissionHandle),
		lockReleases: make(map[model.JobId]func()),
		runtimeKinds: make(map[model.JobId]model.RuntimeKind),
	}, nil
}

// Snapshot returns a copy of the current status map, safe for a reader
// (e.g. a TUI) to hold onto independent of further loop progress.
func (o *Orchestrator) Snapshot() map[model.JobId]model.JobStatus {
	out := make(map[model.JobId]model.JobStatus, len(o.status))
	for id, st := range o.status {
		out[id] = st
	}
	return out
}

// Cancel requests cooperative shutdown: no further submissions, every
// inflight handle is cancelled, and Pending/Ready jobs become Cancelled.
// The loop keeps running to reap outstanding handles, per spec.
func (o *Orchestrator) Cancel() {
	o.cancelled = true
}

// Run drives the main loop to completion, returning the final status map.
// It returns an error only for conditions the loop itself cannot recover
// from (e.g. a Poll or Submit call surfacing a non-retryable apperror);
// individual job failures are reflected in the returned status map, not
// as a Go error — the caller inspects FailedOrSkipped to decide exit code.
func (o *Orchestrator) Run(ctx context.Context) (map[model.JobId]model.JobStatus, error) {
	for {
		o.promote()

		if o.cancelled {
			if err := o.cancelInflight(ctx); err != nil {
				return o.Snapshot(), err
			}
			o.cancelPendingAndReady()
		} else {
			if err := o.submitReady(ctx); err != nil {
				return o.Snapshot(), err
			}
		}

		if err := o.pollInflight(ctx); err != nil {
			return o.Snapshot(), err
		}

		if o.done() {
			return o.Snapshot(), nil
		}

		select {
		case <-ctx.Done():
			o.cancelled = true
		case <-time.After(o.PollInterval):
		}
	}
}

// promote advances Pending jobs whose dependencies are all terminal:
// Success promotes to Ready; Failed/Cancelled/Skipped propagates Skipped
// downstream, recursively.
func (o *Orchestrator) promote() {
	for _, id := range o.orderedIDs() {
		st := o.status[id]
		if st.Kind != model.StatusPending {
			continue
		}
		n := o.graph.nodes[id]

		allSucceeded := true
		var upstreamFailed bool
		var missing []model.JobId
		for _, dep := range n.dependsOn {
			depStatus := o.status[dep]
			switch depStatus.Kind {
			case model.StatusSuccess:
				continue
			case model.StatusFailed, model.StatusCancelled, model.StatusSkipped:
				upstreamFailed = true
				allSucceeded = false
				missing = append(missing, dep)
			default:
				allSucceeded = false
			}
		}

		switch {
		case upstreamFailed:
			o.skip(id, "upstream-failure", missing)
		case allSucceeded:
			o.status[id] = model.JobStatus{Kind: model.StatusReady}
		}
	}
}

// skip marks id Skipped and recursively propagates to every job that
// depends on it, so one failure blocks its full downstream closure in a
// single promote() pass.
func (o *Orchestrator) skip(id model.JobId, reason string, missing []model.JobId) {
	st := o.status[id]
	if st.Kind.IsTerminal() {
		return
	}
	o.status[id] = model.JobStatus{Kind: model.StatusSkipped, Reason: reason, MissingDeps: missing}
	metrics.RecordTerminal(model.StatusSkipped, "", 0)
	for _, blockedID := range o.graph.nodes[id].blocks {
		o.skip(blockedID, "upstream-failure", []model.JobId{id})
	}
}

// orderedIDs returns every job id in the graph ordered by (depth
// ascending, insertion order within depth) — the ready-queue tie-break
// rule, applied uniformly so promotion and submission agree on ordering.
func (o *Orchestrator) orderedIDs() []model.JobId {
	ids := make([]model.JobId, len(o.graph.order))
	copy(ids, o.graph.order)
	sort.SliceStable(ids, func(i, j int) bool {
		return o.graph.nodes[ids[i]].depth < o.graph.nodes[ids[j]].depth
	})
	return ids
}

// submitReady pops Ready jobs in tie-break order while the scheduler has
// spare capacity, short-circuiting through the Store's cache check.
func (o *Orchestrator) submitReady(ctx context.Context) error {
	capacity := o.target.Scheduler.Capacity()
	for _, id := range o.orderedIDs() {
		if capacity > 0 && len(o.inflight) >= capacity {
			return nil
		}
		if o.status[id].Kind != model.StatusReady {
			continue
		}

		cached, err := o.target.Store.HasSuccess(id)
		if err != nil {
			return apperror.New(apperror.KindStore, "check cached success", err)
		}
		if cached {
			o.status[id] = model.Success(time.Now(), true)
			metrics.RecordCached()
			continue
		}

		release, ok, err := o.target.Store.AcquireJobLock(id)
		if err != nil {
			return apperror.New(apperror.KindStore, "acquire job lock", err)
		}
		if !ok {
			o.status[id] = model.Skipped("locked")
			metrics.RecordTerminal(model.StatusSkipped, "", 0)
			continue
		}

		job := o.lab.Jobs[id]
		job.ID = id
		handle, err := o.target.Submit(ctx, &job, store.InputManifest{Inputs: inputsForExecutable(&job)})
		if err != nil {
			release()
			return apperror.New(apperror.KindScheduler, "submit job", err)
		}
		o.inflight[id] = handle
		o.status[id] = model.Running(time.Now(), model.NewID())
		o.lockReleases[id] = release
		o.runtimeKinds[id] = runtimeKindOf(&job, o.target.Model)
		metrics.RecordSubmitted()
	}
	return nil
}

// runtimeKindOf mirrors the Target facade's own runtime resolution
// closely enough for metric labeling; Submit has already enforced the
// target admits it, so no error path is needed here.
func runtimeKindOf(job *model.Job, target model.Target) model.RuntimeKind {
	if job.RuntimeOverride != "" {
		return model.RuntimeKind(job.RuntimeOverride)
	}
	if target.DefaultExecutionType != "" {
		return target.DefaultExecutionType
	}
	return model.RuntimeNative
}

// inputsForExecutable flattens the "main" executable's declared input
// mappings (falling back to "scatter" for a scatter-gather job's first
// stage), since that is what the facade stages before execution.
func inputsForExecutable(job *model.Job) []model.InputMapping {
	if exe, ok := job.Executables["main"]; ok {
		return exe.Inputs
	}
	if exe, ok := job.Executables["scatter"]; ok {
		return exe.Inputs
	}
	return nil
}

// pollInflight polls every in-flight handle once, removing and
// finalizing any that have reached a terminal state.
func (o *Orchestrator) pollInflight(ctx context.Context) error {
	for id, handle := range o.inflight {
		st, err := o.target.Poll(ctx, handle)
		if err != nil {
			return apperror.New(apperror.KindScheduler, "poll job", err)
		}
		if st.Kind == model.StatusRunning {
			continue
		}
		o.finishInflight(id, st)
	}
	return nil
}

func (o *Orchestrator) finishInflight(id model.JobId, st model.JobStatus) {
	prev := o.status[id]
	o.status[id] = st
	delete(o.inflight, id)
	if release, ok := o.lockReleases[id]; ok {
		release()
		delete(o.lockReleases, id)
	}
	duration := time.Duration(0)
	if !prev.Since.IsZero() {
		duration = st.Finished.Sub(prev.Since)
	}
	metrics.RecordTerminal(st.Kind, o.runtimeKinds[id], duration)
	delete(o.runtimeKinds, id)
}

// cancelInflight calls Cancel on every in-flight handle; it does not
// remove them from inflight — the next pollInflight reaps them once
// their terminal state is observable.
func (o *Orchestrator) cancelInflight(ctx context.Context) error {
	for _, handle := range o.inflight {
		if err := o.target.Cancel(ctx, handle); err != nil {
			return apperror.New(apperror.KindScheduler, "cancel job", err)
		}
	}
	return nil
}

func (o *Orchestrator) cancelPendingAndReady() {
	for id, st := range o.status {
		if st.Kind == model.StatusPending || st.Kind == model.StatusReady {
			o.status[id] = model.JobStatus{Kind: model.StatusCancelled, Finished: time.Now()}
			metrics.RecordTerminal(model.StatusCancelled, "", 0)
		}
	}
}

// done reports whether no job remains Pending, Ready, or Running.
func (o *Orchestrator) done() bool {
	for _, st := range o.status {
		switch st.Kind {
		case model.StatusPending, model.StatusReady, model.StatusRunning:
			return false
		}
	}
	return len(o.inflight) == 0
}

// FailedOrSkipped reports whether the run should be treated as a
// non-zero-exit outcome: any job ended Failed, or any job was Skipped
// for a reason other than having already succeeded.
func FailedOrSkipped(status map[model.JobId]model.JobStatus) bool {
	for _, st := range status {
		if st.Kind == model.StatusFailed || st.Kind == model.StatusSkipped {
			return true
		}
	}
	return false
}
