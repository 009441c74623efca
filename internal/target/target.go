// Package target binds one Transport, one Scheduler, the target's
// admissible runtime set and a Store into the single object the orchestrator submits
// jobs through, abstracting away whether the target is this machine or
// a remote host reached over SSH.
package target

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/scheduler"
	"github.com/repx-run/repx/internal/store"
	"github.com/repx-run/repx/internal/transport"
)

// hostToolset is the single host-tools staging area every runtime kind
// resolves its sandboxing/container binaries from.
const hostToolset = "default"

// SubmissionHandle is returned by Submit and consumed by Poll/Cancel; it
// wraps a scheduler.Handle so the orchestrator never depends on the
// scheduler package directly.
type SubmissionHandle struct {
	jobID model.JobId
	inner scheduler.Handle
}

func (h *SubmissionHandle) JobID() model.JobId { return h.jobID }

// Target is the facade the orchestrator drives: one Transport, one
// Scheduler, the target's admissible runtime set, and the Store backing this
// target's host.
type Target struct {
	Name       string
	Model      model.Target
	Transport  transport.Transport
	Scheduler  scheduler.Scheduler
	Store      store.Store
	EnginePath string // local path to this process's own binary, staged remotely on first Submit

	stageOnce  sync.Once
	stagedPath string
	stageErr   error
}

// New builds a Target facade from its already-constructed dependencies.
func New(name string, m model.Target, t transport.Transport, sch scheduler.Scheduler, st store.Store, enginePath string) *Target {
	return &Target{Name: name, Model: m, Transport: t, Scheduler: sch, Store: st, EnginePath: enginePath}
}

// resolveRuntime applies job override, falling back to the target's
// default execution type, and rejects runtimes the target does not admit.
func (t *Target) resolveRuntime(job *model.Job) (model.RuntimeKind, error) {
	kind := t.Model.DefaultExecutionType
	if job.RuntimeOverride != "" {
		kind = model.RuntimeKind(job.RuntimeOverride)
	}
	if kind == "" {
		kind = model.RuntimeNative
	}
	if !t.Model.Admits(kind) {
		return "", apperror.Newf(apperror.KindConfig, "resolve runtime", "target %q does not admit runtime %q", t.Name, kind)
	}
	return kind, nil
}

// ensureEngineStaged uploads this process's own binary to the target
// once per Target instance; subsequent Submit calls reuse the staged path.
func (t *Target) ensureEngineStaged(ctx context.Context) (string, error) {
	if !t.Model.IsRemote() {
		return t.EnginePath, nil
	}
	t.stageOnce.Do(func() {
		t.stagedPath, t.stageErr = transport.StageBinary(ctx, t.Transport, t.Model.BasePath, t.EnginePath)
	})
	return t.stagedPath, t.stageErr
}

// Submit prepares a job's store directories and input manifest, resolves
// its runtime, and dispatches a "internal-execute" re-entry invocation
// through the target's scheduler.
func (t *Target) Submit(ctx context.Context, job *model.Job, inputs store.InputManifest) (*SubmissionHandle, error) {
	if err := t.Store.PrepareJobDirs(job.ID); err != nil {
		return nil, apperror.New(apperror.KindStore, "prepare job dirs", err)
	}
	if err := t.Store.WriteInputsManifest(job.ID, inputs); err != nil {
		return nil, apperror.New(apperror.KindStore, "write inputs manifest", err)
	}

	runtimeKind, err := t.resolveRuntime(job)
	if err != nil {
		return nil, err
	}

	enginePath, err := t.ensureEngineStaged(ctx)
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "stage engine binary", err)
	}

	argv := []string{
		enginePath, "internal-execute",
		"--job-id", string(job.ID),
		"--runtime", string(runtimeKind),
		"--base-path", t.Model.BasePath,
		"--executable-path", job.ExecutablePath,
		"--host-tools-dir", filepath.Dir(t.Store.HostToolPath(hostToolset, "x")),
	}
	if job.ImageRef != "" {
		argv = append(argv, "--image-tag", job.ImageRef)
	}
	for _, p := range job.MountPaths {
		argv = append(argv, "--mount-paths", p)
	}
	if job.Impure {
		argv = append(argv, "--mount-host-paths")
	}

	if err := t.Store.RecordDispatched(job.ID); err != nil {
		return nil, apperror.New(apperror.KindStore, "record dispatched", err)
	}

	inv := scheduler.Invocation{
		JobID:     job.ID,
		Argv:      argv,
		RepxDir:   filepath.Dir(t.Store.StdoutPath(job.ID)),
		Resources: job.Resources,
	}
	h, err := t.Scheduler.Submit(ctx, inv)
	if err != nil {
		return nil, apperror.New(apperror.KindScheduler, "submit", err)
	}
	return &SubmissionHandle{jobID: job.ID, inner: h}, nil
}

// Poll returns the current status of a submitted job. For schedulers
// that cannot report an exit code directly (slurm), the Store's SUCCESS
// or FAIL marker is consulted once the scheduler reports the job has
// left the queue.
func (t *Target) Poll(ctx context.Context, h *SubmissionHandle) (model.JobStatus, error) {
	completion, err := h.inner.Poll(ctx)
	if err != nil {
		return model.JobStatus{}, apperror.New(apperror.KindScheduler, "poll", err)
	}
	if completion == nil {
		return model.Running(time.Now(), string(h.jobID)), nil
	}

	outcome, err := t.Store.GetOutcome(h.jobID)
	if err != nil {
		return model.JobStatus{}, apperror.New(apperror.KindStore, "poll: read outcome", err)
	}
	switch outcome {
	case store.OutcomeSuccess:
		return model.Success(time.Now(), false), nil
	case store.OutcomeFailed:
		exitCode := completion.ExitCode
		return model.Failed(model.FailureRuntime, &exitCode, time.Now()), nil
	default:
		// The scheduler reports terminal but the store has no marker yet
		// (e.g. the job never reached commit, or crashed before writing
		// one): fall back to the scheduler's own verdict.
		if completion.Success {
			return model.Success(time.Now(), false), nil
		}
		exitCode := completion.ExitCode
		return model.Failed(model.FailureRuntime, &exitCode, time.Now()), nil
	}
}

// Cancel cancels an in-flight submission.
func (t *Target) Cancel(ctx context.Context, h *SubmissionHandle) error {
	if err := h.inner.Cancel(ctx); err != nil {
		return apperror.New(apperror.KindScheduler, "cancel", err)
	}
	return nil
}

// FetchLogs retrieves a job's captured stdout and stderr in full.
func (t *Target) FetchLogs(ctx context.Context, jobID model.JobId) (stdout, stderr []byte, err error) {
	stdout, err = t.readRemoteFile(ctx, t.Store.StdoutPath(jobID))
	if err != nil {
		return nil, nil, err
	}
	stderr, err = t.readRemoteFile(ctx, t.Store.StderrPath(jobID))
	if err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func (t *Target) readRemoteFile(ctx context.Context, remotePath string) ([]byte, error) {
	var buf bytes.Buffer
	completion, err := t.Transport.Exec(ctx, []string{"sh", "-c", fmt.Sprintf("cat %q", remotePath)}, nil, nil, transport.Captures{Stdout: &buf})
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "fetch log", err)
	}
	if completion.ExitCode != 0 {
		// Missing log file (job never started, or was skipped) is not an
		// error the caller needs to see as such; return an empty slice.
		return nil, nil
	}
	return buf.Bytes(), nil
}
