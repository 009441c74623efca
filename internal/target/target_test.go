package target

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/scheduler"
	"github.com/repx-run/repx/internal/store"
	"github.com/repx-run/repx/internal/transport"
)

// fakeTransport records the argv it was asked to Exec.
type fakeTransport struct {
	lastArgv []string
}

func (f *fakeTransport) Exec(_ context.Context, argv []string, _ []string, _ io.Reader, _ transport.Captures) (transport.Completion, error) {
	f.lastArgv = argv
	return transport.Completion{ExitCode: 0}, nil
}
func (f *fakeTransport) PutFile(context.Context, string, string) error { return nil }
func (f *fakeTransport) GetFile(context.Context, string, string) error { return nil }
func (f *fakeTransport) PutDir(context.Context, string, string) error  { return nil }
func (f *fakeTransport) GetDir(context.Context, string, string) error  { return nil }
func (f *fakeTransport) Exists(context.Context, string) (bool, error)  { return false, nil }
func (f *fakeTransport) MkdirAll(context.Context, string) error        { return nil }
func (f *fakeTransport) Close() error                                  { return nil }

var _ transport.Transport = (*fakeTransport)(nil)

// fakeHandle / fakeScheduler let Submit/Poll/Cancel be exercised without a
// real local worker pool or sbatch/squeue round trip.
type fakeHandle struct {
	jobID      model.JobId
	completion *scheduler.Completion
	cancelled  bool
}

func (h *fakeHandle) JobID() model.JobId { return h.jobID }
func (h *fakeHandle) Poll(context.Context) (*scheduler.Completion, error) {
	return h.completion, nil
}
func (h *fakeHandle) Cancel(context.Context) error {
	h.cancelled = true
	return nil
}

type fakeScheduler struct {
	lastInvocation scheduler.Invocation
	handle         *fakeHandle
}

func (s *fakeScheduler) Submit(_ context.Context, inv scheduler.Invocation) (scheduler.Handle, error) {
	s.lastInvocation = inv
	s.handle = &fakeHandle{jobID: inv.JobID}
	return s.handle, nil
}
func (s *fakeScheduler) Capacity() int { return 1 }

var _ scheduler.Scheduler = (*fakeScheduler)(nil)

func newTestTarget(t *testing.T) (*Target, *fakeScheduler, store.Store) {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFilesystem(dir)
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	sched := &fakeScheduler{}
	tgt := New("local", model.Target{Name: "local", BasePath: dir, DefaultExecutionType: model.RuntimeNative}, &fakeTransport{}, sched, fs, "/usr/local/bin/repx")
	return tgt, sched, fs
}

func TestSubmitBuildsInternalExecuteArgv(t *testing.T) {
	tgt, sched, _ := newTestTarget(t)
	job := &model.Job{ID: "job-1", ExecutablePath: "/store/outputs/job-1/repx/script.sh"}

	if _, err := tgt.Submit(context.Background(), job, store.InputManifest{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	argv := sched.lastInvocation.Argv
	if len(argv) < 2 || argv[1] != "internal-execute" {
		t.Fatalf("argv = %v, want [..., internal-execute, ...]", argv)
	}
	if argv[0] != tgt.EnginePath {
		t.Errorf("argv[0] = %q, want local engine path %q (native target should not stage a binary)", argv[0], tgt.EnginePath)
	}
}

func TestSubmitForwardsMountFlagsAndHostToolsDir(t *testing.T) {
	tgt, sched, fs := newTestTarget(t)
	job := &model.Job{
		ID:             "job-1",
		ExecutablePath: "/store/outputs/job-1/repx/script.sh",
		MountPaths:     []string{"/data/shared", "/tmp/secret"},
		Impure:         true,
	}

	if _, err := tgt.Submit(context.Background(), job, store.InputManifest{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	argv := sched.lastInvocation.Argv
	joined := fmt.Sprint(argv)
	wantHostToolsDir := filepath.Dir(fs.HostToolPath("default", "x"))
	if !strings.Contains(joined, "--host-tools-dir "+wantHostToolsDir) {
		t.Errorf("argv %v missing --host-tools-dir %q", argv, wantHostToolsDir)
	}
	if !strings.Contains(joined, "--mount-paths /data/shared") || !strings.Contains(joined, "--mount-paths /tmp/secret") {
		t.Errorf("argv %v missing both --mount-paths entries", argv)
	}
	if !strings.Contains(joined, "--mount-host-paths") {
		t.Errorf("argv %v missing --mount-host-paths for an impure job", argv)
	}
}

func TestSubmitRejectsRuntimeTargetDoesNotAdmit(t *testing.T) {
	tgt, _, _ := newTestTarget(t)
	tgt.Model.AdmissibleRuntimes = []model.RuntimeKind{model.RuntimeNative}
	job := &model.Job{ID: "job-2", ExecutablePath: "/bin/true", RuntimeOverride: "docker"}

	if _, err := tgt.Submit(context.Background(), job, store.InputManifest{}); err == nil {
		t.Fatal("Submit should reject a runtime the target does not admit")
	}
}

func TestPollReportsRunningWhileNoCompletion(t *testing.T) {
	tgt, sched, _ := newTestTarget(t)
	job := &model.Job{ID: "job-3", ExecutablePath: "/bin/true"}
	h, err := tgt.Submit(context.Background(), job, store.InputManifest{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.handle.completion = nil

	status, err := tgt.Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.Kind != model.StatusRunning {
		t.Errorf("status.Kind = %v, want StatusRunning", status.Kind)
	}
}

func TestPollPrefersStoreOutcomeOverSchedulerVerdict(t *testing.T) {
	tgt, sched, fs := newTestTarget(t)
	job := &model.Job{ID: "job-4", ExecutablePath: "/bin/true"}
	h, err := tgt.Submit(context.Background(), job, store.InputManifest{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := fs.CommitSuccess(job.ID); err != nil {
		t.Fatalf("CommitSuccess: %v", err)
	}
	// Scheduler reports failure (e.g. a slurm job that left the queue
	// with no exit code visibility), but the SUCCESS marker is authoritative.
	sched.handle.completion = &scheduler.Completion{Success: false, ExitCode: 1}

	status, err := tgt.Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.Kind != model.StatusSuccess {
		t.Errorf("status.Kind = %v, want StatusSuccess (store outcome should win)", status.Kind)
	}
}

func TestCancelDelegatesToHandle(t *testing.T) {
	tgt, sched, _ := newTestTarget(t)
	job := &model.Job{ID: "job-5", ExecutablePath: "/bin/true"}
	h, err := tgt.Submit(context.Background(), job, store.InputManifest{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := tgt.Cancel(context.Background(), h); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !sched.handle.cancelled {
		t.Error("Cancel did not reach the underlying scheduler handle")
	}
}

func TestFetchLogsReturnsEmptyForMissingFile(t *testing.T) {
	tgt, _, _ := newTestTarget(t)
	stdout, stderr, err := tgt.FetchLogs(context.Background(), "job-does-not-exist")
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if stdout != nil || stderr != nil {
		t.Errorf("stdout/stderr = %v/%v, want nil for a job with no recorded logs", stdout, stderr)
	}
}
