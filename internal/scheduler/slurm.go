package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// Slurm dispatches invocations through sbatch and tracks them via squeue,
// persisting the JobId -> slurm job id mapping in SlurmStateDB so a
// second engine invocation against the same target can resume polling.
type Slurm struct {
	transport  transport.Transport
	state      *SlurmStateDB
	targetName string
	partition  string
	scriptDir  string

	mu      sync.Mutex
	pending map[model.JobId]*slurmHandle
}

var _ Scheduler = (*Slurm)(nil)

func NewSlurm(t transport.Transport, state *SlurmStateDB, targetName, partition, scriptDir string) *Slurm {
	return &Slurm{
		transport:  t,
		state:      state,
		targetName: targetName,
		partition:  partition,
		scriptDir:  scriptDir,
		pending:    make(map[model.JobId]*slurmHandle),
	}
}

// Capacity returns 0: the queue itself is the concurrency bound, not a
// local semaphore.
func (s *Slurm) Capacity() int { return 0 }

type slurmHandle struct {
	scheduler *Slurm
	jobID     model.JobId
	slurmID   int
}

func (h *slurmHandle) JobID() model.JobId { return h.jobID }

func (h *slurmHandle) Poll(ctx context.Context) (*Completion, error) {
	return h.scheduler.Poll(ctx, h.jobID)
}

func (h *slurmHandle) Cancel(ctx context.Context) error {
	return h.scheduler.Cancel(ctx, h.jobID)
}

var submittedJobRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Submit generates an sbatch script invoking the staged repx binary's
// internal-execute subcommand and submits it, recording the resulting
// slurm job id. A transient sbatch failure is retried per apperror's
// shared backoff policy before the submission is given up on.
func (s *Slurm) Submit(ctx context.Context, inv Invocation) (Handle, error) {
	script := s.generateInvokerScript(inv)
	scriptPath := fmt.Sprintf("%s/%s.sbatch", s.scriptDir, inv.JobID)

	if err := s.transport.MkdirAll(ctx, s.scriptDir); err != nil {
		return nil, err
	}
	if err := writeRemoteScript(ctx, s.transport, scriptPath, script); err != nil {
		return nil, err
	}

	var stdout bytes.Buffer
	err := apperror.Retry(ctx, apperror.DefaultRetryPolicy, func(attempt int) error {
		stdout.Reset()
		completion, err := s.transport.Exec(ctx, []string{"sbatch", scriptPath}, nil, nil, transport.Captures{Stdout: &stdout})
		if err != nil {
			return apperror.New(apperror.KindScheduler, "sbatch", err)
		}
		if completion.ExitCode != 0 {
			return apperror.Newf(apperror.KindScheduler, "sbatch", "sbatch exited %d: %s", completion.ExitCode, stdout.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	match := submittedJobRe.FindStringSubmatch(stdout.String())
	if match == nil {
		return nil, apperror.Newf(apperror.KindScheduler, "sbatch", "could not parse slurm job id from output: %q", stdout.String())
	}
	slurmID, _ := strconv.Atoi(match[1])

	if err := s.state.Upsert(s.targetName, inv.JobID, slurmID); err != nil {
		return nil, apperror.New(apperror.KindScheduler, "persist slurm id", err)
	}

	h := &slurmHandle{scheduler: s, jobID: inv.JobID, slurmID: slurmID}
	s.mu.Lock()
	s.pending[inv.JobID] = h
	s.mu.Unlock()
	return h, nil
}

func (s *Slurm) generateInvokerScript(inv Invocation) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", inv.JobID)
	if inv.RepxDir != "" {
		fmt.Fprintf(&b, "#SBATCH --output=%s/slurm-%%j.out\n", inv.RepxDir)
	}
	if s.partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", s.partition)
	}
	if inv.Resources.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", inv.Resources.Partition)
	}
	if inv.Resources.CPUs > 0 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", inv.Resources.CPUs)
	}
	if inv.Resources.Mem != "" {
		fmt.Fprintf(&b, "#SBATCH --mem=%s\n", inv.Resources.Mem)
	}
	if inv.Resources.Walltime != "" {
		fmt.Fprintf(&b, "#SBATCH --time=%s\n", inv.Resources.Walltime)
	}
	for _, kv := range inv.Env {
		fmt.Fprintf(&b, "export %s\n", kv)
	}
	b.WriteString(shellJoinArgv(inv.Argv))
	b.WriteString("\n")
	return b.String()
}

func shellJoinArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func writeRemoteScript(ctx context.Context, t transport.Transport, path, content string) error {
	tmp, err := os.CreateTemp("", "repx-sbatch-*.sh")
	if err != nil {
		return apperror.New(apperror.KindScheduler, "stage sbatch script", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return apperror.New(apperror.KindScheduler, "stage sbatch script", err)
	}
	if err := tmp.Close(); err != nil {
		return apperror.New(apperror.KindScheduler, "stage sbatch script", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return apperror.New(apperror.KindScheduler, "stage sbatch script", err)
	}
	if err := t.PutFile(ctx, tmp.Name(), path); err != nil {
		return apperror.New(apperror.KindScheduler, "upload sbatch script", err)
	}
	return nil
}

// Poll probes squeue for jobID's slurm job; absence from squeue means the
// job has left the queue (completed, failed, or cancelled) and terminal
// state must be read back from the Store by the caller, since squeue does
// not report exit codes.
func (s *Slurm) Poll(ctx context.Context, jobID model.JobId) (*Completion, error) {
	slurmID, err := s.state.Get(s.targetName, jobID)
	if err != nil {
		return nil, apperror.New(apperror.KindScheduler, "poll: lookup slurm id", err)
	}

	jobs, err := s.squeue(ctx)
	if err != nil {
		return nil, err
	}
	if _, stillQueued := jobs[jobID]; stillQueued {
		return nil, nil
	}

	_ = slurmID // left in the state db for scancel/log lookups until Delete
	return &Completion{Success: true}, nil
}

// squeue retries a transient squeue failure per apperror's shared backoff
// policy, same as Submit.
func (s *Slurm) squeue(ctx context.Context) (map[model.JobId]SlurmJobInfo, error) {
	var stdout bytes.Buffer
	err := apperror.Retry(ctx, apperror.DefaultRetryPolicy, func(attempt int) error {
		stdout.Reset()
		completion, err := s.transport.Exec(ctx, []string{"squeue", "-h", "-o", "%i %j %t"}, nil, nil, transport.Captures{Stdout: &stdout})
		if err != nil {
			return apperror.New(apperror.KindScheduler, "squeue", err)
		}
		if completion.ExitCode != 0 {
			return apperror.Newf(apperror.KindScheduler, "squeue", "squeue exited %d", completion.ExitCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseSqueue(stdout.String()), nil
}

// Cancel runs scancel for jobID's slurm job, retrying a transient failure
// per apperror's shared backoff policy.
func (s *Slurm) Cancel(ctx context.Context, jobID model.JobId) error {
	slurmID, err := s.state.Get(s.targetName, jobID)
	if err != nil {
		return apperror.New(apperror.KindScheduler, "cancel: lookup slurm id", err)
	}
	return apperror.Retry(ctx, apperror.DefaultRetryPolicy, func(attempt int) error {
		completion, err := s.transport.Exec(ctx, []string{"scancel", strconv.Itoa(slurmID)}, nil, nil, transport.Captures{})
		if err != nil {
			return apperror.New(apperror.KindScheduler, "scancel", err)
		}
		if completion.ExitCode != 0 {
			return apperror.Newf(apperror.KindScheduler, "scancel", "scancel exited %d", completion.ExitCode)
		}
		return nil
	})
}
