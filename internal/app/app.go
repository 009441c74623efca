// Package app wires a named target from config.Config into a ready-to-use
// target.Target: resolving its transport (local or SSH), its scheduler
// (local pool or SLURM dispatch, with an optional CLI override), and its
// filesystem store. Every CLI subcommand that submits or inspects jobs
// shares this construction path.
package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/config"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/scheduler"
	"github.com/repx-run/repx/internal/store"
	"github.com/repx-run/repx/internal/target"
	"github.com/repx-run/repx/internal/transport"
)

// Options overrides config-driven defaults with explicit CLI flags.
type Options struct {
	TargetName     string
	SchedulerName  string // "local", "slurm", or "" to use the target's default
	LocalJobs      int    // 0 keeps the target's configured concurrency
	SlurmPartition string
}

// BuildTarget resolves targetName (or cfg.SubmissionTarget when empty)
// and constructs the target.Target the orchestrator will submit through.
func BuildTarget(ctx context.Context, cfg *config.Config, opts Options) (*target.Target, error) {
	modelTarget, err := cfg.Target(opts.TargetName)
	if err != nil {
		return nil, err
	}

	t, err := buildTransport(ctx, modelTarget)
	if err != nil {
		return nil, err
	}

	st, err := store.NewFilesystem(modelTarget.BasePath)
	if err != nil {
		return nil, err
	}

	sched, err := buildScheduler(modelTarget, t, opts)
	if err != nil {
		return nil, err
	}

	enginePath, err := os.Executable()
	if err != nil {
		return nil, apperror.New(apperror.KindConfig, "resolve engine binary path", err)
	}

	return target.New(modelTarget.Name, modelTarget, t, sched, st, enginePath), nil
}

func buildTransport(ctx context.Context, m model.Target) (transport.Transport, error) {
	if !m.IsRemote() {
		return transport.NewLocal(), nil
	}
	ssh, err := transport.Dial(ctx, m.Address, transport.SSHOptions{StrictHostKeyChecking: m.StrictHostKeyCheckingOrDefault()})
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "dial target", err)
	}
	return ssh, nil
}

func buildScheduler(m model.Target, t transport.Transport, opts Options) (scheduler.Scheduler, error) {
	kind := m.DefaultScheduler
	if opts.SchedulerName != "" {
		kind = model.SchedulerKind(opts.SchedulerName)
	}

	switch kind {
	case model.SchedulerSlurm:
		stateDir, err := config.StateDir()
		if err != nil {
			return nil, apperror.New(apperror.KindConfig, "resolve state dir", err)
		}
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, apperror.New(apperror.KindConfig, "create state dir", err)
		}
		state, err := scheduler.OpenSlurmStateDB(filepath.Join(stateDir, "slurm-jobs.db"))
		if err != nil {
			return nil, err
		}
		partition := opts.SlurmPartition
		if partition == "" && m.Slurm != nil {
			partition = m.Slurm.Partition
		}
		return scheduler.NewSlurm(t, state, m.Name, partition, filepath.Join(stateDir, "slurm-scripts")), nil

	case model.SchedulerLocal, "":
		jobs := opts.LocalJobs
		if jobs <= 0 && m.Local != nil {
			jobs = m.Local.Jobs
		}
		if jobs <= 0 {
			jobs = 1
		}
		return scheduler.NewLocal(t, jobs), nil

	default:
		return nil, apperror.Newf(apperror.KindConfig, "build scheduler", "unknown scheduler %q", kind)
	}
}
