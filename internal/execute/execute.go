// Package execute implements the internal-execute re-entry command: the
// part of the engine that actually runs a job's executable, invoked on
// the target host itself (local execution, or the remote end of an SSH
// submission) rather than by the orchestrator directly.
package execute

import (
	"context"
	"os"
	"path/filepath"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/runtimedriver"
	"github.com/repx-run/repx/internal/store"
	"github.com/repx-run/repx/internal/transport"
)

// hostToolset is the single host-tools staging area every runtime kind
// resolves its sandboxing/container binaries from.
const hostToolset = "default"

// Request is the decoded form of the internal-execute command's flags.
type Request struct {
	JobID          model.JobId
	Runtime        model.RuntimeKind
	ImageTag       string
	BasePath       string
	ExecutablePath string

	// HostToolsDir is where the sandboxing/container binaries were
	// staged; empty falls back to the default toolset under BasePath,
	// for callers (tests, local-only targets) that never staged a
	// separate set.
	HostToolsDir string

	// MountPaths are extra host paths bind-mounted read-only into the
	// invocation, beyond the image and the job's own output directory
	// (the "explicitly listed host paths" of the pure-with-extras mount
	// default, §4.3).
	MountPaths []string
	// MountHostPaths opts into the fully-impure mount spec, exposing the
	// native host filesystem inside the sandbox as well.
	MountHostPaths bool
}

// Run drives one job's execution to a terminal store outcome: it
// prepares the job's directories, resolves and invokes the runtime
// driver with output teed to the store's stdout/stderr paths, and
// commits SUCCESS or FAIL last, per the store's durability contract.
func Run(ctx context.Context, st store.Store, registry *runtimedriver.Registry, t transport.Transport, req Request) error {
	if err := st.PrepareJobDirs(req.JobID); err != nil {
		return apperror.New(apperror.KindStore, "prepare job dirs", err)
	}
	if err := st.RecordStarted(req.JobID); err != nil {
		return apperror.New(apperror.KindStore, "record started", err)
	}

	driver, err := registry.Resolve(req.Runtime)
	if err != nil {
		return apperror.New(apperror.KindRuntime, "resolve driver", err)
	}

	hostToolsDir := req.HostToolsDir
	if hostToolsDir == "" {
		hostToolsDir = filepath.Dir(st.HostToolPath(hostToolset, "x"))
	}
	invReq := runtimedriver.InvocationRequest{
		JobID:          req.JobID,
		ExecutablePath: req.ExecutablePath,
		OutputDir:      st.OutputDir(req.JobID),
		HostToolsDir:   hostToolsDir,
		MountPaths:     req.MountPaths,
		MountHostPaths: req.MountHostPaths,
	}

	switch req.Runtime {
	case model.RuntimeBwrap:
		if req.ImageTag == "" {
			return apperror.Newf(apperror.KindConfig, "resolve image", "runtime %q requires an image", req.Runtime)
		}
		rootfs, err := st.EnsureImageUnpacked(ctx, req.ImageTag)
		if err != nil {
			return apperror.New(apperror.KindStore, "unpack image", err)
		}
		invReq.ImageRootfs = rootfs
	case model.RuntimePodman, model.RuntimeDocker:
		if req.ImageTag == "" {
			return apperror.Newf(apperror.KindConfig, "resolve image", "runtime %q requires an image", req.Runtime)
		}
		if err := ensureImageLoaded(ctx, st, t, req.Runtime, req.ImageTag); err != nil {
			return err
		}
		invReq.ImageTag = req.ImageTag
	}

	stdout, err := os.Create(st.StdoutPath(req.JobID))
	if err != nil {
		return apperror.New(apperror.KindStore, "open stdout log", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(st.StderrPath(req.JobID))
	if err != nil {
		return apperror.New(apperror.KindStore, "open stderr log", err)
	}
	defer stderr.Close()
	invReq.Stdout = stdout
	invReq.Stderr = stderr

	completion, invokeErr := driver.Invoke(ctx, t, invReq)

	if recErr := st.RecordFinished(req.JobID); recErr != nil {
		return apperror.New(apperror.KindStore, "record finished", recErr)
	}

	if invokeErr != nil || completion.ExitCode != 0 {
		if err := st.CommitFailed(req.JobID); err != nil {
			return apperror.New(apperror.KindStore, "commit failed marker", err)
		}
		if invokeErr != nil {
			return apperror.New(apperror.KindRuntime, "invoke driver", invokeErr)
		}
		return apperror.Newf(apperror.KindRuntime, "invoke driver", "job %q exited %d", req.JobID, completion.ExitCode)
	}

	if err := st.CommitSuccess(req.JobID); err != nil {
		return apperror.New(apperror.KindStore, "commit success marker", err)
	}
	return nil
}

// ensureImageLoaded tells the container daemon to load the job's image
// tarball exactly once per hash, tracked via the store's sentinel file
// rather than querying the daemon (which has no uniform CLI surface for
// "is this already loaded" across podman and docker).
func ensureImageLoaded(ctx context.Context, st store.Store, t transport.Transport, runtime model.RuntimeKind, hash string) error {
	loaded, err := st.HasImageLoaded(hash)
	if err != nil {
		return apperror.New(apperror.KindStore, "check image loaded", err)
	}
	if loaded {
		return nil
	}
	_, err = t.Exec(ctx, []string{string(runtime), "load", "-i", st.ImageTarPath(hash)}, nil, nil, transport.Captures{})
	if err != nil {
		return apperror.New(apperror.KindRuntime, "load image", err)
	}
	if err := st.MarkImageLoaded(hash); err != nil {
		return apperror.New(apperror.KindStore, "mark image loaded", err)
	}
	return nil
}
