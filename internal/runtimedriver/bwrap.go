package runtimedriver

import (
	"context"
	"path/filepath"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// BwrapDriver runs the payload inside a user-namespace sandbox built with
// bubblewrap: an unshared mount/pid/net namespace overlaying the unpacked
// image rootfs, with the job's own output directory bind-mounted
// read-write and each declared mount path bind-mounted read-only. The
// rest of the store is not mounted.
type BwrapDriver struct{}

var _ Driver = BwrapDriver{}

func NewBwrapDriver() BwrapDriver { return BwrapDriver{} }

func (BwrapDriver) Kind() model.RuntimeKind { return model.RuntimeBwrap }

func (BwrapDriver) Invoke(ctx context.Context, t transport.Transport, req InvocationRequest) (transport.Completion, error) {
	bwrap := filepath.Join(req.HostToolsDir, "bwrap")

	argv := []string{
		bwrap,
		"--unshare-all",
		"--overlay-src", req.ImageRootfs,
		"--tmp-overlay", "/",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--dir", req.OutputDir,
		"--bind", req.OutputDir, req.OutputDir,
	}
	for _, p := range req.MountPaths {
		argv = append(argv, "--dir", p, "--ro-bind", p, p)
	}
	if req.MountHostPaths {
		argv = append(argv, "--ro-bind", "/usr", "/usr", "--ro-bind", "/bin", "/bin")
	}
	argv = append(argv, "--chdir", req.OutputDir, req.ExecutablePath)

	env := append([]string{"PATH=" + RestrictedPath(req.HostToolsDir)}, req.Env...)
	return t.Exec(ctx, argv, env, nil, transport.Captures{
		Stdout: req.Stdout,
		Stderr: req.Stderr,
	})
}
