package runtimedriver

import (
	"context"
	"fmt"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// ContainerDriver runs the payload inside an OCI container. Podman and
// Docker speak the same run/volume/workdir command-line surface, so one
// driver serves both, parameterized by the CLI binary name.
type ContainerDriver struct {
	kind   model.RuntimeKind
	binary string
}

var (
	_ Driver = ContainerDriver{}
)

func NewContainerDriver(kind model.RuntimeKind, binary string) ContainerDriver {
	return ContainerDriver{kind: kind, binary: binary}
}

func (d ContainerDriver) Kind() model.RuntimeKind { return d.kind }

func (d ContainerDriver) Invoke(ctx context.Context, t transport.Transport, req InvocationRequest) (transport.Completion, error) {
	argv := []string{
		resolveBinaryPath(req.HostToolsDir, d.binary),
		"run", "--rm", "--read-only",
		"--volume", fmt.Sprintf("%s:%s", req.OutputDir, req.OutputDir),
	}
	for _, p := range req.MountPaths {
		argv = append(argv, "--volume", fmt.Sprintf("%s:%s:ro", p, p))
	}
	if req.MountHostPaths {
		argv = append(argv, "--volume", "/usr:/usr:ro", "--volume", "/bin:/bin:ro")
	}
	argv = append(argv, "--workdir", req.OutputDir, req.ImageTag, req.ExecutablePath)

	env := append([]string{"PATH=" + RestrictedPath(req.HostToolsDir)}, req.Env...)
	return t.Exec(ctx, argv, env, nil, transport.Captures{
		Stdout: req.Stdout,
		Stderr: req.Stderr,
	})
}

// resolveBinaryPath joins a host-tools dir with a binary name, falling
// back to the bare name (resolved via the restricted PATH) when
// hostToolsDir is unset, since podman/docker are in
// AllowedSystemBinaries and may legitimately come from the system rather
// than staged host-tools.
func resolveBinaryPath(hostToolsDir, binary string) string {
	if hostToolsDir == "" {
		return binary
	}
	return hostToolsDir + "/" + binary
}
