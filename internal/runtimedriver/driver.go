// Package runtimedriver constructs an isolated execution environment for
// one process invocation, for each of the four supported runtime kinds:
// native host execution, a user-namespace sandbox (bwrap), and two OCI
// container engines (podman, docker) sharing one driver implementation.
package runtimedriver

import (
	"context"
	"io"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// InvocationRequest is the shared invocation contract every driver
// consumes, regardless of runtime kind.
type InvocationRequest struct {
	JobID          model.JobId
	ExecutablePath string
	OutputDir      string
	HostToolsDir   string

	// ImageRootfs is set for Bwrap (an already-unpacked rootfs directory).
	ImageRootfs string
	// ImageTag is set for Podman/Docker (an image reference the daemon
	// already has loaded, per store.HasImageLoaded/MarkImageLoaded).
	ImageTag string

	MountPaths     []string
	MountHostPaths bool
	Env            []string

	Stdout io.Writer
	Stderr io.Writer
}

// Driver constructs and runs one invocation of a job's executable for a
// specific runtime kind.
type Driver interface {
	Kind() model.RuntimeKind
	Invoke(ctx context.Context, t transport.Transport, req InvocationRequest) (transport.Completion, error)
}

// ALLOWED_SYSTEM_BINARIES in the original is the allowlist of host tools a
// job's restricted PATH is permitted to resolve to, regardless of
// host-tools staging — carried over verbatim since it is a security
// boundary, not an implementation detail.
var AllowedSystemBinaries = []string{
	"docker", "podman", "bwrap",
	"sbatch", "squeue", "sinfo", "sacct", "scancel",
	"sh",
}

// RestrictedPath builds a PATH value containing hostToolsDir's bin
// directory followed by any extraDirs the caller passes, so a job
// invocation cannot silently depend on other directories of the host.
func RestrictedPath(hostToolsDir string, extraDirs ...string) string {
	dirs := append([]string{hostToolsDir}, extraDirs...)
	path := ""
	for i, d := range dirs {
		if i > 0 {
			path += ":"
		}
		path += d
	}
	return path
}
