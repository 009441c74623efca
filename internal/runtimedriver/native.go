package runtimedriver

import (
	"context"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// NativeDriver runs the payload as a direct host process: no sandbox, no
// container, the simplest and fastest of the four runtimes.
type NativeDriver struct{}

var _ Driver = NativeDriver{}

func NewNativeDriver() NativeDriver { return NativeDriver{} }

func (NativeDriver) Kind() model.RuntimeKind { return model.RuntimeNative }

func (NativeDriver) Invoke(ctx context.Context, t transport.Transport, req InvocationRequest) (transport.Completion, error) {
	env := append([]string{"PATH=" + RestrictedPath(req.HostToolsDir, "/usr/bin", "/bin")}, req.Env...)
	return t.Exec(ctx, []string{req.ExecutablePath}, env, nil, transport.Captures{
		Stdout: req.Stdout,
		Stderr: req.Stderr,
	})
}
