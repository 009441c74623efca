package runtimedriver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/transport"
)

// fakeTransport records the argv it was asked to Exec, standing in for a
// real bwrap/podman/docker/native binary, which unit tests cannot assume
// is installed.
type fakeTransport struct {
	lastArgv []string
	lastEnv  []string
}

func (f *fakeTransport) Exec(_ context.Context, argv []string, env []string, _ io.Reader, _ transport.Captures) (transport.Completion, error) {
	f.lastArgv = argv
	f.lastEnv = env
	return transport.Completion{ExitCode: 0}, nil
}
func (f *fakeTransport) PutFile(context.Context, string, string) error  { return nil }
func (f *fakeTransport) GetFile(context.Context, string, string) error  { return nil }
func (f *fakeTransport) PutDir(context.Context, string, string) error   { return nil }
func (f *fakeTransport) GetDir(context.Context, string, string) error   { return nil }
func (f *fakeTransport) Exists(context.Context, string) (bool, error)   { return true, nil }
func (f *fakeTransport) MkdirAll(context.Context, string) error         { return nil }
func (f *fakeTransport) Close() error                                   { return nil }

var _ transport.Transport = (*fakeTransport)(nil)

func TestRegistryResolvesAllFourRuntimes(t *testing.T) {
	reg := NewDefaultRegistry()
	for _, kind := range []model.RuntimeKind{model.RuntimeNative, model.RuntimeBwrap, model.RuntimePodman, model.RuntimeDocker} {
		d, err := reg.Resolve(kind)
		if err != nil {
			t.Errorf("Resolve(%v): %v", kind, err)
			continue
		}
		if d.Kind() != kind {
			t.Errorf("driver.Kind() = %v, want %v", d.Kind(), kind)
		}
	}
}

func TestRegistryResolveUnknownKindErrors(t *testing.T) {
	reg := NewDefaultRegistry()
	if _, err := reg.Resolve(model.RuntimeKind("qemu")); err == nil {
		t.Fatal("Resolve of an unregistered kind should error")
	}
}

func TestAllDriversEndInvocationAtTheExecutable(t *testing.T) {
	req := InvocationRequest{
		ExecutablePath: "/store/outputs/job-1/repx/script.sh",
		OutputDir:      "/store/outputs/job-1/out",
		HostToolsDir:   "/store/artifacts/host-tools/default/bin",
		ImageRootfs:    "/store/cache/images/abc/rootfs",
		ImageTag:       "repx/abc:latest",
		MountPaths:     []string{"/store"},
	}

	drivers := []Driver{
		NewNativeDriver(),
		NewBwrapDriver(),
		NewContainerDriver(model.RuntimePodman, "podman"),
		NewContainerDriver(model.RuntimeDocker, "docker"),
	}
	for _, d := range drivers {
		ft := &fakeTransport{}
		if _, err := d.Invoke(context.Background(), ft, req); err != nil {
			t.Fatalf("%v.Invoke: %v", d.Kind(), err)
		}
		if len(ft.lastArgv) == 0 {
			t.Fatalf("%v: Exec was not called", d.Kind())
		}
		last := ft.lastArgv[len(ft.lastArgv)-1]
		if last != req.ExecutablePath {
			t.Errorf("%v: last argv element = %q, want executable path %q", d.Kind(), last, req.ExecutablePath)
		}
	}
}

func TestContainerDriverMountsOutputDirAndMountPaths(t *testing.T) {
	req := InvocationRequest{
		ExecutablePath: "/store/outputs/job-1/repx/script.sh",
		OutputDir:      "/store/outputs/job-1/out",
		ImageTag:       "repx/abc:latest",
		MountPaths:     []string{"/data/shared"},
	}
	ft := &fakeTransport{}
	if _, err := NewContainerDriver(model.RuntimePodman, "podman").Invoke(context.Background(), ft, req); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	joined := fmt.Sprint(ft.lastArgv)
	if !strings.Contains(joined, req.OutputDir+":"+req.OutputDir) {
		t.Errorf("argv %v does not bind-mount the output dir writable", ft.lastArgv)
	}
	if !strings.Contains(joined, "/data/shared:/data/shared:ro") {
		t.Errorf("argv %v does not bind-mount the declared host path read-only", ft.lastArgv)
	}
}

func TestContainerDriverMountHostPathsOptIn(t *testing.T) {
	req := InvocationRequest{
		ExecutablePath: "/store/outputs/job-1/repx/script.sh",
		OutputDir:      "/store/outputs/job-1/out",
		ImageTag:       "repx/abc:latest",
		MountHostPaths: true,
	}
	ft := &fakeTransport{}
	if _, err := NewContainerDriver(model.RuntimeDocker, "docker").Invoke(context.Background(), ft, req); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	joined := fmt.Sprint(ft.lastArgv)
	if !strings.Contains(joined, "/usr:/usr:ro") {
		t.Errorf("argv %v does not bind-mount /usr when MountHostPaths is set", ft.lastArgv)
	}
}
