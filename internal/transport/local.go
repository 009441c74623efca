package transport

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/repx-run/repx/internal/apperror"
)

// terminationGracePeriod is how long a cancelled invocation's process
// group is given to exit after SIGTERM before it is sent SIGKILL.
const terminationGracePeriod = 5 * time.Second

// Local is the native transport: direct process spawn and native
// filesystem calls on the current host.
type Local struct{}

var _ Transport = Local{}

func NewLocal() Local { return Local{} }

// Exec spawns argv in its own process group so that cancellation can
// terminate the whole child tree, not just the direct child: on ctx
// cancellation it signals the group with SIGTERM, then SIGKILL if the
// group hasn't exited within terminationGracePeriod.
func (Local) Exec(ctx context.Context, argv []string, env []string, stdin io.Reader, captures Captures) (Completion, error) {
	if len(argv) == 0 {
		return Completion{}, apperror.Newf(apperror.KindTransport, "exec", "empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = stdin
	cmd.Stdout = captures.Stdout
	cmd.Stderr = captures.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Completion{}, apperror.New(apperror.KindTransport, "exec", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return completionFromWait(err)
	case <-ctx.Done():
		pgid := cmd.Process.Pid
		_ = unix.Kill(-pgid, syscall.SIGTERM)
		select {
		case err := <-waitErr:
			return completionFromWait(err)
		case <-time.After(terminationGracePeriod):
			_ = unix.Kill(-pgid, syscall.SIGKILL)
			return completionFromWait(<-waitErr)
		}
	}
}

func completionFromWait(err error) (Completion, error) {
	if err == nil {
		return Completion{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return Completion{ExitCode: exitErr.ExitCode(), Signaled: exitErr.ExitCode() < 0}, nil
	}
	return Completion{}, apperror.New(apperror.KindTransport, "exec", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func (Local) PutFile(_ context.Context, srcLocal, dstRemote string) error {
	return copyPreservingMode(srcLocal, dstRemote)
}

func (Local) GetFile(_ context.Context, srcRemote, dstLocal string) error {
	return copyPreservingMode(srcRemote, dstLocal)
}

func (l Local) PutDir(ctx context.Context, srcLocal, dstRemote string) error {
	return mirrorDir(srcLocal, dstRemote)
}

func (l Local) GetDir(ctx context.Context, srcRemote, dstLocal string) error {
	return mirrorDir(srcRemote, dstLocal)
}

func (Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperror.New(apperror.KindTransport, "exists", err)
}

func (Local) MkdirAll(_ context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return apperror.New(apperror.KindTransport, "mkdir_p", err)
	}
	return nil
}

func (Local) Close() error { return nil }

func copyPreservingMode(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return apperror.New(apperror.KindTransport, "stat source", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperror.New(apperror.KindTransport, "mkdir parent", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return apperror.New(apperror.KindTransport, "open source", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return apperror.New(apperror.KindTransport, "create destination", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return apperror.New(apperror.KindTransport, "copy", err)
	}
	return nil
}

func mirrorDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyPreservingMode(path, target)
	})
}
