package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/repx-run/repx/internal/apperror"
)

// SSHOptions configures connection and authentication for a remote target.
type SSHOptions struct {
	// StrictHostKeyChecking, when true, requires the host key to appear
	// in KnownHostsFile; when false, any host key is accepted.
	StrictHostKeyChecking bool
	KnownHostsFile        string
	// IdentityFile is an explicit private key path; empty means try the
	// running ssh-agent, then ~/.ssh/id_ed25519 and ~/.ssh/id_rsa.
	IdentityFile string
	ConnectTimeout time.Duration
}

// SSH is the remote transport: a single multiplexed connection reused
// for every exec and file operation for the process's lifetime, so
// per-job overhead is the cost of a channel open, not a TCP+auth
// handshake (spec's connection-multiplexing requirement).
type SSH struct {
	user string
	host string
	client *ssh.Client
	sftp   *sftp.Client
}

var _ Transport = (*SSH)(nil)

// Dial parses "user@host[:port]" and establishes the multiplexed session.
func Dial(ctx context.Context, address string, opts SSHOptions) (*SSH, error) {
	user, host, port := parseAddress(address)

	authMethods, err := resolveAuthMethods(opts.IdentityFile)
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "resolve ssh auth", err)
	}

	hostKeyCallback, err := resolveHostKeyCallback(opts)
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "resolve host key policy", err)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, port)
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "dial ssh", err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return nil, apperror.New(apperror.KindTransport, "ssh handshake", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, apperror.New(apperror.KindTransport, "open sftp subsystem", err)
	}

	return &SSH{user: user, host: host, client: client, sftp: sftpClient}, nil
}

func parseAddress(address string) (user, host, port string) {
	user = os.Getenv("USER")
	if at := strings.Index(address, "@"); at >= 0 {
		user = address[:at]
		address = address[at+1:]
	}
	port = "22"
	if h, p, err := net.SplitHostPort(address); err == nil {
		host, port = h, p
	} else {
		host = address
	}
	return user, host, port
}

func resolveAuthMethods(identityFile string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	candidates := []string{identityFile}
	if identityFile == "" {
		home, _ := os.UserHomeDir()
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		key, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable SSH authentication method found (no agent, no identity file)")
	}
	return methods, nil
}

func resolveHostKeyCallback(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if !opts.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	knownHosts := opts.KnownHostsFile
	if knownHosts == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownHostsCallback(knownHosts)
}

func (s *SSH) Close() error {
	if s.sftp != nil {
		s.sftp.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Exec retries a transient session/connection failure per apperror's
// shared backoff policy (§7: Transport errors are retryable up to a
// small bounded count before the job is failed).
func (s *SSH) Exec(ctx context.Context, argv []string, env []string, stdin io.Reader, captures Captures) (Completion, error) {
	var result Completion
	err := apperror.Retry(ctx, apperror.DefaultRetryPolicy, func(attempt int) error {
		c, err := s.execOnce(ctx, argv, env, stdin, captures)
		result = c
		return err
	})
	return result, err
}

func (s *SSH) execOnce(ctx context.Context, argv []string, env []string, stdin io.Reader, captures Captures) (Completion, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return Completion{}, apperror.New(apperror.KindTransport, "open ssh session", err)
	}
	defer session.Close()

	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if ok {
			session.Setenv(name, value)
		}
	}
	if captures.Stdout != nil {
		session.Stdout = captures.Stdout
	}
	if captures.Stderr != nil {
		session.Stderr = captures.Stderr
	}
	if stdin != nil {
		session.Stdin = stdin
	}

	cmd := shellJoin(argv)
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		session.Close()
		return Completion{}, ctx.Err()
	case err := <-done:
		if err == nil {
			return Completion{ExitCode: 0}, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return Completion{ExitCode: exitErr.ExitStatus()}, nil
		}
		return Completion{}, apperror.New(apperror.KindTransport, "ssh exec", err)
	}
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shellQuote wraps a in single quotes, escaping any embedded single quote.
func shellQuote(a string) string {
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}

// PutFile retries a transient sftp failure per apperror's shared backoff
// policy, same as Exec.
func (s *SSH) PutFile(ctx context.Context, srcLocal, dstRemote string) error {
	return apperror.Retry(ctx, apperror.DefaultRetryPolicy, func(attempt int) error {
		return s.putFileOnce(srcLocal, dstRemote)
	})
}

func (s *SSH) putFileOnce(srcLocal, dstRemote string) error {
	info, err := os.Stat(srcLocal)
	if err != nil {
		return apperror.New(apperror.KindTransport, "stat local file", err)
	}
	if err := s.sftp.MkdirAll(path.Dir(dstRemote)); err != nil {
		return apperror.New(apperror.KindTransport, "mkdir remote parent", err)
	}
	in, err := os.Open(srcLocal)
	if err != nil {
		return apperror.New(apperror.KindTransport, "open local file", err)
	}
	defer in.Close()
	out, err := s.sftp.Create(dstRemote)
	if err != nil {
		return apperror.New(apperror.KindTransport, "create remote file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return apperror.New(apperror.KindTransport, "sftp copy", err)
	}
	return s.sftp.Chmod(dstRemote, info.Mode())
}

// GetFile retries a transient sftp failure per apperror's shared backoff
// policy, same as Exec.
func (s *SSH) GetFile(ctx context.Context, srcRemote, dstLocal string) error {
	return apperror.Retry(ctx, apperror.DefaultRetryPolicy, func(attempt int) error {
		return s.getFileOnce(srcRemote, dstLocal)
	})
}

func (s *SSH) getFileOnce(srcRemote, dstLocal string) error {
	info, err := s.sftp.Stat(srcRemote)
	if err != nil {
		return apperror.New(apperror.KindTransport, "stat remote file", err)
	}
	if err := os.MkdirAll(filepath.Dir(dstLocal), 0o755); err != nil {
		return apperror.New(apperror.KindTransport, "mkdir local parent", err)
	}
	in, err := s.sftp.Open(srcRemote)
	if err != nil {
		return apperror.New(apperror.KindTransport, "open remote file", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dstLocal, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return apperror.New(apperror.KindTransport, "create local file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return apperror.New(apperror.KindTransport, "sftp copy", err)
	}
	return nil
}

func (s *SSH) PutDir(ctx context.Context, srcLocal, dstRemote string) error {
	return filepath.Walk(srcLocal, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcLocal, p)
		if err != nil {
			return err
		}
		target := path.Join(dstRemote, filepath.ToSlash(rel))
		if info.IsDir() {
			return s.sftp.MkdirAll(target)
		}
		return s.PutFile(ctx, p, target)
	})
}

func (s *SSH) GetDir(ctx context.Context, srcRemote, dstLocal string) error {
	walker := s.sftp.Walk(srcRemote)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return apperror.New(apperror.KindTransport, "sftp walk", err)
		}
		rel, err := filepath.Rel(srcRemote, walker.Path())
		if err != nil {
			return err
		}
		target := filepath.Join(dstLocal, rel)
		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := s.GetFile(ctx, walker.Path(), target); err != nil {
			return err
		}
	}
	return nil
}

func (s *SSH) Exists(_ context.Context, p string) (bool, error) {
	_, err := s.sftp.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperror.New(apperror.KindTransport, "sftp stat", err)
}

func (s *SSH) MkdirAll(_ context.Context, p string) error {
	if err := s.sftp.MkdirAll(p); err != nil {
		return apperror.New(apperror.KindTransport, "sftp mkdir_p", err)
	}
	return nil
}
