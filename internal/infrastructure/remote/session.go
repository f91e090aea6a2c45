package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var ErrSessionClosed = errors.New("remote: session closed")

type commandTimeoutKey struct{}

// WithCommandTimeout raises or lowers the per-command timeout for every Exec
// made with the returned context. Plugin installs and backups use it.
func WithCommandTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, commandTimeoutKey{}, d)
}

func commandTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Value(commandTimeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return fallback
}

type sshSession struct {
	client         *ssh.Client
	endpoint       domain.Endpoint
	commandTimeout time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(client *ssh.Client, ep domain.Endpoint, commandTimeout time.Duration) *sshSession {
	return &sshSession{client: client, endpoint: ep, commandTimeout: commandTimeout}
}

// Exec runs cmd and waits for it. The command is killed when ctx ends or the
// per-command timeout passes, whichever is first.
func (s *sshSession) Exec(ctx context.Context, cmd string) (domain.ExecResult, error) {
	if s.isClosed() {
		return domain.ExecResult{}, ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout(ctx, s.commandTimeout))
	defer cancel()

	session, err := s.client.NewSession()
	if err != nil {
		return domain.ExecResult{}, fmt.Errorf("%w: open channel on %s: %v", domain.ErrConnectionLost, s.endpoint.Address, err)
	}
	defer session.Close()

	var stdout, stderr lockedBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Run returns once the output copiers have stopped writing.
		grace := time.NewTimer(killGrace)
		select {
		case <-done:
		case <-grace.C:
		}
		grace.Stop()
		res := domain.ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %s", domain.ErrTimeout, cmd)
		}
		return res, ctx.Err()
	case runErr := <-done:
		res := domain.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %s: %v", domain.ErrConnectionLost, cmd, runErr)
	}
}

// Download opens a remote file over SFTP on the same connection.
func (s *sshSession) Download(ctx context.Context, path string) (ports.RemoteFile, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: start sftp: %v", domain.ErrConnectionLost, err)
	}
	f, err := client.Open(path)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sftp open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sftp stat %s: %w", path, err)
	}
	return &sftpFile{File: f, client: client, size: info.Size()}, nil
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *sshSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// killGrace bounds the wait for a killed command to release its output.
const killGrace = 2 * time.Second

// lockedBuffer lets a timed-out Exec read output the ssh copiers may still
// be writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type sftpFile struct {
	*sftp.File
	client *sftp.Client
	size   int64
}

func (f *sftpFile) Size() int64 { return f.size }

func (f *sftpFile) Close() error {
	err := f.File.Close()
	if cerr := f.client.Close(); err == nil {
		err = cerr
	}
	return err
}
