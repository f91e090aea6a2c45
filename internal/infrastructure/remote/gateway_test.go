package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type clientKey struct {
	pem    []byte
	public ssh.PublicKey
}

func newClientKey(t *testing.T) clientKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return clientKey{pem: pem.EncodeToMemory(block), public: sshPub}
}

// startSSHServer runs a minimal exec-only SSH server. "fail" exits 3,
// "sleep" never answers, "stream" writes stdout until the channel closes,
// anything else echoes its argument.
func startSSHServer(t *testing.T, authorized ssh.PublicKey) string {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()
	return ln.Addr().String()
}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, chReqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		_ = ssh.Unmarshal(req.Payload, &payload)
		_ = req.Reply(true, nil)

		switch payload.Command {
		case "sleep":
			for range reqs {
			}
			return
		case "stream":
			go func() {
				for range reqs {
				}
			}()
			for {
				if _, err := io.WriteString(ch, "installing plugin...\n"); err != nil {
					return
				}
			}
		case "fail":
			_, _ = io.WriteString(ch.Stderr(), "boom")
			sendExit(ch, 3)
		default:
			_, _ = io.WriteString(ch, strings.TrimPrefix(payload.Command, "echo ")+"\n")
			sendExit(ch, 0)
		}
		return
	}
}

func sendExit(ch ssh.Channel, code uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestProbeUnreachable(t *testing.T) {
	t.Parallel()

	gw := NewSSHGateway(GatewayConfig{ProbeTimeout: time.Second})
	err := gw.Probe(context.Background(), domain.Endpoint{Address: freeAddr(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnreachable)
}

func TestOpenUnreachableSkipsAuth(t *testing.T) {
	t.Parallel()

	gw := NewSSHGateway(GatewayConfig{ProbeTimeout: time.Second})
	_, err := gw.Open(context.Background(), domain.Endpoint{Address: freeAddr(t), PrivateKey: []byte("not a key")})
	assert.ErrorIs(t, err, domain.ErrUnreachable)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	t.Parallel()

	authorized := newClientKey(t)
	other := newClientKey(t)
	addr := startSSHServer(t, authorized.public)

	gw := NewSSHGateway(GatewayConfig{ConnectTimeout: 5 * time.Second})
	_, err := gw.Open(context.Background(), domain.Endpoint{Address: addr, User: "root", PrivateKey: other.pem})
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	_, err = gw.Open(context.Background(), domain.Endpoint{Address: addr, User: "root", PrivateKey: []byte("garbage")})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestSessionExec(t *testing.T) {
	t.Parallel()

	key := newClientKey(t)
	addr := startSSHServer(t, key.public)
	gw := NewSSHGateway(GatewayConfig{CommandTimeout: 5 * time.Second})

	session, err := gw.Open(context.Background(), domain.Endpoint{Address: addr, User: "root", PrivateKey: key.pem})
	require.NoError(t, err)

	res, err := session.Exec(context.Background(), "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)

	res, err = session.Exec(context.Background(), "fail")
	require.NoError(t, err, "nonzero exit is not a transport error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom", res.Stderr)

	require.NoError(t, session.Close())
	assert.NoError(t, session.Close())

	_, err = session.Exec(context.Background(), "echo again")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionExecTimeout(t *testing.T) {
	t.Parallel()

	key := newClientKey(t)
	addr := startSSHServer(t, key.public)
	gw := NewSSHGateway(GatewayConfig{CommandTimeout: 200 * time.Millisecond})

	session, err := gw.Open(context.Background(), domain.Endpoint{Address: addr, User: "root", PrivateKey: key.pem})
	require.NoError(t, err)
	defer session.Close()

	start := time.Now()
	_, err = session.Exec(context.Background(), "sleep")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecTimeoutWhileCommandKeepsWriting(t *testing.T) {
	t.Parallel()

	key := newClientKey(t)
	addr := startSSHServer(t, key.public)
	gw := NewSSHGateway(GatewayConfig{CommandTimeout: 100 * time.Millisecond})

	session, err := gw.Open(context.Background(), domain.Endpoint{Address: addr, User: "root", PrivateKey: key.pem})
	require.NoError(t, err)
	defer session.Close()

	res, err := session.Exec(context.Background(), "stream")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, strings.HasPrefix(res.Stdout, "installing plugin..."))

	// the connection survives a killed command
	res, err = session.Exec(context.Background(), "echo still here")
	require.NoError(t, err)
	assert.Equal(t, "still here\n", res.Stdout)
}

func TestLockedBufferConcurrentAccess(t *testing.T) {
	t.Parallel()

	var b lockedBuffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, _ = b.Write([]byte("x"))
		}
	}()
	for i := 0; i < 100; i++ {
		_ = b.String()
	}
	<-done
	assert.Len(t, b.String(), 1000)
}

func TestCommandTimeoutOverride(t *testing.T) {
	t.Parallel()

	key := newClientKey(t)
	addr := startSSHServer(t, key.public)
	gw := NewSSHGateway(GatewayConfig{CommandTimeout: time.Hour})

	session, err := gw.Open(context.Background(), domain.Endpoint{Address: addr, User: "root", PrivateKey: key.pem})
	require.NoError(t, err)
	defer session.Close()

	ctx := WithCommandTimeout(context.Background(), 200*time.Millisecond)
	start := time.Now()
	_, err = session.Exec(ctx, "sleep")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, time.Minute, commandTimeout(context.Background(), time.Minute))
	assert.Equal(t, time.Minute, commandTimeout(WithCommandTimeout(context.Background(), 0), time.Minute))
}

type recordingGateway struct {
	session *closeCountingSession
}

func (g *recordingGateway) Probe(context.Context, domain.Endpoint) error { return nil }

func (g *recordingGateway) Open(context.Context, domain.Endpoint) (ports.Session, error) {
	return g.session, nil
}

type closeCountingSession struct {
	closes int
}

func (s *closeCountingSession) Exec(context.Context, string) (domain.ExecResult, error) {
	return domain.ExecResult{}, nil
}

func (s *closeCountingSession) Download(context.Context, string) (ports.RemoteFile, error) {
	return nil, errors.New("not supported")
}

func (s *closeCountingSession) Close() error {
	s.closes++
	return nil
}

func TestWithSessionClosesOnEveryPath(t *testing.T) {
	t.Parallel()

	gw := &recordingGateway{session: &closeCountingSession{}}

	require.NoError(t, WithSession(context.Background(), gw, domain.Endpoint{}, func(ports.Session) error { return nil }))
	assert.Equal(t, 1, gw.session.closes)

	boom := errors.New("boom")
	assert.ErrorIs(t, WithSession(context.Background(), gw, domain.Endpoint{}, func(ports.Session) error { return boom }), boom)
	assert.Equal(t, 2, gw.session.closes)

	assert.Panics(t, func() {
		_ = WithSession(context.Background(), gw, domain.Endpoint{}, func(ports.Session) error { panic("kaboom") })
	})
	assert.Equal(t, 3, gw.session.closes)
}
