package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"golang.org/x/crypto/ssh"
)

type GatewayConfig struct {
	ProbeTimeout    time.Duration
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	HostKeyCallback ssh.HostKeyCallback
	Logger          *logger.Logger
}

// SSHGateway opens one SSH connection per session. Connections are never
// pooled across jobs.
type SSHGateway struct {
	cfg    GatewayConfig
	dialer net.Dialer
	log    *logger.Logger
}

func NewSSHGateway(cfg GatewayConfig) *SSHGateway {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 2 * time.Minute
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // hosts are first contacted before their keys are known
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &SSHGateway{
		cfg:    cfg,
		dialer: net.Dialer{KeepAlive: 60 * time.Second},
		log:    cfg.Logger,
	}
}

var _ ports.Gateway = (*SSHGateway)(nil)

func (g *SSHGateway) Probe(ctx context.Context, ep domain.Endpoint) error {
	probeCtx, cancel := context.WithTimeout(ctx, g.cfg.ProbeTimeout)
	defer cancel()

	conn, err := g.dialer.DialContext(probeCtx, "tcp", ep.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrUnreachable, ep.Address, err)
	}
	_ = conn.Close()
	return nil
}

func (g *SSHGateway) Open(ctx context.Context, ep domain.Endpoint) (ports.Session, error) {
	if err := g.Probe(ctx, ep); err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(ep.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", domain.ErrAuthentication)
	}

	sshConfig := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: g.cfg.HostKeyCallback,
		Timeout:         g.cfg.ConnectTimeout,
		Config: ssh.Config{
			Ciphers: []string{
				"chacha20-poly1305@openssh.com",
				"aes128-gcm@openssh.com",
				"aes128-ctr",
			},
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()

	// 1. TCP first so the handshake can be bounded by a deadline
	conn, err := g.dialer.DialContext(dialCtx, "tcp", ep.Address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connect %s", domain.ErrTimeout, ep.Address)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnreachable, ep.Address, err)
	}
	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	// 2. SSH on top of TCP
	c, chans, reqs, err := ssh.NewClientConn(conn, ep.Address, sshConfig)
	if err != nil {
		_ = conn.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: handshake with %s", domain.ErrTimeout, ep.Address)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrAuthentication, ep, err)
	}
	_ = conn.SetDeadline(time.Time{})

	g.log.Debugw("ssh_session_opened", "target", ep.Key, "address", ep.Address)
	return newSession(ssh.NewClient(c, chans, reqs), ep, g.cfg.CommandTimeout), nil
}
