// Package remotetest provides a scripted in-memory Gateway for tests.
package remotetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// Call is one command seen by the fake, in global order.
type Call struct {
	Host      string
	SessionID int
	Command   string
}

type response struct {
	result domain.ExecResult
	err    error
}

// Host scripts the behavior of one address.
type Host struct {
	gw *Gateway

	// Unreachable makes Probe and Open fail with ErrUnreachable.
	Unreachable bool
	// AuthFails makes Open fail with ErrAuthentication.
	AuthFails bool
	// OnProbe runs before every probe; a non-nil error fails it. It may panic.
	OnProbe func() error
	// Delay is slept before each command returns.
	Delay time.Duration

	responses map[string]response
	files     map[string][]byte
}

// On scripts the result of every command starting with prefix. The longest
// matching prefix wins; unmatched commands succeed with empty output.
func (h *Host) On(prefix string, stdout string) *Host {
	return h.OnResult(prefix, domain.ExecResult{Stdout: stdout})
}

func (h *Host) OnResult(prefix string, res domain.ExecResult) *Host {
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	h.responses[prefix] = response{result: res}
	return h
}

// Fail makes commands starting with prefix exit with code and stderr.
func (h *Host) Fail(prefix string, code int, stderr string) *Host {
	return h.OnResult(prefix, domain.ExecResult{ExitCode: code, Stderr: stderr})
}

// Break makes commands starting with prefix fail at the transport level.
func (h *Host) Break(prefix string, err error) *Host {
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	h.responses[prefix] = response{err: err}
	return h
}

// File registers a remote file for Download.
func (h *Host) File(path string, content []byte) *Host {
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	h.files[path] = content
	return h
}

// Gateway is a concurrency-safe fake of ports.Gateway keyed by endpoint
// address.
type Gateway struct {
	mu     sync.Mutex
	hosts  map[string]*Host
	calls  []Call
	probes map[string]int
	opened map[string]int
	closed map[string]int
	nextID int
}

func NewGateway() *Gateway {
	return &Gateway{
		hosts:  make(map[string]*Host),
		probes: make(map[string]int),
		opened: make(map[string]int),
		closed: make(map[string]int),
	}
}

var _ ports.Gateway = (*Gateway)(nil)

// Host returns the script for addr, creating it on first use.
func (g *Gateway) Host(addr string) *Host {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hostLocked(addr)
}

func (g *Gateway) hostLocked(addr string) *Host {
	h, ok := g.hosts[addr]
	if !ok {
		h = &Host{gw: g, responses: make(map[string]response), files: make(map[string][]byte)}
		g.hosts[addr] = h
	}
	return h
}

func (g *Gateway) Probe(ctx context.Context, ep domain.Endpoint) error {
	g.mu.Lock()
	h := g.hostLocked(ep.Address)
	g.probes[ep.Address]++
	unreachable, hook := h.Unreachable, h.OnProbe
	g.mu.Unlock()

	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}
	if unreachable {
		return fmt.Errorf("%w: %s", domain.ErrUnreachable, ep.Address)
	}
	return ctx.Err()
}

func (g *Gateway) Open(ctx context.Context, ep domain.Endpoint) (ports.Session, error) {
	if err := g.Probe(ctx, ep); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.hostLocked(ep.Address)
	if h.AuthFails {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthentication, ep.Address)
	}
	g.nextID++
	g.opened[ep.Address]++
	return &session{gw: g, host: h, addr: ep.Address, id: g.nextID}, nil
}

// Calls returns every command run so far, in order.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// Commands returns the commands run against addr, in order.
func (g *Gateway) Commands(addr string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.Host == addr {
			out = append(out, c.Command)
		}
	}
	return out
}

// CommandsMatching returns the commands run against addr containing substr.
func (g *Gateway) CommandsMatching(addr, substr string) []string {
	var out []string
	for _, c := range g.Commands(addr) {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) Probes(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probes[addr]
}

func (g *Gateway) Opened(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened[addr]
}

func (g *Gateway) Closed(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed[addr]
}

type session struct {
	gw     *Gateway
	host   *Host
	addr   string
	id     int
	closed bool
}

func (s *session) Exec(ctx context.Context, cmd string) (domain.ExecResult, error) {
	s.gw.mu.Lock()
	if s.closed {
		s.gw.mu.Unlock()
		return domain.ExecResult{}, errors.New("remotetest: session closed")
	}
	s.gw.calls = append(s.gw.calls, Call{Host: s.addr, SessionID: s.id, Command: cmd})
	resp := match(s.host.responses, cmd)
	delay := s.host.Delay
	s.gw.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.ExecResult{ExitCode: -1}, fmt.Errorf("%w: %s", domain.ErrTimeout, cmd)
		}
	}
	return resp.result, resp.err
}

func (s *session) Download(_ context.Context, path string) (ports.RemoteFile, error) {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	content, ok := s.host.files[path]
	if !ok {
		return nil, fmt.Errorf("remotetest: %s: no such file", path)
	}
	return &file{Reader: bytes.NewReader(content)}, nil
}

func (s *session) Close() error {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.gw.closed[s.addr]++
	}
	return nil
}

func match(responses map[string]response, cmd string) response {
	prefixes := make([]string, 0, len(responses))
	for p := range responses {
		if strings.HasPrefix(cmd, p) {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return response{}
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return responses[prefixes[0]]
}

type file struct {
	*bytes.Reader
}

func (f *file) Close() error { return nil }
