package domain

import (
	"context"
	"errors"
	"fmt"
)

// Orchestration errors
var (
	ErrUnreachable       = errors.New("remote: target unreachable")
	ErrAuthentication    = errors.New("remote: authentication failed")
	ErrConnectionLost    = errors.New("remote: connection lost")
	ErrTimeout           = errors.New("remote: operation timed out")
	ErrUpstreamProvider  = errors.New("provider: upstream request failed")
	ErrAttemptsExhausted = errors.New("provisioning: attempts exhausted")
)

// Store errors
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// RemoteCommandError reports a command that ran and exited nonzero.
type RemoteCommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("remote command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("remote command %q exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

type ErrorKind string

const (
	KindUnreachable       ErrorKind = "unreachable"
	KindAuthentication    ErrorKind = "authentication"
	KindRemoteCommand     ErrorKind = "remote_command"
	KindTimeout           ErrorKind = "timeout"
	KindUpstreamProvider  ErrorKind = "upstream_provider"
	KindAttemptsExhausted ErrorKind = "attempts_exhausted"
	KindNotFound          ErrorKind = "not_found"
	KindInternal          ErrorKind = "internal"
)

// KindOf classifies err. A lost connection counts as unreachable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var cmdErr *RemoteCommandError
	switch {
	case errors.As(err, &cmdErr):
		return KindRemoteCommand
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrConnectionLost):
		return KindUnreachable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrAttemptsExhausted):
		return KindAttemptsExhausted
	case errors.Is(err, ErrUpstreamProvider):
		return KindUpstreamProvider
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}
