package ssh

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by errors.Is against a TransportError of that kind.
var (
	// ErrUnreachable means the host or its proxy could not be reached.
	ErrUnreachable = errors.New("host unreachable")

	// ErrAuthFailed means no usable credentials could be built or the
	// server rejected them.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSessionBroken means an established connection stopped serving
	// sessions.
	ErrSessionBroken = errors.New("session broken")

	// ErrNotConnected means the client was used after Close or before any
	// connection was made.
	ErrNotConnected = errors.New("not connected")
)

// TransportError is a failure of the SSH connection itself, as opposed to
// a remote command that ran and exited non-zero.
type TransportError struct {
	// Op is the step that failed, e.g. "connect", "execute" or "sftp-init".
	Op   string
	Host string

	// Kind is one of the sentinels above.
	Kind error
	Err  error
}

func transportErr(host, op string, kind, err error) *TransportError {
	return &TransportError{Op: op, Host: host, Kind: kind, Err: err}
}

func (e *TransportError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ssh %s: %s: %v", e.Host, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// Temporary reports whether starting the deployment again may succeed.
func (e *TransportError) Temporary() bool {
	return e.Kind == ErrUnreachable || e.Kind == ErrSessionBroken
}

// dialFailure classifies a failed handshake. The ssh package reports a
// rejected login only through its message.
func dialFailure(err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return ErrAuthFailed
	}
	return ErrUnreachable
}
