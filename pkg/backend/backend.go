// Package backend defines the command backend contract actions use to run
// commands and move files, locally or on a remote host.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command or transfer when the backend
// configuration does not set one.
const DefaultTimeout = 1200 * time.Second

// Backend executes commands and transfers files. Implementations own their
// timeout policy; callers treat every call as blocking.
type Backend interface {
	// Exec runs a shell command and returns its output.
	Exec(ctx context.Context, command string) (string, error)

	// Send copies a local file to the remote location.
	Send(ctx context.Context, localPath, remotePath string) error

	// Recv copies a remote file to the local location.
	Recv(ctx context.Context, remotePath, localPath string) error
}

// Closer is implemented by backends holding a connection.
type Closer interface {
	Close() error
}

// CommandExecutionError is returned when a command cannot be run or exits
// unsuccessfully.
type CommandExecutionError struct {
	// Command is the command line as sent to the backend.
	Command string

	// ExitCode is the exit status, or -1 when the command did not finish.
	ExitCode int

	// Output is whatever the command printed before failing.
	Output string

	// Diagnostics holds backend-specific error lines (stderr, protocol errors).
	Diagnostics []string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CommandExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed", e.Command)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, d := range e.Diagnostics {
		if d = strings.TrimSpace(d); d != "" {
			b.WriteString("\n")
			b.WriteString(d)
		}
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *CommandExecutionError) Unwrap() error {
	return e.Err
}

// AddDiagnostic appends a non-empty diagnostic line.
func (e *CommandExecutionError) AddDiagnostic(lines ...string) {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			e.Diagnostics = append(e.Diagnostics, l)
		}
	}
}

// TransferError is returned when a send or recv fails.
type TransferError struct {
	// Op is "send" or "recv".
	Op     string
	Local  string
	Remote string
	Err    error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	switch e.Op {
	case "recv":
		return fmt.Sprintf("recv: from remote %q to local %q: %v", e.Remote, e.Local, e.Err)
	default:
		return fmt.Sprintf("%s: from local %q to remote %q: %v", e.Op, e.Local, e.Remote, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error {
	return e.Err
}
