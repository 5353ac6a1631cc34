// Package local implements the command backend against the local machine.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yodler/yodler/pkg/backend"
)

// Backend runs commands through /bin/sh and copies files on the local
// filesystem.
type Backend struct {
	shell   string
	dir     string
	timeout time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithShell overrides the shell used to interpret commands.
func WithShell(shell string) Option {
	return func(b *Backend) { b.shell = shell }
}

// WithDir sets the working directory for commands.
func WithDir(dir string) Option {
	return func(b *Backend) { b.dir = dir }
}

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// New creates a local backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		shell:   "/bin/sh",
		timeout: backend.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Exec runs the command and returns stdout, or stderr when stdout is empty.
func (b *Backend) Exec(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, b.shell, "-c", command)
	cmd.Dir = b.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	log.Debug().
		Str("command", command).
		Int("stdout_len", stdout.Len()).
		Int("stderr_len", stderr.Len()).
		Dur("duration", time.Since(startTime)).
		Err(err).
		Msg("local command completed")

	if err != nil {
		execErr := &backend.CommandExecutionError{
			Command:  command,
			ExitCode: -1,
			Output:   stdout.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			execErr.Err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		execErr.AddDiagnostic(stderr.String())
		return "", execErr
	}

	if stdout.Len() > 0 {
		return stdout.String(), nil
	}
	return stderr.String(), nil
}

// Send copies localPath over remotePath.
func (b *Backend) Send(ctx context.Context, localPath, remotePath string) error {
	if err := copyFile(ctx, localPath, b.resolve(remotePath)); err != nil {
		return &backend.TransferError{Op: "send", Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

// Recv copies remotePath over localPath.
func (b *Backend) Recv(ctx context.Context, remotePath, localPath string) error {
	if err := copyFile(ctx, b.resolve(remotePath), localPath); err != nil {
		return &backend.TransferError{Op: "recv", Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

// resolve makes a relative "remote" path relative to the working directory,
// the way a remote shell would see it.
func (b *Backend) resolve(path string) string {
	if b.dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.dir, path)
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
