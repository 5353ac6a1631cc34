package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yodler/yodler/pkg/backend"
	"golang.org/x/crypto/ssh"
)

// runDrainTimeout bounds the wait for a cancelled command's session to
// finish.
const runDrainTimeout = 5 * time.Second

// Exec runs a command on the remote host.
//
// In ModeSFTP a non-zero exit status fails with a CommandExecutionError
// carrying stderr and stdout as diagnostics. In ModeSession stdout is
// returned as-is whatever the exit status.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	startTime := time.Now()

	client, err := c.sshClient(ctx)
	if err != nil {
		return "", &backend.CommandExecutionError{Command: command, ExitCode: -1, Err: err}
	}

	session, err := client.NewSession()
	if err != nil {
		return "", &backend.CommandExecutionError{
			Command:  command,
			ExitCode: -1,
			Err:      transportErr(c.config.Host, "execute", ErrSessionBroken, fmt.Errorf("failed to create session: %w", err)),
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(command)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		// Run keeps writing the buffers until it returns.
		_ = session.Close()
		select {
		case <-doneChan:
		case <-time.After(runDrainTimeout):
			log.Warn().Str("command", command).Msg("remote command did not stop after cancel")
			return "", &backend.CommandExecutionError{Command: command, ExitCode: -1, Err: ctx.Err()}
		}
		runErr = ctx.Err()
	case runErr = <-doneChan:
	}

	log.Debug().
		Str("command", command).
		Str("mode", string(c.config.Mode)).
		Int("stdout_len", stdoutBuf.Len()).
		Int("stderr_len", stderrBuf.Len()).
		Dur("duration", time.Since(startTime)).
		Err(runErr).
		Msg("remote command completed")

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr) && c.config.Mode == ModeSession:
		return stdout, nil
	case errors.As(runErr, &missingErr) && c.config.Mode == ModeSession:
		return stdout, nil
	case errors.As(runErr, &exitErr):
		execErr := &backend.CommandExecutionError{
			Command:  command,
			ExitCode: exitErr.ExitStatus(),
			Output:   stdout,
			Err:      runErr,
		}
		execErr.AddDiagnostic(stderr, stdout)
		return "", execErr
	default:
		execErr := &backend.CommandExecutionError{
			Command:  command,
			ExitCode: -1,
			Output:   stdout,
			Err:      transportErr(c.config.Host, "execute", ErrSessionBroken, runErr),
		}
		execErr.AddDiagnostic(stderr)
		return "", execErr
	}

	if c.config.Mode == ModeSFTP && stdout == "" {
		return stderr, nil
	}
	return stdout, nil
}
