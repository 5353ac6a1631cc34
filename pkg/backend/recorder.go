package backend

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded backend invocation.
type Call struct {
	Op      string
	Command string
	Local   string
	Remote  string
}

// Recorder is a Backend that records every call and answers from canned
// responses. It is used by tests and by dry runs.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]string
	failures  map[string]error
	fallback  func(command string) (string, error)
}

// NewRecorder creates an empty recorder. Unknown commands return "".
func NewRecorder() *Recorder {
	return &Recorder{
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// Respond registers the output for an exact command.
func (r *Recorder) Respond(command, output string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[command] = output
	return r
}

// Fail registers a failure for an exact command.
func (r *Recorder) Fail(command string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("exit status 1")
	}
	r.failures[command] = &CommandExecutionError{Command: command, ExitCode: 1, Err: err}
	return r
}

// Fallback sets the handler used for commands without a canned response.
func (r *Recorder) Fallback(fn func(command string) (string, error)) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
	return r
}

// Exec implements Backend.
func (r *Recorder) Exec(ctx context.Context, command string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: "exec", Command: command})
	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return "", &CommandExecutionError{Command: command, ExitCode: -1, Err: err}
	}
	if err, ok := r.failures[command]; ok {
		r.mu.Unlock()
		return "", err
	}
	if out, ok := r.responses[command]; ok {
		r.mu.Unlock()
		return out, nil
	}
	fallback := r.fallback
	r.mu.Unlock()

	// The fallback may call back into r.
	if fallback != nil {
		return fallback(command)
	}
	return "", nil
}

// Send implements Backend.
func (r *Recorder) Send(_ context.Context, localPath, remotePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "send", Local: localPath, Remote: remotePath})
	return nil
}

// Recv implements Backend.
func (r *Recorder) Recv(_ context.Context, remotePath, localPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "recv", Local: localPath, Remote: remotePath})
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns only the exec'd command lines, in order.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Op == "exec" {
			out = append(out, c.Command)
		}
	}
	return out
}
