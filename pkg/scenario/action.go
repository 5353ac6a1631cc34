package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/shell"
)

// LoadError is returned when a scenario file fails to execute.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load scenario %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ScriptError is returned when a run or skip function fails. Err is the Go
// error raised by a builtin when there is one, so errors.Is sees heap and
// backend failures.
type ScriptError struct {
	Action    string
	Func      string
	Backtrace string
	Err       error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s of %s: %v", e.Func, e.Action, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

func unwrapEval(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) && evalErr.Unwrap() != nil {
		return evalErr.Unwrap()
	}
	return err
}

var _ engine.Action = (*scriptAction)(nil)

// scriptAction is an engine.Action backed by Starlark callables.
type scriptAction struct {
	scenario *Scenario
	name     string
	run      starlark.Callable
	skip     starlark.Callable
}

// Name implements engine.Action.
func (a *scriptAction) Name() string {
	return a.name
}

// Skip implements engine.Action.
func (a *scriptAction) Skip(ctx context.Context, heap *engine.Heap) (bool, error) {
	if a.skip == nil {
		return false, nil
	}

	call := &callState{}
	result, err := a.call(ctx, "skip", a.skip, heapStruct(heap, call, false), call)
	if err != nil {
		return false, err
	}

	b, ok := result.(starlark.Bool)
	if !ok {
		return false, &ScriptError{Action: a.name, Func: "skip", Err: fmt.Errorf("must return a bool, got %s", result.Type())}
	}
	return bool(b), nil
}

// Execute implements engine.Action.
func (a *scriptAction) Execute(ctx context.Context, heap *engine.Heap, b backend.Backend) (string, error) {
	call := &callState{}
	arg := a.scenario.contextStruct(ctx, heap, b, call)

	result, err := a.call(ctx, "run", a.run, arg, call)
	if err != nil {
		return "", err
	}

	switch r := result.(type) {
	case starlark.NoneType:
		return "", nil
	case starlark.String:
		return string(r), nil
	default:
		return "", &ScriptError{Action: a.name, Func: "run", Err: fmt.Errorf("must return None or a string, got %s", result.Type())}
	}
}

func (a *scriptAction) call(ctx context.Context, fn string, callable starlark.Callable, arg starlark.Value, call *callState) (starlark.Value, error) {
	thread := a.scenario.newThread(ctx, a.name)
	defer a.scenario.cancelOnDone(ctx, thread)()

	result, err := starlark.Call(thread, callable, starlark.Tuple{arg}, nil)
	if err == nil {
		return result, nil
	}

	scriptErr := &ScriptError{Action: a.name, Func: fn, Err: unwrapEval(err)}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		scriptErr.Backtrace = evalErr.Backtrace()
	}
	if call.err != nil {
		scriptErr.Err = call.err
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		scriptErr.Err = fmt.Errorf("%w: %v", ctxErr, scriptErr.Err)
	}
	return nil, scriptErr
}

// callState remembers the last Go error raised by a builtin during a call.
type callState struct {
	err error
}

func (c *callState) fail(err error) error {
	c.err = err
	return err
}

type builtinFunc = func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func members(name string, fns map[string]builtinFunc) *starlarkstruct.Struct {
	dict := make(starlark.StringDict, len(fns))
	for n, fn := range fns {
		dict[n] = starlark.NewBuiltin(n, fn)
	}
	return starlarkstruct.FromStringDict(starlark.String(name), dict)
}

// heapStruct exposes get, has and keys, plus add when writable.
func heapStruct(heap *engine.Heap, call *callState, writable bool) *starlarkstruct.Struct {
	fns := map[string]builtinFunc{
		"get": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			v, err := heap.Get(name)
			if err != nil {
				return nil, call.fail(err)
			}
			return toStarlark(v)
		},
		"has": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.Bool(heap.Has(name)), nil
		},
		"keys": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			keys := heap.Snapshot().Keys()
			list := make([]starlark.Value, len(keys))
			for i, k := range keys {
				list[i] = starlark.String(k)
			}
			return starlark.NewList(list), nil
		},
	}
	if writable {
		fns["add"] = func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				name string
				v    starlark.Value
			)
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &v); err != nil {
				return nil, err
			}
			converted, err := fromStarlark(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if err := heap.Add(name, converted); err != nil {
				return nil, call.fail(err)
			}
			return starlark.None, nil
		}
	}
	return members("heap", fns)
}

// contextStruct builds the ctx argument of run functions.
func (s *Scenario) contextStruct(ctx context.Context, heap *engine.Heap, b backend.Backend, call *callState) *starlarkstruct.Struct {
	sh := shell.New(b)

	fns := map[string]builtinFunc{
		"exec": func(_ *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var command string
			if err := starlark.UnpackPositionalArgs(bi.Name(), args, kwargs, 1, &command); err != nil {
				return nil, err
			}
			out, err := b.Exec(ctx, command)
			if err != nil {
				return nil, call.fail(err)
			}
			return starlark.String(strings.TrimSpace(out)), nil
		},
		"send": func(_ *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var local, remote string
			if err := starlark.UnpackPositionalArgs(bi.Name(), args, kwargs, 2, &local, &remote); err != nil {
				return nil, err
			}
			if err := b.Send(ctx, local, remote); err != nil {
				return nil, call.fail(err)
			}
			return starlark.None, nil
		},
		"recv": func(_ *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var remote, local string
			if err := starlark.UnpackPositionalArgs(bi.Name(), args, kwargs, 2, &remote, &local); err != nil {
				return nil, err
			}
			if err := b.Recv(ctx, remote, local); err != nil {
				return nil, call.fail(err)
			}
			return starlark.None, nil
		},
		"getenv": func(_ *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(bi.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.String(os.Getenv(name)), nil
		},
	}

	dict := make(starlark.StringDict, len(fns)+3)
	for n, fn := range fns {
		dict[n] = starlark.NewBuiltin(n, fn)
	}
	dict["heap"] = heapStruct(heap, call, true)
	dict["shell"] = shellStruct(ctx, sh, call)
	dict["vars"] = s.vars
	return starlarkstruct.FromStringDict(starlark.String("ctx"), dict)
}
