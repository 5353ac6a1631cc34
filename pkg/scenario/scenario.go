// Package scenario loads deployment scenarios written in Starlark.
//
// A scenario declares its actions in order:
//
//	def check_disk(ctx):
//	    free = int(ctx.exec("df --output=avail / | tail -1"))
//	    ctx.heap.add("disk_ok", free > 1024 * 1024)
//
//	def make_release_dir(ctx):
//	    path = "/srv/releases/%d" % ctx.vars["release"]
//	    ctx.shell.mkdir(path)
//	    return "created " + path
//
//	action("check-disk", run = check_disk)
//	action("make-release-dir", run = make_release_dir,
//	       skip = lambda heap: heap.get("disk_ok") == False)
//
// run receives a context exposing the heap, the backend, shell helpers and
// the configured vars, and returns None or an output string. skip receives
// a read-only view of the heap and returns a bool.
package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/value"
)

// Options configure scenario loading and execution.
type Options struct {
	// Vars are exposed to run functions as ctx.vars. Null means empty.
	Vars value.Value

	// StepLimit bounds the Starlark steps of the file and of each call.
	// Zero means unlimited.
	StepLimit uint64

	// Logger receives print() output. The default is the global logger.
	Logger *zerolog.Logger
}

// Scenario is a loaded scenario file.
type Scenario struct {
	// Name is the file name the scenario was loaded from.
	Name string

	actions *engine.ActionList
	vars    starlark.Value
	opts    Options
	logger  zerolog.Logger
}

// Actions returns the declared actions in declaration order.
func (s *Scenario) Actions() *engine.ActionList {
	return s.actions
}

// LoadFile reads and loads the scenario at path.
func LoadFile(ctx context.Context, path string, opts Options) (*Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return Load(ctx, path, src, opts)
}

// Load executes the scenario source and collects its actions. load()
// statements resolve relative to the directory of filename.
func Load(ctx context.Context, filename string, src []byte, opts Options) (*Scenario, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Scenario{
		Name:    filename,
		actions: engine.NewActionList(),
		opts:    opts,
		logger:  logger.With().Str("scenario", filepath.Base(filename)).Logger(),
	}

	vars := opts.Vars
	if vars.IsNull() {
		vars = value.Map(nil)
	}
	if vars.Kind() != value.KindMap {
		return nil, fmt.Errorf("scenario vars must be a map, got %s", vars.Kind())
	}
	sv, err := toStarlark(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to convert vars: %w", err)
	}
	sv.Freeze()
	s.vars = sv

	predeclared := s.predeclared()
	loader := newModuleLoader(filepath.Dir(filename), predeclared, func(name string) (*starlark.Thread, func()) {
		t := s.newThread(ctx, name)
		return t, s.cancelOnDone(ctx, t)
	})

	thread := s.newThread(ctx, "load")
	thread.Load = loader.load
	defer s.cancelOnDone(ctx, thread)()

	if _, err := starlark.ExecFile(thread, filename, src, predeclared); err != nil {
		return nil, &LoadError{File: filename, Err: unwrapEval(err)}
	}

	s.logger.Debug().Strs("actions", s.actions.Names()).Msg("scenario loaded")
	return s, nil
}

func (s *Scenario) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"action": starlark.NewBuiltin("action", s.declareAction),
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
	}
}

// declareAction implements action(name, run, skip=None).
func (s *Scenario) declareAction(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name string
		run  starlark.Callable
		skip starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "run", &run, "skip?", &skip); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: name must not be empty", b.Name())
	}

	a := &scriptAction{scenario: s, name: name, run: run}
	if skip != starlark.None {
		fn, ok := skip.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: skip must be callable or None, got %s", b.Name(), skip.Type())
		}
		a.skip = fn
	}

	s.actions.Add(a)
	return starlark.None, nil
}

func (s *Scenario) newThread(ctx context.Context, name string) *starlark.Thread {
	logger := s.logger
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info().Str("thread", name).Msg(msg)
		},
	}
	if s.opts.StepLimit > 0 {
		thread.SetMaxExecutionSteps(s.opts.StepLimit)
	}
	return thread
}

// cancelOnDone cancels thread when ctx ends. The returned func stops the
// watcher.
func (s *Scenario) cancelOnDone(ctx context.Context, thread *starlark.Thread) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-stop:
		}
	}()
	return func() { close(stop) }
}

// moduleLoader implements load() with a per-scenario cache. Modules run
// on threads from newThread, which also returns the func releasing it.
type moduleLoader struct {
	dir         string
	predeclared starlark.StringDict
	newThread   func(name string) (*starlark.Thread, func())
	cache       map[string]*moduleEntry
}

type moduleEntry struct {
	globals starlark.StringDict
	err     error
}

func newModuleLoader(dir string, predeclared starlark.StringDict, newThread func(string) (*starlark.Thread, func())) *moduleLoader {
	return &moduleLoader{dir: dir, predeclared: predeclared, newThread: newThread, cache: make(map[string]*moduleEntry)}
}

func (l *moduleLoader) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	path := module
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, module)
	}

	if e, ok := l.cache[path]; ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		return e.globals, e.err
	}

	l.cache[path] = nil
	src, err := os.ReadFile(path)
	if err != nil {
		l.cache[path] = &moduleEntry{err: err}
		return nil, err
	}

	child, release := l.newThread("load " + module)
	child.Load = l.load
	globals, err := starlark.ExecFile(child, path, src, l.predeclared)
	release()
	l.cache[path] = &moduleEntry{globals: globals, err: err}
	return globals, err
}
