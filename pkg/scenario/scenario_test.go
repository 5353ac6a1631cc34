package scenario

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/value"
)

const releaseScenario = `
def check_disk(ctx):
    free = int(ctx.exec("df --output=avail / | tail -1"))
    ctx.heap.add("disk_ok", free > 1024 * 1024)

def make_release_dir(ctx):
    path = "/srv/releases/%d" % ctx.vars["release"]
    ctx.shell.mkdir(path)
    return "created " + path

action("check-disk", run = check_disk)
action("make-release-dir", run = make_release_dir,
       skip = lambda heap: heap.get("disk_ok") == False)
`

func loadString(t *testing.T, src string, opts Options) *Scenario {
	t.Helper()
	logger := zerolog.New(&bytes.Buffer{})
	if opts.Logger == nil {
		opts.Logger = &logger
	}
	s, err := Load(context.Background(), "test.star", []byte(src), opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func execute(t *testing.T, s *Scenario, b backend.Backend) (*engine.Heap, *engine.Report, error) {
	t.Helper()
	heap := engine.NewHeap()
	report := engine.NewReport()
	exec := engine.NewExecutor(heap, report, b, engine.WithLogger(zerolog.New(&bytes.Buffer{})))
	return heap, report, exec.Execute(context.Background(), s.Actions())
}

func TestReleaseScenario(t *testing.T) {
	vars := value.Map(map[string]value.Value{"release": value.Int(7)})

	tests := []struct {
		name     string
		free     string
		wantCmds []string
		wantLast engine.EventStatus
	}{
		{
			name:     "enough space",
			free:     "2097152\n",
			wantCmds: []string{"df --output=avail / | tail -1", "mkdir -p /srv/releases/7"},
			wantLast: engine.EventSucceeded,
		},
		{
			name:     "disk full",
			free:     "10\n",
			wantCmds: []string{"df --output=avail / | tail -1"},
			wantLast: engine.EventSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadString(t, releaseScenario, Options{Vars: vars})
			if diff := cmp.Diff([]string{"check-disk", "make-release-dir"}, s.Actions().Names()); diff != "" {
				t.Fatalf("actions mismatch (-want +got):\n%s", diff)
			}

			rec := backend.NewRecorder().Respond("df --output=avail / | tail -1", tt.free)
			_, report, err := execute(t, s, rec)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}

			if diff := cmp.Diff(tt.wantCmds, rec.Commands()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
			last, _ := report.Last()
			if last.Status != tt.wantLast {
				t.Errorf("last status %s, want %s", last.Status, tt.wantLast)
			}
			if tt.wantLast == engine.EventSucceeded && last.Output != "created /srv/releases/7" {
				t.Errorf("unexpected output %q", last.Output)
			}
		})
	}
}

func TestMisorderedReadFails(t *testing.T) {
	s := loadString(t, `
def make_release_dir(ctx):
    ctx.shell.mkdir("/srv/releases/1")

action("make-release-dir", run = make_release_dir,
       skip = lambda heap: heap.get("disk_ok") == False)
action("check-disk", run = lambda ctx: ctx.heap.add("disk_ok", True))
`, Options{})

	rec := backend.NewRecorder()
	heap, report, err := execute(t, s, rec)

	if !errors.Is(err, engine.ErrVariableNotFound) {
		t.Fatalf("expected ErrVariableNotFound, got %v", err)
	}
	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) || scriptErr.Func != "skip" || scriptErr.Action != "make-release-dir" {
		t.Errorf("expected skip ScriptError, got %v", err)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("no backend call expected, got %v", rec.Calls())
	}
	if heap.Has("disk_ok") {
		t.Error("the second action must not run")
	}
	if report.Summary().Errored != 1 {
		t.Errorf("unexpected summary %+v", report.Summary())
	}
}

func TestHeapSingleAssignmentFromScript(t *testing.T) {
	s := loadString(t, `
action("first", run = lambda ctx: ctx.heap.add("x", 1))
action("second", run = lambda ctx: ctx.heap.add("x", 2))
`, Options{})

	heap, _, err := execute(t, s, backend.NewRecorder())
	if !errors.Is(err, engine.ErrVariableAlreadyExists) {
		t.Fatalf("expected ErrVariableAlreadyExists, got %v", err)
	}
	got, _ := heap.Get("x")
	if !value.Equal(got, value.Int(1)) {
		t.Errorf("expected x=1, got %s", got)
	}
}

func TestHeapValuesRoundTrip(t *testing.T) {
	s := loadString(t, `
def produce(ctx):
    ctx.heap.add("info", {"cpus": 4, "load": 0.5, "tags": ["a", "b"], "ok": True, "none": None})

def consume(ctx):
    info = ctx.heap.get("info")
    if not ctx.heap.has("info") or ctx.heap.has("missing"):
        fail("has is broken")
    return "%d %s %s" % (info["cpus"], ",".join(info["tags"]), ctx.heap.keys())

action("produce", run = produce)
action("consume", run = consume)
`, Options{})

	heap, report, err := execute(t, s, backend.NewRecorder())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := value.Map(map[string]value.Value{
		"cpus": value.Int(4),
		"load": value.Number(0.5),
		"tags": value.List(value.String("a"), value.String("b")),
		"ok":   value.Bool(true),
		"none": value.Null(),
	})
	got, _ := heap.Get("info")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("heap value mismatch (-want +got):\n%s", diff)
	}

	last, _ := report.Last()
	if last.Output != `4 a,b ["info"]` {
		t.Errorf("unexpected output %q", last.Output)
	}
}

func TestReturnTypes(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "run returns int", src: `action("a", run = lambda ctx: 1)`, wantErr: "must return None or a string"},
		{name: "skip returns string", src: `action("a", run = lambda ctx: None, skip = lambda heap: "yes")`, wantErr: "must return a bool"},
		{name: "fail", src: `action("a", run = lambda ctx: fail("nope"))`, wantErr: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadString(t, tt.src, Options{})
			_, _, err := execute(t, s, backend.NewRecorder())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			var actionErr *engine.ActionError
			if !errors.As(err, &actionErr) || actionErr.Action != "a" {
				t.Errorf("expected ActionError for a, got %v", err)
			}
		})
	}
}

func TestBackendErrorsPropagate(t *testing.T) {
	boom := errors.New("permission denied")
	s := loadString(t, `action("a", run = lambda ctx: ctx.exec("rm -rf /srv"))`, Options{})

	_, _, err := execute(t, s, backend.NewRecorder().Fail("rm -rf /srv", boom))

	var cmdErr *backend.CommandExecutionError
	if !errors.As(err, &cmdErr) || cmdErr.Command != "rm -rf /srv" {
		t.Fatalf("expected CommandExecutionError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected the backend cause to be reachable")
	}
}

func TestShellHelpers(t *testing.T) {
	s := loadString(t, `
def deploy(ctx):
    ctx.shell.cd("/srv/app")
    ctx.shell.ln("releases/7", "current", relative = True)
    if not ctx.shell.is_dir("releases"):
        fail("expected releases dir")
    ctx.shell.write("VERSION", "7\n")
    return ctx.shell.which("git")

action("deploy", run = deploy)
`, Options{})

	rec := backend.NewRecorder().
		Respond("cd /srv/app; if [ -d releases ]; then echo 'true'; fi", "true\n").
		Respond("cd /srv/app; which git || true", "/usr/bin/git\n")

	_, report, err := execute(t, s, rec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	last, _ := report.Last()
	if last.Output != "/usr/bin/git" {
		t.Errorf("unexpected output %q", last.Output)
	}

	calls := rec.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %+v", calls)
	}
	if calls[0].Command != "cd /srv/app; ln -nfs --relative releases/7 current" {
		t.Errorf("unexpected ln command %q", calls[0].Command)
	}
	if calls[2].Op != "send" || calls[2].Remote != "VERSION" {
		t.Errorf("expected a send of VERSION, got %+v", calls[2])
	}
}

func TestShellSymfony(t *testing.T) {
	s := loadString(t, `
def migrate(ctx):
    ctx.shell.cd("/srv/app/current")
    return ctx.shell.symfony("doctrine:migrations:migrate",
                             options = {"allow-no-migration": None, "em": "default"})

action("migrate", run = migrate)
`, Options{})

	rec := backend.NewRecorder().
		Respond("cd /srv/app/current; which php || true", "/usr/bin/php\n").
		Respond("cd /srv/app/current; /usr/bin/php bin/console doctrine:migrations:migrate "+
			"--env=prod --no-debug --no-interaction --allow-no-migration --em=default", "[OK] Already at the latest version\n")

	_, report, err := execute(t, s, rec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	last, _ := report.Last()
	if last.Output != "[OK] Already at the latest version" {
		t.Errorf("unexpected output %q, commands %v", last.Output, rec.Commands())
	}
}

func TestStepLimit(t *testing.T) {
	s := loadString(t, `
def spin(ctx):
    n = 0
    for i in range(1000000):
        n += i
    return str(n)

action("spin", run = spin)
`, Options{StepLimit: 1000})

	_, _, err := execute(t, s, backend.NewRecorder())
	if err == nil || !strings.Contains(err.Error(), "too many steps") {
		t.Fatalf("expected step limit error, got %v", err)
	}
}

func TestCancelledContextStopsScript(t *testing.T) {
	s := loadString(t, `
def spin(ctx):
    for i in range(100000000):
        pass

action("spin", run = spin)
`, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	act := s.Actions().All()[0]

	done := make(chan error, 1)
	go func() {
		_, err := act.Execute(ctx, engine.NewHeap(), backend.NewRecorder())
		done <- err
	}()
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		opts    Options
		wantErr string
	}{
		{name: "syntax", src: "action(", wantErr: "test.star"},
		{name: "empty name", src: `action("", run = lambda ctx: None)`, wantErr: "name must not be empty"},
		{name: "skip not callable", src: `action("a", run = lambda ctx: None, skip = 1)`, wantErr: "skip must be callable"},
		{name: "run missing", src: `action("a")`, wantErr: "missing argument for run"},
		{name: "vars not a map", src: "", opts: Options{Vars: value.List()}, wantErr: "vars must be a map"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), "test.star", []byte(tt.src), tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVarsAreFrozen(t *testing.T) {
	s := loadString(t, `
def f(ctx):
    ctx.vars["b"] = 2

action("a", run = f)
`, Options{Vars: value.Map(map[string]value.Value{"a": value.Int(1)})})

	_, _, err := execute(t, s, backend.NewRecorder())
	if err == nil || !strings.Contains(err.Error(), "frozen") {
		t.Fatalf("expected frozen error, got %v", err)
	}
}

func TestLoadStatement(t *testing.T) {
	dir := t.TempDir()
	lib := `
def probe(name, command):
    def run(ctx):
        ctx.heap.add(name, ctx.exec(command))
    action(name, run = run)
`
	main := `
load("lib.star", "probe")
probe("kernel", "uname -r")
probe("arch", "uname -m")
`
	if err := os.WriteFile(filepath.Join(dir, "lib.star"), []byte(lib), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "main.star")
	if err := os.WriteFile(path, []byte(main), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := zerolog.New(&bytes.Buffer{})
	s, err := LoadFile(context.Background(), path, Options{Logger: &logger})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	rec := backend.NewRecorder().Respond("uname -r", "6.1.0\n").Respond("uname -m", "x86_64\n")
	heap, _, err := execute(t, s, rec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := heap.Get("arch")
	if !value.Equal(got, value.String("x86_64")) {
		t.Errorf("unexpected arch %s", got)
	}
}

func TestLoadedModuleLimits(t *testing.T) {
	dir := t.TempDir()
	lib := `
def spin():
    n = 0
    for i in range(1000000):
        n += i
    return n

n = spin()
`
	if err := os.WriteFile(filepath.Join(dir, "spin.star"), []byte(lib), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "main.star")
	if err := os.WriteFile(path, []byte(`load("spin.star", "n")`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("step limit", func(t *testing.T) {
		_, err := LoadFile(context.Background(), path, Options{StepLimit: 1000})
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected LoadError, got %v", err)
		}
		if !strings.Contains(err.Error(), "too many steps") {
			t.Errorf("expected step limit error, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := LoadFile(ctx, path, Options{})
		if err == nil || !strings.Contains(err.Error(), context.Canceled.Error()) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	})
}

func TestLoadCycle(t *testing.T) {
	dir := t.TempDir()
	for name, src := range map[string]string{
		"a.star": `load("b.star", "b")` + "\na = 1\n",
		"b.star": `load("a.star", "a")` + "\nb = 1\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := LoadFile(context.Background(), filepath.Join(dir, "a.star"), Options{})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected cycle error, got %v", err)
	}
}

func TestPrintGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	_, err := Load(context.Background(), "test.star", []byte(`print("hello from starlark")`), Options{Logger: &logger})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(buf.String(), "hello from starlark") {
		t.Errorf("print output not logged: %s", buf.String())
	}
}

func TestConversions(t *testing.T) {
	original := value.Map(map[string]value.Value{
		"int":   value.Int(3),
		"float": value.Number(1.25),
		"big":   value.Number(1e300),
		"list":  value.List(value.Bool(false), value.Null()),
		"empty": value.Map(nil),
	})

	sv, err := toStarlark(original)
	if err != nil {
		t.Fatalf("toStarlark: %v", err)
	}
	back, err := fromStarlark(sv)
	if err != nil {
		t.Fatalf("fromStarlark: %v", err)
	}
	if diff := cmp.Diff(original, back); diff != "" {
		t.Errorf("conversion mismatch (-want +got):\n%s", diff)
	}

	if _, err := fromStarlark(starlark.NewSet(1)); err == nil {
		t.Error("expected an error for a set")
	}
	dict := starlark.NewDict(1)
	_ = dict.SetKey(starlark.MakeInt(1), starlark.True)
	if _, err := fromStarlark(dict); err == nil {
		t.Error("expected an error for a non-string key")
	}
}
