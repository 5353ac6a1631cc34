package policy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/value"
)

const dropPolicy = `package yodler.deploy

import rego.v1

deny contains msg if {
	input.host == "db1"
	startswith(input.action.name, "drop-")
	msg := sprintf("no %s on db1", [input.action.name])
}
`

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if p.Enabled {
			t.Errorf("built-in %s must start disabled", p.Name)
		}
	}
	want := []string{BuiltinActionNaming, BuiltinChangeFreeze, BuiltinRequiredFacts}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("built-ins mismatch (-want +got):\n%s", diff)
	}

	result, err := eng.Evaluate(context.Background(), &Input{Action: ActionInput{Name: "Bad_Name"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Allowed || len(result.EvaluatedPolicies) != 0 {
		t.Errorf("disabled policies must not be evaluated: %+v", result)
	}
}

func TestNewEngineUnknownBuiltin(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	if _, err := NewEngine(logger, WithBuiltins("nope")); err == nil {
		t.Fatal("expected error for an unknown built-in")
	}
}

func TestEvaluateInlinePolicy(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.AddPolicy(context.Background(), Policy{Name: "no-drop", Rego: dropPolicy, Enabled: true}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	tests := []struct {
		name        string
		input       Input
		wantAllowed bool
	}{
		{name: "allowed host", input: Input{Action: ActionInput{Name: "drop-tables"}, Host: "web1"}, wantAllowed: true},
		{name: "allowed action", input: Input{Action: ActionInput{Name: "check-disk"}, Host: "db1"}, wantAllowed: true},
		{name: "denied", input: Input{Action: ActionInput{Name: "drop-tables"}, Host: "db1"}, wantAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), &tt.input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %+v", tt.wantAllowed, result)
			}
			if !tt.wantAllowed {
				want := []Violation{{Policy: "no-drop", Action: "drop-tables", Message: "no drop-tables on db1", Severity: SeverityError}}
				if diff := cmp.Diff(want, result.Violations); diff != "" {
					t.Errorf("violations mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestBuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t, WithBuiltins(BuiltinActionNaming, BuiltinChangeFreeze, BuiltinRequiredFacts))

	tests := []struct {
		name         string
		input        Input
		wantAllowed  bool
		wantWarnings int
		wantPolicy   string
	}{
		{
			name:        "clean",
			input:       Input{Action: ActionInput{Name: "check-disk"}, Host: "web1"},
			wantAllowed: true,
		},
		{
			name:         "naming is only a warning",
			input:        Input{Action: ActionInput{Name: "Check_Disk"}, Host: "web1"},
			wantAllowed:  true,
			wantWarnings: 1,
		},
		{
			name: "change freeze",
			input: Input{
				Action: ActionInput{Name: "restart-app"},
				Host:   "web1",
				Vars:   map[string]any{"change_freeze": true},
			},
			wantPolicy: BuiltinChangeFreeze,
		},
		{
			name: "probes pass a change freeze",
			input: Input{
				Action: ActionInput{Name: "probe-cpus"},
				Host:   "web1",
				Vars:   map[string]any{"change_freeze": true},
			},
			wantAllowed: true,
		},
		{
			name: "missing fact",
			input: Input{
				Action: ActionInput{Name: "make-release-dir"},
				Heap:   map[string]any{},
				Vars:   map[string]any{"requires": map[string]any{"make-release-dir": []any{"disk_ok"}}},
			},
			wantPolicy: BuiltinRequiredFacts,
		},
		{
			name: "fact present",
			input: Input{
				Action: ActionInput{Name: "make-release-dir"},
				Heap:   map[string]any{"disk_ok": true},
				Vars:   map[string]any{"requires": map[string]any{"make-release-dir": []any{"disk_ok"}}},
			},
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), &tt.input)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Fatalf("Expected allowed=%v, got %+v", tt.wantAllowed, result)
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("Expected %d warnings, got %+v", tt.wantWarnings, result.Warnings)
			}
			if tt.wantPolicy != "" && (len(result.Violations) != 1 || result.Violations[0].Policy != tt.wantPolicy) {
				t.Errorf("Expected one %s violation, got %+v", tt.wantPolicy, result.Violations)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("Expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
			}
		})
	}
}

func TestCustomPackageAndLibraries(t *testing.T) {
	eng := newTestEngine(t, WithPackage("acme.gate"))

	lib := Policy{Name: "lib", Rego: `package acme.lib

import rego.v1

protected contains "db1"
protected contains "db2"
`}
	gate := Policy{Name: "protected", Enabled: true, Rego: `package acme.gate

import rego.v1
import data.acme.lib

deny contains {"message": sprintf("%s is protected", [input.host]), "severity": "critical"} if {
	input.host in lib.protected
}
`}
	if err := eng.AddPolicy(context.Background(), lib); err != nil {
		t.Fatalf("AddPolicy lib: %v", err)
	}
	if err := eng.AddPolicy(context.Background(), gate); err != nil {
		t.Fatalf("AddPolicy gate: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{Action: ActionInput{Name: "deploy"}, Host: "db2"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected the protected host to be denied")
	}
	if v := result.Violations[0]; v.Severity != SeverityCritical || v.Message != "db2 is protected" {
		t.Errorf("unexpected violation %+v", v)
	}
	if diff := cmp.Diff([]string{"protected"}, result.EvaluatedPolicies); diff != "" {
		t.Errorf("libraries must not be queried (-want +got):\n%s", diff)
	}
}

func TestAddPolicyRejectsInvalidRego(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package yodler.deploy\ndeny contains"})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("a failed policy must not be added")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	_ = eng.AddPolicy(context.Background(), Policy{Name: "no-drop", Rego: dropPolicy, Enabled: true})
	input := &Input{Action: ActionInput{Name: "drop-db"}, Host: "db1"}

	if err := eng.DisablePolicy("no-drop"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	if result, _ := eng.Evaluate(context.Background(), input); !result.Allowed {
		t.Error("disabled policy must not deny")
	}

	if err := eng.EnablePolicy("no-drop"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	if result, _ := eng.Evaluate(context.Background(), input); result.Allowed {
		t.Error("enabled policy must deny")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected error for a missing policy")
	}
}

func TestGuard(t *testing.T) {
	eng := newTestEngine(t, WithBuiltins(BuiltinRequiredFacts))
	_ = eng.AddPolicy(context.Background(), Policy{Name: "no-drop", Rego: dropPolicy, Enabled: true})

	ran := map[string]bool{}
	run := func(name string) engine.RunFunc {
		return func(_ context.Context, heap *engine.Heap, _ backend.Backend) (string, error) {
			ran[name] = true
			return "", heap.Add(name, value.Bool(true))
		}
	}
	list := engine.NewActionList(
		engine.NewAction("check-disk", run("check-disk")),
		engine.NewAction("drop-cache", run("drop-cache")),
	)
	target := Target{Host: "db1", Vars: value.Map(map[string]value.Value{
		"requires": value.Map(map[string]value.Value{
			"drop-cache": value.List(value.String("check-disk")),
		}),
	})}

	guarded := GuardList(eng, list, target)
	if diff := cmp.Diff(list.Names(), guarded.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	exec := engine.NewExecutor(engine.NewHeap(), engine.NewReport(), backend.NewRecorder(), engine.WithLogger(zerolog.New(&buf)))
	err := exec.Execute(context.Background(), guarded)

	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
	var violationErr *ViolationError
	if !errors.As(err, &violationErr) || violationErr.Action != "drop-cache" {
		t.Fatalf("expected ViolationError for drop-cache, got %v", err)
	}
	if !strings.Contains(err.Error(), "no-drop: no drop-cache on db1") {
		t.Errorf("unexpected message %q", err)
	}
	if !ran["check-disk"] || ran["drop-cache"] {
		t.Errorf("unexpected runs %v", ran)
	}

	last, _ := exec.Report().Last()
	if last.Status != engine.EventErrored || last.Action != "drop-cache" {
		t.Errorf("expected drop-cache errored, got %+v", last)
	}
}

func TestGuardKeepsSkip(t *testing.T) {
	eng := newTestEngine(t)
	_ = eng.AddPolicy(context.Background(), Policy{Name: "no-drop", Rego: dropPolicy, Enabled: true})

	a := engine.NewAction("drop-cache", nil).WithSkip(func(context.Context, *engine.Heap) (bool, error) {
		return true, nil
	})
	exec := engine.NewExecutor(engine.NewHeap(), engine.NewReport(), backend.NewRecorder(), engine.WithLogger(zerolog.Nop()))

	if err := exec.Execute(context.Background(), engine.NewActionList(Guard(eng, a, Target{Host: "db1"}))); err != nil {
		t.Fatalf("a skipped action is not evaluated, got %v", err)
	}
}

func TestWatchReloadsPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.rego")
	allowAll := "package yodler.deploy\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"\"\n}\n"
	if err := os.WriteFile(path, []byte(allowAll), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loader := NewLoader(zerolog.Nop())
	loader.reloadDelay = 10 * time.Millisecond
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		return eng.add(ctx, policies...)
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(dropPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	input := &Input{Action: ActionInput{Name: "drop-db"}, Host: "db1"}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := eng.Evaluate(context.Background(), input)
		if err == nil && !result.Allowed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("policy change was not picked up")
}
