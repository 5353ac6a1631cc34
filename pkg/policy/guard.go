package policy

import (
	"context"
	"fmt"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/value"
)

// Target is the host a guarded action runs against.
type Target struct {
	Host string
	Vars value.Value
}

// Guard wraps a so that the enabled policies are evaluated right before it
// executes. A blocking violation fails the action with a *ViolationError;
// warnings are logged. Skip is not guarded.
func Guard(e *Engine, a engine.Action, target Target) engine.Action {
	return &guardedAction{engine: e, action: a, target: target}
}

// GuardList guards every action of list.
func GuardList(e *Engine, list *engine.ActionList, target Target) *engine.ActionList {
	guarded := engine.NewActionList()
	for _, a := range list.All() {
		guarded.Add(Guard(e, a, target))
	}
	return guarded
}

type guardedAction struct {
	engine *Engine
	action engine.Action
	target Target
}

func (g *guardedAction) Name() string {
	return g.action.Name()
}

func (g *guardedAction) Skip(ctx context.Context, heap *engine.Heap) (bool, error) {
	return g.action.Skip(ctx, heap)
}

func (g *guardedAction) Execute(ctx context.Context, heap *engine.Heap, b backend.Backend) (string, error) {
	input := &Input{
		Action: ActionInput{Name: g.action.Name()},
		Heap:   asObject(heap.Snapshot()),
		Host:   g.target.Host,
		Vars:   asObject(g.target.Vars),
	}

	result, err := g.engine.Evaluate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policies: %w", err)
	}
	for _, w := range result.Warnings {
		g.engine.logger.Warn().
			Str("policy", w.Policy).
			Str("action", w.Action).
			Msg(w.Message)
	}
	if !result.Allowed {
		return "", &ViolationError{Action: g.action.Name(), Violations: result.Violations}
	}

	return g.action.Execute(ctx, heap, b)
}

func asObject(v value.Value) map[string]any {
	if m, ok := v.Any().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
