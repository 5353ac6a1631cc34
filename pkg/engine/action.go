package engine

import (
	"context"

	"github.com/yodler/yodler/pkg/backend"
)

// Action is one step of a deployment.
type Action interface {
	// Name identifies the action in logs and reports.
	Name() string

	// Skip reports whether the action should be bypassed given the current
	// heap. It must not write to the heap.
	Skip(ctx context.Context, heap *Heap) (bool, error)

	// Execute performs the action and returns its output. It may add
	// variables to the heap for later actions.
	Execute(ctx context.Context, heap *Heap, b backend.Backend) (string, error)
}

// SkipFunc is the skip predicate of an ActionFunc.
type SkipFunc func(ctx context.Context, heap *Heap) (bool, error)

// RunFunc is the body of an ActionFunc.
type RunFunc func(ctx context.Context, heap *Heap, b backend.Backend) (string, error)

// ActionFunc builds an Action from plain functions. A nil SkipFn never
// skips; a nil RunFn succeeds with no output.
type ActionFunc struct {
	ActionName string
	SkipFn     SkipFunc
	RunFn      RunFunc
}

// NewAction creates an ActionFunc that never skips.
func NewAction(name string, run RunFunc) *ActionFunc {
	return &ActionFunc{ActionName: name, RunFn: run}
}

// Name implements Action.
func (a *ActionFunc) Name() string {
	return a.ActionName
}

// Skip implements Action.
func (a *ActionFunc) Skip(ctx context.Context, heap *Heap) (bool, error) {
	if a.SkipFn == nil {
		return false, nil
	}
	return a.SkipFn(ctx, heap)
}

// Execute implements Action.
func (a *ActionFunc) Execute(ctx context.Context, heap *Heap, b backend.Backend) (string, error) {
	if a.RunFn == nil {
		return "", nil
	}
	return a.RunFn(ctx, heap, b)
}

// WithSkip sets the skip predicate and returns the action.
func (a *ActionFunc) WithSkip(skip SkipFunc) *ActionFunc {
	a.SkipFn = skip
	return a
}

// ActionList is an ordered, append-only sequence of actions. The same
// action may appear more than once.
type ActionList struct {
	actions []Action
}

// NewActionList creates a list holding the given actions in order.
func NewActionList(actions ...Action) *ActionList {
	l := &ActionList{}
	for _, a := range actions {
		l.Add(a)
	}
	return l
}

// Add appends an action.
func (l *ActionList) Add(a Action) *ActionList {
	l.actions = append(l.actions, a)
	return l
}

// All returns the actions in insertion order. The slice is a copy.
func (l *ActionList) All() []Action {
	out := make([]Action, len(l.actions))
	copy(out, l.actions)
	return out
}

// Len returns the number of actions.
func (l *ActionList) Len() int {
	return len(l.actions)
}

// Names returns the action names in order.
func (l *ActionList) Names() []string {
	names := make([]string, len(l.actions))
	for i, a := range l.actions {
		names[i] = a.Name()
	}
	return names
}
