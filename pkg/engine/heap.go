package engine

import (
	"fmt"
	"sync"

	"github.com/yodler/yodler/pkg/value"
)

// Heap is the write-once variable store shared by the actions of one
// deployment. A variable, once added, keeps its value for the lifetime of
// the heap.
//
// Heap is safe for concurrent use.
type Heap struct {
	mu   sync.RWMutex
	vars map[string]value.Value
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{vars: make(map[string]value.Value)}
}

// NewHeapFromSnapshot creates a heap seeded with the entries of a Map value,
// as produced by Snapshot. A null snapshot yields an empty heap.
func NewHeapFromSnapshot(snapshot value.Value) (*Heap, error) {
	h := NewHeap()
	if snapshot.IsNull() {
		return h, nil
	}

	entries, ok := snapshot.AsMap()
	if !ok {
		return nil, NewPermanentError(
			fmt.Sprintf("heap snapshot must be a map, got %s", snapshot.Kind()), nil,
		).WithCode(ErrCodeValidation)
	}
	for name, v := range entries {
		if name == "" {
			return nil, NewPermanentError("heap snapshot contains an empty variable name", nil).
				WithCode(ErrCodeValidation)
		}
		h.vars[name] = v
	}
	return h, nil
}

// Add stores a new variable. It fails with ErrVariableAlreadyExists if the
// name is taken, leaving the existing value untouched.
func (h *Heap) Add(name string, v value.Value) error {
	if name == "" {
		return &VariableError{
			Name: name,
			kind: NewPermanentError("variable name must not be empty", nil).WithCode(ErrCodeValidation),
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.vars[name]; exists {
		return &VariableError{Name: name, kind: ErrVariableAlreadyExists}
	}
	h.vars[name] = v
	return nil
}

// Get returns a variable. It fails with ErrVariableNotFound if the name was
// never added.
func (h *Heap) Get(name string) (value.Value, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v, ok := h.vars[name]
	if !ok {
		return value.Null(), &VariableError{Name: name, kind: ErrVariableNotFound}
	}
	return v, nil
}

// Has reports whether a variable exists.
func (h *Heap) Has(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.vars[name]
	return ok
}

// Len returns the number of variables.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vars)
}

// All returns a copy of every variable.
func (h *Heap) All() map[string]value.Value {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]value.Value, len(h.vars))
	for k, v := range h.vars {
		out[k] = v
	}
	return out
}

// Snapshot returns the heap as a single Map value.
func (h *Heap) Snapshot() value.Value {
	return value.Map(h.All())
}
