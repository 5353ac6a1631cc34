// Package engine provides the deployment model of Yodler.
//
// # Overview
//
// A deployment is an ordered list of actions executed one after another
// against a single target. Actions exchange facts through a heap: a
// single-assignment variable store that lives for the duration of one run.
// Every step of the run is recorded in a report so that a presentation layer
// can render progress while the executor works.
//
// # Core Types
//
//   - Heap: single-assignment named variables holding value.Value
//   - Action: a named step with a skip predicate and a body
//   - ActionList: the ordered, append-only sequence of actions
//   - Report: the append-only event history of a run
//   - Executor: runs an action list against a heap, a report and a backend
//   - Run: the stored summary of one deployment
//
// # Execution
//
// For every action the executor records a running event, evaluates the skip
// predicate and either records a skipped event or executes the action and
// records succeeded or errored. The first error stops the run:
//
//	➤ check-disk
//	✔ check-disk
//	• check-disk: 2048
//	➤ make-release-dir
//	⇣ make-release-dir
//
// # Errors
//
// Engine errors carry a class (transient, conflict, permanent) and an
// optional code. Heap failures wrap ErrVariableAlreadyExists and
// ErrVariableNotFound, and any failure surfaced by Execute is an
// *ActionError naming the action:
//
//	if errors.Is(err, engine.ErrVariableNotFound) {
//		// an action read a fact no earlier action wrote
//	}
package engine
