package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/yodler/yodler/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the action.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the action.
	SeverityError Severity = "error"

	// SeverityCritical blocks the action.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity fails the action.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to deny entries that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Input is the document a policy sees as input.
type Input struct {
	// Action is the action about to execute.
	Action ActionInput `json:"action"`

	// Heap is the heap content at that moment.
	Heap map[string]any `json:"heap"`

	// Host is the target host name.
	Host string `json:"host"`

	// Vars are the deployment variables of the host.
	Vars map[string]any `json:"vars,omitempty"`
}

// ActionInput describes the action in an Input.
type ActionInput struct {
	Name string `json:"name"`
}

// Violation is a single deny entry.
type Violation struct {
	// Policy is the name of the policy that produced the entry.
	Policy string `json:"policy"`

	// Action is the action that was denied.
	Action string `json:"action"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating the enabled policies.
type Result struct {
	// Allowed is false when at least one violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking entries.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists the entries that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Bundle is a collection of policies stored as JSON.
type Bundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Policies    []Policy `json:"policies"`
}

// ErrPolicyViolation is matched by errors.Is for every ViolationError.
var ErrPolicyViolation = engine.NewPermanentError("policy violation", nil).WithCode(engine.ErrCodePolicyViolation)

// ViolationError fails an action denied by a policy.
type ViolationError struct {
	Action     string
	Violations []Violation
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return fmt.Sprintf("action %s denied by policy: %s", e.Action, strings.Join(msgs, "; "))
}

// Unwrap returns ErrPolicyViolation.
func (e *ViolationError) Unwrap() error {
	return ErrPolicyViolation
}
