package engine

import (
	"errors"
	"fmt"
)

// ErrorClass tells a caller whether starting the deployment again can help.
type ErrorClass string

const (
	// ErrorClassTransient failures may pass on a later run: a timeout, a
	// host still booting, a cancelled deployment.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict failures come from state written twice, like a
	// heap variable added by two actions.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent failures need a change to the scenario, the
	// config or the host before a rerun.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes set with WithCode.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyExists   = "ALREADY_EXISTS"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodePolicyViolation = "POLICY_VIOLATION"
)

// EngineError is a classified error. Two engine errors match under
// errors.Is when both their class and code are equal, so a value built
// with NewXxxError(...).WithCode(c) serves as a sentinel.
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`

	// Operation names the action or step that failed.
	Operation string `json:"operation,omitempty"`

	Err error `json:"-"`
}

func newEngineError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewTransientError returns a transient error wrapping err.
func NewTransientError(message string, err error) *EngineError {
	return newEngineError(ErrorClassTransient, message, err)
}

// NewConflictError returns a conflict error wrapping err.
func NewConflictError(message string, err error) *EngineError {
	return newEngineError(ErrorClassConflict, message, err)
}

// NewPermanentError returns a permanent error wrapping err.
func NewPermanentError(message string, err error) *EngineError {
	return newEngineError(ErrorClassPermanent, message, err)
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg += " (operation=" + e.Operation + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

// WithOperation sets the failing operation and returns e.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode sets the error code and returns e.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// ClassOf returns the class of the first EngineError in err's chain, or
// "" when there is none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool { return ClassOf(err) == ErrorClassTransient }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return ClassOf(err) == ErrorClassConflict }

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool { return ClassOf(err) == ErrorClassPermanent }

var (
	// ErrVariableAlreadyExists is matched by errors.Is when a heap variable
	// is written twice.
	ErrVariableAlreadyExists = NewConflictError("variable already exists", nil).WithCode(ErrCodeAlreadyExists)

	// ErrVariableNotFound is matched by errors.Is when a heap variable is
	// read before it was written.
	ErrVariableNotFound = NewPermanentError("variable not found", nil).WithCode(ErrCodeNotFound)
)

// VariableError is returned by the heap. It carries the variable name and
// matches ErrVariableAlreadyExists or ErrVariableNotFound.
type VariableError struct {
	Name string
	kind *EngineError
}

// Error implements the error interface.
func (e *VariableError) Error() string {
	switch e.kind {
	case ErrVariableAlreadyExists:
		return fmt.Sprintf("variable %q already exists", e.Name)
	case ErrVariableNotFound:
		return fmt.Sprintf("variable %q not found", e.Name)
	default:
		return fmt.Sprintf("variable %q: %s", e.Name, e.kind.Message)
	}
}

// Unwrap returns the matching sentinel.
func (e *VariableError) Unwrap() error {
	return e.kind
}

// ActionError is returned by the executor when an action fails. It unwraps
// to the action's own error.
type ActionError struct {
	// Action is the name of the failing action.
	Action string

	// Err is the error produced by the action's skip or execute step.
	Err error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.Action, e.Err)
}

// Unwrap returns the action's error.
func (e *ActionError) Unwrap() error {
	return e.Err
}
