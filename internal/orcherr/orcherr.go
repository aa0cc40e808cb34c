// Package orcherr defines the error kinds the engine uses to decide how a
// failure propagates and which process exit code it maps to.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure per spec §7.
type Kind int

const (
	// InvalidWorkflow covers a malformed workflow description: missing
	// required field, unknown variationType, empty values/steps, an
	// unresolved field reference in loop.values.
	InvalidWorkflow Kind = iota
	// ConfigIO covers file-not-found, permission-denied, or malformed
	// serialisation while reading a config document.
	ConfigIO
	// ActionFailed wraps an error raised by an action handler.
	ActionFailed
	// ProvenanceWriteError covers an IO failure writing a tracker row.
	// It is swallowed at the tracker boundary after logging and must
	// never fail the containing workflow.
	ProvenanceWriteError
)

func (k Kind) String() string {
	switch k {
	case InvalidWorkflow:
		return "InvalidWorkflow"
	case ConfigIO:
		return "ConfigIO"
	case ActionFailed:
		return "ActionFailed"
	case ProvenanceWriteError:
		return "ProvenanceWriteError"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrapped orchestrator error.
type Error struct {
	Kind Kind
	Path string // offending path, when applicable (ConfigIO)
	Step string // step description, when applicable (ActionFailed)
	Iter int    // 1-based iteration index, when applicable (ActionFailed)
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ConfigIO:
		if e.Path != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
		}
	case ActionFailed:
		if e.Step != "" {
			return fmt.Sprintf("%s: step %q (iteration %d): %v", e.Kind, e.Step, e.Iter, e.Err)
		}
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Invalid builds an InvalidWorkflow error.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: InvalidWorkflow, Err: fmt.Errorf(format, args...)}
}

// ConfigError builds a ConfigIO error naming the offending path.
func ConfigError(path string, err error) *Error {
	return &Error{Kind: ConfigIO, Path: path, Err: err}
}

// ActionError wraps an action handler failure with step identity.
func ActionError(step string, iteration int, err error) *Error {
	return &Error{Kind: ActionFailed, Step: step, Iter: iteration, Err: err}
}

// ProvenanceError builds a ProvenanceWriteError. Callers must log and
// swallow this at the tracker boundary rather than propagate it.
func ProvenanceError(err error) *Error {
	return &Error{Kind: ProvenanceWriteError, Err: err}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode maps an error to the process exit code defined in spec §6.1.
// A nil error maps to 0. Unrecognised errors map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case InvalidWorkflow:
		return 1
	case ConfigIO:
		return 2
	case ActionFailed:
		return 3
	case ProvenanceWriteError:
		// Never reaches the top level: swallowed at the tracker boundary.
		return 0
	default:
		return 1
	}
}
