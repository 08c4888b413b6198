package evaluation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalnine/riskarena/internal/dispatch"
	"github.com/signalnine/riskarena/internal/sandbox"
	"github.com/signalnine/riskarena/internal/submission"
)

// RequestInvalidError names what an evaluation request is missing or gets
// wrong. It ends a run as Rejected.
type RequestInvalidError struct {
	MissingRoles []string
	MissingKeys  []string
	Reason       string
}

func (e *RequestInvalidError) Error() string {
	var parts []string
	if len(e.MissingRoles) > 0 {
		parts = append(parts, "missing roles: "+strings.Join(e.MissingRoles, ", "))
	}
	if len(e.MissingKeys) > 0 {
		parts = append(parts, "missing config keys: "+strings.Join(e.MissingKeys, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	return "invalid evaluation request: " + strings.Join(parts, "; ")
}

// UnexpectedError wraps a panic or an error outside the known taxonomy.
type UnexpectedError struct {
	Value any
	Stack []byte
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %v", e.Value)
}

func (e *UnexpectedError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// terminalFor maps an error to the terminal state it ends a run in.
func terminalFor(err error) State {
	var (
		invalid   *RequestInvalidError
		malformed *submission.MalformedError
	)
	if errors.As(err, &invalid) || errors.As(err, &malformed) {
		return Rejected
	}
	return Failed
}

// failureMessage keeps the generic prefix for infrastructure errors and adds
// the cause for diagnostics.
func failureMessage(err error) string {
	var (
		startup  *sandbox.StartupError
		exec     *sandbox.ExecutionError
		transmit *dispatch.Error
	)
	switch {
	case errors.As(err, &startup), errors.As(err, &exec):
		return "sandbox infrastructure failure: " + err.Error()
	case errors.As(err, &transmit):
		return "could not reach auditor: " + err.Error()
	}
	return "evaluation failed: " + err.Error()
}
