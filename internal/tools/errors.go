package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityNotFound is matched by *CapabilityNotFoundError.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrMissingParameter is matched by *ParameterError for absent required parameters.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrNotDeclared is returned when binding a name the catalog does not declare.
	ErrNotDeclared = errors.New("capability not declared in catalog")
)

// CapabilityNotFoundError reports that no callable resolves for a persona and function.
type CapabilityNotFoundError struct {
	Persona  string
	Function string
}

func (e *CapabilityNotFoundError) Error() string {
	return fmt.Sprintf("capability %q not found for persona %q", e.Function, e.Persona)
}

// Is lets errors.Is match ErrCapabilityNotFound.
func (e *CapabilityNotFoundError) Is(target error) bool {
	return target == ErrCapabilityNotFound
}

// ParameterError is a parameter validation failure, either detected by the
// Executor or returned by the callable itself.
type ParameterError struct {
	Persona   string
	Function  string
	Parameter string
	Err       error
}

func (e *ParameterError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s.%s: parameter %q: %v", e.Persona, e.Function, e.Parameter, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Persona, e.Function, e.Err)
}

func (e *ParameterError) Unwrap() error { return e.Err }

// ExecutionError wraps an error returned by a callable with its persona and function.
type ExecutionError struct {
	Persona  string
	Function string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s.%s failed after %d attempt(s): %v", e.Persona, e.Function, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying under the retry policy.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// MissingParameter builds the error a callable returns for an absent argument.
func MissingParameter(name string) error {
	return &ParameterError{Parameter: name, Err: ErrMissingParameter}
}
