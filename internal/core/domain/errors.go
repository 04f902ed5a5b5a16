package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecipe is returned when a recipe fails validation.
	ErrInvalidRecipe = errors.New("invalid recipe")
	// ErrInvalidTransition is returned when a build is moved out of a terminal state.
	ErrInvalidTransition = errors.New("invalid build state transition")
	// ErrNotFound is returned when a build or container does not exist.
	ErrNotFound = errors.New("not found")
)

// BuildError is a build-time failure. It is always fatal for the build attempt.
type BuildError struct {
	Step StepName
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at step %s: %v", e.Step, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// RuntimeReason classifies a launch failure.
type RuntimeReason string

const (
	// ReasonEntrypoint means the process exited while starting, usually because
	// the named application object does not exist.
	ReasonEntrypoint RuntimeReason = "entrypoint"
	// ReasonPort means the port could not be bound or was not a valid port.
	ReasonPort RuntimeReason = "port"
)

// RuntimeError is a failure of the launched process. There is no retry.
type RuntimeError struct {
	Reason   RuntimeReason
	ExitCode int
	Output   string
	Err      error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("runtime failure (%s)", e.Reason)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(": exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecipe, fmt.Sprintf(format, args...))
}
