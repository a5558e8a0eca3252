package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Host-facing outcomes
// ---------------------------------------------------------------------------

var (
	// ErrStackOverflow is matched by errors.Is for every *StackOverflowError.
	ErrStackOverflow = errors.New("stack level too deep")

	// ErrStepLimit is returned when a run exceeds Options.StepLimit.
	ErrStepLimit = errors.New("instruction step limit exceeded")

	// ErrContextDead is returned when a context that hit a fatal error is
	// entered again.
	ErrContextDead = errors.New("execution context terminated")

	// ErrFiberKilled unwinds the goroutine of a fiber abandoned by Close.
	ErrFiberKilled = errors.New("fiber killed")

	errCyclicInclude = errors.New("cyclic include detected")
)

// RaiseError is an exception that escaped to the host.
type RaiseError struct {
	Class     string
	Message   string
	Backtrace []string
	Value     Value
}

func (e *RaiseError) Error() string {
	return e.Class + ": " + e.Message
}

// Detail renders the error followed by its backtrace.
func (e *RaiseError) Detail() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	for _, line := range e.Backtrace {
		sb.WriteString("\n\tfrom ")
		sb.WriteString(line)
	}
	return sb.String()
}

// StackOverflowError reports that a context exceeded its frame depth. The
// context is terminated.
type StackOverflowError struct {
	Depth int
	Mid   string
}

func (e *StackOverflowError) Error() string {
	if e.Mid != "" {
		return fmt.Sprintf("%s (depth %d, calling %s)", ErrStackOverflow, e.Depth, e.Mid)
	}
	return fmt.Sprintf("%s (depth %d)", ErrStackOverflow, e.Depth)
}

func (e *StackOverflowError) Is(target error) bool { return target == ErrStackOverflow }

// InterruptError reports that the host's context.Context was cancelled or
// its deadline passed while a script was running.
type InterruptError struct {
	Steps uint64
	Err   error
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupted after %d steps: %v", e.Steps, e.Err)
}

func (e *InterruptError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Internal signals
// ---------------------------------------------------------------------------

// thrown carries a script-level exception (or a break) out of a nested
// execution. It never reaches the host; see hostError.
type thrown struct {
	exc Value
}

func (t *thrown) Error() string { return "uncaught throw" }

// raiseSignal is panicked by Context.Raise and recovered by the native
// call wrapper, which hands the exception to the catch-table search.
type raiseSignal struct {
	exc Value
}

// fatalSignal is panicked when a fatal error occurs under a native handler.
// It passes through every native boundary up to the host.
type fatalSignal struct {
	err error
}

// isFatal reports whether err ends the context rather than being a script
// exception.
func isFatal(err error) bool {
	var t *thrown
	return err != nil && !errors.As(err, &t)
}
