package vm

import (
	"errors"
	"fmt"
)

// Trap represents abnormal termination of guest code: an unreachable
// instruction, a runtime check failure, or a host function that aborted
// execution. A trap unwinds the whole call stack; there is no partial
// recovery within the instance.
type Trap struct {
	// Message describes the trap origin.
	Message string

	// Frames is the guest call stack at the point of the trap, innermost
	// first. May be empty when the backend cannot reconstruct it.
	Frames []Frame

	// Cause is the underlying error for traps raised by host functions.
	Cause error
}

// Frame is one guest stack frame.
type Frame struct {
	FuncIndex uint32
	FuncName  string
}

// String renders the frame for trap messages.
func (f Frame) String() string {
	if f.FuncName != "" {
		return fmt.Sprintf("%s (func %d)", f.FuncName, f.FuncIndex)
	}
	return fmt.Sprintf("func %d", f.FuncIndex)
}

// NewTrap creates a trap with a formatted message.
func NewTrap(format string, args ...any) *Trap {
	return &Trap{Message: fmt.Sprintf(format, args...)}
}

// WithFrame appends a guest stack frame and returns the trap.
func (t *Trap) WithFrame(funcIndex uint32) *Trap {
	t.Frames = append(t.Frames, Frame{FuncIndex: funcIndex})
	return t
}

// TrapFromError wraps a host error as a trap. If err already is a trap
// it is returned unchanged.
func TrapFromError(err error) *Trap {
	var t *Trap
	if errors.As(err, &t) {
		return t
	}
	return &Trap{Message: err.Error(), Cause: err}
}

// Error implements the error interface.
func (t *Trap) Error() string {
	return "trap: " + t.Message
}

// Unwrap returns the host error that raised the trap, if any.
func (t *Trap) Unwrap() error {
	return t.Cause
}

// AsTrap extracts a trap from an error chain.
func AsTrap(err error) (*Trap, bool) {
	var t *Trap
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
