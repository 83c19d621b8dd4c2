package runtime

import "fmt"

// LinkError reports that an import could not be satisfied. Nothing has
// executed when a LinkError is returned.
type LinkError struct {
	Index  int
	Module string
	Name   string
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *LinkError) Error() string {
	if e.Module == "" && e.Name == "" {
		return fmt.Sprintf("link error: %s", e.Reason)
	}
	return fmt.Sprintf("link error: import %d (%q.%q): %s", e.Index, e.Module, e.Name, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *LinkError) Unwrap() error {
	return e.Cause
}

// HostInitError reports that a host environment failed to initialize.
// No module code has run; previously initialized environments are not
// rolled back.
type HostInitError struct {
	Index int
	Cause error
}

// Error implements the error interface.
func (e *HostInitError) Error() string {
	return fmt.Sprintf("host environment for import %d failed to initialize: %v", e.Index, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *HostInitError) Unwrap() error {
	return e.Cause
}
