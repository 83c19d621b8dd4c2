package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// Engine is a compilation backend. Implementations are safe for
// concurrent use; one engine typically serves many modules.
type Engine interface {
	// Name identifies the backend in serialized artifact envelopes.
	Name() string

	// Tunables returns the resource limits applied to instances
	// materialized by this engine's artifacts.
	Tunables() Tunables

	// RegisterSignature interns a function signature in the engine's
	// registry. Structurally equal signatures share one index.
	RegisterSignature(ft *wasm.FuncType) vm.SignatureIndex

	// LookupSignature resolves a previously registered index.
	LookupSignature(idx vm.SignatureIndex) (*wasm.FuncType, bool)

	// FunctionCallTrampoline returns the engine's calling convention for
	// functions of the given signature. The trampoline is selected by
	// signature, not by function: it accepts any Function carrying the
	// index. It reports false for indices the engine never registered.
	FunctionCallTrampoline(idx vm.SignatureIndex) (vm.Trampoline, bool)

	// Validate checks a binary without compiling it.
	Validate(data []byte) error

	// Compile validates and compiles a binary into an artifact.
	Compile(ctx context.Context, data []byte) (Artifact, error)

	// Deserialize revives an artifact from Serialize output. The data is
	// trusted; only the envelope is checked.
	Deserialize(ctx context.Context, data []byte) (Artifact, error)
}

// Artifact is a compiled module, ready to be instantiated any number of
// times.
type Artifact interface {
	// Engine returns the engine that produced the artifact.
	Engine() Engine

	// Module returns the decoded module metadata: imports, exports,
	// signatures. Callers must not mutate it.
	Module() *wasm.Module

	// Serialize encodes the artifact for Engine.Deserialize.
	Serialize() ([]byte, error)

	// Instantiate materializes an instance against link-checked imports.
	// It runs the module's start function when one is declared before
	// returning; a start trap discards the instance. It performs no
	// import re-validation beyond what linking already did.
	Instantiate(ctx context.Context, imports *vm.ImportTable) (InstanceHandle, error)
}

// InstanceHandle is a live module instance owned by a backend.
type InstanceHandle interface {
	// Exports returns the instance's exports in module declaration order.
	Exports() []Export

	// Close releases backend resources. Closing is idempotent.
	Close(ctx context.Context) error
}

// Export is one named instance export.
type Export struct {
	Name  string
	Kind  byte // wasm.Kind* constant
	Value ExportValue
}

// ExportValue is a tagged union over the four extern kinds. Exactly one
// field is non-nil, matching the export's Kind.
type ExportValue struct {
	Func   *vm.Function
	Global vm.Global
	Table  vm.Table
	Memory vm.Memory
}

// DispatchTrampoline builds a trampoline for one signature index that
// verifies the function carries that signature before delegating to its
// bound body. Backends whose functions each close over their own body
// share this as their FunctionCallTrampoline result.
func DispatchTrampoline(idx vm.SignatureIndex) vm.Trampoline {
	return func(ctx context.Context, fn *vm.Function, values []uint64) error {
		if fn.Sig != idx {
			return vm.NewTrap("function signature mismatch")
		}
		return fn.Call(ctx, fn, values)
	}
}

// CompileError reports that a binary failed validation or compilation.
type CompileError struct {
	Cause error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CompileError) Unwrap() error {
	return e.Cause
}

// NewCompileError wraps err as a CompileError, passing through an
// existing one.
func NewCompileError(err error) *CompileError {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce
	}
	return &CompileError{Cause: err}
}

// DeserializeError reports that serialized artifact data could not be
// revived.
type DeserializeError struct {
	Cause error
}

// Error implements the error interface.
func (e *DeserializeError) Error() string {
	return fmt.Sprintf("deserialize error: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DeserializeError) Unwrap() error {
	return e.Cause
}

// NewDeserializeError wraps err as a DeserializeError, passing through
// an existing one.
func NewDeserializeError(err error) *DeserializeError {
	var de *DeserializeError
	if errors.As(err, &de) {
		return de
	}
	return &DeserializeError{Cause: err}
}
