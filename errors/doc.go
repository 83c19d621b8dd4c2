// Package errors provides structured error types for the peregrine runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes an element path and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLink, errors.KindTypeMismatch).
//		Path("import", "math.sum").
//		Detail("expected [i32 i32] -> [i32], got [i64] -> []").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingImport(0, "math", "sum")
//	err := errors.OutOfBounds(errors.PhaseValidate, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
//
// The public error taxonomy of the runtime (engine.CompileError,
// engine.DeserializeError, runtime.LinkError, runtime.HostInitError, vm.Trap)
// is built from concrete types in their owning packages; this package supplies
// the structured detail those types carry as causes.
package errors
