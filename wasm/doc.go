// Package wasm provides the core WebAssembly binary format primitives:
// the module data model, a binary decoder and encoder, and structural
// validation.
//
// The package targets the WebAssembly MVP plus sign-extension operators.
// Post-MVP proposals (GC, SIMD, threads, exception handling, memory64)
// are rejected at decode time rather than silently misparsed.
//
// Modules can be built two ways:
//
//	m, err := wasm.ParseModule(data)   // from a binary
//
//	m := &wasm.Module{...}             // programmatically
//	data := m.Encode()
//
// ParseModule enforces section ordering and leaves function bodies as raw
// bytes; DecodeInstructions turns a body into a typed instruction stream
// for consumers that need one (the interpreter backend, init-expression
// evaluation).
package wasm
