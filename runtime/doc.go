// Package runtime orchestrates linking and instantiation on top of the
// engine backends.
//
// Imports are resolved positionally through a Resolver, link-checked
// against the module's declared types before any guest code runs, and
// handed to the backend as a vm.ImportTable. Host environments attached
// to resolved function imports are initialized after the link check and
// before instantiation. A start function trap discards the half-built
// instance.
package runtime
