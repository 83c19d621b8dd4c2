// Package vm defines the runtime value model shared by all execution
// backends: deduplicated function signatures, the flat trampoline calling
// convention, and the function, global, table and memory objects that
// instances are built from.
//
// Signatures are interned in a SignatureRegistry. Two functions are
// call-compatible exactly when they carry the same SignatureIndex, which
// reduces indirect call type checks to an integer comparison.
//
// All values cross the trampoline boundary as raw 64-bit words. Floats
// travel as their IEEE 754 bit patterns; narrower integers are
// zero-extended. The helpers in values.go convert between typed values
// and raw words.
package vm
