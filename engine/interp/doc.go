// Package interp provides a pure-Go interpreter backend. Compilation
// lowers each function body to a decoded instruction stream with branch
// targets pre-resolved; execution walks the stream with an explicit
// value stack and control frame stack. The backend supports the full
// import surface: functions, globals, tables and memories all link
// positionally, and the start function runs under the embedder's
// context.
//
// The interpreter favors predictability over speed. Every memory access
// is bounds checked, call depth is bounded by the engine's tunables, and
// context cancellation is observed at calls and backward branches.
package interp
