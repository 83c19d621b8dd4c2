// Package engine defines the compilation backend contract. An Engine
// turns WebAssembly binaries into Artifacts; an Artifact materializes
// instances against a set of link-checked imports. Backends are
// interchangeable behind these interfaces: the interpreter backend in
// engine/interp executes decoded instruction streams in-process, the
// wazero backend in engine/wazeroengine delegates to a compiled runtime,
// and the stub backend in engine/stub produces artifacts whose functions
// trap when called.
//
// Every engine owns a signature registry. All signatures flowing through
// one engine, whether from compiled modules or host functions, intern
// into that registry, so signature compatibility anywhere in the engine
// is an index comparison.
//
// Serialized artifacts carry an envelope naming the backend that
// produced them. Deserialization fails when the envelope names a
// different backend. Deserialized bytes are trusted; integrity checking
// beyond the envelope is the embedder's responsibility.
package engine
