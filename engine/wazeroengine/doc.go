// Package wazeroengine is the wazero-backed compilation backend.
//
// Each engine owns a shared compilation cache; every instantiation gets
// a fresh wazero runtime so host import modules never collide between
// instances. Imported functions are synthesized as wazero host modules
// speaking the same flat raw-word calling convention as the rest of the
// backends. Non-function imports and table exports are not expressible
// through wazero's public API and are rejected at instantiation.
package wazeroengine
