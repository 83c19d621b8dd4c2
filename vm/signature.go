package vm

import (
	"sync"

	"github.com/peregrinevm/peregrine/wasm"
)

// SignatureIndex identifies an interned function signature. Indices are
// only comparable within the registry that produced them.
type SignatureIndex uint32

// SignatureRegistry interns function signatures so that structural
// signature equality becomes index equality. Registration is idempotent:
// structurally equal types always map to the same index. Safe for
// concurrent use.
type SignatureRegistry struct {
	mu      sync.RWMutex
	indices map[string]SignatureIndex
	types   []*wasm.FuncType
}

// NewSignatureRegistry returns an empty registry.
func NewSignatureRegistry() *SignatureRegistry {
	return &SignatureRegistry{
		indices: make(map[string]SignatureIndex),
	}
}

// Register interns ft and returns its index. Structurally equal types
// share one index regardless of pointer identity.
func (r *SignatureRegistry) Register(ft *wasm.FuncType) SignatureIndex {
	key := ft.String()

	r.mu.RLock()
	idx, ok := r.indices[key]
	r.mu.RUnlock()
	if ok {
		return idx
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indices[key]; ok {
		return idx
	}
	idx = SignatureIndex(len(r.types))
	r.indices[key] = idx
	r.types = append(r.types, &wasm.FuncType{
		Params:  append([]wasm.ValType(nil), ft.Params...),
		Results: append([]wasm.ValType(nil), ft.Results...),
	})
	return idx
}

// Lookup returns the signature registered at idx. The second result is
// false if idx was never issued by this registry.
func (r *SignatureRegistry) Lookup(idx SignatureIndex) (*wasm.FuncType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.types) {
		return nil, false
	}
	return r.types[idx], true
}

// Len returns the number of distinct signatures interned so far.
func (r *SignatureRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
