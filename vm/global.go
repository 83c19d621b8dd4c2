package vm

import (
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm"
)

// Global is a mutable or immutable guest global variable. Values are raw
// words per the trampoline convention.
type Global interface {
	Type() wasm.GlobalType
	Get() uint64
	Set(raw uint64) error
}

// GlobalInstance is the default in-process Global implementation.
type GlobalInstance struct {
	typ wasm.GlobalType
	val uint64
}

// NewGlobal creates a global with an initial value.
func NewGlobal(typ wasm.GlobalType, init uint64) *GlobalInstance {
	return &GlobalInstance{typ: typ, val: init}
}

// Type returns the global's type.
func (g *GlobalInstance) Type() wasm.GlobalType {
	return g.typ
}

// Get returns the current value.
func (g *GlobalInstance) Get() uint64 {
	return g.val
}

// Set updates the value. Immutable globals reject writes.
func (g *GlobalInstance) Set(raw uint64) error {
	if !g.typ.Mutable {
		return werrors.InvalidInput(werrors.PhaseRuntime,
			"write to immutable global")
	}
	g.val = raw
	return nil
}
