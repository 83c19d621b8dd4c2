package vm

import (
	"context"

	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm"
)

// Trampoline is the uniform calling convention between the embedder and
// a backend. The values slice carries the arguments on entry and must
// hold the results on return; its capacity is max(params, results) raw
// words. The trampoline returns a *Trap (as error) when guest execution
// traps.
type Trampoline func(ctx context.Context, fn *Function, values []uint64) error

// Function is a callable guest or host function bound to its signature.
type Function struct {
	// Type is the function signature.
	Type *wasm.FuncType

	// Sig is Type interned in the owning runtime's registry.
	Sig SignatureIndex

	// Index is the function's index in its module's function index space,
	// when the function originates from a module.
	Index uint32

	// Call invokes the function through its backend's trampoline.
	Call Trampoline
}

// Invoke calls the function with typed raw-word arguments and returns
// the results in a fresh slice.
func (f *Function) Invoke(ctx context.Context, args ...uint64) ([]uint64, error) {
	if len(args) != len(f.Type.Params) {
		return nil, werrors.InvalidInput(werrors.PhaseRuntime,
			"argument count does not match signature")
	}
	n := len(args)
	if r := len(f.Type.Results); r > n {
		n = r
	}
	values := make([]uint64, n)
	copy(values, args)
	if err := f.Call(ctx, f, values); err != nil {
		return nil, err
	}
	return values[:len(f.Type.Results)], nil
}
