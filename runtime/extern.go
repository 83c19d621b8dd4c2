package runtime

import (
	"context"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// Extern is a tagged union over the four extern kinds. Externs wrap
// shared runtime state; Clone shares that state, it never copies it.
type Extern struct {
	kind   byte
	fn     *vm.Function
	global vm.Global
	table  vm.Table
	mem    vm.Memory
	env    HostEnv
}

// FuncExtern wraps a function.
func FuncExtern(fn *vm.Function) Extern {
	return Extern{kind: wasm.KindFunc, fn: fn}
}

// GlobalExtern wraps a global.
func GlobalExtern(g vm.Global) Extern {
	return Extern{kind: wasm.KindGlobal, global: g}
}

// TableExtern wraps a table.
func TableExtern(t vm.Table) Extern {
	return Extern{kind: wasm.KindTable, table: t}
}

// MemExtern wraps a memory.
func MemExtern(m vm.Memory) Extern {
	return Extern{kind: wasm.KindMemory, mem: m}
}

// Kind returns the extern's wasm.Kind* constant.
func (e Extern) Kind() byte {
	return e.kind
}

// Func returns the wrapped function, or nil for other kinds.
func (e Extern) Func() *vm.Function {
	return e.fn
}

// Global returns the wrapped global, or nil for other kinds.
func (e Extern) Global() vm.Global {
	return e.global
}

// Table returns the wrapped table, or nil for other kinds.
func (e Extern) Table() vm.Table {
	return e.table
}

// Memory returns the wrapped memory, or nil for other kinds.
func (e Extern) Memory() vm.Memory {
	return e.mem
}

// Clone returns an extern sharing the same underlying state.
func (e Extern) Clone() Extern {
	return e
}

// HostEnv is optional state attached to a host function import. Init
// runs after link-checking succeeds and before any guest code.
type HostEnv interface {
	Init(ctx context.Context) error
}

// HostFunc is the Go-side body of a host function. The values buffer
// follows the trampoline convention: arguments in, results out.
type HostFunc func(ctx context.Context, values []uint64) error

// HostOption configures NewHostFunction.
type HostOption func(*Extern)

// WithEnv attaches a host environment to the function extern.
func WithEnv(env HostEnv) HostOption {
	return func(e *Extern) {
		e.env = env
	}
}

// NewHostFunction builds a function extern backed by a Go function,
// registered against the engine's signature registry.
func NewHostFunction(eng engine.Engine, ft *wasm.FuncType, host HostFunc, opts ...HostOption) Extern {
	fn := &vm.Function{
		Type: ft,
		Sig:  eng.RegisterSignature(ft),
		Call: func(ctx context.Context, _ *vm.Function, values []uint64) error {
			return host(ctx, values)
		},
	}
	e := FuncExtern(fn)
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
