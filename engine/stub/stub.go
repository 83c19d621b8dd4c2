// Package stub provides a backend that compiles modules without
// generating any executable code. Artifacts decode, validate, serialize
// and instantiate normally; calling any guest function traps. The stub
// backend exercises the full engine contract in environments where
// execution is unavailable or unwanted, and keeps the contract honest:
// anything that works against the stub except calling functions must
// work against every backend.
package stub

import (
	"context"

	"go.uber.org/zap"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// BackendName identifies the stub backend in artifact envelopes.
const BackendName = "stub"

// Engine is the stub backend.
type Engine struct {
	tunables   engine.Tunables
	signatures *vm.SignatureRegistry
}

// New creates a stub engine with default tunables.
func New() *Engine {
	return NewWithTunables(engine.DefaultTunables())
}

// NewWithTunables creates a stub engine with explicit tunables.
func NewWithTunables(t engine.Tunables) *Engine {
	return &Engine{
		tunables:   t,
		signatures: vm.NewSignatureRegistry(),
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string {
	return BackendName
}

// Tunables implements engine.Engine.
func (e *Engine) Tunables() engine.Tunables {
	return e.tunables
}

// RegisterSignature implements engine.Engine.
func (e *Engine) RegisterSignature(ft *wasm.FuncType) vm.SignatureIndex {
	return e.signatures.Register(ft)
}

// LookupSignature implements engine.Engine.
func (e *Engine) LookupSignature(idx vm.SignatureIndex) (*wasm.FuncType, bool) {
	return e.signatures.Lookup(idx)
}

// FunctionCallTrampoline implements engine.Engine. One trampoline serves
// every signature: stub functions trap when called.
func (e *Engine) FunctionCallTrampoline(idx vm.SignatureIndex) (vm.Trampoline, bool) {
	if _, ok := e.signatures.Lookup(idx); !ok {
		return nil, false
	}
	return stubTrampoline, true
}

func stubTrampoline(ctx context.Context, fn *vm.Function, values []uint64) error {
	return vm.NewTrap("function %d called on a stub artifact", fn.Index)
}

// Validate implements engine.Engine.
func (e *Engine) Validate(data []byte) error {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return engine.NewCompileError(err)
	}
	if err := wasm.Validate(m); err != nil {
		return engine.NewCompileError(err)
	}
	return nil
}

// Compile implements engine.Engine.
func (e *Engine) Compile(ctx context.Context, data []byte) (engine.Artifact, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, engine.NewCompileError(err)
	}
	if err := wasm.Validate(m); err != nil {
		return nil, engine.NewCompileError(err)
	}
	for _, ft := range m.Types {
		e.signatures.Register(ft)
	}
	engine.Logger().Debug("compiled module",
		zap.String("backend", BackendName),
		zap.Int("functions", len(m.Funcs)),
		zap.Int("imports", len(m.Imports)))
	return &artifact{engine: e, module: m, raw: append([]byte(nil), data...)}, nil
}

// Deserialize implements engine.Engine.
func (e *Engine) Deserialize(ctx context.Context, data []byte) (engine.Artifact, error) {
	payload, err := engine.DecodeEnvelope(BackendName, data)
	if err != nil {
		return nil, err
	}
	m, err := wasm.ParseModule(payload)
	if err != nil {
		return nil, engine.NewDeserializeError(err)
	}
	for _, ft := range m.Types {
		e.signatures.Register(ft)
	}
	return &artifact{engine: e, module: m, raw: append([]byte(nil), payload...)}, nil
}

type artifact struct {
	engine *Engine
	module *wasm.Module
	raw    []byte
}

// Engine implements engine.Artifact.
func (a *artifact) Engine() engine.Engine {
	return a.engine
}

// Module implements engine.Artifact.
func (a *artifact) Module() *wasm.Module {
	return a.module
}

// Serialize implements engine.Artifact.
func (a *artifact) Serialize() ([]byte, error) {
	return engine.EncodeEnvelope(BackendName, a.raw), nil
}

// Instantiate implements engine.Artifact. Memories, globals and tables
// materialize normally; functions trap when called. A declared start
// function therefore traps and discards the instance.
func (a *artifact) Instantiate(ctx context.Context, imports *vm.ImportTable) (engine.InstanceHandle, error) {
	m := a.module
	if imports == nil {
		imports = &vm.ImportTable{}
	}

	funcs := append([]*vm.Function(nil), imports.Functions...)
	for i, typeIdx := range m.Funcs {
		ft := m.Types[typeIdx]
		idx := uint32(m.NumImportedFuncs() + i)
		funcs = append(funcs, &vm.Function{
			Type:  ft,
			Sig:   a.engine.signatures.Register(ft),
			Index: idx,
			Call:  stubTrampoline,
		})
	}

	globals := append([]vm.Global(nil), imports.Globals...)
	for _, g := range m.Globals {
		init, err := vm.EvalConstExpr(g.Init, globals)
		if err != nil {
			return nil, err
		}
		globals = append(globals, vm.NewGlobal(g.Type, init))
	}

	tables := append([]vm.Table(nil), imports.Tables...)
	for _, tt := range m.Tables {
		tables = append(tables, vm.NewTable(tt))
	}

	memories := append([]vm.Memory(nil), imports.Memories...)
	for _, mt := range m.Memories {
		memories = append(memories, vm.NewMemory(mt, a.engine.tunables.MemoryLimitPages()))
	}

	for _, el := range m.Elements {
		offset, err := vm.EvalConstExpr(el.Offset, globals)
		if err != nil {
			return nil, err
		}
		tbl := tables[el.TableIdx]
		for i, f := range el.Funcs {
			if err := tbl.Set(uint32(offset)+uint32(i), funcs[f]); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range m.Data {
		offset, err := vm.EvalConstExpr(d.Offset, globals)
		if err != nil {
			return nil, err
		}
		if err := memories[d.MemIdx].Write(uint32(offset), d.Data); err != nil {
			return nil, err
		}
	}

	if m.Start != nil {
		// Running the start function on a stub artifact traps; the
		// instance never becomes observable.
		return nil, vm.NewTrap("start function %d called on a stub artifact", *m.Start)
	}

	return newHandle(m, funcs, globals, tables, memories), nil
}

type handle struct {
	exports []engine.Export
}

func newHandle(m *wasm.Module, funcs []*vm.Function, globals []vm.Global, tables []vm.Table, memories []vm.Memory) *handle {
	exports := make([]engine.Export, 0, len(m.Exports))
	for _, exp := range m.Exports {
		out := engine.Export{Name: exp.Name, Kind: exp.Kind}
		switch exp.Kind {
		case wasm.KindFunc:
			out.Value.Func = funcs[exp.Index]
		case wasm.KindGlobal:
			out.Value.Global = globals[exp.Index]
		case wasm.KindTable:
			out.Value.Table = tables[exp.Index]
		case wasm.KindMemory:
			out.Value.Memory = memories[exp.Index]
		}
		exports = append(exports, out)
	}
	return &handle{exports: exports}
}

// Exports implements engine.InstanceHandle.
func (h *handle) Exports() []engine.Export {
	return h.exports
}

// Close implements engine.InstanceHandle. Stub instances hold no
// backend resources; closing is trivially idempotent.
func (h *handle) Close(ctx context.Context) error {
	return nil
}
