package interp

import (
	"context"

	"github.com/peregrinevm/peregrine/engine"
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

type artifact struct {
	engine   *Engine
	module   *wasm.Module
	raw      []byte
	funcs    []*compiledFunc
	typeSigs []vm.SignatureIndex
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

// Instantiate implements engine.Artifact.
func (a *artifact) Instantiate(ctx context.Context, imports *vm.ImportTable) (engine.InstanceHandle, error) {
	if imports == nil {
		imports = &vm.ImportTable{}
	}
	m := a.module
	t := a.engine.tunables

	depth := t.CallStackDepth()
	if depth == 0 {
		depth = engine.DefaultTunables().StackDepth
	}
	in := &instance{
		module:   m,
		typeSigs: a.typeSigs,
		depth:    depth,
	}

	in.funcs = append([]*vm.Function(nil), imports.Functions...)
	for _, cf := range a.funcs {
		cf := cf
		in.funcs = append(in.funcs, &vm.Function{
			Type:  cf.typ,
			Sig:   cf.sig,
			Index: cf.index,
			Call: func(ctx context.Context, fn *vm.Function, values []uint64) (err error) {
				// A panic escaping a guest or imported host frame
				// surfaces as a trap, never past the embedder's call.
				defer func() {
					if r := recover(); r != nil {
						if e, ok := r.(error); ok {
							err = vm.TrapFromError(e)
						} else {
							err = vm.NewTrap("%v", r)
						}
					}
				}()
				results, execErr := in.exec(ctx, cf, values[:len(cf.typ.Params)])
				if execErr != nil {
					return execErr
				}
				copy(values, results)
				return nil
			},
		})
	}

	in.globals = append([]vm.Global(nil), imports.Globals...)
	importedGlobals := in.globals
	for _, g := range m.Globals {
		init, err := vm.EvalConstExpr(g.Init, importedGlobals)
		if err != nil {
			return nil, err
		}
		in.globals = append(in.globals, vm.NewGlobal(g.Type, init))
	}

	in.tables = append([]vm.Table(nil), imports.Tables...)
	for _, tt := range m.Tables {
		if limit := t.TableLimitElements(); limit > 0 && tt.Limits.Min > limit {
			return nil, werrors.LimitExceeded(werrors.PhaseLink, []string{"table"},
				"declared minimum exceeds engine limit")
		}
		in.tables = append(in.tables, vm.NewTable(tt))
	}

	in.memories = append([]vm.Memory(nil), imports.Memories...)
	for _, mt := range m.Memories {
		if limit := t.MemoryLimitPages(); limit > 0 && uint64(mt.Limits.Min) > limit {
			return nil, werrors.LimitExceeded(werrors.PhaseLink, []string{"memory"},
				"declared minimum exceeds engine limit")
		}
		in.memories = append(in.memories, vm.NewMemory(mt, t.MemoryLimitPages()))
	}

	for _, el := range m.Elements {
		offset, err := vm.EvalConstExpr(el.Offset, importedGlobals)
		if err != nil {
			return nil, err
		}
		tbl := in.tables[el.TableIdx]
		end := uint64(uint32(offset)) + uint64(len(el.Funcs))
		if end > uint64(tbl.Size()) {
			return nil, vm.NewTrap("out of bounds table access")
		}
		for i, f := range el.Funcs {
			if err := tbl.Set(uint32(offset)+uint32(i), in.funcs[f]); err != nil {
				return nil, vm.TrapFromError(err)
			}
		}
	}
	for _, d := range m.Data {
		offset, err := vm.EvalConstExpr(d.Offset, importedGlobals)
		if err != nil {
			return nil, err
		}
		if err := in.memories[d.MemIdx].Write(uint32(offset), d.Data); err != nil {
			return nil, vm.NewTrap("out of bounds memory access")
		}
	}

	if m.Start != nil {
		start := in.funcs[*m.Start]
		if err := start.Call(ctx, start, nil); err != nil {
			// A start trap discards the instance.
			return nil, err
		}
	}

	return newHandle(m, in), nil
}

type handle struct {
	exports []engine.Export
}

func newHandle(m *wasm.Module, in *instance) *handle {
	exports := make([]engine.Export, 0, len(m.Exports))
	for _, exp := range m.Exports {
		out := engine.Export{Name: exp.Name, Kind: exp.Kind}
		switch exp.Kind {
		case wasm.KindFunc:
			out.Value.Func = in.funcs[exp.Index]
		case wasm.KindGlobal:
			out.Value.Global = in.globals[exp.Index]
		case wasm.KindTable:
			out.Value.Table = in.tables[exp.Index]
		case wasm.KindMemory:
			out.Value.Memory = in.memories[exp.Index]
		}
		exports = append(exports, out)
	}
	return &handle{exports: exports}
}

// Exports implements engine.InstanceHandle.
func (h *handle) Exports() []engine.Export {
	return h.exports
}

// Close implements engine.InstanceHandle. Interpreter instances hold no
// backend resources; closing is trivially idempotent.
func (h *handle) Close(ctx context.Context) error {
	return nil
}
