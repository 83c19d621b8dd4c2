package wazeroengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/peregrinevm/peregrine/engine"
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

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

// Instantiate implements engine.Artifact. Each call owns a fresh wazero
// runtime so synthesized host import modules never leak between
// instances.
func (a *artifact) Instantiate(ctx context.Context, imports *vm.ImportTable) (engine.InstanceHandle, error) {
	if imports == nil {
		imports = &vm.ImportTable{}
	}
	m := a.module

	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			return nil, werrors.Unsupported(werrors.PhaseLink,
				"non-function imports on the wazero backend")
		}
	}
	for _, exp := range m.Exports {
		if exp.Kind == wasm.KindTable {
			return nil, werrors.Unsupported(werrors.PhaseLink,
				"table exports on the wazero backend")
		}
	}
	if len(imports.Functions) < m.NumImportedFuncs() {
		imp := m.Imports[len(imports.Functions)]
		return nil, werrors.MissingImport(len(imports.Functions), imp.Module, imp.Name)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, a.engine.runtimeConfig())

	if err := a.defineHostModules(ctx, rt, imports.Functions); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, a.raw)
	if err != nil {
		rt.Close(ctx)
		return nil, engine.NewCompileError(err)
	}

	// The start section runs during instantiation; a trap there
	// discards the instance. The default "_start" convention is
	// disabled, only the declared start function runs.
	mod, err := rt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		rt.Close(ctx)
		return nil, mapGuestError(err)
	}

	exports, err := a.wrapExports(mod)
	if err != nil {
		mod.Close(ctx)
		rt.Close(ctx)
		return nil, err
	}
	return &handle{exports: exports, mod: mod, runtime: rt}, nil
}

// defineHostModules synthesizes one host module per distinct import
// module name, binding guest function imports to the positional import
// table. Host functions speak the flat raw-word stack directly.
func (a *artifact) defineHostModules(ctx context.Context, rt wazero.Runtime, funcs []*vm.Function) error {
	type hostFunc struct {
		name string
		typ  *wasm.FuncType
		fn   *vm.Function
	}
	var order []string
	grouped := make(map[string][]hostFunc)

	funcIdx := 0
	for _, imp := range a.module.Imports {
		ft := a.module.Types[imp.Desc.TypeIdx]
		fn := funcs[funcIdx]
		funcIdx++
		if _, ok := grouped[imp.Module]; !ok {
			order = append(order, imp.Module)
		}
		grouped[imp.Module] = append(grouped[imp.Module], hostFunc{
			name: imp.Name,
			typ:  ft,
			fn:   fn,
		})
	}

	for _, modName := range order {
		b := rt.NewHostModuleBuilder(modName)
		for _, hf := range grouped[modName] {
			fn := hf.fn
			b = b.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(
					func(ctx context.Context, _ api.Module, stack []uint64) {
						if err := fn.Call(ctx, fn, stack); err != nil {
							panic(err)
						}
					}),
					valueTypes(hf.typ.Params), valueTypes(hf.typ.Results)).
				Export(hf.name)
		}
		if _, err := b.Instantiate(ctx); err != nil {
			return werrors.Wrap(werrors.PhaseLink, werrors.KindInvalidData, err,
				fmt.Sprintf("instantiate host module %q", modName))
		}
	}
	return nil
}

// wrapExports adapts the instantiated module's exports behind the
// backend-neutral extern surface, in declaration order.
func (a *artifact) wrapExports(mod api.Module) ([]engine.Export, error) {
	m := a.module
	exports := make([]engine.Export, 0, len(m.Exports))
	for _, exp := range m.Exports {
		out := engine.Export{Name: exp.Name, Kind: exp.Kind}
		switch exp.Kind {
		case wasm.KindFunc:
			ft := m.FuncTypeAt(exp.Index)
			f := mod.ExportedFunction(exp.Name)
			if ft == nil || f == nil {
				return nil, werrors.NotFound(werrors.PhaseLink, "export", exp.Name)
			}
			out.Value.Func = &vm.Function{
				Type:  ft,
				Sig:   a.engine.RegisterSignature(ft),
				Index: exp.Index,
				Call: func(ctx context.Context, fn *vm.Function, values []uint64) error {
					return mapGuestError(f.CallWithStack(ctx, values))
				},
			}
		case wasm.KindGlobal:
			g := mod.ExportedGlobal(exp.Name)
			if g == nil {
				return nil, werrors.NotFound(werrors.PhaseLink, "export", exp.Name)
			}
			out.Value.Global = &global{typ: globalTypeAt(m, exp.Index), g: g}
		case wasm.KindMemory:
			mem := mod.ExportedMemory(exp.Name)
			if mem == nil {
				return nil, werrors.NotFound(werrors.PhaseLink, "export", exp.Name)
			}
			out.Value.Memory = &memory{typ: memoryTypeAt(m, exp.Index), mem: mem}
		}
		exports = append(exports, out)
	}
	return exports, nil
}

// mapGuestError converts wazero call failures into the shared trap
// model. Guest exits carry their exit code in the trap message.
func mapGuestError(err error) error {
	if err == nil {
		return nil
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return vm.NewTrap("module exited with code %d", exit.ExitCode())
	}
	return vm.TrapFromError(err)
}

func valueTypes(ts []wasm.ValType) []api.ValueType {
	if len(ts) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		switch t {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		}
	}
	return out
}

func globalTypeAt(m *wasm.Module, idx uint32) wasm.GlobalType {
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindGlobal {
			continue
		}
		if n == idx {
			return imp.Desc.Global
		}
		n++
	}
	return m.Globals[idx-n].Type
}

func memoryTypeAt(m *wasm.Module, idx uint32) wasm.MemoryType {
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindMemory {
			continue
		}
		if n == idx {
			return imp.Desc.Memory
		}
		n++
	}
	return m.Memories[idx-n]
}

// global adapts a wazero global to vm.Global.
type global struct {
	typ wasm.GlobalType
	g   api.Global
}

func (g *global) Type() wasm.GlobalType {
	return g.typ
}

func (g *global) Get() uint64 {
	return g.g.Get()
}

func (g *global) Set(raw uint64) error {
	mg, ok := g.g.(api.MutableGlobal)
	if !ok || !g.typ.Mutable {
		return werrors.InvalidInput(werrors.PhaseRuntime,
			"write to immutable global")
	}
	mg.Set(raw)
	return nil
}

// memory adapts a wazero memory to vm.Memory. Reads copy out of guest
// memory so callers never alias the live buffer.
type memory struct {
	typ wasm.MemoryType
	mem api.Memory
}

func (m *memory) Type() wasm.MemoryType {
	return m.typ
}

func (m *memory) Size() uint32 {
	return m.mem.Size() / uint32(wasm.PageSize)
}

func (m *memory) Grow(deltaPages uint32) (uint32, error) {
	prev, ok := m.mem.Grow(deltaPages)
	if !ok {
		return 0, werrors.LimitExceeded(werrors.PhaseRuntime, []string{"memory"},
			"growth exceeds maximum pages")
	}
	return prev, nil
}

func (m *memory) Read(offset, length uint32) ([]byte, error) {
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, werrors.OutOfBounds(werrors.PhaseRuntime,
			[]string{"memory"}, int(uint64(offset)+uint64(length)), int(m.mem.Size()))
	}
	return append([]byte(nil), view...), nil
}

func (m *memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return werrors.OutOfBounds(werrors.PhaseRuntime,
			[]string{"memory"}, int(uint64(offset))+len(data), int(m.mem.Size()))
	}
	return nil
}

// handle owns the instantiated module and its dedicated runtime.
type handle struct {
	exports []engine.Export
	mod     api.Module
	runtime wazero.Runtime
	once    sync.Once
}

// Exports implements engine.InstanceHandle.
func (h *handle) Exports() []engine.Export {
	return h.exports
}

// Close implements engine.InstanceHandle. Closing the runtime releases
// the module and all synthesized host modules.
func (h *handle) Close(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		if cerr := h.mod.Close(ctx); cerr != nil {
			err = cerr
		}
		if cerr := h.runtime.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
