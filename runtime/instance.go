package runtime

import (
	"context"

	"github.com/peregrinevm/peregrine/engine"
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm"
)

// NamedExtern is one instance export.
type NamedExtern struct {
	Name   string
	Extern Extern
}

// Instance is a live module instance. It is not safe for concurrent use
// from multiple goroutines; Close is the exception and is idempotent.
type Instance struct {
	handle  engine.InstanceHandle
	exports []NamedExtern
	byName  map[string]int
}

func newInstance(h engine.InstanceHandle) *Instance {
	raw := h.Exports()
	exports := make([]NamedExtern, 0, len(raw))
	byName := make(map[string]int, len(raw))
	for _, exp := range raw {
		var ext Extern
		switch exp.Kind {
		case wasm.KindFunc:
			ext = FuncExtern(exp.Value.Func)
		case wasm.KindGlobal:
			ext = GlobalExtern(exp.Value.Global)
		case wasm.KindTable:
			ext = TableExtern(exp.Value.Table)
		case wasm.KindMemory:
			ext = MemExtern(exp.Value.Memory)
		}
		byName[exp.Name] = len(exports)
		exports = append(exports, NamedExtern{Name: exp.Name, Extern: ext})
	}
	return &Instance{handle: h, exports: exports, byName: byName}
}

// Exports returns all exports in module declaration order. Callers must
// not mutate the returned slice.
func (i *Instance) Exports() []NamedExtern {
	return i.exports
}

// Export looks up an export by name.
func (i *Instance) Export(name string) (Extern, bool) {
	idx, ok := i.byName[name]
	if !ok {
		return Extern{}, false
	}
	return i.exports[idx].Extern, true
}

// Call invokes an exported function by name. Arguments and results are
// raw words per the trampoline convention.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	ext, ok := i.Export(name)
	if !ok {
		return nil, werrors.NotFound(werrors.PhaseRuntime, "export", name)
	}
	if ext.Kind() != wasm.KindFunc {
		return nil, werrors.KindMismatch(werrors.PhaseRuntime, []string{"export", name},
			wasm.KindName(wasm.KindFunc), wasm.KindName(ext.Kind()))
	}
	return ext.Func().Invoke(ctx, args...)
}

// Close releases the instance's backend resources. It never runs guest
// code and may be called more than once.
func (i *Instance) Close(ctx context.Context) error {
	return i.handle.Close(ctx)
}
