package runtime

import (
	"fmt"

	"github.com/peregrinevm/peregrine/engine"
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// hostInit pairs a resolved host environment with the import it was
// attached to, preserving resolution order.
type hostInit struct {
	index int
	env   HostEnv
}

// link resolves and type-checks every declared import, building the
// positional import table the backend consumes. It runs no guest code.
func link(m *wasm.Module, eng engine.Engine, r Resolver) (*vm.ImportTable, []hostInit, error) {
	table := &vm.ImportTable{}
	var envs []hostInit

	for i, imp := range m.Imports {
		ext, ok := r.Resolve(i, imp.Module, imp.Name)
		if !ok {
			return nil, nil, &LinkError{
				Index:  i,
				Module: imp.Module,
				Name:   imp.Name,
				Reason: "import not resolved",
				Cause:  werrors.MissingImport(i, imp.Module, imp.Name),
			}
		}
		if ext.Kind() != imp.Desc.Kind {
			return nil, nil, &LinkError{
				Index:  i,
				Module: imp.Module,
				Name:   imp.Name,
				Reason: fmt.Sprintf("kind mismatch: want %s, got %s",
					wasm.KindName(imp.Desc.Kind), wasm.KindName(ext.Kind())),
			}
		}

		switch imp.Desc.Kind {
		case wasm.KindFunc:
			ft := m.Types[imp.Desc.TypeIdx]
			want := eng.RegisterSignature(ft)
			fn := ext.Func()
			if fn.Sig != want {
				return nil, nil, &LinkError{
					Index:  i,
					Module: imp.Module,
					Name:   imp.Name,
					Reason: fmt.Sprintf("function type mismatch: want %s, got %s",
						ft.String(), fn.Type.String()),
				}
			}
			table.Functions = append(table.Functions, fn)
			if ext.env != nil {
				envs = append(envs, hostInit{index: i, env: ext.env})
			}

		case wasm.KindGlobal:
			got := ext.Global().Type()
			want := imp.Desc.Global
			if got.ValType != want.ValType || got.Mutable != want.Mutable {
				return nil, nil, &LinkError{
					Index:  i,
					Module: imp.Module,
					Name:   imp.Name,
					Reason: fmt.Sprintf("global type mismatch: want %s mutable=%v, got %s mutable=%v",
						want.ValType, want.Mutable, got.ValType, got.Mutable),
				}
			}
			table.Globals = append(table.Globals, ext.Global())

		case wasm.KindTable:
			got := ext.Table().Type()
			want := imp.Desc.Table
			if got.ElemType != want.ElemType {
				return nil, nil, &LinkError{
					Index:  i,
					Module: imp.Module,
					Name:   imp.Name,
					Reason: fmt.Sprintf("table element type mismatch: want %s, got %s",
						want.ElemType, got.ElemType),
				}
			}
			if err := limitsFit(got.Limits, want.Limits); err != "" {
				return nil, nil, &LinkError{
					Index: i, Module: imp.Module, Name: imp.Name,
					Reason: "table " + err,
				}
			}
			table.Tables = append(table.Tables, ext.Table())

		case wasm.KindMemory:
			got := ext.Memory().Type()
			if err := limitsFit(got.Limits, imp.Desc.Memory.Limits); err != "" {
				return nil, nil, &LinkError{
					Index: i, Module: imp.Module, Name: imp.Name,
					Reason: "memory " + err,
				}
			}
			table.Memories = append(table.Memories, ext.Memory())
		}
	}
	return table, envs, nil
}

// limitsFit checks import limit subtyping: the provided extern must be
// at least as large as required and no larger than the required bound.
func limitsFit(got, want wasm.Limits) string {
	if got.Min < want.Min {
		return fmt.Sprintf("minimum too small: want at least %d, got %d", want.Min, got.Min)
	}
	if want.HasMax {
		if !got.HasMax {
			return fmt.Sprintf("missing maximum: want at most %d", want.Max)
		}
		if got.Max > want.Max {
			return fmt.Sprintf("maximum too large: want at most %d, got %d", want.Max, got.Max)
		}
	}
	return ""
}
