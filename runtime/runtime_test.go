package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/engine/interp"
	"github.com/peregrinevm/peregrine/engine/wazeroengine"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// sumModule imports math.sum(i32,i32,i32)->i32 and exports
// add_one(i32)->i32 computing sum(x, 1, 0).
func sumModule() []byte {
	m := &wasm.Module{}
	sumIdx := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	addIdx := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Imports = []wasm.Import{{
		Module: "math", Name: "sum",
		Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: sumIdx},
	}}
	m.Funcs = []uint32{addIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{
		wasm.OpLocalGet, 0,
		wasm.OpI32Const, 1,
		wasm.OpI32Const, 0,
		wasm.OpCall, 0,
		wasm.OpEnd,
	}}}
	m.Exports = []wasm.Export{{Name: "add_one", Kind: wasm.KindFunc, Index: 1}}
	return wasm.Encode(m)
}

func sumExtern(eng engine.Engine, opts ...HostOption) Extern {
	ft := &wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	return NewHostFunction(eng, ft, func(ctx context.Context, values []uint64) error {
		values[0] = vm.RawI32(vm.AsI32(values[0]) + vm.AsI32(values[1]) + vm.AsI32(values[2]))
		return nil
	}, opts...)
}

func compileOn(t *testing.T, eng engine.Engine, data []byte) *Module {
	t.Helper()
	m, err := Compile(context.Background(), eng, data)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return m
}

func TestInstantiate_SumScenario(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	inst, err := Instantiate(context.Background(), m, []Extern{sumExtern(eng)})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(context.Background())

	out, err := inst.Call(context.Background(), "add_one", vm.RawI32(41))
	if err != nil {
		t.Fatalf("add_one: %v", err)
	}
	if vm.AsI32(out[0]) != 42 {
		t.Errorf("got %d", vm.AsI32(out[0]))
	}
}

func TestInstantiate_SumScenario_AllBackends(t *testing.T) {
	backends := map[string]func() engine.Engine{
		"interp": func() engine.Engine { return interp.New() },
		"wazero": func() engine.Engine { return wazeroengine.New() },
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			eng := mk()
			m := compileOn(t, eng, sumModule())
			inst, err := Instantiate(context.Background(), m, []Extern{sumExtern(eng)})
			if err != nil {
				t.Fatalf("Instantiate: %v", err)
			}
			defer inst.Close(context.Background())

			out, err := inst.Call(context.Background(), "add_one", vm.RawI32(6))
			if err != nil {
				t.Fatalf("add_one: %v", err)
			}
			if vm.AsI32(out[0]) != 7 {
				t.Errorf("got %d", vm.AsI32(out[0]))
			}
		})
	}
}

func TestInstantiate_TruncatesExcessImports(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	// Extra externs past the declared import count are ignored.
	extra := GlobalExtern(vm.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, 9))
	inst, err := Instantiate(context.Background(), m,
		[]Extern{sumExtern(eng), extra, extra})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	inst.Close(context.Background())
}

func TestInstantiate_MissingImport(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	_, err := Instantiate(context.Background(), m, nil)
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkError, got %v", err)
	}
	if le.Index != 0 || le.Module != "math" || le.Name != "sum" {
		t.Errorf("link error fields: %+v", le)
	}
}

func TestInstantiate_KindMismatch(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	g := GlobalExtern(vm.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, 0))
	_, err := Instantiate(context.Background(), m, []Extern{g})
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkError, got %v", err)
	}
}

func TestInstantiate_FunctionTypeMismatch(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	wrong := NewHostFunction(eng, &wasm.FuncType{}, func(ctx context.Context, values []uint64) error {
		return nil
	})
	_, err := Instantiate(context.Background(), m, []Extern{wrong})
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkError, got %v", err)
	}
}

func TestInstantiate_GlobalTypeMismatch(t *testing.T) {
	eng := interp.New()
	m := &wasm.Module{}
	m.Imports = []wasm.Import{{
		Module: "env", Name: "g",
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindGlobal,
			Global: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		},
	}}
	mod := compileOn(t, eng, wasm.Encode(m))

	immutable := GlobalExtern(vm.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, 0))
	_, err := Instantiate(context.Background(), mod, []Extern{immutable})
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkError for mutability mismatch, got %v", err)
	}
}

func TestInstantiate_MemoryLimitsMismatch(t *testing.T) {
	eng := interp.New()
	m := &wasm.Module{}
	m.Imports = []wasm.Import{{
		Module: "env", Name: "mem",
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindMemory,
			Memory: wasm.MemoryType{Limits: wasm.Limits{Min: 2}},
		},
	}}
	mod := compileOn(t, eng, wasm.Encode(m))

	small := MemExtern(vm.NewMemory(wasm.MemoryType{Limits: wasm.Limits{Min: 1}}, 0))
	_, err := Instantiate(context.Background(), mod, []Extern{small})
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkError for small memory, got %v", err)
	}

	big := MemExtern(vm.NewMemory(wasm.MemoryType{Limits: wasm.Limits{Min: 2}}, 0))
	inst, err := Instantiate(context.Background(), mod, []Extern{big})
	if err != nil {
		t.Fatalf("compatible memory rejected: %v", err)
	}
	inst.Close(context.Background())
}

func TestInstantiate_HostEnvInit(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	env := &recordingEnv{}
	inst, err := Instantiate(context.Background(), m,
		[]Extern{sumExtern(eng, WithEnv(env))})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(context.Background())
	if env.inits != 1 {
		t.Errorf("env initialized %d times", env.inits)
	}
}

func TestInstantiate_HostEnvInitFailure(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	env := &recordingEnv{fail: true}
	_, err := Instantiate(context.Background(), m,
		[]Extern{sumExtern(eng, WithEnv(env))})
	var hie *HostInitError
	if !errors.As(err, &hie) {
		t.Fatalf("expected HostInitError, got %v", err)
	}
	if hie.Index != 0 {
		t.Errorf("index: %d", hie.Index)
	}
}

type recordingEnv struct {
	inits int
	fail  bool
}

func (e *recordingEnv) Init(ctx context.Context) error {
	e.inits++
	if e.fail {
		return fmt.Errorf("refusing to initialize")
	}
	return nil
}

func TestInstantiate_ExportOrder(t *testing.T) {
	m := &wasm.Module{}
	typeIdx := m.AddType(&wasm.FuncType{})
	m.Funcs = []uint32{typeIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}}
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32},
		Init: []byte{wasm.OpI32Const, 1, wasm.OpEnd},
	}}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}}
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	m.Exports = []wasm.Export{
		{Name: "fn", Kind: wasm.KindFunc, Index: 0},
		{Name: "glob", Kind: wasm.KindGlobal, Index: 0},
		{Name: "tbl", Kind: wasm.KindTable, Index: 0},
		{Name: "mem", Kind: wasm.KindMemory, Index: 0},
	}

	eng := interp.New()
	mod := compileOn(t, eng, wasm.Encode(m))
	inst, err := Instantiate(context.Background(), mod, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(context.Background())

	exports := inst.Exports()
	wantNames := []string{"fn", "glob", "tbl", "mem"}
	wantKinds := []byte{wasm.KindFunc, wasm.KindGlobal, wasm.KindTable, wasm.KindMemory}
	if len(exports) != len(wantNames) {
		t.Fatalf("exports: %d", len(exports))
	}
	for i, exp := range exports {
		if exp.Name != wantNames[i] || exp.Extern.Kind() != wantKinds[i] {
			t.Errorf("export %d: %q kind %s", i, exp.Name, wasm.KindName(exp.Extern.Kind()))
		}
	}

	if _, ok := inst.Export("glob"); !ok {
		t.Error("lookup by name failed")
	}
	if _, ok := inst.Export("nope"); ok {
		t.Error("lookup of absent export succeeded")
	}
}

func TestInstantiate_StartTrapDiscardsInstance(t *testing.T) {
	m := &wasm.Module{}
	typeIdx := m.AddType(&wasm.FuncType{})
	m.Funcs = []uint32{typeIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{wasm.OpUnreachable, wasm.OpEnd}}}
	start := uint32(0)
	m.Start = &start

	eng := interp.New()
	mod := compileOn(t, eng, wasm.Encode(m))
	inst, err := Instantiate(context.Background(), mod, nil)
	if err == nil {
		inst.Close(context.Background())
		t.Fatal("expected start trap")
	}
	if _, ok := vm.AsTrap(err); !ok {
		t.Errorf("expected trap, got %T: %v", err, err)
	}
}

func TestInstance_CallErrors(t *testing.T) {
	m := &wasm.Module{}
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32},
		Init: []byte{wasm.OpI32Const, 1, wasm.OpEnd},
	}}
	m.Exports = []wasm.Export{{Name: "g", Kind: wasm.KindGlobal, Index: 0}}

	eng := interp.New()
	mod := compileOn(t, eng, wasm.Encode(m))
	inst, err := Instantiate(context.Background(), mod, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(context.Background())

	if _, err := inst.Call(context.Background(), "missing"); err == nil {
		t.Error("call of absent export succeeded")
	}
	if _, err := inst.Call(context.Background(), "g"); err == nil {
		t.Error("call of a global export succeeded")
	}
}

func TestModule_SerializeRoundTrip(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	data, err := m.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	revived, err := Deserialize(context.Background(), interp.New(), data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	eng2 := revived.Engine()
	inst, err := Instantiate(context.Background(), revived, []Extern{sumExtern(eng2)})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(context.Background())

	out, err := inst.Call(context.Background(), "add_one", vm.RawI32(6))
	if err != nil {
		t.Fatalf("add_one: %v", err)
	}
	if vm.AsI32(out[0]) != 7 {
		t.Errorf("got %d", vm.AsI32(out[0]))
	}
}

func TestModule_Metadata(t *testing.T) {
	eng := interp.New()
	m := compileOn(t, eng, sumModule())

	imps := m.Imports()
	if len(imps) != 1 || imps[0].Module != "math" || imps[0].Name != "sum" {
		t.Errorf("imports: %+v", imps)
	}
	exps := m.Exports()
	if len(exps) != 1 || exps[0].Name != "add_one" {
		t.Errorf("exports: %+v", exps)
	}
}

func TestExtern_CloneShares(t *testing.T) {
	g := vm.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, 1)
	ext := GlobalExtern(g)
	clone := ext.Clone()

	if err := g.Set(7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if clone.Global().Get() != 7 {
		t.Error("clone does not share state")
	}
}
