package interp

import (
	"context"
	"testing"

	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// compile is a test helper building an artifact from a module.
func compile(t *testing.T, m *wasm.Module) *artifact {
	t.Helper()
	e := New()
	art, err := e.Compile(context.Background(), wasm.Encode(m))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return art.(*artifact)
}

// instantiate is a test helper materializing an instance with no imports.
func instantiate(t *testing.T, m *wasm.Module) *handle {
	t.Helper()
	art := compile(t, m)
	inst, err := art.Instantiate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return inst.(*handle)
}

// exportedFunc finds a function export by name.
func exportedFunc(t *testing.T, h *handle, name string) *vm.Function {
	t.Helper()
	for _, exp := range h.Exports() {
		if exp.Name == name && exp.Kind == wasm.KindFunc {
			return exp.Value.Func
		}
	}
	t.Fatalf("no function export %q", name)
	return nil
}

// call invokes an exported function and returns its single result.
func call(t *testing.T, h *handle, name string, args ...uint64) uint64 {
	t.Helper()
	out, err := exportedFunc(t, h, name).Invoke(context.Background(), args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(out) != 1 {
		t.Fatalf("%s: %d results", name, len(out))
	}
	return out[0]
}

// funcModule builds a single-function module exporting "f".
func funcModule(params, results []wasm.ValType, locals []wasm.LocalEntry, code []byte) *wasm.Module {
	m := &wasm.Module{}
	typeIdx := m.AddType(&wasm.FuncType{Params: params, Results: results})
	m.Funcs = []uint32{typeIdx}
	m.Code = []wasm.FuncBody{{Locals: locals, Code: code}}
	m.Exports = []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 0}}
	return m
}

func i32x2(results ...wasm.ValType) ([]wasm.ValType, []wasm.ValType) {
	return []wasm.ValType{wasm.ValI32, wasm.ValI32}, results
}

func TestExec_I32Add(t *testing.T) {
	params, results := i32x2(wasm.ValI32)
	h := instantiate(t, funcModule(params, results, nil, []byte{
		wasm.OpLocalGet, 0,
		wasm.OpLocalGet, 1,
		wasm.OpI32Add,
		wasm.OpEnd,
	}))
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(2), vm.RawI32(40))); got != 42 {
		t.Errorf("got %d", got)
	}
}

func TestExec_I32Arithmetic(t *testing.T) {
	cases := []struct {
		op   byte
		a, b int32
		want int32
	}{
		{wasm.OpI32Sub, 10, 3, 7},
		{wasm.OpI32Mul, 6, 7, 42},
		{wasm.OpI32DivS, -7, 2, -3},
		{wasm.OpI32DivU, -1, 2, 0x7FFFFFFF},
		{wasm.OpI32RemS, -7, 2, -1},
		{wasm.OpI32And, 0b1100, 0b1010, 0b1000},
		{wasm.OpI32Or, 0b1100, 0b1010, 0b1110},
		{wasm.OpI32Xor, 0b1100, 0b1010, 0b0110},
		{wasm.OpI32Shl, 1, 4, 16},
		{wasm.OpI32ShrS, -16, 2, -4},
		{wasm.OpI32ShrU, -16, 28, 15},
	}
	for _, tc := range cases {
		params, results := i32x2(wasm.ValI32)
		h := instantiate(t, funcModule(params, results, nil, []byte{
			wasm.OpLocalGet, 0,
			wasm.OpLocalGet, 1,
			tc.op,
			wasm.OpEnd,
		}))
		got := vm.AsI32(call(t, h, "f", vm.RawI32(tc.a), vm.RawI32(tc.b)))
		if got != tc.want {
			t.Errorf("%s(%d, %d) = %d, want %d", wasm.OpName(tc.op), tc.a, tc.b, got, tc.want)
		}
	}
}

func TestExec_DivByZeroTraps(t *testing.T) {
	params, results := i32x2(wasm.ValI32)
	h := instantiate(t, funcModule(params, results, nil, []byte{
		wasm.OpLocalGet, 0,
		wasm.OpLocalGet, 1,
		wasm.OpI32DivS,
		wasm.OpEnd,
	}))
	_, err := exportedFunc(t, h, "f").Invoke(context.Background(), vm.RawI32(1), vm.RawI32(0))
	if _, ok := vm.AsTrap(err); !ok {
		t.Fatalf("expected trap, got %v", err)
	}
}

func TestExec_UnreachableTraps(t *testing.T) {
	h := instantiate(t, funcModule(nil, nil, nil, []byte{
		wasm.OpUnreachable,
		wasm.OpEnd,
	}))
	_, err := exportedFunc(t, h, "f").Invoke(context.Background())
	trap, ok := vm.AsTrap(err)
	if !ok {
		t.Fatalf("expected trap, got %v", err)
	}
	if len(trap.Frames) == 0 {
		t.Error("trap carries no frames")
	}
}

func TestExec_IfElse(t *testing.T) {
	// f(x) = x != 0 ? 10 : 20
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, nil, []byte{
			wasm.OpLocalGet, 0,
			wasm.OpIf, 0x7F,
			wasm.OpI32Const, 10,
			wasm.OpElse,
			wasm.OpI32Const, 20,
			wasm.OpEnd,
			wasm.OpEnd,
		}))
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(1))); got != 10 {
		t.Errorf("then arm: got %d", got)
	}
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(0))); got != 20 {
		t.Errorf("else arm: got %d", got)
	}
}

func TestExec_IfWithoutElse(t *testing.T) {
	// f(x) = x != 0 ? 5 : 1, via an else-less if over a local.
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32},
		[]wasm.LocalEntry{{Count: 1, Type: wasm.ValI32}},
		[]byte{
			wasm.OpI32Const, 1,
			wasm.OpLocalSet, 1,
			wasm.OpLocalGet, 0,
			wasm.OpIf, 0x40,
			wasm.OpI32Const, 5,
			wasm.OpLocalSet, 1,
			wasm.OpEnd,
			wasm.OpLocalGet, 1,
			wasm.OpEnd,
		}))
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(3))); got != 5 {
		t.Errorf("taken arm: got %d", got)
	}
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(0))); got != 1 {
		t.Errorf("skipped arm: got %d", got)
	}
}

func TestExec_LoopSum(t *testing.T) {
	// f(n) = sum of 1..n, via a loop with a mutable local.
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32},
		[]wasm.LocalEntry{{Count: 1, Type: wasm.ValI32}}, // local 1: acc
		[]byte{
			wasm.OpBlock, 0x40,
			wasm.OpLoop, 0x40,
			wasm.OpLocalGet, 0,
			wasm.OpI32Eqz,
			wasm.OpBrIf, 1, // exit when n == 0
			wasm.OpLocalGet, 1,
			wasm.OpLocalGet, 0,
			wasm.OpI32Add,
			wasm.OpLocalSet, 1, // acc += n
			wasm.OpLocalGet, 0,
			wasm.OpI32Const, 1,
			wasm.OpI32Sub,
			wasm.OpLocalSet, 0, // n--
			wasm.OpBr, 0,
			wasm.OpEnd,
			wasm.OpEnd,
			wasm.OpLocalGet, 1,
			wasm.OpEnd,
		}))
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(10))); got != 55 {
		t.Errorf("got %d", got)
	}
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(0))); got != 0 {
		t.Errorf("n=0: got %d", got)
	}
}

func TestExec_BrTable(t *testing.T) {
	// f(x): 0 -> 100, 1 -> 200, otherwise 300.
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, nil, []byte{
			wasm.OpBlock, 0x40,
			wasm.OpBlock, 0x40,
			wasm.OpBlock, 0x40,
			wasm.OpLocalGet, 0,
			wasm.OpBrTable, 2, 0, 1, 2,
			wasm.OpEnd,
			wasm.OpI32Const, 100,
			wasm.OpReturn,
			wasm.OpEnd,
			wasm.OpI32Const, 0xC8, 0x01, // 200
			wasm.OpReturn,
			wasm.OpEnd,
			wasm.OpI32Const, 0xAC, 0x02, // 300
			wasm.OpEnd,
		}))
	for _, tc := range []struct{ in, want int32 }{{0, 100}, {1, 200}, {2, 300}, {9, 300}} {
		if got := vm.AsI32(call(t, h, "f", vm.RawI32(tc.in))); got != tc.want {
			t.Errorf("f(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestExec_Call(t *testing.T) {
	// double(x) = x*2; f(x) = double(x) + 1
	m := &wasm.Module{}
	sigI32 := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []uint32{sigI32, sigI32}
	m.Code = []wasm.FuncBody{
		{Code: []byte{wasm.OpLocalGet, 0, wasm.OpI32Const, 2, wasm.OpI32Mul, wasm.OpEnd}},
		{Code: []byte{
			wasm.OpLocalGet, 0,
			wasm.OpCall, 0,
			wasm.OpI32Const, 1,
			wasm.OpI32Add,
			wasm.OpEnd,
		}},
	}
	m.Exports = []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 1}}

	h := instantiate(t, m)
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(20))); got != 41 {
		t.Errorf("got %d", got)
	}
}

func TestExec_CallIndirect(t *testing.T) {
	// Table holds [add, mul]; f(i, a, b) dispatches through the table.
	m := &wasm.Module{}
	binIdx := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	dispatchIdx := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []uint32{binIdx, binIdx, dispatchIdx}
	m.Code = []wasm.FuncBody{
		{Code: []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Add, wasm.OpEnd}},
		{Code: []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Mul, wasm.OpEnd}},
		{Code: []byte{
			wasm.OpLocalGet, 1,
			wasm.OpLocalGet, 2,
			wasm.OpLocalGet, 0,
			wasm.OpCallIndirect, byte(binIdx), 0,
			wasm.OpEnd,
		}},
	}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}}
	m.Elements = []wasm.Element{{
		Offset: []byte{wasm.OpI32Const, 0, wasm.OpEnd},
		Funcs:  []uint32{0, 1},
	}}
	m.Exports = []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 2}}

	h := instantiate(t, m)
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(0), vm.RawI32(3), vm.RawI32(4))); got != 7 {
		t.Errorf("add: got %d", got)
	}
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(1), vm.RawI32(3), vm.RawI32(4))); got != 12 {
		t.Errorf("mul: got %d", got)
	}

	// Out of range index traps.
	_, err := exportedFunc(t, h, "f").Invoke(context.Background(),
		vm.RawI32(5), vm.RawI32(1), vm.RawI32(1))
	if _, ok := vm.AsTrap(err); !ok {
		t.Errorf("expected trap for out-of-range element, got %v", err)
	}
}

func TestExec_CallIndirect_SignatureMismatch(t *testing.T) {
	// Table holds a nullary function; dispatch expects (i32, i32) -> i32.
	m := &wasm.Module{}
	nullary := m.AddType(&wasm.FuncType{})
	binary := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []uint32{nullary, binary}
	m.Code = []wasm.FuncBody{
		{Code: []byte{wasm.OpEnd}},
		{Code: []byte{
			wasm.OpLocalGet, 0,
			wasm.OpLocalGet, 1,
			wasm.OpI32Const, 0,
			wasm.OpCallIndirect, byte(binary), 0,
			wasm.OpEnd,
		}},
	}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}}
	m.Elements = []wasm.Element{{
		Offset: []byte{wasm.OpI32Const, 0, wasm.OpEnd},
		Funcs:  []uint32{0},
	}}
	m.Exports = []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 1}}

	h := instantiate(t, m)
	_, err := exportedFunc(t, h, "f").Invoke(context.Background(), vm.RawI32(1), vm.RawI32(2))
	if _, ok := vm.AsTrap(err); !ok {
		t.Fatalf("expected trap for signature mismatch, got %v", err)
	}
}

func TestExec_MemoryLoadStore(t *testing.T) {
	// f(addr, v): store v at addr, reload it.
	m := funcModule(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI32}, nil,
		[]byte{
			wasm.OpLocalGet, 0,
			wasm.OpLocalGet, 1,
			wasm.OpI32Store, 2, 0,
			wasm.OpLocalGet, 0,
			wasm.OpI32Load, 2, 0,
			wasm.OpEnd,
		})
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}

	h := instantiate(t, m)
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(128), vm.RawI32(-7))); got != -7 {
		t.Errorf("got %d", got)
	}

	// Access past the single page traps.
	_, err := exportedFunc(t, h, "f").Invoke(context.Background(),
		vm.RawI32(int32(wasm.PageSize)-2), vm.RawI32(1))
	if _, ok := vm.AsTrap(err); !ok {
		t.Errorf("expected trap for out of bounds store, got %v", err)
	}
}

func TestExec_MemorySizeGrow(t *testing.T) {
	m := funcModule(nil, []wasm.ValType{wasm.ValI32}, nil, []byte{
		wasm.OpI32Const, 2,
		wasm.OpMemoryGrow, 0,
		wasm.OpDrop,
		wasm.OpMemorySize, 0,
		wasm.OpEnd,
	})
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 4, HasMax: true}}}

	h := instantiate(t, m)
	if got := vm.AsI32(call(t, h, "f")); got != 3 {
		t.Errorf("size after grow: %d", got)
	}
}

func TestExec_Globals(t *testing.T) {
	// counter += x; returns the new value.
	m := funcModule(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, nil,
		[]byte{
			wasm.OpGlobalGet, 0,
			wasm.OpLocalGet, 0,
			wasm.OpI32Add,
			wasm.OpGlobalSet, 0,
			wasm.OpGlobalGet, 0,
			wasm.OpEnd,
		})
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: []byte{wasm.OpI32Const, 5, wasm.OpEnd},
	}}

	h := instantiate(t, m)
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(3))); got != 8 {
		t.Errorf("first call: %d", got)
	}
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(2))); got != 10 {
		t.Errorf("second call: %d", got)
	}
}

func TestExec_SignExtension(t *testing.T) {
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, nil,
		[]byte{wasm.OpLocalGet, 0, wasm.OpI32Extend8S, wasm.OpEnd}))
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(0x80))); got != -128 {
		t.Errorf("got %d", got)
	}
}

func TestExec_I64(t *testing.T) {
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValI64, wasm.ValI64}, []wasm.ValType{wasm.ValI64}, nil,
		[]byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI64Mul, wasm.OpEnd}))
	got := vm.AsI64(call(t, h, "f", vm.RawI64(1<<33), vm.RawI64(3)))
	if got != 3<<33 {
		t.Errorf("got %d", got)
	}
}

func TestExec_F64(t *testing.T) {
	h := instantiate(t, funcModule(
		[]wasm.ValType{wasm.ValF64, wasm.ValF64}, []wasm.ValType{wasm.ValF64}, nil,
		[]byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpF64Div, wasm.OpEnd}))
	got := vm.AsF64(call(t, h, "f", vm.RawF64(1.0), vm.RawF64(4.0)))
	if got != 0.25 {
		t.Errorf("got %g", got)
	}
}

func TestExec_StackExhaustion(t *testing.T) {
	// f() calls itself unconditionally.
	m := funcModule(nil, nil, nil, []byte{wasm.OpCall, 0, wasm.OpEnd})
	h := instantiate(t, m)
	_, err := exportedFunc(t, h, "f").Invoke(context.Background())
	trap, ok := vm.AsTrap(err)
	if !ok {
		t.Fatalf("expected trap, got %v", err)
	}
	if trap.Message != "call stack exhausted" {
		t.Errorf("message: %q", trap.Message)
	}
}

func TestExec_ContextCancellation(t *testing.T) {
	// Infinite loop observes context cancellation at backward branches.
	m := funcModule(nil, nil, nil, []byte{
		wasm.OpLoop, 0x40,
		wasm.OpBr, 0,
		wasm.OpEnd,
		wasm.OpEnd,
	})
	h := instantiate(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exportedFunc(t, h, "f").Invoke(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestInstantiate_StartRuns(t *testing.T) {
	// start writes 99 into the global; f reads it.
	m := funcModule(nil, []wasm.ValType{wasm.ValI32}, nil, []byte{
		wasm.OpGlobalGet, 0,
		wasm.OpEnd,
	})
	startIdx := m.AddType(&wasm.FuncType{})
	m.Funcs = append(m.Funcs, startIdx)
	m.Code = append(m.Code, wasm.FuncBody{Code: []byte{
		wasm.OpI32Const, 99,
		wasm.OpGlobalSet, 0,
		wasm.OpEnd,
	}})
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: []byte{wasm.OpI32Const, 0, wasm.OpEnd},
	}}
	start := uint32(1)
	m.Start = &start

	h := instantiate(t, m)
	if got := vm.AsI32(call(t, h, "f")); got != 99 {
		t.Errorf("start did not run: got %d", got)
	}
}

func TestInstantiate_StartTrapDiscardsInstance(t *testing.T) {
	m := &wasm.Module{}
	typeIdx := m.AddType(&wasm.FuncType{})
	m.Funcs = []uint32{typeIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{wasm.OpUnreachable, wasm.OpEnd}}}
	start := uint32(0)
	m.Start = &start

	art := compile(t, m)
	inst, err := art.Instantiate(context.Background(), nil)
	if err == nil {
		inst.Close(context.Background())
		t.Fatal("expected start trap")
	}
	if _, ok := vm.AsTrap(err); !ok {
		t.Errorf("expected trap, got %T: %v", err, err)
	}
}

func TestInstantiate_ImportedFunction(t *testing.T) {
	// f(x) = sum(x, 10, 100) where sum is a host import.
	m := &wasm.Module{}
	sumIdx := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	fIdx := m.AddType(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Imports = []wasm.Import{{
		Module: "math", Name: "sum",
		Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: sumIdx},
	}}
	m.Funcs = []uint32{fIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{
		wasm.OpLocalGet, 0,
		wasm.OpI32Const, 10,
		wasm.OpI32Const, 0xE4, 0x00, // 100
		wasm.OpCall, 0,
		wasm.OpEnd,
	}}}
	m.Exports = []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 1}}

	art := compile(t, m)
	sumType := art.Module().Types[sumIdx]
	sum := &vm.Function{
		Type: sumType,
		Sig:  art.engine.RegisterSignature(sumType),
		Call: func(ctx context.Context, fn *vm.Function, values []uint64) error {
			values[0] = vm.RawI32(vm.AsI32(values[0]) + vm.AsI32(values[1]) + vm.AsI32(values[2]))
			return nil
		},
	}

	inst, err := art.Instantiate(context.Background(), &vm.ImportTable{
		Functions: []*vm.Function{sum},
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	h := inst.(*handle)
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(1))); got != 111 {
		t.Errorf("got %d", got)
	}
}

func TestInstantiate_ImportedGlobalInInitExpr(t *testing.T) {
	m := funcModule(nil, []wasm.ValType{wasm.ValI32}, nil, []byte{
		wasm.OpGlobalGet, 1,
		wasm.OpEnd,
	})
	m.Imports = []wasm.Import{{
		Module: "env", Name: "base",
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindGlobal,
			Global: wasm.GlobalType{ValType: wasm.ValI32},
		},
	}}
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32},
		Init: []byte{wasm.OpGlobalGet, 0, wasm.OpEnd},
	}}

	art := compile(t, m)
	inst, err := art.Instantiate(context.Background(), &vm.ImportTable{
		Globals: []vm.Global{vm.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, vm.RawI32(1000))},
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	h := inst.(*handle)
	if got := vm.AsI32(call(t, h, "f")); got != 1000 {
		t.Errorf("got %d", got)
	}
}

func TestArtifact_SerializeRoundTrip(t *testing.T) {
	params, results := i32x2(wasm.ValI32)
	m := funcModule(params, results, nil, []byte{
		wasm.OpLocalGet, 0,
		wasm.OpLocalGet, 1,
		wasm.OpI32Add,
		wasm.OpEnd,
	})
	art := compile(t, m)
	data, err := art.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	e := New()
	revived, err := e.Deserialize(context.Background(), data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	inst, err := revived.Instantiate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	h := inst.(*handle)
	if got := vm.AsI32(call(t, h, "f", vm.RawI32(20), vm.RawI32(22))); got != 42 {
		t.Errorf("got %d", got)
	}
}

func TestInstantiate_ElementOutOfBoundsTraps(t *testing.T) {
	m := &wasm.Module{}
	typeIdx := m.AddType(&wasm.FuncType{})
	m.Funcs = []uint32{typeIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}}
	m.Elements = []wasm.Element{{
		Offset: []byte{wasm.OpI32Const, 5, wasm.OpEnd},
		Funcs:  []uint32{0},
	}}

	art := compile(t, m)
	if _, err := art.Instantiate(context.Background(), nil); err == nil {
		t.Fatal("expected trap for out-of-bounds element segment")
	}
}

func TestCompile_RejectsStackUnderflow(t *testing.T) {
	m := funcModule(nil, nil, nil, []byte{wasm.OpI32Add, wasm.OpEnd})
	if _, err := New().Compile(context.Background(), wasm.Encode(m)); err == nil {
		t.Fatal("expected compile error for operand stack underflow")
	}
}

func TestCompile_RejectsMissingResult(t *testing.T) {
	m := funcModule(nil, []wasm.ValType{wasm.ValI32}, nil, []byte{wasm.OpEnd})
	if _, err := New().Compile(context.Background(), wasm.Encode(m)); err == nil {
		t.Fatal("expected compile error for body yielding no result")
	}
}

func TestExec_HostPanicBecomesTrap(t *testing.T) {
	m := &wasm.Module{}
	boomIdx := m.AddType(&wasm.FuncType{})
	m.Imports = []wasm.Import{{
		Module: "env", Name: "boom",
		Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: boomIdx},
	}}
	m.Funcs = []uint32{boomIdx}
	m.Code = []wasm.FuncBody{{Code: []byte{wasm.OpCall, 0, wasm.OpEnd}}}
	m.Exports = []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Index: 1}}

	art := compile(t, m)
	boomType := art.Module().Types[boomIdx]
	boom := &vm.Function{
		Type: boomType,
		Sig:  art.engine.RegisterSignature(boomType),
		Call: func(ctx context.Context, fn *vm.Function, values []uint64) error {
			panic("host gave up")
		},
	}

	inst, err := art.Instantiate(context.Background(), &vm.ImportTable{
		Functions: []*vm.Function{boom},
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	_, err = exportedFunc(t, inst.(*handle), "f").Invoke(context.Background())
	trap, ok := vm.AsTrap(err)
	if !ok {
		t.Fatalf("want trap, got %v", err)
	}
	if trap.Message != "host gave up" {
		t.Errorf("trap message: %q", trap.Message)
	}
}

func TestEngine_FunctionCallTrampoline(t *testing.T) {
	params, results := i32x2(wasm.ValI32)
	m := funcModule(params, results, nil, []byte{
		wasm.OpLocalGet, 0,
		wasm.OpLocalGet, 1,
		wasm.OpI32Add,
		wasm.OpEnd,
	})
	e := New()
	art, err := e.Compile(context.Background(), wasm.Encode(m))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := art.Instantiate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	fn := exportedFunc(t, inst.(*handle), "f")

	tr, ok := e.FunctionCallTrampoline(fn.Sig)
	if !ok {
		t.Fatal("no trampoline for a compiled signature")
	}
	values := []uint64{vm.RawI32(2), vm.RawI32(40)}
	if err := tr(context.Background(), fn, values); err != nil {
		t.Fatalf("trampoline: %v", err)
	}
	if got := vm.AsI32(values[0]); got != 42 {
		t.Errorf("got %d", got)
	}

	foreign := &vm.Function{Type: fn.Type, Sig: fn.Sig + 1, Call: fn.Call}
	if err := tr(context.Background(), foreign, values); err == nil {
		t.Error("trampoline accepted a function of another signature")
	}
	if _, ok := e.FunctionCallTrampoline(vm.SignatureIndex(999)); ok {
		t.Error("trampoline reported for an unregistered index")
	}
}
