package wasm

import (
	"fmt"

	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm/internal/binary"
)

// Validate performs structural and type validation of a decoded module:
// index bounds across all index spaces, start function signature,
// constant expression shapes, and per-body operand stack type checking.
// A module that passes Validate cannot underflow the operand stack at
// execution time.
func Validate(m *Module) error {
	numFuncs := m.NumImportedFuncs() + len(m.Funcs)
	numGlobals := m.NumImportedGlobals() + len(m.Globals)
	numTables := m.NumImportedTables() + len(m.Tables)
	numMemories := m.NumImportedMemories() + len(m.Memories)

	if numMemories > 1 {
		return werrors.Unsupported(werrors.PhaseValidate, "multiple memories")
	}
	if numTables > 1 {
		return werrors.Unsupported(werrors.PhaseValidate, "multiple tables")
	}

	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= uint32(len(m.Types)) {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"import", fmt.Sprintf("%d", i), "type"},
				int(imp.Desc.TypeIdx), len(m.Types))
		}
	}

	for i, typeIdx := range m.Funcs {
		if typeIdx >= uint32(len(m.Types)) {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"function", fmt.Sprintf("%d", i), "type"},
				int(typeIdx), len(m.Types))
		}
	}

	numImportedGlobals := uint32(m.NumImportedGlobals())
	for i, g := range m.Globals {
		if err := validateInitExpr(m, g.Init, g.Type.ValType, numImportedGlobals); err != nil {
			return werrors.Wrap(werrors.PhaseValidate, werrors.KindInvalidData, err,
				fmt.Sprintf("global %d", i))
		}
	}

	for _, exp := range m.Exports {
		var limit int
		switch exp.Kind {
		case KindFunc:
			limit = numFuncs
		case KindTable:
			limit = numTables
		case KindMemory:
			limit = numMemories
		case KindGlobal:
			limit = numGlobals
		}
		if int(exp.Index) >= limit {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"export", exp.Name}, int(exp.Index), limit)
		}
	}

	if m.Start != nil {
		if int(*m.Start) >= numFuncs {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"start"}, int(*m.Start), numFuncs)
		}
		ft := m.FuncTypeAt(*m.Start)
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return werrors.TypeMismatch(werrors.PhaseValidate,
				[]string{"start"}, "() -> ()", ft.String())
		}
	}

	for i, el := range m.Elements {
		if int(el.TableIdx) >= numTables {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"element", fmt.Sprintf("%d", i), "table"},
				int(el.TableIdx), numTables)
		}
		if err := validateInitExpr(m, el.Offset, ValI32, numImportedGlobals); err != nil {
			return werrors.Wrap(werrors.PhaseValidate, werrors.KindInvalidData, err,
				fmt.Sprintf("element %d", i))
		}
		for _, f := range el.Funcs {
			if int(f) >= numFuncs {
				return werrors.OutOfBounds(werrors.PhaseValidate,
					[]string{"element", fmt.Sprintf("%d", i)}, int(f), numFuncs)
			}
		}
	}

	for i, d := range m.Data {
		if int(d.MemIdx) >= numMemories {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"data", fmt.Sprintf("%d", i), "memory"},
				int(d.MemIdx), numMemories)
		}
		if err := validateInitExpr(m, d.Offset, ValI32, numImportedGlobals); err != nil {
			return werrors.Wrap(werrors.PhaseValidate, werrors.KindInvalidData, err,
				fmt.Sprintf("data %d", i))
		}
	}

	numImportedFuncs := m.NumImportedFuncs()
	for i, body := range m.Code {
		ft := m.Types[m.Funcs[i]]
		if err := validateBody(m, ft, body, numFuncs, numGlobals, numTables, numMemories); err != nil {
			return werrors.Wrap(werrors.PhaseValidate, werrors.KindInvalidData, err,
				fmt.Sprintf("function %d", numImportedFuncs+i))
		}
	}
	return nil
}

// validateInitExpr checks a constant expression yields the expected type
// and references only imported immutable globals.
func validateInitExpr(m *Module, expr []byte, want ValType, numImportedGlobals uint32) error {
	r := binary.NewReader(expr)
	op, err := r.ReadByte()
	if err != nil {
		return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"},
			"empty expression")
	}
	var got ValType
	switch op {
	case OpI32Const:
		if _, err := ReadS32(r); err != nil {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"}, err.Error())
		}
		got = ValI32
	case OpI64Const:
		if _, err := ReadS64(r); err != nil {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"}, err.Error())
		}
		got = ValI64
	case OpF32Const:
		if err := r.Skip(4); err != nil {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"}, err.Error())
		}
		got = ValF32
	case OpF64Const:
		if err := r.Skip(8); err != nil {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"}, err.Error())
		}
		got = ValF64
	case OpGlobalGet:
		idx, err := ReadU32(r)
		if err != nil {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"}, err.Error())
		}
		if idx >= numImportedGlobals {
			return werrors.OutOfBounds(werrors.PhaseValidate,
				[]string{"init expr", "global"}, int(idx), int(numImportedGlobals))
		}
		gt := importedGlobalType(m, idx)
		if gt.Mutable {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"},
				fmt.Sprintf("global.get %d references a mutable global", idx))
		}
		got = gt.ValType
	default:
		return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"},
			fmt.Sprintf("%s is not a constant instruction", OpName(op)))
	}
	end, err := r.ReadByte()
	if err != nil || end != OpEnd {
		return werrors.InvalidData(werrors.PhaseValidate, []string{"init expr"},
			"missing end opcode")
	}
	if got != want {
		return werrors.TypeMismatch(werrors.PhaseValidate,
			[]string{"init expr"}, want.String(), got.String())
	}
	return nil
}

func importedGlobalType(m *Module, idx uint32) GlobalType {
	i := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if i == idx {
			return imp.Desc.Global
		}
		i++
	}
	return GlobalType{}
}

// valNone marks a polymorphic operand on an unreachable stack.
const valNone ValType = 0

// bodyBlock is one control frame tracked during body validation.
type bodyBlock struct {
	op          byte // OpBlock, OpLoop, OpIf, OpElse
	results     []ValType
	height      int
	unreachable bool
}

// bodyChecker runs the standard operand stack validation algorithm:
// a value stack of types beside a control stack of frames. Popping from
// an unreachable frame's empty stack yields valNone, which matches any
// expected type.
type bodyChecker struct {
	vals  []ValType
	ctrls []bodyBlock
}

func (c *bodyChecker) push(t ValType) {
	c.vals = append(c.vals, t)
}

func (c *bodyChecker) pushAll(types []ValType) {
	c.vals = append(c.vals, types...)
}

func (c *bodyChecker) pop() (ValType, error) {
	fr := &c.ctrls[len(c.ctrls)-1]
	if len(c.vals) == fr.height {
		if fr.unreachable {
			return valNone, nil
		}
		return valNone, werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
			"operand stack underflow")
	}
	t := c.vals[len(c.vals)-1]
	c.vals = c.vals[:len(c.vals)-1]
	return t, nil
}

func (c *bodyChecker) expect(want ValType) error {
	t, err := c.pop()
	if err != nil {
		return err
	}
	if t != valNone && t != want {
		return werrors.TypeMismatch(werrors.PhaseValidate,
			[]string{"code"}, want.String(), t.String())
	}
	return nil
}

// expectAll pops types in reverse declaration order.
func (c *bodyChecker) expectAll(types []ValType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := c.expect(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *bodyChecker) open(op byte, results []ValType) {
	c.ctrls = append(c.ctrls, bodyBlock{op: op, results: results, height: len(c.vals)})
}

// close pops the innermost frame, checking the stack holds exactly the
// frame's results above its entry height.
func (c *bodyChecker) close() (bodyBlock, error) {
	fr := c.ctrls[len(c.ctrls)-1]
	if err := c.expectAll(fr.results); err != nil {
		return fr, err
	}
	if len(c.vals) != fr.height {
		return fr, werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
			"values remain on the operand stack at block end")
	}
	c.ctrls = c.ctrls[:len(c.ctrls)-1]
	return fr, nil
}

// label returns the types a branch to the given depth must supply: loop
// labels take nothing, every other label takes the block's results.
func (c *bodyChecker) label(depth int) ([]ValType, error) {
	if depth >= len(c.ctrls) {
		return nil, werrors.OutOfBounds(werrors.PhaseValidate,
			[]string{"branch"}, depth, len(c.ctrls))
	}
	fr := c.ctrls[len(c.ctrls)-1-depth]
	if fr.op == OpLoop {
		return nil, nil
	}
	return fr.results, nil
}

// vanish marks the rest of the current block unreachable.
func (c *bodyChecker) vanish() {
	fr := &c.ctrls[len(c.ctrls)-1]
	c.vals = c.vals[:fr.height]
	fr.unreachable = true
}

func blockResults(bt int32) []ValType {
	switch bt {
	case BlockTypeVoid:
		return nil
	case BlockTypeI32:
		return []ValType{ValI32}
	case BlockTypeI64:
		return []ValType{ValI64}
	case BlockTypeF32:
		return []ValType{ValF32}
	default:
		return []ValType{ValF64}
	}
}

func typesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func loadType(op byte) ValType {
	switch op {
	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U:
		return ValI32
	case OpF32Load:
		return ValF32
	case OpF64Load:
		return ValF64
	default:
		return ValI64
	}
}

func storeType(op byte) ValType {
	switch op {
	case OpI32Store, OpI32Store8, OpI32Store16:
		return ValI32
	case OpF32Store:
		return ValF32
	case OpF64Store:
		return ValF64
	default:
		return ValI64
	}
}

// numericSig returns the operand and result types of a numeric opcode.
func numericSig(op byte) (in []ValType, out ValType, ok bool) {
	i32 := []ValType{ValI32}
	i32x2 := []ValType{ValI32, ValI32}
	i64 := []ValType{ValI64}
	i64x2 := []ValType{ValI64, ValI64}
	f32 := []ValType{ValF32}
	f32x2 := []ValType{ValF32, ValF32}
	f64 := []ValType{ValF64}
	f64x2 := []ValType{ValF64, ValF64}

	switch {
	case op == OpI32Eqz:
		return i32, ValI32, true
	case op >= OpI32Eq && op <= OpI32GeU:
		return i32x2, ValI32, true
	case op == OpI64Eqz:
		return i64, ValI32, true
	case op >= OpI64Eq && op <= OpI64GeU:
		return i64x2, ValI32, true
	case op >= OpF32Eq && op <= OpF32Ge:
		return f32x2, ValI32, true
	case op >= OpF64Eq && op <= OpF64Ge:
		return f64x2, ValI32, true
	case op >= OpI32Clz && op <= OpI32Popcnt,
		op == OpI32Extend8S, op == OpI32Extend16S:
		return i32, ValI32, true
	case op >= OpI32Add && op <= OpI32Rotr:
		return i32x2, ValI32, true
	case op >= OpI64Clz && op <= OpI64Popcnt,
		op == OpI64Extend8S, op == OpI64Extend16S, op == OpI64Extend32S:
		return i64, ValI64, true
	case op >= OpI64Add && op <= OpI64Rotr:
		return i64x2, ValI64, true
	case op == OpF32Abs, op == OpF32Neg, op == OpF32Sqrt:
		return f32, ValF32, true
	case op >= OpF32Add && op <= OpF32Div:
		return f32x2, ValF32, true
	case op == OpF64Abs, op == OpF64Neg, op == OpF64Sqrt:
		return f64, ValF64, true
	case op >= OpF64Add && op <= OpF64Div:
		return f64x2, ValF64, true
	case op == OpI32WrapI64:
		return i64, ValI32, true
	case op == OpI64ExtendI32S, op == OpI64ExtendI32U:
		return i32, ValI64, true
	case op == OpF32ConvertI32S, op == OpF32ReinterpretI32:
		return i32, ValF32, true
	case op == OpF64ConvertI32S:
		return i32, ValF64, true
	case op == OpI32ReinterpretF32:
		return f32, ValI32, true
	case op == OpI64ReinterpretF64:
		return f64, ValI64, true
	case op == OpF64ReinterpretI64:
		return i64, ValF64, true
	}
	return nil, valNone, false
}

func moduleGlobalType(m *Module, idx uint32) GlobalType {
	n := uint32(m.NumImportedGlobals())
	if idx < n {
		return importedGlobalType(m, idx)
	}
	return m.Globals[idx-n].Type
}

// validateBody type-checks one function body: index immediates against
// the module's index spaces and every instruction against the operand
// stack.
func validateBody(m *Module, ft *FuncType, body FuncBody, numFuncs, numGlobals, numTables, numMemories int) error {
	instrs, err := DecodeInstructions(body.Code)
	if err != nil {
		return err
	}

	locals := append([]ValType(nil), ft.Params...)
	for _, l := range body.Locals {
		for i := uint32(0); i < l.Count; i++ {
			locals = append(locals, l.Type)
		}
	}

	c := &bodyChecker{}
	c.open(OpBlock, ft.Results)

	for pc := range instrs {
		ins := &instrs[pc]
		if len(c.ctrls) == 0 {
			return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
				"instruction after function end")
		}
		switch ins.Op {
		case OpUnreachable:
			c.vanish()
		case OpNop:

		case OpBlock, OpLoop:
			c.open(ins.Op, blockResults(ins.BlockType))
		case OpIf:
			if err := c.expect(ValI32); err != nil {
				return err
			}
			c.open(OpIf, blockResults(ins.BlockType))
		case OpElse:
			fr, err := c.close()
			if err != nil {
				return err
			}
			if fr.op != OpIf {
				return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
					"else outside an if block")
			}
			c.open(OpElse, fr.results)
		case OpEnd:
			fr, err := c.close()
			if err != nil {
				return err
			}
			if fr.op == OpIf && len(fr.results) != 0 {
				return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
					"if with results requires an else arm")
			}
			c.pushAll(fr.results)

		case OpBr:
			lt, err := c.label(int(ins.Index))
			if err != nil {
				return err
			}
			if err := c.expectAll(lt); err != nil {
				return err
			}
			c.vanish()
		case OpBrIf:
			if err := c.expect(ValI32); err != nil {
				return err
			}
			lt, err := c.label(int(ins.Index))
			if err != nil {
				return err
			}
			if err := c.expectAll(lt); err != nil {
				return err
			}
			c.pushAll(lt)
		case OpBrTable:
			if err := c.expect(ValI32); err != nil {
				return err
			}
			def, err := c.label(int(ins.Targets[len(ins.Targets)-1]))
			if err != nil {
				return err
			}
			for _, tgt := range ins.Targets[:len(ins.Targets)-1] {
				lt, err := c.label(int(tgt))
				if err != nil {
					return err
				}
				if !typesEqual(lt, def) {
					return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
						"br_table targets carry different label types")
				}
			}
			if err := c.expectAll(def); err != nil {
				return err
			}
			c.vanish()
		case OpReturn:
			if err := c.expectAll(ft.Results); err != nil {
				return err
			}
			c.vanish()

		case OpCall:
			if int(ins.Index) >= numFuncs {
				return werrors.OutOfBounds(werrors.PhaseValidate,
					[]string{"call"}, int(ins.Index), numFuncs)
			}
			target := m.FuncTypeAt(ins.Index)
			if err := c.expectAll(target.Params); err != nil {
				return err
			}
			c.pushAll(target.Results)
		case OpCallIndirect:
			if int(ins.Index) >= len(m.Types) {
				return werrors.OutOfBounds(werrors.PhaseValidate,
					[]string{"call_indirect", "type"}, int(ins.Index), len(m.Types))
			}
			if numTables == 0 {
				return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
					"call_indirect requires a table")
			}
			if err := c.expect(ValI32); err != nil {
				return err
			}
			target := m.Types[ins.Index]
			if err := c.expectAll(target.Params); err != nil {
				return err
			}
			c.pushAll(target.Results)

		case OpDrop:
			if _, err := c.pop(); err != nil {
				return err
			}
		case OpSelect:
			if err := c.expect(ValI32); err != nil {
				return err
			}
			t1, err := c.pop()
			if err != nil {
				return err
			}
			t2, err := c.pop()
			if err != nil {
				return err
			}
			if t1 != valNone && t2 != valNone && t1 != t2 {
				return werrors.TypeMismatch(werrors.PhaseValidate,
					[]string{"code", "select"}, t2.String(), t1.String())
			}
			if t1 == valNone {
				t1 = t2
			}
			c.push(t1)

		case OpLocalGet, OpLocalSet, OpLocalTee:
			if int(ins.Index) >= len(locals) {
				return werrors.OutOfBounds(werrors.PhaseValidate,
					[]string{"local"}, int(ins.Index), len(locals))
			}
			lt := locals[ins.Index]
			switch ins.Op {
			case OpLocalGet:
				c.push(lt)
			case OpLocalSet:
				if err := c.expect(lt); err != nil {
					return err
				}
			case OpLocalTee:
				if err := c.expect(lt); err != nil {
					return err
				}
				c.push(lt)
			}
		case OpGlobalGet, OpGlobalSet:
			if int(ins.Index) >= numGlobals {
				return werrors.OutOfBounds(werrors.PhaseValidate,
					[]string{"global"}, int(ins.Index), numGlobals)
			}
			gt := moduleGlobalType(m, ins.Index)
			if ins.Op == OpGlobalGet {
				c.push(gt.ValType)
			} else {
				if !gt.Mutable {
					return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
						fmt.Sprintf("global.set %d targets an immutable global", ins.Index))
				}
				if err := c.expect(gt.ValType); err != nil {
					return err
				}
			}

		case OpI32Const:
			c.push(ValI32)
		case OpI64Const:
			c.push(ValI64)
		case OpF32Const:
			c.push(ValF32)
		case OpF64Const:
			c.push(ValF64)

		case OpMemorySize, OpMemoryGrow:
			if numMemories == 0 {
				return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
					fmt.Sprintf("%s requires a memory", OpName(ins.Op)))
			}
			if ins.Op == OpMemoryGrow {
				if err := c.expect(ValI32); err != nil {
					return err
				}
			}
			c.push(ValI32)

		default:
			switch {
			case ins.Op >= OpI32Load && ins.Op <= OpI64Load32U:
				if numMemories == 0 {
					return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
						fmt.Sprintf("%s requires a memory", OpName(ins.Op)))
				}
				if err := c.expect(ValI32); err != nil {
					return err
				}
				c.push(loadType(ins.Op))
			case ins.Op >= OpI32Store && ins.Op <= OpI64Store32:
				if numMemories == 0 {
					return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
						fmt.Sprintf("%s requires a memory", OpName(ins.Op)))
				}
				if err := c.expect(storeType(ins.Op)); err != nil {
					return err
				}
				if err := c.expect(ValI32); err != nil {
					return err
				}
			default:
				in, out, ok := numericSig(ins.Op)
				if !ok {
					return werrors.Unsupported(werrors.PhaseValidate,
						fmt.Sprintf("opcode %s", OpName(ins.Op)))
				}
				if err := c.expectAll(in); err != nil {
					return err
				}
				c.push(out)
			}
		}
	}
	if len(c.ctrls) != 0 {
		return werrors.InvalidData(werrors.PhaseValidate, []string{"code"},
			"unbalanced block nesting")
	}
	return nil
}
