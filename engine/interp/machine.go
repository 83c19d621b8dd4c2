package interp

import (
	"context"

	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// instance is the interpreter's view of a live module: the four index
// spaces with imports occupying the leading positions.
type instance struct {
	module   *wasm.Module
	funcs    []*vm.Function
	globals  []vm.Global
	tables   []vm.Table
	memories []vm.Memory
	typeSigs []vm.SignatureIndex // type section index -> interned signature
	depth    uint32              // remaining call budget, shared across the call tree
}

// frame is one entry on the control frame stack.
type frame struct {
	op     byte // OpBlock, OpLoop, OpIf; the function body uses OpBlock
	pc     int  // pc of the opener, for loop continuation
	endPC  int
	arity  int
	height int // value stack height at entry
}

// exec runs one compiled function. args length equals the parameter
// count; the returned slice holds the results.
func (in *instance) exec(ctx context.Context, cf *compiledFunc, args []uint64) ([]uint64, error) {
	if in.depth == 0 {
		return nil, vm.NewTrap("call stack exhausted")
	}
	in.depth--
	defer func() { in.depth++ }()

	locals := make([]uint64, cf.numLocals)
	copy(locals, args)

	stack := make([]uint64, 0, 16)
	push := func(v uint64) { stack = append(stack, v) }
	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	frames := []frame{{
		op:    wasm.OpBlock,
		endPC: len(cf.code) - 1,
		arity: len(cf.typ.Results),
	}}

	// branch unwinds to the frame depth levels up and returns the next
	// pc. Loops continue at their opener, everything else exits past end.
	branch := func(depth int) int {
		target := frames[len(frames)-1-depth]
		frames = frames[:len(frames)-1-depth]
		if target.op == wasm.OpLoop {
			// Loop parameters are empty in the MVP subset; restart with a
			// bare stack at the loop's entry height.
			stack = stack[:target.height]
			frames = append(frames, target)
			return target.pc + 1
		}
		carried := stack[len(stack)-target.arity:]
		stack = append(stack[:target.height], carried...)
		return target.endPC + 1
	}

	pc := 0
	for pc < len(cf.code) {
		ins := &cf.code[pc]
		switch ins.Op {
		case wasm.OpUnreachable:
			return nil, vm.NewTrap("unreachable").WithFrame(cf.index)
		case wasm.OpNop:

		case wasm.OpBlock:
			frames = append(frames, frame{
				op: wasm.OpBlock, pc: pc, endPC: cf.endPC[pc],
				arity: blockArity(ins.BlockType), height: len(stack),
			})
		case wasm.OpLoop:
			frames = append(frames, frame{
				op: wasm.OpLoop, pc: pc, endPC: cf.endPC[pc],
				arity: blockArity(ins.BlockType), height: len(stack),
			})
		case wasm.OpIf:
			cond := pop()
			if cond == 0 && cf.elsePC[pc] == cf.endPC[pc] {
				// No else arm: skip the block without entering it.
				pc = cf.endPC[pc] + 1
				continue
			}
			frames = append(frames, frame{
				op: wasm.OpIf, pc: pc, endPC: cf.endPC[pc],
				arity: blockArity(ins.BlockType), height: len(stack),
			})
			if cond == 0 {
				pc = cf.elsePC[pc] + 1
				continue
			}
		case wasm.OpElse:
			// Reached only by falling through the then arm: exit the if.
			target := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			carried := stack[len(stack)-target.arity:]
			stack = append(stack[:target.height], carried...)
			pc = target.endPC + 1
			continue
		case wasm.OpEnd:
			if len(frames) == 1 {
				// Function body end.
				results := make([]uint64, len(cf.typ.Results))
				copy(results, stack[len(stack)-len(results):])
				return results, nil
			}
			target := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			carried := stack[len(stack)-target.arity:]
			stack = append(stack[:target.height], carried...)

		case wasm.OpBr:
			if err := ctx.Err(); err != nil {
				return nil, vm.TrapFromError(err)
			}
			pc = branch(int(ins.Index))
			continue
		case wasm.OpBrIf:
			if pop() != 0 {
				if err := ctx.Err(); err != nil {
					return nil, vm.TrapFromError(err)
				}
				pc = branch(int(ins.Index))
				continue
			}
		case wasm.OpBrTable:
			i := uint32(pop())
			targets := ins.Targets
			var depth uint32
			if int(i) < len(targets)-1 {
				depth = targets[i]
			} else {
				depth = targets[len(targets)-1]
			}
			if err := ctx.Err(); err != nil {
				return nil, vm.TrapFromError(err)
			}
			pc = branch(int(depth))
			continue
		case wasm.OpReturn:
			results := make([]uint64, len(cf.typ.Results))
			copy(results, stack[len(stack)-len(results):])
			return results, nil

		case wasm.OpCall:
			if err := ctx.Err(); err != nil {
				return nil, vm.TrapFromError(err)
			}
			if err := in.callFunc(ctx, in.funcs[ins.Index], &stack); err != nil {
				return nil, err
			}
		case wasm.OpCallIndirect:
			if err := ctx.Err(); err != nil {
				return nil, vm.TrapFromError(err)
			}
			elem := uint32(pop())
			fn, err := in.tables[0].Get(elem)
			if err != nil {
				return nil, vm.NewTrap("undefined table element %d", elem)
			}
			if fn == nil {
				return nil, vm.NewTrap("uninitialized table element %d", elem)
			}
			want := in.sigOf(ins.Index)
			if fn.Sig != want {
				return nil, vm.NewTrap("indirect call type mismatch")
			}
			if err := in.callFunc(ctx, fn, &stack); err != nil {
				return nil, err
			}

		case wasm.OpDrop:
			pop()
		case wasm.OpSelect:
			c := pop()
			b := pop()
			a := pop()
			if c != 0 {
				push(a)
			} else {
				push(b)
			}

		case wasm.OpLocalGet:
			push(locals[ins.Index])
		case wasm.OpLocalSet:
			locals[ins.Index] = pop()
		case wasm.OpLocalTee:
			locals[ins.Index] = stack[len(stack)-1]
		case wasm.OpGlobalGet:
			push(in.globals[ins.Index].Get())
		case wasm.OpGlobalSet:
			if err := in.globals[ins.Index].Set(pop()); err != nil {
				return nil, vm.TrapFromError(err)
			}

		case wasm.OpI32Const:
			push(vm.RawI32(ins.I32))
		case wasm.OpI64Const:
			push(vm.RawI64(ins.I64))
		case wasm.OpF32Const:
			push(uint64(ins.F32))
		case wasm.OpF64Const:
			push(ins.F64)

		case wasm.OpMemorySize:
			push(uint64(in.memories[0].Size()))
		case wasm.OpMemoryGrow:
			delta := uint32(pop())
			old, err := in.memories[0].Grow(delta)
			if err != nil {
				push(vm.RawI32(-1))
			} else {
				push(uint64(old))
			}

		default:
			done, err := in.execLoadStore(ins, &stack)
			if err != nil {
				return nil, err
			}
			if !done {
				if err := execNumeric(ins.Op, &stack); err != nil {
					return nil, err
				}
			}
		}
		pc++
	}
	// Unreachable for well-formed bodies; the terminating end returns.
	results := make([]uint64, len(cf.typ.Results))
	copy(results, stack[len(stack)-len(results):])
	return results, nil
}

// callFunc invokes a function through the shared trampoline, moving
// arguments and results across the operand stack.
func (in *instance) callFunc(ctx context.Context, fn *vm.Function, stack *[]uint64) error {
	np := len(fn.Type.Params)
	nr := len(fn.Type.Results)
	n := np
	if nr > n {
		n = nr
	}
	values := make([]uint64, n)
	s := *stack
	copy(values, s[len(s)-np:])
	s = s[:len(s)-np]
	if err := fn.Call(ctx, fn, values); err != nil {
		return err
	}
	*stack = append(s, values[:nr]...)
	return nil
}

// sigOf resolves a type index to its interned signature.
func (in *instance) sigOf(typeIdx uint32) vm.SignatureIndex {
	return in.typeSigs[typeIdx]
}
