package interp

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// execLoadStore handles memory access opcodes. The first result is
// false when the opcode is not a load or store.
func (in *instance) execLoadStore(ins *wasm.Instruction, stack *[]uint64) (bool, error) {
	var width uint32
	var store bool
	switch ins.Op {
	case wasm.OpI32Load, wasm.OpF32Load, wasm.OpI64Load32S, wasm.OpI64Load32U:
		width = 4
	case wasm.OpI64Load, wasm.OpF64Load:
		width = 8
	case wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI64Load8S, wasm.OpI64Load8U:
		width = 1
	case wasm.OpI32Load16S, wasm.OpI32Load16U, wasm.OpI64Load16S, wasm.OpI64Load16U:
		width = 2
	case wasm.OpI32Store, wasm.OpF32Store, wasm.OpI64Store32:
		width, store = 4, true
	case wasm.OpI64Store, wasm.OpF64Store:
		width, store = 8, true
	case wasm.OpI32Store8, wasm.OpI64Store8:
		width, store = 1, true
	case wasm.OpI32Store16, wasm.OpI64Store16:
		width, store = 2, true
	default:
		return false, nil
	}

	s := *stack
	var value uint64
	if store {
		value = s[len(s)-1]
		s = s[:len(s)-1]
	}
	base := uint32(s[len(s)-1])
	s = s[:len(s)-1]
	addr := uint64(base) + uint64(ins.Mem.Offset)

	mem := in.memories[0]
	if addr+uint64(width) > uint64(mem.Size())*uint64(wasm.PageSize) {
		return true, vm.NewTrap("out of bounds memory access at %d", addr)
	}

	if store {
		var buf [8]byte
		switch width {
		case 1:
			buf[0] = byte(value)
		case 2:
			binary.LittleEndian.PutUint16(buf[:], uint16(value))
		case 4:
			binary.LittleEndian.PutUint32(buf[:], uint32(value))
		case 8:
			binary.LittleEndian.PutUint64(buf[:], value)
		}
		if err := mem.Write(uint32(addr), buf[:width]); err != nil {
			return true, vm.TrapFromError(err)
		}
		*stack = s
		return true, nil
	}

	raw, err := mem.Read(uint32(addr), width)
	if err != nil {
		return true, vm.TrapFromError(err)
	}
	var loaded uint64
	switch width {
	case 1:
		loaded = uint64(raw[0])
	case 2:
		loaded = uint64(binary.LittleEndian.Uint16(raw))
	case 4:
		loaded = uint64(binary.LittleEndian.Uint32(raw))
	case 8:
		loaded = binary.LittleEndian.Uint64(raw)
	}

	switch ins.Op {
	case wasm.OpI32Load8S:
		loaded = vm.RawI32(int32(int8(loaded)))
	case wasm.OpI32Load16S:
		loaded = vm.RawI32(int32(int16(loaded)))
	case wasm.OpI64Load8S:
		loaded = vm.RawI64(int64(int8(loaded)))
	case wasm.OpI64Load16S:
		loaded = vm.RawI64(int64(int16(loaded)))
	case wasm.OpI64Load32S:
		loaded = vm.RawI64(int64(int32(loaded)))
	}
	*stack = append(s, loaded)
	return true, nil
}

func b2i(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// execNumeric handles comparison, arithmetic, conversion and sign
// extension opcodes, which take operands from and leave results on the
// stack with no other effects.
func execNumeric(op byte, stack *[]uint64) error {
	s := *stack
	pop := func() uint64 {
		v := s[len(s)-1]
		s = s[:len(s)-1]
		return v
	}
	push := func(v uint64) { s = append(s, v) }

	switch op {
	// i32 comparisons
	case wasm.OpI32Eqz:
		push(b2i(uint32(pop()) == 0))
	case wasm.OpI32Eq:
		b, a := uint32(pop()), uint32(pop())
		push(b2i(a == b))
	case wasm.OpI32Ne:
		b, a := uint32(pop()), uint32(pop())
		push(b2i(a != b))
	case wasm.OpI32LtS:
		b, a := int32(pop()), int32(pop())
		push(b2i(a < b))
	case wasm.OpI32LtU:
		b, a := uint32(pop()), uint32(pop())
		push(b2i(a < b))
	case wasm.OpI32GtS:
		b, a := int32(pop()), int32(pop())
		push(b2i(a > b))
	case wasm.OpI32GtU:
		b, a := uint32(pop()), uint32(pop())
		push(b2i(a > b))
	case wasm.OpI32LeS:
		b, a := int32(pop()), int32(pop())
		push(b2i(a <= b))
	case wasm.OpI32LeU:
		b, a := uint32(pop()), uint32(pop())
		push(b2i(a <= b))
	case wasm.OpI32GeS:
		b, a := int32(pop()), int32(pop())
		push(b2i(a >= b))
	case wasm.OpI32GeU:
		b, a := uint32(pop()), uint32(pop())
		push(b2i(a >= b))

	// i64 comparisons
	case wasm.OpI64Eqz:
		push(b2i(pop() == 0))
	case wasm.OpI64Eq:
		b, a := pop(), pop()
		push(b2i(a == b))
	case wasm.OpI64Ne:
		b, a := pop(), pop()
		push(b2i(a != b))
	case wasm.OpI64LtS:
		b, a := int64(pop()), int64(pop())
		push(b2i(a < b))
	case wasm.OpI64LtU:
		b, a := pop(), pop()
		push(b2i(a < b))
	case wasm.OpI64GtS:
		b, a := int64(pop()), int64(pop())
		push(b2i(a > b))
	case wasm.OpI64GtU:
		b, a := pop(), pop()
		push(b2i(a > b))
	case wasm.OpI64LeS:
		b, a := int64(pop()), int64(pop())
		push(b2i(a <= b))
	case wasm.OpI64LeU:
		b, a := pop(), pop()
		push(b2i(a <= b))
	case wasm.OpI64GeS:
		b, a := int64(pop()), int64(pop())
		push(b2i(a >= b))
	case wasm.OpI64GeU:
		b, a := pop(), pop()
		push(b2i(a >= b))

	// f32 comparisons
	case wasm.OpF32Eq:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(b2i(a == b))
	case wasm.OpF32Ne:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(b2i(a != b))
	case wasm.OpF32Lt:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(b2i(a < b))
	case wasm.OpF32Gt:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(b2i(a > b))
	case wasm.OpF32Le:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(b2i(a <= b))
	case wasm.OpF32Ge:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(b2i(a >= b))

	// f64 comparisons
	case wasm.OpF64Eq:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(b2i(a == b))
	case wasm.OpF64Ne:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(b2i(a != b))
	case wasm.OpF64Lt:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(b2i(a < b))
	case wasm.OpF64Gt:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(b2i(a > b))
	case wasm.OpF64Le:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(b2i(a <= b))
	case wasm.OpF64Ge:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(b2i(a >= b))

	// i32 arithmetic
	case wasm.OpI32Clz:
		push(uint64(bits.LeadingZeros32(uint32(pop()))))
	case wasm.OpI32Ctz:
		push(uint64(bits.TrailingZeros32(uint32(pop()))))
	case wasm.OpI32Popcnt:
		push(uint64(bits.OnesCount32(uint32(pop()))))
	case wasm.OpI32Add:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a + b))
	case wasm.OpI32Sub:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a - b))
	case wasm.OpI32Mul:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a * b))
	case wasm.OpI32DivS:
		b, a := int32(pop()), int32(pop())
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return vm.NewTrap("integer overflow")
		}
		push(vm.RawI32(a / b))
	case wasm.OpI32DivU:
		b, a := uint32(pop()), uint32(pop())
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		push(uint64(a / b))
	case wasm.OpI32RemS:
		b, a := int32(pop()), int32(pop())
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		if a == math.MinInt32 && b == -1 {
			push(0)
		} else {
			push(vm.RawI32(a % b))
		}
	case wasm.OpI32RemU:
		b, a := uint32(pop()), uint32(pop())
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		push(uint64(a % b))
	case wasm.OpI32And:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a & b))
	case wasm.OpI32Or:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a | b))
	case wasm.OpI32Xor:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a ^ b))
	case wasm.OpI32Shl:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a << (b % 32)))
	case wasm.OpI32ShrS:
		b, a := uint32(pop()), int32(pop())
		push(vm.RawI32(a >> (b % 32)))
	case wasm.OpI32ShrU:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(a >> (b % 32)))
	case wasm.OpI32Rotl:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(bits.RotateLeft32(a, int(b%32))))
	case wasm.OpI32Rotr:
		b, a := uint32(pop()), uint32(pop())
		push(uint64(bits.RotateLeft32(a, -int(b%32))))

	// i64 arithmetic
	case wasm.OpI64Clz:
		push(uint64(bits.LeadingZeros64(pop())))
	case wasm.OpI64Ctz:
		push(uint64(bits.TrailingZeros64(pop())))
	case wasm.OpI64Popcnt:
		push(uint64(bits.OnesCount64(pop())))
	case wasm.OpI64Add:
		b, a := pop(), pop()
		push(a + b)
	case wasm.OpI64Sub:
		b, a := pop(), pop()
		push(a - b)
	case wasm.OpI64Mul:
		b, a := pop(), pop()
		push(a * b)
	case wasm.OpI64DivS:
		b, a := int64(pop()), int64(pop())
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return vm.NewTrap("integer overflow")
		}
		push(vm.RawI64(a / b))
	case wasm.OpI64DivU:
		b, a := pop(), pop()
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		push(a / b)
	case wasm.OpI64RemS:
		b, a := int64(pop()), int64(pop())
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		if a == math.MinInt64 && b == -1 {
			push(0)
		} else {
			push(vm.RawI64(a % b))
		}
	case wasm.OpI64RemU:
		b, a := pop(), pop()
		if b == 0 {
			return vm.NewTrap("integer divide by zero")
		}
		push(a % b)
	case wasm.OpI64And:
		b, a := pop(), pop()
		push(a & b)
	case wasm.OpI64Or:
		b, a := pop(), pop()
		push(a | b)
	case wasm.OpI64Xor:
		b, a := pop(), pop()
		push(a ^ b)
	case wasm.OpI64Shl:
		b, a := pop(), pop()
		push(a << (b % 64))
	case wasm.OpI64ShrS:
		b, a := pop(), int64(pop())
		push(vm.RawI64(a >> (b % 64)))
	case wasm.OpI64ShrU:
		b, a := pop(), pop()
		push(a >> (b % 64))
	case wasm.OpI64Rotl:
		b, a := pop(), pop()
		push(bits.RotateLeft64(a, int(b%64)))
	case wasm.OpI64Rotr:
		b, a := pop(), pop()
		push(bits.RotateLeft64(a, -int(b%64)))

	// f32 arithmetic
	case wasm.OpF32Abs:
		push(vm.RawF32(float32(math.Abs(float64(vm.AsF32(pop()))))))
	case wasm.OpF32Neg:
		push(vm.RawF32(-vm.AsF32(pop())))
	case wasm.OpF32Sqrt:
		push(vm.RawF32(float32(math.Sqrt(float64(vm.AsF32(pop()))))))
	case wasm.OpF32Add:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(vm.RawF32(a + b))
	case wasm.OpF32Sub:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(vm.RawF32(a - b))
	case wasm.OpF32Mul:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(vm.RawF32(a * b))
	case wasm.OpF32Div:
		b, a := vm.AsF32(pop()), vm.AsF32(pop())
		push(vm.RawF32(a / b))

	// f64 arithmetic
	case wasm.OpF64Abs:
		push(vm.RawF64(math.Abs(vm.AsF64(pop()))))
	case wasm.OpF64Neg:
		push(vm.RawF64(-vm.AsF64(pop())))
	case wasm.OpF64Sqrt:
		push(vm.RawF64(math.Sqrt(vm.AsF64(pop()))))
	case wasm.OpF64Add:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(vm.RawF64(a + b))
	case wasm.OpF64Sub:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(vm.RawF64(a - b))
	case wasm.OpF64Mul:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(vm.RawF64(a * b))
	case wasm.OpF64Div:
		b, a := vm.AsF64(pop()), vm.AsF64(pop())
		push(vm.RawF64(a / b))

	// conversions
	case wasm.OpI32WrapI64:
		push(uint64(uint32(pop())))
	case wasm.OpI64ExtendI32S:
		push(vm.RawI64(int64(int32(pop()))))
	case wasm.OpI64ExtendI32U:
		push(uint64(uint32(pop())))
	case wasm.OpF32ConvertI32S:
		push(vm.RawF32(float32(int32(pop()))))
	case wasm.OpF64ConvertI32S:
		push(vm.RawF64(float64(int32(pop()))))
	case wasm.OpI32ReinterpretF32, wasm.OpF32ReinterpretI32:
		// Raw words already carry the bit pattern.
	case wasm.OpI64ReinterpretF64, wasm.OpF64ReinterpretI64:

	// sign extension
	case wasm.OpI32Extend8S:
		push(vm.RawI32(int32(int8(pop()))))
	case wasm.OpI32Extend16S:
		push(vm.RawI32(int32(int16(pop()))))
	case wasm.OpI64Extend8S:
		push(vm.RawI64(int64(int8(pop()))))
	case wasm.OpI64Extend16S:
		push(vm.RawI64(int64(int16(pop()))))
	case wasm.OpI64Extend32S:
		push(vm.RawI64(int64(int32(pop()))))

	default:
		return vm.NewTrap("unimplemented opcode %s", wasm.OpName(op))
	}

	*stack = s
	return nil
}
