package wasm

import (
	"fmt"

	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm/internal/binary"
)

// MemArg is the alignment/offset immediate of a memory access instruction.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// Instruction is one decoded instruction with its immediates. Which
// immediate fields are meaningful depends on the opcode.
type Instruction struct {
	Op byte

	// Block/Loop/If: block type (negative encoding, see BlockType* consts).
	BlockType int32

	// Br/BrIf, Call/CallIndirect, LocalGet/Set/Tee, GlobalGet/Set: index.
	Index uint32

	// BrTable: branch targets plus default (last element).
	Targets []uint32

	// Memory access instructions.
	Mem MemArg

	// Constants.
	I32 int32
	I64 int64
	F32 uint32 // raw bits
	F64 uint64 // raw bits
}

// DecodeInstructions decodes a function body's instruction bytes into a
// flat instruction stream. The terminating OpEnd of the body is included.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	var out []Instruction
	for r.Len() > 0 {
		ins, err := decodeOne(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, nil
}

func decodeOne(r *binary.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, codeErr(err)
	}
	ins := Instruction{Op: op}

	switch op {
	case OpBlock, OpLoop, OpIf:
		bt, err := ReadS33(r)
		if err != nil {
			return Instruction{}, codeErr(err)
		}
		if bt >= 0 {
			return Instruction{}, werrors.Unsupported(werrors.PhaseDecode,
				"multi-value block types")
		}
		switch int32(bt) {
		case BlockTypeVoid, BlockTypeI32, BlockTypeI64, BlockTypeF32, BlockTypeF64:
		default:
			return Instruction{}, werrors.InvalidData(werrors.PhaseDecode, []string{"code"},
				fmt.Sprintf("invalid block type %d", bt))
		}
		ins.BlockType = int32(bt)

	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee,
		OpGlobalGet, OpGlobalSet:
		ins.Index, err = ReadU32(r)
		if err != nil {
			return Instruction{}, codeErr(err)
		}

	case OpBrTable:
		n, err := ReadU32(r)
		if err != nil {
			return Instruction{}, codeErr(err)
		}
		targets := make([]uint32, 0, n+1)
		for i := uint32(0); i <= n; i++ {
			t, err := ReadU32(r)
			if err != nil {
				return Instruction{}, codeErr(err)
			}
			targets = append(targets, t)
		}
		ins.Targets = targets

	case OpCallIndirect:
		ins.Index, err = ReadU32(r)
		if err != nil {
			return Instruction{}, codeErr(err)
		}
		tableIdx, err := r.ReadByte()
		if err != nil {
			return Instruction{}, codeErr(err)
		}
		if tableIdx != 0 {
			return Instruction{}, werrors.Unsupported(werrors.PhaseDecode,
				"call_indirect on non-zero table")
		}

	case OpI32Const:
		ins.I32, err = ReadS32(r)
		if err != nil {
			return Instruction{}, codeErr(err)
		}
	case OpI64Const:
		ins.I64, err = ReadS64(r)
		if err != nil {
			return Instruction{}, codeErr(err)
		}
	case OpF32Const:
		ins.F32, err = r.ReadU32LE()
		if err != nil {
			return Instruction{}, codeErr(err)
		}
	case OpF64Const:
		ins.F64, err = r.ReadU64LE()
		if err != nil {
			return Instruction{}, codeErr(err)
		}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U,
		OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		ins.Mem, err = readMemArg(r)
		if err != nil {
			return Instruction{}, err
		}

	case OpMemorySize, OpMemoryGrow:
		memIdx, err := r.ReadByte()
		if err != nil {
			return Instruction{}, codeErr(err)
		}
		if memIdx != 0 {
			return Instruction{}, werrors.Unsupported(werrors.PhaseDecode,
				"non-zero memory index")
		}

	case OpPrefixGC, OpPrefixMisc, OpPrefixSIMD, OpPrefixAtomic:
		return Instruction{}, werrors.Unsupported(werrors.PhaseDecode,
			fmt.Sprintf("prefixed opcode 0x%02x", op))

	default:
		if !knownOpcode(op) {
			return Instruction{}, werrors.InvalidData(werrors.PhaseDecode, []string{"code"},
				fmt.Sprintf("unknown opcode 0x%02x", op))
		}
	}
	return ins, nil
}

func codeErr(cause error) error {
	return werrors.New(werrors.PhaseDecode, werrors.KindInvalidData).
		Path("code").
		Cause(cause).
		Build()
}

func readMemArg(r *binary.Reader) (MemArg, error) {
	align, err := ReadU32(r)
	if err != nil {
		return MemArg{}, codeErr(err)
	}
	offset, err := ReadU32(r)
	if err != nil {
		return MemArg{}, codeErr(err)
	}
	if align > 16 {
		return MemArg{}, werrors.InvalidData(werrors.PhaseDecode, []string{"code"},
			fmt.Sprintf("alignment 2^%d out of range", align))
	}
	return MemArg{Align: align, Offset: offset}, nil
}

// knownOpcode reports whether op is a recognized no-immediate opcode.
func knownOpcode(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect:
		return true
	}
	// Comparison, numeric, conversion and sign-extension opcodes form a
	// contiguous range in the binary format.
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

// OpName returns the textual mnemonic for known opcodes, primarily for
// error messages and the inspect command.
func OpName(op byte) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(0x%02x)", op)
}

var opNames = map[byte]string{
	OpUnreachable:  "unreachable",
	OpNop:          "nop",
	OpBlock:        "block",
	OpLoop:         "loop",
	OpIf:           "if",
	OpElse:         "else",
	OpEnd:          "end",
	OpBr:           "br",
	OpBrIf:         "br_if",
	OpBrTable:      "br_table",
	OpReturn:       "return",
	OpCall:         "call",
	OpCallIndirect: "call_indirect",
	OpDrop:         "drop",
	OpSelect:       "select",
	OpLocalGet:     "local.get",
	OpLocalSet:     "local.set",
	OpLocalTee:     "local.tee",
	OpGlobalGet:    "global.get",
	OpGlobalSet:    "global.set",
	OpI32Load:      "i32.load",
	OpI64Load:      "i64.load",
	OpI32Store:     "i32.store",
	OpI64Store:     "i64.store",
	OpMemorySize:   "memory.size",
	OpMemoryGrow:   "memory.grow",
	OpI32Const:     "i32.const",
	OpI64Const:     "i64.const",
	OpF32Const:     "f32.const",
	OpF64Const:     "f64.const",
	OpI32Add:       "i32.add",
	OpI32Sub:       "i32.sub",
	OpI32Mul:       "i32.mul",
	OpI64Add:       "i64.add",
	OpI64Sub:       "i64.sub",
	OpI64Mul:       "i64.mul",
}
