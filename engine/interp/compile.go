package interp

import (
	"fmt"

	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// compiledFunc is one lowered function body. Branch structure is
// resolved at compile time: every block/loop/if instruction knows the
// program counter of its else arm and its end.
type compiledFunc struct {
	typ       *wasm.FuncType
	sig       vm.SignatureIndex
	index     uint32 // function index space
	numLocals int    // params + declared locals
	code      []wasm.Instruction

	// elsePC[pc] and endPC[pc] are meaningful where code[pc] opens a
	// block. endPC points at the matching end instruction; elsePC points
	// at the else instruction or equals endPC when there is none.
	elsePC map[int]int
	endPC  map[int]int
}

// blockArity returns the result arity of a block type.
func blockArity(bt int32) int {
	if bt == wasm.BlockTypeVoid {
		return 0
	}
	return 1
}

// lowerFunc decodes and structures one function body.
func lowerFunc(index uint32, typ *wasm.FuncType, sig vm.SignatureIndex, body wasm.FuncBody) (*compiledFunc, error) {
	code, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, err
	}

	numLocals := len(typ.Params)
	for _, l := range body.Locals {
		numLocals += int(l.Count)
	}

	cf := &compiledFunc{
		typ:       typ,
		sig:       sig,
		index:     index,
		numLocals: numLocals,
		code:      code,
		elsePC:    make(map[int]int),
		endPC:     make(map[int]int),
	}

	// Match each block opener with its else/end by scanning with an
	// opener stack. The function body itself is an implicit block closed
	// by the final end.
	var openers []int
	for pc, ins := range code {
		switch ins.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			openers = append(openers, pc)
		case wasm.OpElse:
			if len(openers) == 0 {
				return nil, werrors.InvalidData(werrors.PhaseCompile, []string{"code"},
					fmt.Sprintf("function %d: else outside if", index))
			}
			opener := openers[len(openers)-1]
			if code[opener].Op != wasm.OpIf {
				return nil, werrors.InvalidData(werrors.PhaseCompile, []string{"code"},
					fmt.Sprintf("function %d: else without if", index))
			}
			cf.elsePC[opener] = pc
		case wasm.OpEnd:
			if len(openers) == 0 {
				// Terminating end of the function body.
				if pc != len(code)-1 {
					return nil, werrors.InvalidData(werrors.PhaseCompile, []string{"code"},
						fmt.Sprintf("function %d: end before last instruction", index))
				}
				continue
			}
			opener := openers[len(openers)-1]
			openers = openers[:len(openers)-1]
			cf.endPC[opener] = pc
			if code[opener].Op == wasm.OpIf {
				if _, ok := cf.elsePC[opener]; !ok {
					cf.elsePC[opener] = pc
				}
			}
		}
	}
	if len(openers) != 0 {
		return nil, werrors.InvalidData(werrors.PhaseCompile, []string{"code"},
			fmt.Sprintf("function %d: unclosed block", index))
	}
	return cf, nil
}

// lowerModule lowers every module-defined function.
func lowerModule(m *wasm.Module, signatures *vm.SignatureRegistry) ([]*compiledFunc, error) {
	numImported := uint32(m.NumImportedFuncs())
	out := make([]*compiledFunc, 0, len(m.Funcs))
	for i, typeIdx := range m.Funcs {
		typ := m.Types[typeIdx]
		cf, err := lowerFunc(numImported+uint32(i), typ, signatures.Register(typ), m.Code[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, nil
}
