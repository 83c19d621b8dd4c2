package vm

import (
	"bytes"
	"encoding/binary"
	"io"

	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm"
)

// EvalConstExpr evaluates a validated constant expression to a raw word.
// Global references resolve against the supplied imported globals.
func EvalConstExpr(expr []byte, globals []Global) (uint64, error) {
	r := bytes.NewReader(expr)
	op, err := r.ReadByte()
	if err != nil {
		return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"},
			"empty expression")
	}
	switch op {
	case wasm.OpI32Const:
		v, err := wasm.ReadS32(r)
		if err != nil {
			return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"}, err.Error())
		}
		return RawI32(v), nil
	case wasm.OpI64Const:
		v, err := wasm.ReadS64(r)
		if err != nil {
			return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"}, err.Error())
		}
		return RawI64(v), nil
	case wasm.OpF32Const:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"}, err.Error())
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case wasm.OpF64Const:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"}, err.Error())
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	case wasm.OpGlobalGet:
		idx, err := wasm.ReadU32(r)
		if err != nil {
			return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"}, err.Error())
		}
		if int(idx) >= len(globals) {
			return 0, werrors.OutOfBounds(werrors.PhaseLink,
				[]string{"init expr", "global"}, int(idx), len(globals))
		}
		return globals[idx].Get(), nil
	default:
		return 0, werrors.InvalidData(werrors.PhaseLink, []string{"init expr"},
			"not a constant instruction")
	}
}
