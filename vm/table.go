package vm

import (
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm"
)

// Table is a guest function table. Entries are *Function or nil.
type Table interface {
	Type() wasm.TableType
	Size() uint32
	Get(idx uint32) (*Function, error)
	Set(idx uint32, fn *Function) error
	Grow(delta uint32) (uint32, error)
}

// TableInstance is the default in-process Table implementation.
type TableInstance struct {
	typ   wasm.TableType
	elems []*Function
}

// NewTable creates a table sized to its type's minimum.
func NewTable(typ wasm.TableType) *TableInstance {
	return &TableInstance{
		typ:   typ,
		elems: make([]*Function, typ.Limits.Min),
	}
}

// Type returns the table's type.
func (t *TableInstance) Type() wasm.TableType {
	return t.typ
}

// Size returns the current element count.
func (t *TableInstance) Size() uint32 {
	return uint32(len(t.elems))
}

// Get returns the entry at idx; nil for uninitialized slots.
func (t *TableInstance) Get(idx uint32) (*Function, error) {
	if int(idx) >= len(t.elems) {
		return nil, werrors.OutOfBounds(werrors.PhaseRuntime,
			[]string{"table"}, int(idx), len(t.elems))
	}
	return t.elems[idx], nil
}

// Set stores fn at idx.
func (t *TableInstance) Set(idx uint32, fn *Function) error {
	if int(idx) >= len(t.elems) {
		return werrors.OutOfBounds(werrors.PhaseRuntime,
			[]string{"table"}, int(idx), len(t.elems))
	}
	t.elems[idx] = fn
	return nil
}

// Grow extends the table by delta uninitialized slots and returns the
// previous size. Growth beyond the declared maximum fails.
func (t *TableInstance) Grow(delta uint32) (uint32, error) {
	old := uint32(len(t.elems))
	next := uint64(old) + uint64(delta)
	if t.typ.Limits.HasMax && next > uint64(t.typ.Limits.Max) {
		return 0, werrors.LimitExceeded(werrors.PhaseRuntime, []string{"table"},
			"growth exceeds declared maximum")
	}
	t.elems = append(t.elems, make([]*Function, delta)...)
	return old, nil
}
