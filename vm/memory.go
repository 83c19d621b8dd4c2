package vm

import (
	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm"
)

// Memory is a guest linear memory. Offsets and lengths are byte based;
// Size and Grow operate in 64KiB pages.
type Memory interface {
	Type() wasm.MemoryType
	Size() uint32
	Grow(deltaPages uint32) (uint32, error)
	Read(offset, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// LinearMemory is the default in-process Memory implementation.
type LinearMemory struct {
	typ wasm.MemoryType
	buf []byte
	max uint64 // pages
}

// NewMemory allocates a memory at its type's minimum size. The optional
// limit caps growth below the type's declared maximum, in pages.
func NewMemory(typ wasm.MemoryType, limitPages uint64) *LinearMemory {
	max := wasm.MemoryMaxPages
	if typ.Limits.HasMax && uint64(typ.Limits.Max) < max {
		max = uint64(typ.Limits.Max)
	}
	if limitPages > 0 && limitPages < max {
		max = limitPages
	}
	return &LinearMemory{
		typ: typ,
		buf: make([]byte, uint64(typ.Limits.Min)*uint64(wasm.PageSize)),
		max: max,
	}
}

// Type returns the memory's type.
func (m *LinearMemory) Type() wasm.MemoryType {
	return m.typ
}

// Size returns the current size in pages.
func (m *LinearMemory) Size() uint32 {
	return uint32(len(m.buf) / int(wasm.PageSize))
}

// Grow extends the memory by deltaPages and returns the previous size in
// pages. Growth beyond the effective maximum fails.
func (m *LinearMemory) Grow(deltaPages uint32) (uint32, error) {
	old := m.Size()
	next := uint64(old) + uint64(deltaPages)
	if next > m.max {
		return 0, werrors.LimitExceeded(werrors.PhaseRuntime, []string{"memory"},
			"growth exceeds maximum pages")
	}
	m.buf = append(m.buf, make([]byte, uint64(deltaPages)*uint64(wasm.PageSize))...)
	return old, nil
}

// Read returns a copy of length bytes at offset.
func (m *LinearMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.buf[offset:])
	return out, nil
}

// Write copies data into memory at offset.
func (m *LinearMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.buf[offset:], data)
	return nil
}

func (m *LinearMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.buf)) {
		return werrors.OutOfBounds(werrors.PhaseRuntime,
			[]string{"memory"}, int(uint64(offset)+uint64(length)), len(m.buf))
	}
	return nil
}
