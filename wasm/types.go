package wasm

import (
	"fmt"
	"strings"
)

// ValType represents a WebAssembly value type.
type ValType byte

// String returns the textual name of the value type.
func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// IsNum reports whether the value type is a numeric type.
func (v ValType) IsNum() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64:
		return true
	}
	return false
}

// IsRef reports whether the value type is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// FuncType describes a function signature: parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// String renders the signature in a canonical textual form, e.g.
// "(i32, i32) -> (i32)". Two function types are structurally equal
// exactly when their strings are equal.
func (ft *FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range ft.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports structural equality with another function type.
func (ft *FuncType) Equal(other *FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i, p := range ft.Params {
		if p != other.Params[i] {
			return false
		}
	}
	for i, r := range ft.Results {
		if r != other.Results[i] {
			return false
		}
	}
	return true
}

// Limits describes the size bounds of a table or memory.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// TableType describes a table: element type plus size limits.
type TableType struct {
	ElemType ValType
	Limits   Limits
}

// MemoryType describes a linear memory: size limits in pages.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global variable: value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global: its type and init expression bytes.
// The init expression is a constant expression terminated by OpEnd.
type Global struct {
	Type GlobalType
	Init []byte
}

// ImportDesc is the typed descriptor of an import. Kind selects which
// field is meaningful.
type ImportDesc struct {
	Kind    byte
	TypeIdx uint32 // KindFunc: index into the type section
	Table   TableType
	Memory  MemoryType
	Global  GlobalType
}

// Import declares a required external value.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// Export makes a module-internal item visible by name. Index is into the
// corresponding index space (imports first, then module-defined items).
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element is an active element segment: function indices written into a
// table at instantiation.
type Element struct {
	TableIdx uint32
	Offset   []byte // constant expression
	Funcs    []uint32
}

// LocalEntry is a run-length encoded group of locals of one type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is a code-section entry: local declarations plus the raw
// instruction bytes (terminated by OpEnd).
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// DataSegment is an active data segment: bytes written into linear memory
// at instantiation.
type DataSegment struct {
	MemIdx uint32
	Offset []byte // constant expression
	Data   []byte
}

// CustomSection holds an uninterpreted custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the decoded form of a WebAssembly binary.
type Module struct {
	Types    []*FuncType
	Imports  []Import
	Funcs    []uint32 // type indices for module-defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment
	Customs  []CustomSection
}

// NumImportedFuncs returns the count of function imports. Module-defined
// functions occupy indices at and above this count.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals returns the count of global imports.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// NumImportedTables returns the count of table imports.
func (m *Module) NumImportedTables() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			n++
		}
	}
	return n
}

// NumImportedMemories returns the count of memory imports.
func (m *Module) NumImportedMemories() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			n++
		}
	}
	return n
}

// FuncTypeAt resolves the signature of the function at the given index in
// the function index space (imports first). Returns nil if out of range.
func (m *Module) FuncTypeAt(idx uint32) *FuncType {
	i := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if i == idx {
			if imp.Desc.TypeIdx >= uint32(len(m.Types)) {
				return nil
			}
			return m.Types[imp.Desc.TypeIdx]
		}
		i++
	}
	local := idx - uint32(m.NumImportedFuncs())
	if local >= uint32(len(m.Funcs)) {
		return nil
	}
	typeIdx := m.Funcs[local]
	if typeIdx >= uint32(len(m.Types)) {
		return nil
	}
	return m.Types[typeIdx]
}

// AddType appends a function type and returns its index, reusing an
// existing structurally equal entry when present.
func (m *Module) AddType(ft *FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// ExportedFunc finds an exported function by name and returns its index
// in the function index space.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name && exp.Kind == KindFunc {
			return exp.Index, true
		}
	}
	return 0, false
}
