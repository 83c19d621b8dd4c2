package wasm

import (
	"fmt"

	werrors "github.com/peregrinevm/peregrine/errors"
	"github.com/peregrinevm/peregrine/wasm/internal/binary"
)

// ParseModule decodes a WebAssembly binary into a Module. Sections must
// appear in the order required by the binary format; custom sections may
// appear anywhere and are retained uninterpreted.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, decodeErr("header", err)
	}
	if magic != Magic {
		return nil, werrors.InvalidData(werrors.PhaseDecode, []string{"header"},
			fmt.Sprintf("bad magic number 0x%08x", magic))
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, decodeErr("header", err)
	}
	if version != Version {
		return nil, werrors.Unsupported(werrors.PhaseDecode,
			fmt.Sprintf("binary version %d", version))
	}

	m := &Module{}
	lastID := byte(0)
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, decodeErr("section", err)
		}
		size, err := ReadU32(r)
		if err != nil {
			return nil, decodeErr("section", err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, decodeErr("section", err)
		}

		if id != SectionCustom {
			if id > SectionDataCount {
				return nil, werrors.InvalidData(werrors.PhaseDecode, []string{"section"},
					fmt.Sprintf("unknown section id %d", id))
			}
			if id <= lastID {
				return nil, werrors.InvalidData(werrors.PhaseDecode, []string{"section"},
					fmt.Sprintf("section id %d out of order", id))
			}
			lastID = id
		}

		switch id {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = werrors.Unsupported(werrors.PhaseDecode, "data count section")
		}
		if err != nil {
			return nil, err
		}
		if id != SectionDataCount {
			if eofErr := sr.ExpectEOF(); eofErr != nil {
				return nil, werrors.New(werrors.PhaseDecode, werrors.KindInvalidData).
					Path(sectionName(id)).
					Detail(eofErr.Error()).
					Build()
			}
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, werrors.InvalidData(werrors.PhaseDecode, []string{"code"},
			fmt.Sprintf("function section declares %d functions but code section has %d bodies",
				len(m.Funcs), len(m.Code)))
	}
	return m, nil
}

func decodeErr(path string, cause error) error {
	return werrors.New(werrors.PhaseDecode, werrors.KindInvalidData).
		Path(path).
		Cause(cause).
		Build()
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	default:
		return fmt.Sprintf("section(%d)", id)
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := readName(r)
	if err != nil {
		return decodeErr("custom", err)
	}
	data, err := r.ReadBytes(r.Len())
	if err != nil {
		return decodeErr("custom", err)
	}
	m.Customs = append(m.Customs, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("type", err)
	}
	m.Types = make([]*FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return decodeErr("type", err)
		}
		if tag != FuncTypeByte {
			return werrors.InvalidData(werrors.PhaseDecode, []string{"type"},
				fmt.Sprintf("entry %d: expected function type tag 0x60, got 0x%02x", i, tag))
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func readFuncType(r *binary.Reader) (*FuncType, error) {
	params, err := readValTypeVec(r)
	if err != nil {
		return nil, err
	}
	results, err := readValTypeVec(r)
	if err != nil {
		return nil, err
	}
	return &FuncType{Params: params, Results: results}, nil
}

func readValTypeVec(r *binary.Reader) ([]ValType, error) {
	count, err := ReadU32(r)
	if err != nil {
		return nil, decodeErr("type", err)
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]ValType, 0, count)
	for i := uint32(0); i < count; i++ {
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, decodeErr("type", err)
	}
	vt := ValType(b)
	if !vt.IsNum() && !vt.IsRef() {
		return 0, werrors.InvalidData(werrors.PhaseDecode, []string{"type"},
			fmt.Sprintf("invalid value type 0x%02x", b))
	}
	return vt, nil
}

func readName(r *binary.Reader) (string, error) {
	n, err := ReadU32(r)
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("import", err)
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		mod, err := readName(r)
		if err != nil {
			return decodeErr("import", err)
		}
		name, err := readName(r)
		if err != nil {
			return decodeErr("import", err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return decodeErr("import", err)
		}
		imp := Import{Module: mod, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = ReadU32(r)
			if err != nil {
				return decodeErr("import", err)
			}
		case KindTable:
			imp.Desc.Table, err = readTableType(r)
			if err != nil {
				return err
			}
		case KindMemory:
			imp.Desc.Memory, err = readMemoryType(r)
			if err != nil {
				return err
			}
		case KindGlobal:
			imp.Desc.Global, err = readGlobalType(r)
			if err != nil {
				return err
			}
		default:
			return werrors.InvalidData(werrors.PhaseDecode, []string{"import"},
				fmt.Sprintf("entry %d: invalid import kind 0x%02x", i, kind))
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("function", err)
	}
	m.Funcs = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, err := ReadU32(r)
		if err != nil {
			return decodeErr("function", err)
		}
		m.Funcs = append(m.Funcs, typeIdx)
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, decodeErr("limits", err)
	}
	switch flags {
	case LimitsNoMax:
		min, err := ReadU32(r)
		if err != nil {
			return Limits{}, decodeErr("limits", err)
		}
		return Limits{Min: min}, nil
	case LimitsHasMax:
		min, err := ReadU32(r)
		if err != nil {
			return Limits{}, decodeErr("limits", err)
		}
		max, err := ReadU32(r)
		if err != nil {
			return Limits{}, decodeErr("limits", err)
		}
		if max < min {
			return Limits{}, werrors.InvalidData(werrors.PhaseDecode, []string{"limits"},
				fmt.Sprintf("max %d below min %d", max, min))
		}
		return Limits{Min: min, Max: max, HasMax: true}, nil
	default:
		return Limits{}, werrors.InvalidData(werrors.PhaseDecode, []string{"limits"},
			fmt.Sprintf("invalid limits flags 0x%02x", flags))
	}
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return TableType{}, decodeErr("table", err)
	}
	et := ValType(elem)
	if !et.IsRef() {
		return TableType{}, werrors.InvalidData(werrors.PhaseDecode, []string{"table"},
			fmt.Sprintf("invalid element type 0x%02x", elem))
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: et, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	if uint64(limits.Min) > MemoryMaxPages {
		return MemoryType{}, werrors.LimitExceeded(werrors.PhaseDecode, []string{"memory"},
			fmt.Sprintf("min %d pages exceeds %d", limits.Min, MemoryMaxPages))
	}
	if limits.HasMax && uint64(limits.Max) > MemoryMaxPages {
		return MemoryType{}, werrors.LimitExceeded(werrors.PhaseDecode, []string{"memory"},
			fmt.Sprintf("max %d pages exceeds %d", limits.Max, MemoryMaxPages))
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, decodeErr("global", err)
	}
	if mut > 1 {
		return GlobalType{}, werrors.InvalidData(werrors.PhaseDecode, []string{"global"},
			fmt.Sprintf("invalid mutability flag 0x%02x", mut))
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readInitExpr consumes a constant expression up to and including its
// terminating OpEnd and returns the raw bytes including the terminator.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	start := r.Pos()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, decodeErr("init expr", err)
		}
		switch op {
		case OpEnd:
			return r.Slice(start, r.Pos()), nil
		case OpI32Const:
			if _, err := ReadS32(r); err != nil {
				return nil, decodeErr("init expr", err)
			}
		case OpI64Const:
			if _, err := ReadS64(r); err != nil {
				return nil, decodeErr("init expr", err)
			}
		case OpF32Const:
			if err := r.Skip(4); err != nil {
				return nil, decodeErr("init expr", err)
			}
		case OpF64Const:
			if err := r.Skip(8); err != nil {
				return nil, decodeErr("init expr", err)
			}
		case OpGlobalGet:
			if _, err := ReadU32(r); err != nil {
				return nil, decodeErr("init expr", err)
			}
		default:
			return nil, werrors.InvalidData(werrors.PhaseDecode, []string{"init expr"},
				fmt.Sprintf("opcode 0x%02x not constant", op))
		}
	}
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("table", err)
	}
	m.Tables = make([]TableType, 0, count)
	for i := uint32(0); i < count; i++ {
		tt, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("memory", err)
	}
	if count > 1 {
		return werrors.Unsupported(werrors.PhaseDecode, "multiple memories")
	}
	m.Memories = make([]MemoryType, 0, count)
	for i := uint32(0); i < count; i++ {
		mt, err := readMemoryType(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, mt)
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("global", err)
	}
	m.Globals = make([]Global, 0, count)
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("export", err)
	}
	seen := make(map[string]struct{}, count)
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return decodeErr("export", err)
		}
		if _, dup := seen[name]; dup {
			return werrors.InvalidData(werrors.PhaseDecode, []string{"export"},
				fmt.Sprintf("duplicate export name %q", name))
		}
		seen[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return decodeErr("export", err)
		}
		if kind > KindGlobal {
			return werrors.InvalidData(werrors.PhaseDecode, []string{"export"},
				fmt.Sprintf("invalid export kind 0x%02x", kind))
		}
		idx, err := ReadU32(r)
		if err != nil {
			return decodeErr("export", err)
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := ReadU32(r)
	if err != nil {
		return decodeErr("start", err)
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("element", err)
	}
	m.Elements = make([]Element, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, err := ReadU32(r)
		if err != nil {
			return decodeErr("element", err)
		}
		if flags != 0 {
			return werrors.Unsupported(werrors.PhaseDecode,
				fmt.Sprintf("segment flags %d", flags))
		}
		offset, err := readInitExpr(r)
		if err != nil {
			return err
		}
		n, err := ReadU32(r)
		if err != nil {
			return decodeErr("element", err)
		}
		funcs := make([]uint32, 0, n)
		for j := uint32(0); j < n; j++ {
			f, err := ReadU32(r)
			if err != nil {
				return decodeErr("element", err)
			}
			funcs = append(funcs, f)
		}
		m.Elements = append(m.Elements, Element{TableIdx: 0, Offset: offset, Funcs: funcs})
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("code", err)
	}
	m.Code = make([]FuncBody, 0, count)
	for i := uint32(0); i < count; i++ {
		size, err := ReadU32(r)
		if err != nil {
			return decodeErr("code", err)
		}
		br, err := r.Sub(int(size))
		if err != nil {
			return decodeErr("code", err)
		}
		body, err := parseFuncBody(br)
		if err != nil {
			return err
		}
		m.Code = append(m.Code, body)
	}
	return nil
}

func parseFuncBody(r *binary.Reader) (FuncBody, error) {
	localCount, err := ReadU32(r)
	if err != nil {
		return FuncBody{}, decodeErr("code", err)
	}
	locals := make([]LocalEntry, 0, localCount)
	total := uint64(0)
	for i := uint32(0); i < localCount; i++ {
		n, err := ReadU32(r)
		if err != nil {
			return FuncBody{}, decodeErr("code", err)
		}
		vt, err := readValType(r)
		if err != nil {
			return FuncBody{}, err
		}
		total += uint64(n)
		if total > 1<<20 {
			return FuncBody{}, werrors.LimitExceeded(werrors.PhaseDecode, []string{"code"},
				"too many locals")
		}
		locals = append(locals, LocalEntry{Count: n, Type: vt})
	}
	code, err := r.ReadBytes(r.Len())
	if err != nil {
		return FuncBody{}, decodeErr("code", err)
	}
	if len(code) == 0 || code[len(code)-1] != OpEnd {
		return FuncBody{}, werrors.InvalidData(werrors.PhaseDecode, []string{"code"},
			"function body missing end opcode")
	}
	return FuncBody{Locals: locals, Code: code}, nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := ReadU32(r)
	if err != nil {
		return decodeErr("data", err)
	}
	m.Data = make([]DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, err := ReadU32(r)
		if err != nil {
			return decodeErr("data", err)
		}
		if flags != 0 {
			return werrors.Unsupported(werrors.PhaseDecode,
				fmt.Sprintf("segment flags %d", flags))
		}
		offset, err := readInitExpr(r)
		if err != nil {
			return err
		}
		n, err := ReadU32(r)
		if err != nil {
			return decodeErr("data", err)
		}
		data, err := r.ReadBytes(int(n))
		if err != nil {
			return decodeErr("data", err)
		}
		m.Data = append(m.Data, DataSegment{MemIdx: 0, Offset: offset, Data: data})
	}
	return nil
}
