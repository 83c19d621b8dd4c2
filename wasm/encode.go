package wasm

import (
	"github.com/peregrinevm/peregrine/wasm/internal/binary"
)

// Encode serializes a Module back into the WebAssembly binary format.
// Encoding the result of ParseModule reproduces an equivalent binary.
func Encode(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		writeSection(w, SectionType, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		writeSection(w, SectionImport, encodeImportSection(m))
	}
	if len(m.Funcs) > 0 {
		writeSection(w, SectionFunction, encodeFunctionSection(m))
	}
	if len(m.Tables) > 0 {
		writeSection(w, SectionTable, encodeTableSection(m))
	}
	if len(m.Memories) > 0 {
		writeSection(w, SectionMemory, encodeMemorySection(m))
	}
	if len(m.Globals) > 0 {
		writeSection(w, SectionGlobal, encodeGlobalSection(m))
	}
	if len(m.Exports) > 0 {
		writeSection(w, SectionExport, encodeExportSection(m))
	}
	if m.Start != nil {
		writeSection(w, SectionStart, AppendU32(nil, *m.Start))
	}
	if len(m.Elements) > 0 {
		writeSection(w, SectionElement, encodeElementSection(m))
	}
	if len(m.Code) > 0 {
		writeSection(w, SectionCode, encodeCodeSection(m))
	}
	if len(m.Data) > 0 {
		writeSection(w, SectionData, encodeDataSection(m))
	}
	for _, c := range m.Customs {
		body := appendName(nil, c.Name)
		body = append(body, c.Data...)
		writeSection(w, SectionCustom, body)
	}
	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, body []byte) {
	w.WriteByte(id)
	w.Append(func(dst []byte) []byte {
		return AppendU32(dst, uint32(len(body)))
	})
	w.Write(body)
}

func appendName(dst []byte, name string) []byte {
	dst = AppendU32(dst, uint32(len(name)))
	return append(dst, name...)
}

func appendValTypes(dst []byte, types []ValType) []byte {
	dst = AppendU32(dst, uint32(len(types)))
	for _, t := range types {
		dst = append(dst, byte(t))
	}
	return dst
}

func appendLimits(dst []byte, l Limits) []byte {
	if l.HasMax {
		dst = append(dst, LimitsHasMax)
		dst = AppendU32(dst, l.Min)
		return AppendU32(dst, l.Max)
	}
	dst = append(dst, LimitsNoMax)
	return AppendU32(dst, l.Min)
}

func appendTableType(dst []byte, tt TableType) []byte {
	dst = append(dst, byte(tt.ElemType))
	return appendLimits(dst, tt.Limits)
}

func appendGlobalType(dst []byte, gt GlobalType) []byte {
	dst = append(dst, byte(gt.ValType))
	if gt.Mutable {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func encodeTypeSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Types)))
	for _, ft := range m.Types {
		b = append(b, FuncTypeByte)
		b = appendValTypes(b, ft.Params)
		b = appendValTypes(b, ft.Results)
	}
	return b
}

func encodeImportSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		b = appendName(b, imp.Module)
		b = appendName(b, imp.Name)
		b = append(b, imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			b = AppendU32(b, imp.Desc.TypeIdx)
		case KindTable:
			b = appendTableType(b, imp.Desc.Table)
		case KindMemory:
			b = appendLimits(b, imp.Desc.Memory.Limits)
		case KindGlobal:
			b = appendGlobalType(b, imp.Desc.Global)
		}
	}
	return b
}

func encodeFunctionSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		b = AppendU32(b, typeIdx)
	}
	return b
}

func encodeTableSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Tables)))
	for _, tt := range m.Tables {
		b = appendTableType(b, tt)
	}
	return b
}

func encodeMemorySection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Memories)))
	for _, mt := range m.Memories {
		b = appendLimits(b, mt.Limits)
	}
	return b
}

func encodeGlobalSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Globals)))
	for _, g := range m.Globals {
		b = appendGlobalType(b, g.Type)
		b = append(b, g.Init...)
	}
	return b
}

func encodeExportSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Exports)))
	for _, exp := range m.Exports {
		b = appendName(b, exp.Name)
		b = append(b, exp.Kind)
		b = AppendU32(b, exp.Index)
	}
	return b
}

func encodeElementSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Elements)))
	for _, el := range m.Elements {
		b = AppendU32(b, 0) // flags
		b = append(b, el.Offset...)
		b = AppendU32(b, uint32(len(el.Funcs)))
		for _, f := range el.Funcs {
			b = AppendU32(b, f)
		}
	}
	return b
}

func encodeCodeSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Code)))
	for _, body := range m.Code {
		entry := AppendU32(nil, uint32(len(body.Locals)))
		for _, l := range body.Locals {
			entry = AppendU32(entry, l.Count)
			entry = append(entry, byte(l.Type))
		}
		entry = append(entry, body.Code...)
		b = AppendU32(b, uint32(len(entry)))
		b = append(b, entry...)
	}
	return b
}

func encodeDataSection(m *Module) []byte {
	b := AppendU32(nil, uint32(len(m.Data)))
	for _, d := range m.Data {
		b = AppendU32(b, 0) // flags
		b = append(b, d.Offset...)
		b = AppendU32(b, uint32(len(d.Data)))
		b = append(b, d.Data...)
	}
	return b
}
