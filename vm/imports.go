package vm

// ImportTable holds link-checked import values grouped by kind, each in
// module declaration order. Backends consume it during instantiation;
// by the time an ImportTable is built every entry has already passed
// the type compatibility check.
type ImportTable struct {
	Functions []*Function
	Globals   []Global
	Tables    []Table
	Memories  []Memory
}
