package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peregrinevm/peregrine/wasm"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "List a module's imports, exports and start function",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fatal(err)
		}
		mod, err := loadModule(context.Background(), eng, args[0])
		if err != nil {
			fatal(err)
		}
		m := mod.Artifact().Module()

		fmt.Printf("types: %d, functions: %d, globals: %d, tables: %d, memories: %d\n",
			len(m.Types), m.NumImportedFuncs()+len(m.Funcs),
			m.NumImportedGlobals()+len(m.Globals),
			m.NumImportedTables()+len(m.Tables),
			m.NumImportedMemories()+len(m.Memories))

		if len(m.Imports) > 0 {
			fmt.Println("imports:")
			for i, imp := range m.Imports {
				fmt.Printf("  %3d %-6s %s.%s%s\n", i, wasm.KindName(imp.Desc.Kind),
					imp.Module, imp.Name, importSig(m, imp))
			}
		}
		if len(m.Exports) > 0 {
			fmt.Println("exports:")
			for i, exp := range m.Exports {
				fmt.Printf("  %3d %-6s %s%s\n", i, wasm.KindName(exp.Kind),
					exp.Name, exportSig(m, exp))
			}
		}
		if m.Start != nil {
			fmt.Printf("start: function %d\n", *m.Start)
		}
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func importSig(m *wasm.Module, imp wasm.Import) string {
	if imp.Desc.Kind != wasm.KindFunc {
		return ""
	}
	return " " + m.Types[imp.Desc.TypeIdx].String()
}

func exportSig(m *wasm.Module, exp wasm.Export) string {
	if exp.Kind != wasm.KindFunc {
		return ""
	}
	if ft := m.FuncTypeAt(exp.Index); ft != nil {
		return " " + ft.String()
	}
	return ""
}
