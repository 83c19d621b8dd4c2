package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peregrinevm/peregrine/runtime"
)

var compileCmd = &cobra.Command{
	Use:   "compile <file.wasm>",
	Short: "Compile a module and serialize the artifact",
	Long: `Compile a wasm binary on the chosen backend and write the
serialized artifact. The artifact can be revived with 'peregrine run'
on the same backend.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		eng, err := newEngine(cmd)
		if err != nil {
			fatal(err)
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal(err)
		}
		mod, err := runtime.Compile(ctx, eng, data)
		if err != nil {
			fatal(err)
		}
		out, err := mod.Serialize()
		if err != nil {
			fatal(err)
		}

		target, _ := cmd.Flags().GetString("output")
		if target == "" {
			target = strings.TrimSuffix(args[0], ".wasm") + ".art"
		}
		if err := os.WriteFile(target, out, 0o644); err != nil {
			fatal(err)
		}
		fmt.Printf("wrote %s (%d bytes, backend %s)\n", target, len(out), eng.Name())
	},
}

func init() {
	compileCmd.Flags().StringP("output", "o", "", "Artifact output path (default: <file>.art)")
	rootCmd.AddCommand(compileCmd)
}
