package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peregrinevm/peregrine/runtime"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file.wasm>",
	Short: "Validate a wasm binary without compiling it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fatal(err)
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal(err)
		}
		if err := runtime.Validate(eng, data); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
