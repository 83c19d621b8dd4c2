package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peregrinevm/peregrine/runtime"
	"github.com/peregrinevm/peregrine/wasm"
)

var runCmd = &cobra.Command{
	Use:   "run <file> [args...]",
	Short: "Instantiate a module and invoke an export",
	Long: `Compile (or deserialize) a module, instantiate it on the chosen
backend and invoke an exported function.

The file may be a .wasm binary or a serialized artifact produced by
'peregrine compile'. Arguments are parsed per the function's parameter
types.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRun,
}

func init() {
	runCmd.Flags().StringP("invoke", "i", "", "Exported function to invoke")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	eng, err := newEngine(cmd)
	if err != nil {
		fatal(err)
	}

	mod, err := loadModule(ctx, eng, args[0])
	if err != nil {
		fatal(err)
	}

	inst, err := runtime.Instantiate(ctx, mod, nil)
	if err != nil {
		fatal(err)
	}
	defer inst.Close(ctx)

	name, _ := cmd.Flags().GetString("invoke")
	if name == "" {
		// Instantiation alone runs the start function, if any.
		return
	}

	ext, ok := inst.Export(name)
	if !ok || ext.Kind() != wasm.KindFunc {
		fatal(fmt.Errorf("no exported function %q", name))
	}
	fn := ext.Func()

	raw, err := parseArgs(fn.Type, args[1:])
	if err != nil {
		fatal(err)
	}
	out, err := fn.Invoke(ctx, raw...)
	if err != nil {
		fatal(err)
	}
	if len(out) > 0 {
		fmt.Println(formatResults(fn.Type, out))
	}
}
