package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/engine/interp"
	"github.com/peregrinevm/peregrine/engine/stub"
	"github.com/peregrinevm/peregrine/engine/wazeroengine"
	"github.com/peregrinevm/peregrine/runtime"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

var rootCmd = &cobra.Command{
	Use:   "peregrine",
	Short: "Pluggable-engine WebAssembly runtime",
	Long: `peregrine - Compile, inspect and run WebAssembly modules.

Modules run on one of three interchangeable backends: a pure-Go
interpreter, a wazero-based engine, or a stub engine whose functions
trap on call. Compiled artifacts can be serialized and revived on the
same backend.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			logger, err := zap.NewDevelopment()
			if err == nil {
				engine.SetLogger(logger)
				runtime.SetLogger(logger)
			}
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("engine", "e", "interp", "Backend: interp, wazero, stub")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func newEngine(cmd *cobra.Command) (engine.Engine, error) {
	name, _ := cmd.Flags().GetString("engine")
	switch name {
	case "interp":
		return interp.New(), nil
	case "wazero":
		return wazeroengine.New(), nil
	case "stub":
		return stub.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q: use interp, wazero or stub", name)
	}
}

// loadModule reads a wasm binary or a serialized artifact, picking
// Compile or Deserialize off the envelope magic.
func loadModule(ctx context.Context, eng engine.Engine, path string) (*runtime.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if engine.IsEnvelope(data) {
		return runtime.Deserialize(ctx, eng, data)
	}
	return runtime.Compile(ctx, eng, data)
}

// parseArgs converts command-line strings into raw words per the
// function's parameter types.
func parseArgs(ft *wasm.FuncType, args []string) ([]uint64, error) {
	if len(args) != len(ft.Params) {
		return nil, fmt.Errorf("want %d arguments, got %d", len(ft.Params), len(args))
	}
	out := make([]uint64, len(args))
	for i, s := range args {
		switch ft.Params[i] {
		case wasm.ValI32:
			v, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = vm.RawI32(int32(v))
		case wasm.ValI64:
			v, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = vm.RawI64(v)
		case wasm.ValF32:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = vm.RawF32(float32(v))
		case wasm.ValF64:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = vm.RawF64(v)
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %s", i, ft.Params[i])
		}
	}
	return out, nil
}

// formatResults renders raw result words per the function's result
// types.
func formatResults(ft *wasm.FuncType, values []uint64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch ft.Results[i] {
		case wasm.ValI32:
			parts[i] = strconv.FormatInt(int64(vm.AsI32(v)), 10)
		case wasm.ValI64:
			parts[i] = strconv.FormatInt(vm.AsI64(v), 10)
		case wasm.ValF32:
			parts[i] = strconv.FormatFloat(float64(vm.AsF32(v)), 'g', -1, 32)
		case wasm.ValF64:
			parts[i] = strconv.FormatFloat(vm.AsF64(v), 'g', -1, 64)
		default:
			parts[i] = strconv.FormatUint(v, 10)
		}
	}
	return strings.Join(parts, " ")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
