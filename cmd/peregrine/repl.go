package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/peregrinevm/peregrine/runtime"
	"github.com/peregrinevm/peregrine/wasm"
)

var replCmd = &cobra.Command{
	Use:   "repl <file>",
	Short: "Interactively invoke a module's exports",
	Long: `Instantiate a module and invoke its exported functions from an
interactive prompt. Each line is an export name followed by arguments:

  >>> add 2 40
  42

Type 'exports' to list callable exports, 'exit' or Ctrl+D to quit.`,
	Args: cobra.ExactArgs(1),
	Run:  runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.peregrine_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
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

	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".peregrine_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fatal(err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "peregrine repl on %s (type 'exit' to quit, Ctrl+D to exit)\n", eng.Name())

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "exit", "quit":
			return
		case "exports":
			printExports(inst)
			continue
		}

		ext, ok := inst.Export(fields[0])
		if !ok || ext.Kind() != wasm.KindFunc {
			fmt.Fprintf(os.Stderr, "no exported function %q (try 'exports')\n", fields[0])
			continue
		}
		fn := ext.Func()
		raw, err := parseArgs(fn.Type, fields[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		out, err := fn.Invoke(ctx, raw...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		if len(out) > 0 {
			fmt.Println(formatResults(fn.Type, out))
		}
	}
}

func printExports(inst *runtime.Instance) {
	for _, exp := range inst.Exports() {
		if exp.Extern.Kind() != wasm.KindFunc {
			continue
		}
		fmt.Printf("  %s %s\n", exp.Name, exp.Extern.Func().Type.String())
	}
}
