package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stackvm/vm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stackvm",
		Short: "Run and inspect programs for the stack-based teaching-language VM",
	}

	root.AddCommand(newRunCmd(), newDisasmCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var trace bool

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load and execute a program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(trace)
			if err != nil {
				return err
			}
			defer log.Sync()

			p, err := vm.LoadProgram(args[0])
			if err != nil {
				return err
			}

			natives := vm.StandardNatives(os.Stdout, os.Stdin)
			m := vm.NewVM(p, natives, vm.WithLogger(log), vm.WithTrace(trace))

			result, runErr := m.Run()
			if runErr != nil {
				if a, ok := vm.AsAbort(runErr); ok {
					log.Error("aborted", zap.String("category", a.Category.String()), zap.Uint32("pc", a.PC), zap.String("opcode", a.Opcode.String()))
				}
				return runErr
			}

			cmd.Printf("exit value: %d\n", result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&trace, "trace", false, "log one line per dispatched instruction")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <image>",
		Short: "Disassemble a program image's function pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := vm.LoadProgram(args[0])
			if err != nil {
				return err
			}
			cmd.Print(vm.DisassembleProgram(p))
			return nil
		},
	}
}

func newLogger(trace bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if trace {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return log, nil
}

// exitCodeFor maps an error returned from Run (or the loader) to a
// process exit code per SPEC_FULL.md §6.3.
func exitCodeFor(err error) int {
	if a, ok := vm.AsAbort(err); ok {
		return a.Category.ExitCode()
	}
	return 1
}
