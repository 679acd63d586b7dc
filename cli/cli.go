// Package cli is the subcommand framework for the intentd binary, a thin
// layer over cobra that adds a version command, coded usage errors and a
// single place to print them.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/greynewell/intentd/errors"
)

// App is the top-level CLI application.
type App struct {
	Name    string
	Version string
	root    *cobra.Command
	out     io.Writer
	errOut  io.Writer
}

// NewApp creates an application with the built-in version command.
func NewApp(name, version, short string) *App {
	a := &App{Name: name, Version: version, out: os.Stdout, errOut: os.Stderr}
	a.root = &cobra.Command{
		Use:           name,
		Short:         short,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return errors.Input("unknown command %q for %q", args[0], cmd.Name())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	a.root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Input("%v", err)
	})
	a.root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", a.Name, a.Version)
			return nil
		},
	})
	return a
}

// AddCommand registers subcommands.
func (a *App) AddCommand(cmds ...*cobra.Command) {
	a.root.AddCommand(cmds...)
}

// Root exposes the root command, mostly for persistent flags.
func (a *App) Root() *cobra.Command { return a.root }

// SetOutput redirects normal and error output.
func (a *App) SetOutput(out, errOut io.Writer) {
	a.out, a.errOut = out, errOut
}

// Execute parses args and runs the matching subcommand. Usage errors are
// printed with the failing command's usage; the error is returned either
// way so main can pick the exit code.
func (a *App) Execute(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	a.root.SetOut(a.out)
	a.root.SetErr(a.errOut)

	cmd, err := a.root.ExecuteContextC(ctx)
	if err == nil {
		return nil
	}
	fmt.Fprintf(a.errOut, "Error: %v\n", err)
	if errors.CategoryOf(err) == errors.CategoryInput && cmd != nil {
		fmt.Fprintf(a.errOut, "\n%s", cmd.UsageString())
	}
	return err
}

// RangeArgs is cobra.RangeArgs with a coded validation error.
func RangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			if min == max {
				return errors.Input("%s takes %d argument(s), got %d", cmd.Name(), min, len(args))
			}
			return errors.Input("%s takes %d to %d arguments, got %d", cmd.Name(), min, max, len(args))
		}
		return nil
	}
}

// ExactArgs is RangeArgs(n, n).
func ExactArgs(n int) cobra.PositionalArgs {
	return RangeArgs(n, n)
}

// MinimumArgs is cobra.MinimumNArgs with a coded validation error.
func MinimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return errors.Input("%s requires at least %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

// ExitCode is the process status for err: 0 for nil, otherwise derived
// from its code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return errors.ExitCode(errors.Code(err))
}
