// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/daemond/internal/cli/format"
	"github.com/tombee/daemond/internal/dispatch"
)

// ErrUsage reports that the command line did not name a runnable command.
var ErrUsage = errors.New("invalid usage")

// Exit codes returned by ExitCode.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Options configures the control entry point.
type Options struct {
	// Name is the daemon name shown in usage lines.
	Name string

	// Short is the one-line description of the binary.
	Short string

	// Table supplies the direct commands.
	Table *dispatch.Table

	// ConfigPath receives the --config flag.
	ConfigPath *string

	// Styler defaults to format.Auto().
	Styler *format.Styler
}

// NewRootCommand builds the cobra tree for a daemon's control entry point:
// one subcommand per direct command in the table, in registration order.
// Commands without a description are hidden from help and usage.
func NewRootCommand(opts Options) *cobra.Command {
	styler := format.Auto()
	if opts.Styler != nil {
		styler = *opts.Styler
	}
	if opts.ConfigPath == nil {
		opts.ConfigPath = new(string)
	}

	printUsage := func(w io.Writer) {
		_ = WriteUsage(w, opts.Name, opts.Table.Visible(), styler)
	}

	root := &cobra.Command{
		Use:           opts.Name + " <command> [args...]",
		Short:         opts.Short,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		RunE: func(cmd *cobra.Command, args []string) error {
			printUsage(cmd.OutOrStdout())
			if len(args) > 0 {
				return fmt.Errorf("%w: %w: %s", ErrUsage, dispatch.ErrUnknownCommand, args[0])
			}
			return ErrUsage
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(opts.ConfigPath, "config", "", "Path to config file (default: $DAEMOND_CONFIG)")

	for _, c := range opts.Table.CLICommands() {
		root.AddCommand(newDispatchCommand(opts.Table, c, printUsage))
	}
	root.SetHelpCommand(NewHelpCommand(root, opts.Name, opts.Table, styler))

	return root
}

func newDispatchCommand(table *dispatch.Table, c *dispatch.Command, printUsage func(io.Writer)) *cobra.Command {
	name := c.Name
	return &cobra.Command{
		Use:    c.Usage(),
		Short:  c.Description,
		Hidden: c.Hidden(),
		Args:   cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := table.InvokeCLI(cmd.Context(), name, args)
			if errors.Is(err, dispatch.ErrMissingArguments) {
				printUsage(cmd.OutOrStdout())
				return fmt.Errorf("%w: %w", ErrUsage, err)
			}
			return err
		},
	}
}

// ExitCode maps the result of executing the root command to a process exit
// status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	default:
		return ExitError
	}
}

// HandleExitError prints err, unless it is a usage error whose listing was
// already printed, and returns the exit status.
func HandleExitError(w io.Writer, err error) int {
	code := ExitCode(err)
	if err != nil && code != ExitUsage {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return code
}
