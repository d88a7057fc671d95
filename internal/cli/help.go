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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/daemond/internal/cli/format"
	"github.com/tombee/daemond/internal/dispatch"
)

// CommandMetadata represents metadata about a command for JSON output
type CommandMetadata struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Args        []ArgMetadata `json:"args,omitempty"`
}

// ArgMetadata describes one positional argument.
type ArgMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FlagMetadata represents metadata about a flag
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// HelpResponse is the JSON response for help command
type HelpResponse struct {
	Daemon      string            `json:"daemon"`
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command,omitempty"`
	IPCCommands []CommandMetadata `json:"ipc_commands,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
}

// NewHelpCommand creates the help command. Without arguments it prints the
// usage listing; with --json it describes the direct and IPC commands.
func NewHelpCommand(rootCmd *cobra.Command, name string, table *dispatch.Table, styler format.Styler) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if jsonOutput {
					return outputAllCommandsJSON(cmd, rootCmd, name, table)
				}
				return WriteUsage(cmd.OutOrStdout(), name, table.Visible(), styler)
			}

			target, ok := table.LookupCLI(args[0])
			if !ok {
				return fmt.Errorf("%w: command %q not found", ErrUsage, args[0])
			}
			if jsonOutput {
				metadata := extractCommandMetadata(target)
				return encode(cmd, HelpResponse{
					Daemon:      name,
					Command:     &metadata,
					GlobalFlags: extractGlobalFlags(rootCmd),
				})
			}
			return WriteUsage(cmd.OutOrStdout(), name, []*dispatch.Command{target}, styler)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// outputAllCommandsJSON outputs all visible commands in JSON format
func outputAllCommandsJSON(cmd *cobra.Command, rootCmd *cobra.Command, name string, table *dispatch.Table) error {
	resp := HelpResponse{
		Daemon:      name,
		Commands:    []CommandMetadata{},
		GlobalFlags: extractGlobalFlags(rootCmd),
	}
	for _, c := range table.Visible() {
		resp.Commands = append(resp.Commands, extractCommandMetadata(c))
	}
	for _, c := range table.IPCCommands() {
		resp.IPCCommands = append(resp.IPCCommands, extractCommandMetadata(c))
	}
	return encode(cmd, resp)
}

func encode(cmd *cobra.Command, resp HelpResponse) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// extractCommandMetadata extracts metadata from a registered command
func extractCommandMetadata(c *dispatch.Command) CommandMetadata {
	metadata := CommandMetadata{
		Name:        c.Name,
		Description: c.Description,
		Usage:       c.Usage(),
	}
	for _, a := range c.Args {
		metadata.Args = append(metadata.Args, ArgMetadata{Name: a.Name, Description: a.Description})
	}
	return metadata
}

// extractGlobalFlags extracts global flags from root command
func extractGlobalFlags(rootCmd *cobra.Command) []FlagMetadata {
	flags := []FlagMetadata{}
	rootCmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden {
			return
		}
		flags = append(flags, FlagMetadata{
			Name:      flag.Name,
			Shorthand: flag.Shorthand,
			Usage:     flag.Usage,
			Default:   flag.DefValue,
		})
	})
	return flags
}
