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

/*
Package cli builds a daemon's control entry point from its dispatch table.

Every direct command becomes a cobra subcommand taking positional string
arguments:

	tickerd <command> [args...] [--config path]

Running the binary without a command, with an unknown command, or with too
few arguments prints the usage listing and exits with status 2:

	------------------------------   EXPECTED USAGE   ------------------------------

	--------------------------------------------------------------------------------
	tickerd status

	    Display the status via systemctl
	--------------------------------------------------------------------------------

Commands registered without a description are runnable but hidden from the
listing and from help.

# Exit Codes

  - Exit 0: Success
  - Exit 1: Command failed
  - Exit 2: Invalid usage

From main:

	root := cli.NewRootCommand(cli.Options{Name: "tickerd", Table: table})
	os.Exit(cli.HandleExitError(os.Stderr, root.ExecuteContext(ctx)))
*/
package cli
