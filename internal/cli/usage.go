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
	"fmt"
	"io"
	"strings"

	"github.com/muesli/reflow/wordwrap"

	"github.com/tombee/daemond/internal/cli/format"
	"github.com/tombee/daemond/internal/dispatch"
)

const (
	usageWidth     = 80
	usageTitle     = "   EXPECTED USAGE   "
	descIndent     = "    "
	descWrap       = 76
	argNameWidth   = 18
	argDescWrap    = 60
	argDescPadding = argNameWidth + 2
)

// WriteUsage prints the listing of visible commands: one block per command
// with its command line, wrapped description and argument descriptions.
func WriteUsage(w io.Writer, name string, commands []*dispatch.Command, styler format.Styler) error {
	var b strings.Builder
	rule := strings.Repeat("-", usageWidth)

	b.WriteString("\n")
	b.WriteString(styler.Render(format.Header, padBoth(usageTitle, usageWidth, '-')))
	b.WriteString("\n\n")
	b.WriteString(rule + "\n")

	for _, cmd := range commands {
		if cmd.Hidden() {
			continue
		}

		line := []string{name, cmd.Name}
		for _, a := range cmd.Args {
			line = append(line, a.Name)
		}
		b.WriteString(strings.Join(line, " "))
		b.WriteString("\n\n")
		b.WriteString(descIndent + indent(wordwrap.String(cmd.Description, descWrap), descIndent) + "\n")

		if len(cmd.Args) > 0 {
			b.WriteString("\n")
			for _, a := range cmd.Args {
				fmt.Fprintf(&b, "%*s: %s\n", argNameWidth, a.Name,
					indent(wordwrap.String(a.Description, argDescWrap), strings.Repeat(" ", argDescPadding)))
			}
		}
		b.WriteString(rule + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// padBoth centers s in a field of width filled with pad, putting the odd
// character on the right.
func padBoth(s string, width int, pad rune) string {
	n := width - len(s)
	if n <= 0 {
		return s
	}
	left := n / 2
	return strings.Repeat(string(pad), left) + s + strings.Repeat(string(pad), n-left)
}

// indent prefixes every line after the first.
func indent(s, prefix string) string {
	return strings.ReplaceAll(s, "\n", "\n"+prefix)
}
