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

package format

import (
	"github.com/charmbracelet/lipgloss"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// StatusWarn styles warnings
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolError = "✗"
	SymbolWarn  = "!"
)

// Styler renders text with or without terminal styling.
type Styler struct {
	Color bool
}

// Auto returns a Styler that colors only when stdout is a terminal.
func Auto() Styler {
	return Styler{Color: IsTTY()}
}

// Render applies style when coloring is enabled.
func (s Styler) Render(style lipgloss.Style, text string) string {
	if !s.Color {
		return text
	}
	return style.Render(text)
}

// OK renders a success line with a checkmark.
func (s Styler) OK(msg string) string {
	return s.Render(StatusOK, SymbolOK) + " " + msg
}

// Error renders a failure line with a cross.
func (s Styler) Error(msg string) string {
	return s.Render(StatusError, SymbolError) + " " + msg
}

// Warn renders a warning line.
func (s Styler) Warn(msg string) string {
	return s.Render(StatusWarn, SymbolWarn) + " " + msg
}
