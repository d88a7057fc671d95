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

// Package prompt asks the operator for confirmation before destructive
// control commands. Non-interactive sessions never block on a prompt.
package prompt

import (
	"context"
	"os"

	"golang.org/x/term"
)

// EnvNonInteractive disables prompts when set to "true".
const EnvNonInteractive = "DAEMOND_NON_INTERACTIVE"

// Confirmer asks yes/no questions.
type Confirmer interface {
	// Confirm asks message and returns the answer. Non-interactive
	// implementations return def without asking.
	Confirm(ctx context.Context, message string, def bool) (bool, error)

	// IsInteractive returns true if prompts can be displayed
	IsInteractive() bool
}

// IsNonInteractive detects if the current execution context is non-interactive.
// This function checks multiple indicators in priority order:
//
// 1. DAEMOND_NON_INTERACTIVE=true environment variable
// 2. CI environment detection (CI, GITHUB_ACTIONS, GITLAB_CI, JENKINS_HOME)
// 3. stdin is not a TTY
func IsNonInteractive() bool {
	if os.Getenv(EnvNonInteractive) == "true" {
		return true
	}
	if isCIEnvironment() {
		return true
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}

func isCIEnvironment() bool {
	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI"} {
		if v := os.Getenv(envVar); v == "true" || v == "1" {
			return true
		}
	}
	// JENKINS_HOME is set to a path.
	return os.Getenv("JENKINS_HOME") != ""
}

// Default returns a survey-backed confirmer that only prompts when the
// session is interactive.
func Default() Confirmer {
	return NewSurveyPrompter(!IsNonInteractive())
}
