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

package prompt

import (
	"context"
)

// MockConfirmer implements Confirmer with scripted answers for testing.
type MockConfirmer struct {
	answers     []bool
	interactive bool
	err         error

	// Asked records every message in order.
	Asked []string
}

// NewMockConfirmer creates a mock that returns answers in order, then the
// caller's default.
func NewMockConfirmer(interactive bool, answers ...bool) *MockConfirmer {
	return &MockConfirmer{answers: answers, interactive: interactive}
}

// WithError makes every Confirm call fail with err.
func (m *MockConfirmer) WithError(err error) *MockConfirmer {
	m.err = err
	return m
}

// Confirm returns the next scripted answer.
func (m *MockConfirmer) Confirm(ctx context.Context, message string, def bool) (bool, error) {
	m.Asked = append(m.Asked, message)
	if m.err != nil {
		return false, m.err
	}
	if !m.interactive || len(m.answers) == 0 {
		return def, nil
	}
	answer := m.answers[0]
	m.answers = m.answers[1:]
	return answer, nil
}

// IsInteractive returns the configured mode.
func (m *MockConfirmer) IsInteractive() bool {
	return m.interactive
}
