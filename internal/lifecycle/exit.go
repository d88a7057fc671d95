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

package lifecycle

import (
	"fmt"
	"os"
	"strconv"
)

// EnvTestMode, when truthy, turns process exits into panics carrying
// *ExitError so test harnesses can observe them.
const EnvTestMode = "DAEMOND_TEST_MODE"

// ExitError is the panic value raised instead of exiting in test mode.
type ExitError struct {
	Code int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit(%d)", e.Code)
}

// Exiter terminates the process with a status code.
type Exiter func(code int)

// TestMode reports whether DAEMOND_TEST_MODE is set to a true value.
func TestMode() bool {
	v := os.Getenv(EnvTestMode)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		// Any other non-empty value counts as enabled.
		return true
	}
	return b
}

// Exit is the default Exiter. It consults test mode on every call.
func Exit(code int) {
	if TestMode() {
		panic(&ExitError{Code: code})
	}
	os.Exit(code)
}

// CatchExit runs fn and reports the code of any ExitError it raised. Other
// panics are propagated.
func CatchExit(fn func()) (code int, exited bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(*ExitError); ok {
			code, exited = e.Code, true
			return
		}
		panic(r)
	}()
	fn()
	return 0, false
}
