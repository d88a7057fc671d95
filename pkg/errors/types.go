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

package errors

import (
	"fmt"
	"time"
)

// LifecycleError represents a failed lifecycle transition.
// Use this for start attempts against a live instance or a failed spawn.
// Lifecycle errors surface to the invoking process as a nonzero exit and are
// never retried automatically.
type LifecycleError struct {
	// Op is the transition that failed (e.g., "start", "restart")
	Op string

	// Reason is the human-readable error description
	Reason string

	// PID is the process involved, if known
	PID int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
	if e.PID > 0 {
		msg = fmt.Sprintf("%s (pid %d)", msg, e.PID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LifecycleError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *LifecycleError) ErrorType() string { return "lifecycle" }

// IsRetryable implements ErrorClassifier.
func (e *LifecycleError) IsRetryable() bool { return false }

// TransportError represents a failed IPC round trip as seen by the client.
// Use this when the channel is busy, the daemon never consumed a request, or
// the daemon never answered.
type TransportError struct {
	// Phase is the client phase that gave up ("acquire", "send", "receive")
	Phase string

	// Path is the request file path of the channel
	Path string

	// Timeout is how long the phase waited
	Timeout time.Duration

	// Cause is one of the ipc sentinel errors
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ipc %s on %s gave up after %v: %v", e.Phase, e.Path, e.Timeout, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TransportError) ErrorType() string { return "transport" }

// IsRetryable implements ErrorClassifier. A busy channel may free up; the
// other phases leave the daemon in an unknown state.
func (e *TransportError) IsRetryable() bool { return e.Phase == "acquire" }

// ConfigError represents configuration problems.
// Use this for configuration file errors, invalid config values, or command
// registrations whose handler does not match the declared arguments.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "ipc_path", "command.echo")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }
