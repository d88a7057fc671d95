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

// Package errors holds the error taxonomy shared by the daemon runtime:
// lifecycle failures, IPC transport failures and configuration problems.
package errors

import (
	"errors"
	"fmt"
)

// Wrap prefixes err with message, keeping it in the chain. A nil err stays nil.
//
//	if err := os.WriteFile(path, data, 0644); err != nil {
//	    return errors.Wrap(err, "failed to write unit file")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As.
//
//	var te *TransportError
//	if errors.As(err, &te) && te.Phase == "send" {
//	    // the daemon is not consuming requests
//	}
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Retryable reports whether an error in err's chain says the operation may
// succeed if repeated.
func Retryable(err error) bool {
	var c ErrorClassifier
	return As(err, &c) && c.IsRetryable()
}
