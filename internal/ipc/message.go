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

package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Status is the outcome of an IPC call as written to the response file.
type Status int

const (
	// StatusNeutral only exists while a response is being built.
	StatusNeutral Status = iota
	// StatusSuccess marks a handler result.
	StatusSuccess
	// StatusError marks a dispatch failure or a handler-reported error.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "neutral"
	}
}

// Arg is one named argument of a request.
type Arg struct {
	Name  string
	Value any
}

// Named builds an Arg.
func Named(name string, value any) Arg {
	return Arg{Name: name, Value: value}
}

// Args is an ordered name to value mapping. It encodes as a JSON object
// whose keys keep their insertion order.
type Args []Arg

// Get returns the value for name.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving key order.
func (a *Args) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("args must be a JSON object, got %v", tok)
	}

	var out Args
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected args key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("argument %q: %w", key, err)
		}
		out = append(out, Arg{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*a = out
	return nil
}

// Request is one call from a client process into the running daemon.
type Request struct {
	// ID is a random token; the response file name is bound to it.
	ID      string `json:"id"`
	Command string `json:"command"`
	Args    Args   `json:"args"`
}

// NewRequest creates a request with a fresh random ID.
func NewRequest(command string, args ...Arg) Request {
	return Request{
		ID:      uuid.NewString(),
		Command: command,
		Args:    Args(args),
	}
}

// ValidID reports whether id is a UUID. Response file names are built from
// the id, so anything else could name a path outside the channel directory.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Response is the daemon's answer to exactly one Request.
type Response struct {
	Status  Status `json:"status"`
	Payload any    `json:"payload"`
}

// Success wraps a handler result.
func Success(payload any) Response {
	return Response{Status: StatusSuccess, Payload: payload}
}

// Error wraps a failure payload, usually a message string.
func Error(payload any) Response {
	return Response{Status: StatusError, Payload: payload}
}

// Errorf builds an error response with a formatted message.
func Errorf(format string, args ...any) Response {
	return Error(fmt.Sprintf(format, args...))
}

// IsSuccess reports whether the call succeeded.
func (r Response) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// String renders the payload for terminal output.
func (r Response) String() string {
	if r.IsSuccess() {
		return fmt.Sprintf("%v", r.Payload)
	}
	return fmt.Sprintf("Error: %v", r.Payload)
}

// Decode maps the payload into out, which must be a pointer. Payloads that
// crossed the wire are generic JSON values; Decode restores typed structs
// using their json tags.
func (r Response) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(r.Payload)
}
