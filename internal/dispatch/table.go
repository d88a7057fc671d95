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

// Package dispatch holds the two command registries of a daemon: commands run
// directly by the control entry point, and commands run inside the daemon on
// behalf of an IPC client.
//
// Handlers are plain Go functions. Their shape is checked when they are
// registered, so a mismatch between declared arguments and parameters fails
// at startup instead of on first use.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/tombee/daemond/internal/ipc"
	"github.com/tombee/daemond/internal/lifecycle"
	internallog "github.com/tombee/daemond/internal/log"
	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

var (
	// ErrUnknownCommand is returned by InvokeCLI for unregistered names.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingArguments is returned by InvokeCLI when fewer raw arguments
	// than declared were given.
	ErrMissingArguments = errors.New("missing arguments")
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	stringType   = reflect.TypeOf("")
	responseType = reflect.TypeOf(ipc.Response{})
)

// ArgSpec declares one handler argument.
type ArgSpec struct {
	Name        string
	Description string
}

// Arg builds an ArgSpec.
func Arg(name, description string) ArgSpec {
	return ArgSpec{Name: name, Description: description}
}

// Command is one registered handler.
type Command struct {
	Name string

	// Description is shown in the usage listing. Commands without one are
	// hidden.
	Description string

	Args []ArgSpec

	fn          reflect.Value
	withContext bool
	params      []reflect.Type
}

// Hidden reports whether the command is left out of usage listings.
func (c *Command) Hidden() bool {
	return c.Description == ""
}

// Usage renders the command line, e.g. "greet <name> <greeting>".
func (c *Command) Usage() string {
	parts := []string{c.Name}
	for _, a := range c.Args {
		parts = append(parts, "<"+a.Name+">")
	}
	return strings.Join(parts, " ")
}

type registry struct {
	commands map[string]*Command
	order    []string
}

func (r *registry) put(cmd *Command) {
	if r.commands == nil {
		r.commands = make(map[string]*Command)
	}
	if _, exists := r.commands[cmd.Name]; !exists {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

func (r *registry) list() []*Command {
	out := make([]*Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}

// Table holds the CLI and IPC registries. It is not safe for concurrent
// registration; all registration happens during startup.
type Table struct {
	cli    registry
	ipc    registry
	logger *slog.Logger
}

// New creates an empty table.
func New(logger *slog.Logger) *Table {
	if logger == nil {
		logger = internallog.Discard()
	}
	return &Table{logger: internallog.WithComponent(logger, "dispatch")}
}

// SetLogger replaces the logger used to report panicking handlers.
func (t *Table) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = internallog.Discard()
	}
	t.logger = internallog.WithComponent(logger, "dispatch")
}

// AddCLI registers a direct command. The handler takes one string per
// declared argument, optionally preceded by a context.Context, and returns
// nothing or an error. Registering an existing name replaces it.
func (t *Table) AddCLI(name, description string, handler any, args ...ArgSpec) error {
	cmd, err := newCommand(name, description, handler, args)
	if err != nil {
		return err
	}

	for i, p := range cmd.params {
		if p != stringType {
			return registrationError(name, fmt.Sprintf("parameter %d must be a string, got %s", i+1, p))
		}
	}

	ft := cmd.fn.Type()
	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	default:
		return registrationError(name, "handler must return nothing or an error")
	}

	t.cli.put(cmd)
	return nil
}

// AddIPC registers a command callable over IPC. The handler takes one
// parameter per declared argument, optionally preceded by a context.Context,
// and returns exactly an ipc.Response. Registering an existing name replaces
// it.
func (t *Table) AddIPC(name, description string, handler any, args ...ArgSpec) error {
	cmd, err := newCommand(name, description, handler, args)
	if err != nil {
		return err
	}

	ft := cmd.fn.Type()
	if ft.NumOut() != 1 || ft.Out(0) != responseType {
		return registrationError(name, "handler must return exactly an ipc.Response")
	}

	t.ipc.put(cmd)
	return nil
}

// MustAddCLI is AddCLI for startup code; it panics on a bad registration.
func (t *Table) MustAddCLI(name, description string, handler any, args ...ArgSpec) {
	if err := t.AddCLI(name, description, handler, args...); err != nil {
		panic(err)
	}
}

// MustAddIPC is AddIPC for startup code; it panics on a bad registration.
func (t *Table) MustAddIPC(name, description string, handler any, args ...ArgSpec) {
	if err := t.AddIPC(name, description, handler, args...); err != nil {
		panic(err)
	}
}

// LookupCLI returns a registered direct command.
func (t *Table) LookupCLI(name string) (*Command, bool) {
	cmd, ok := t.cli.commands[name]
	return cmd, ok
}

// LookupIPC returns a registered IPC command.
func (t *Table) LookupIPC(name string) (*Command, bool) {
	cmd, ok := t.ipc.commands[name]
	return cmd, ok
}

// CLICommands returns every direct command in registration order.
func (t *Table) CLICommands() []*Command {
	return t.cli.list()
}

// IPCCommands returns every IPC command in registration order.
func (t *Table) IPCCommands() []*Command {
	return t.ipc.list()
}

// Visible returns the direct commands that have a description, in
// registration order.
func (t *Table) Visible() []*Command {
	var out []*Command
	for _, cmd := range t.cli.list() {
		if !cmd.Hidden() {
			out = append(out, cmd)
		}
	}
	return out
}

// InvokeCLI runs a direct command with raw positional arguments. Arguments
// beyond the declared ones are ignored.
func (t *Table) InvokeCLI(ctx context.Context, name string, raw []string) error {
	cmd, ok := t.cli.commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if len(raw) < len(cmd.Args) {
		return fmt.Errorf("%w: %s expects %d argument(s), got %d",
			ErrMissingArguments, cmd.Usage(), len(cmd.Args), len(raw))
	}

	in := make([]reflect.Value, 0, len(cmd.Args)+1)
	if cmd.withContext {
		in = append(in, contextValue(ctx))
	}
	for i := range cmd.Args {
		in = append(in, reflect.ValueOf(raw[i]))
	}

	out := cmd.fn.Call(in)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// HandleIPC implements ipc.Handler.
func (t *Table) HandleIPC(ctx context.Context, req ipc.Request) ipc.Response {
	return t.DispatchIPC(ctx, req)
}

// DispatchIPC runs an IPC command. Every failure, including a panicking
// handler, is returned as an error response. A test-mode exit raised by the
// handler is not a failure and propagates to the caller.
func (t *Table) DispatchIPC(ctx context.Context, req ipc.Request) (resp ipc.Response) {
	cmd, ok := t.ipc.commands[req.Command]
	if !ok {
		return ipc.Errorf("Unknown command: %s", req.Command)
	}

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*lifecycle.ExitError); ok {
				panic(r)
			}
			t.logger.Error("ipc handler panicked",
				slog.String(internallog.CommandKey, req.Command),
				slog.Any("panic", r))
			resp = ipc.Errorf("%v", r)
		}
	}()

	in, err := cmd.bind(ctx, req.Args)
	if err != nil {
		return ipc.Error(err.Error())
	}

	resp = cmd.fn.Call(in)[0].Interface().(ipc.Response)
	if resp.Status == ipc.StatusNeutral {
		resp.Status = ipc.StatusSuccess
	}
	return resp
}

// bind matches request arguments to handler parameters. Values are looked up
// by declared name; a value whose name is not declared is used for the
// parameter at its position.
func (c *Command) bind(ctx context.Context, args ipc.Args) ([]reflect.Value, error) {
	declared := make(map[string]bool, len(c.Args))
	for _, a := range c.Args {
		declared[a.Name] = true
	}

	in := make([]reflect.Value, 0, len(c.params)+1)
	if c.withContext {
		in = append(in, contextValue(ctx))
	}

	for i, spec := range c.Args {
		value, ok := args.Get(spec.Name)
		if !ok && i < len(args) && !declared[args[i].Name] {
			value, ok = args[i].Value, true
		}
		if !ok {
			return nil, fmt.Errorf("Missing argument: %s", spec.Name)
		}

		v, err := convert(value, c.params[i])
		if err != nil {
			return nil, fmt.Errorf("Invalid argument %s: %v", spec.Name, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func contextValue(ctx context.Context) reflect.Value {
	if ctx == nil {
		ctx = context.Background()
	}
	return reflect.ValueOf(&ctx).Elem()
}

// convert decodes a generic JSON value into typ.
func convert(value any, typ reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(typ)
	if value == nil {
		return ptr.Elem(), nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  ptr.Interface(),
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.Decode(value); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

func newCommand(name, description string, handler any, args []ArgSpec) (*Command, error) {
	if name == "" {
		return nil, registrationError(name, "command name is required")
	}

	fn := reflect.ValueOf(handler)
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, registrationError(name, "handler must be a function")
	}

	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, registrationError(name, "handler must not be variadic")
	}

	var params []reflect.Type
	withContext := false
	for i := 0; i < ft.NumIn(); i++ {
		p := ft.In(i)
		if i == 0 && p == contextType {
			withContext = true
			continue
		}
		params = append(params, p)
	}

	if len(params) != len(args) {
		return nil, registrationError(name,
			fmt.Sprintf("handler takes %d argument(s) but %d declared", len(params), len(args)))
	}

	return &Command{
		Name:        name,
		Description: description,
		Args:        args,
		fn:          fn,
		withContext: withContext,
		params:      params,
	}, nil
}

func registrationError(name, reason string) error {
	return &daemonerrors.ConfigError{
		Key:    "command." + name,
		Reason: reason,
	}
}
