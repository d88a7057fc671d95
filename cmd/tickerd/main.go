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

// Command tickerd is a small daemon built on the daemond runtime. It counts
// loop iterations and answers questions about them over IPC.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/daemond/pkg/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

type ticker struct {
	d       *daemon.Daemon
	ticks   int
	since   time.Time
	message string
}

func (t *ticker) Register(d *daemon.Daemon) error {
	t.d = d

	if err := d.AddIPC("get_count", "Get the number of ticks", t.count); err != nil {
		return err
	}
	if err := d.AddIPC("set_message", "Set the message logged on every minute", t.setMessage,
		daemon.Param("message", "Text to log")); err != nil {
		return err
	}

	if err := d.AddCLI("count", "Print the number of ticks since start", t.printCount); err != nil {
		return err
	}
	if err := d.AddCLI("message", "Set the message logged every minute", t.sendMessage,
		daemon.Param("text", "The new message")); err != nil {
		return err
	}
	if err := d.AddCLI("version", "Print the build version", func() {
		fmt.Fprintf(d.Out(), "tickerd %s (commit: %s)\n", version, commit)
	}); err != nil {
		return err
	}

	d.AddPeriodic("announce", time.Minute, func(ctx context.Context) {
		d.Logger().Info(t.message, slog.Int("ticks", t.ticks))
	})
	return nil
}

func (t *ticker) Setup(ctx context.Context) error {
	t.since = time.Now()
	t.message = "still ticking"
	return nil
}

func (t *ticker) Loop(ctx context.Context) error {
	t.ticks++
	t.d.SetStatus(fmt.Sprintf("%d ticks", t.ticks))
	return nil
}

func (t *ticker) Reload(ctx context.Context) error {
	t.ticks = 0
	t.since = time.Now()
	return nil
}

func (t *ticker) Teardown(ctx context.Context) {
	t.d.Logger().Info("ticker stopping", slog.Int("ticks", t.ticks))
}

func (t *ticker) count() daemon.Response {
	return daemon.Success(fmt.Sprintf("%d ticks since %s", t.ticks, t.since.Format(time.RFC3339)))
}

func (t *ticker) setMessage(message string) daemon.Response {
	if message == "" {
		return daemon.Failure("message must not be empty")
	}
	t.message = message
	return daemon.Success("ok")
}

func (t *ticker) printCount(ctx context.Context) error {
	resp, err := t.d.Send(ctx, "get_count")
	if err != nil {
		return err
	}
	fmt.Fprintln(t.d.Out(), resp)
	return nil
}

func (t *ticker) sendMessage(ctx context.Context, text string) error {
	resp, err := t.d.Send(ctx, "set_message", daemon.Named("message", text))
	if err != nil {
		return err
	}
	fmt.Fprintln(t.d.Out(), resp)
	return nil
}

func main() {
	d, err := daemon.New("tickerd", &ticker{}, daemon.WithShort("Example daemon counting loop iterations"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(d.Execute())
}
