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

// Package daemon turns a Service into a complete Linux daemon.
//
// A Daemon owns the control entry point of the binary. The same executable
// is used to install the systemd unit, to start and stop the service, to run
// the daemon itself and to talk to a running instance:
//
//	func main() {
//		d, err := daemon.New("tickerd", &ticker{})
//		if err != nil {
//			fmt.Fprintln(os.Stderr, err)
//			os.Exit(1)
//		}
//		os.Exit(d.Execute())
//	}
//
// The running instance executes Service.Loop once per iteration of a paced
// main loop. Between iterations it answers IPC requests, dispatches queued
// signals, pings the systemd watchdog and runs periodic actions. When the
// watched executable or configuration changes the daemon restarts itself.
//
// Services add their own commands with AddCLI and AddIPC, usually from a
// Register method. A CLI handler typically forwards to an IPC handler with
// Send:
//
//	d.AddCLI("count", "Print the tick count", func(ctx context.Context) error {
//		resp, err := d.Send(ctx, "get_count")
//		if err != nil {
//			return err
//		}
//		fmt.Fprintln(d.Out(), resp)
//		return nil
//	})
package daemon
