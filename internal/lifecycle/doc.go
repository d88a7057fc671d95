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

/*
Package lifecycle starts, stops, restarts and reloads a single daemon
instance.

# Instances

At most one instance runs per PID file. Starting checks the recorded PID
with a signal-0 probe and refuses with exit status 1 when it is alive. A PID
file naming a dead process is stale and is silently replaced.

	c := lifecycle.NewController(lifecycle.Options{
	    Name:    "tickerd",
	    PIDFile: lifecycle.NewPIDFile("/run/tickerd/tickerd.pid"),
	}, hooks)
	c.Start(ctx) // never returns outside test mode

# Background start

Start re-executes the binary with the hidden daemon-child verb as a new
session leader, writes the child's PID and exits. The child reports
readiness, runs setup and enters the loop through RunChild.

# Signals

SIGUSR2 reloads. SIGHUP, SIGTERM and SIGINT stop. Signals are queued and
only acted on when the loop calls DispatchSignals from its wait phase.

# Test mode

With DAEMOND_TEST_MODE set, every exit panics with *ExitError instead of
terminating the process, and restarts skip the relaunch:

	code, exited := lifecycle.CatchExit(func() { c.Stop(ctx) })

# Audit log

LifecycleLogger appends one JSON object per transition to a log file
separate from the daemon's own log.
*/
package lifecycle
