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

// Package sdnotify reports daemon state to a supervising init system over
// the NOTIFY_SOCKET datagram protocol. Without NOTIFY_SOCKET every call is a
// no-op.
package sdnotify

import (
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	internallog "github.com/tombee/daemond/internal/log"
)

// EnvSocket names the supervisor's notification socket.
const EnvSocket = "NOTIFY_SOCKET"

// Notifier sends supervisor notifications.
type Notifier struct {
	send   func(unsetEnvironment bool, state string) (bool, error)
	logger *slog.Logger
	status string
}

// New creates a notifier backed by go-systemd.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = internallog.Discard()
	}
	return &Notifier{
		send:   daemon.SdNotify,
		logger: internallog.WithComponent(logger, "sdnotify"),
	}
}

// Enabled reports whether a supervisor socket is configured.
func (n *Notifier) Enabled() bool {
	return os.Getenv(EnvSocket) != ""
}

// Notify sends a raw state string such as "READY=1". Delivery failures are
// logged and otherwise ignored.
func (n *Notifier) Notify(state string) {
	if n == nil {
		return
	}
	sent, err := n.send(false, state)
	if err != nil {
		n.logger.Debug("notification failed", slog.String("state", state), internallog.Error(err))
		return
	}
	if sent {
		internallog.Trace(n.logger, "notified supervisor", slog.String("state", state))
	}
}

// Ready reports that startup finished.
func (n *Notifier) Ready() {
	n.Notify(daemon.SdNotifyReady)
}

// Watchdog pings the supervisor's watchdog.
func (n *Notifier) Watchdog() {
	n.Notify(daemon.SdNotifyWatchdog)
}

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() {
	n.Notify(daemon.SdNotifyStopping)
}

// Status publishes a free-form status line. Repeating the current status
// sends nothing.
func (n *Notifier) Status(status string) {
	if n == nil || status == n.status {
		return
	}
	n.status = status
	n.Notify("STATUS=" + status)
}

// LastStatus returns the most recent status line.
func (n *Notifier) LastStatus() string {
	if n == nil {
		return ""
	}
	return n.status
}

// WatchdogInterval returns the supervisor's watchdog timeout, or zero when
// no watchdog is armed for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
