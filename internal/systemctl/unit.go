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

package systemctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/coreos/go-systemd/v22/unit"

	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

const unitHeader = "#http://www.freedesktop.org/software/systemd/man/systemd.service.html\n\n"

// Unit describes the service unit of one daemon.
type Unit struct {
	Name        string
	Description string
	PIDFile     string
	User        string
	Group       string

	// ExecStart is the argv that starts the daemon in the background.
	ExecStart []string

	TimeoutStart time.Duration
	TimeoutStop  time.Duration
	RestartSec   time.Duration

	// Watchdog, when positive, makes systemd restart the daemon if it stops
	// pinging within this interval.
	Watchdog time.Duration
}

// Options returns the unit as go-systemd options in file order.
func (u Unit) Options() []*unit.UnitOption {
	desc := u.Description
	if desc == "" {
		desc = "Daemon " + u.Name
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", desc),

		unit.NewUnitOption("Service", "PIDFile", u.PIDFile),
		unit.NewUnitOption("Service", "User", u.User),
		unit.NewUnitOption("Service", "Group", u.Group),
		unit.NewUnitOption("Service", "ExecStart", shellescape.QuoteCommand(u.ExecStart)),
		unit.NewUnitOption("Service", "TimeoutStartSec", seconds(u.TimeoutStart)),
		unit.NewUnitOption("Service", "TimeoutStopSec", seconds(u.TimeoutStop)),
		unit.NewUnitOption("Service", "ExecReload", "/bin/kill -USR2 $MAINPID"),
		unit.NewUnitOption("Service", "ExecStop", "/bin/kill -HUP $MAINPID"),
		unit.NewUnitOption("Service", "RestartSec", seconds(u.RestartSec)),
	}
	if u.Watchdog > 0 {
		opts = append(opts,
			unit.NewUnitOption("Service", "Restart", "on-failure"),
			unit.NewUnitOption("Service", "Type", "notify"),
			unit.NewUnitOption("Service", "NotifyAccess", "all"),
			unit.NewUnitOption("Service", "WatchdogSec", seconds(u.Watchdog)),
		)
	}
	return append(opts, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))
}

// Render returns the unit file content.
func (u Unit) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(unitHeader)
	if _, err := io.Copy(&buf, unit.Serialize(u.Options())); err != nil {
		return nil, fmt.Errorf("failed to serialize unit: %w", err)
	}
	return buf.Bytes(), nil
}

// seconds formats whole seconds as a bare number and anything finer as a
// systemd time span.
func seconds(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return d.String()
}

// Installer writes and removes the files that register a daemon with the
// system.
type Installer struct {
	UnitDir    string
	ProfileDir string
	Systemctl  *Systemctl
}

// UnitPath returns where the unit file of name lives.
func (i *Installer) UnitPath(name string) string {
	return filepath.Join(i.UnitDir, name+".service")
}

// AliasPath returns where the shell alias of name lives.
func (i *Installer) AliasPath(name string) string {
	return filepath.Join(i.ProfileDir, "daemon_"+name+".sh")
}

// WriteUnit writes the unit file and reloads systemd.
func (i *Installer) WriteUnit(ctx context.Context, u Unit) (string, error) {
	content, err := u.Render()
	if err != nil {
		return "", err
	}

	path := i.UnitPath(u.Name)
	if err := os.MkdirAll(i.UnitDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", daemonerrors.Wrapf(err, "failed to write unit file %s", path)
	}
	return path, i.daemonReload(ctx)
}

// RemoveUnit deletes the unit file, if any, and reloads systemd.
func (i *Installer) RemoveUnit(ctx context.Context, name string) error {
	if err := os.Remove(i.UnitPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}
	return i.daemonReload(ctx)
}

// WriteAlias writes a profile.d script aliasing name to command.
func (i *Installer) WriteAlias(name string, command []string) (string, error) {
	content := fmt.Sprintf("alias %s=%s\n", name, shellescape.Quote(shellescape.QuoteCommand(command)))

	path := i.AliasPath(name)
	if err := os.MkdirAll(i.ProfileDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", daemonerrors.Wrapf(err, "failed to write alias %s", path)
	}
	return path, nil
}

// RemoveAlias deletes the profile.d script, if any.
func (i *Installer) RemoveAlias(name string) error {
	if err := os.Remove(i.AliasPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove alias: %w", err)
	}
	return nil
}

func (i *Installer) daemonReload(ctx context.Context) error {
	if i.Systemctl == nil {
		return nil
	}
	if err := i.Systemctl.DaemonReload(ctx); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	return nil
}
