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

package daemon

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/tombee/daemond/internal/ipc"
	"github.com/tombee/daemond/internal/lifecycle"
	internallog "github.com/tombee/daemond/internal/log"
	"github.com/tombee/daemond/internal/metrics"
	"github.com/tombee/daemond/internal/systemctl"
)

// IPC commands every daemon answers.
const (
	IPCMemoryUsage = "get_memory_usage"
	IPCStats       = "get_stats"
)

// statsPrefix selects the daemon's own counters from the registry.
const statsPrefix = "daemond_"

// MemoryUsage is the payload of get_memory_usage, in bytes.
type MemoryUsage struct {
	Current uint64 `json:"current"`
	Peak    uint64 `json:"peak"`
}

func (d *Daemon) registerDefaults() error {
	cli := []struct {
		name, description string
		handler           any
	}{
		{"status", "Display the status via systemctl", d.cmdStatus},
		{"install", "Install, enable and start service", d.cmdInstall},
		{"uninstall", "Stop, disable and uninstall service", d.cmdUninstall},
		{"start", "Start service via systemctl", d.systemctlCommand((*systemctl.Systemctl).Start)},
		{"stop", "Stop service via systemctl", d.systemctlCommand((*systemctl.Systemctl).Stop)},
		{"restart", "Restart service via systemctl", d.systemctlCommand((*systemctl.Systemctl).Restart)},
		{"reload", "Reload service via systemctl", d.systemctlCommand((*systemctl.Systemctl).Reload)},
		{lifecycle.VerbStartDaemon, "", func(ctx context.Context) { d.controller.Start(ctx) }},
		{lifecycle.VerbDaemonChild, "", func(ctx context.Context) { d.controller.RunChild(ctx) }},
		{lifecycle.VerbStartForeground, `Start "daemon" in foreground - for tests and debugging only!`,
			func(ctx context.Context) { d.controller.StartForeground(ctx) }},
		{"ram", "Get current and peak memory usage", d.cmdRAM},
		{"stats", "Show loop, IPC and lifecycle counters", d.cmdStats},
	}
	for _, c := range cli {
		if err := d.table.AddCLI(c.name, c.description, c.handler); err != nil {
			return err
		}
	}

	if err := d.table.AddIPC(IPCMemoryUsage, "Get current and peak memory usage", memoryUsage); err != nil {
		return err
	}
	return d.table.AddIPC(IPCStats, "Get daemon counters", d.stats)
}

func (d *Daemon) cmdStatus(ctx context.Context) error {
	out, err := d.systemctl.Status(ctx, d.name)
	if out == "" {
		return err
	}
	fmt.Fprintln(d.out, strings.TrimRight(out, "\n"))
	return nil
}

func (d *Daemon) systemctlCommand(run func(*systemctl.Systemctl, context.Context, string) (string, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		out, err := run(d.systemctl, ctx, d.name)
		if s := strings.TrimSpace(out); s != "" {
			fmt.Fprintln(d.out, s)
		}
		return err
	}
}

// unit describes the systemd service that runs this binary in the
// background.
func (d *Daemon) unit() systemctl.Unit {
	svc := d.cfg.Service
	u := systemctl.Unit{
		Name:         d.name,
		Description:  svc.Description,
		PIDFile:      d.cfg.PIDPath(),
		User:         svc.User,
		Group:        svc.Group,
		ExecStart:    append([]string{d.exe, lifecycle.VerbStartDaemon}, d.configArgs()...),
		TimeoutStart: svc.TimeoutStart,
		TimeoutStop:  svc.TimeoutStop,
		RestartSec:   svc.RestartSec,
	}
	if !svc.DisableWatchdog {
		u.Watchdog = d.cfg.WatchdogInterval()
	}
	return u
}

func (d *Daemon) cmdInstall(ctx context.Context) error {
	styler := d.styling()

	path, err := d.installer.WriteUnit(ctx, d.unit())
	if err != nil {
		return err
	}
	fmt.Fprintln(d.out, styler.OK("Wrote "+path))

	path, err = d.installer.WriteAlias(d.name, append([]string{d.exe}, d.configArgs()...))
	if err != nil {
		return err
	}
	fmt.Fprintln(d.out, styler.OK("Wrote "+path))

	if h, ok := d.svc.(InstallHooks); ok {
		if err := h.OnInstall(ctx, d); err != nil {
			return fmt.Errorf("install hook: %w", err)
		}
	}

	if out, err := d.systemctl.Enable(ctx, d.name); err != nil {
		return systemctlError("enable", out, err)
	}
	if out, err := d.systemctl.Start(ctx, d.name); err != nil {
		return systemctlError("start", out, err)
	}
	if !d.systemctl.IsActive(ctx, d.name) {
		fmt.Fprintln(d.out, styler.Warn(fmt.Sprintf("%s was started but is not active, see %s status", d.name, d.name)))
		return nil
	}
	fmt.Fprintln(d.out, styler.OK(fmt.Sprintf("Installed, enabled and started %s", d.name)))
	return nil
}

func (d *Daemon) cmdUninstall(ctx context.Context) error {
	styler := d.styling()

	ok, err := d.confirmer.Confirm(ctx, fmt.Sprintf("Stop, disable and uninstall %s?", d.name), true)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(d.out, "Aborted")
		return nil
	}

	if !d.systemctl.IsInstalled(ctx, d.name) {
		fmt.Fprintln(d.out, styler.Warn(fmt.Sprintf("%s is not known to systemd, skipping stop and disable", d.name)))
	} else {
		// A unit that is already stopped is not an error here.
		if out, err := d.systemctl.Stop(ctx, d.name); err != nil {
			d.logger.Warn("systemctl stop failed", internallog.Error(systemctlError("stop", out, err)))
		}
		if d.systemctl.IsEnabled(ctx, d.name) {
			if out, err := d.systemctl.Disable(ctx, d.name); err != nil {
				d.logger.Warn("systemctl disable failed", internallog.Error(systemctlError("disable", out, err)))
			}
		}
	}

	if h, ok := d.svc.(InstallHooks); ok {
		if err := h.OnUninstall(ctx, d); err != nil {
			return fmt.Errorf("uninstall hook: %w", err)
		}
	}

	if err := d.installer.RemoveUnit(ctx, d.name); err != nil {
		return err
	}
	if err := d.installer.RemoveAlias(d.name); err != nil {
		return err
	}
	fmt.Fprintln(d.out, styler.OK(fmt.Sprintf("Uninstalled %s", d.name)))
	return nil
}

func (d *Daemon) cmdRAM(ctx context.Context) error {
	resp, err := d.Send(ctx, IPCMemoryUsage)
	if err != nil {
		return err
	}

	var mem MemoryUsage
	if !resp.IsSuccess() || resp.Decode(&mem) != nil {
		fmt.Fprintln(d.out, resp.String())
		return nil
	}
	fmt.Fprintf(d.out, "Current: %s\nPeak:    %s\n", humanize.IBytes(mem.Current), humanize.IBytes(mem.Peak))
	return nil
}

func (d *Daemon) cmdStats(ctx context.Context) error {
	resp, err := d.Send(ctx, IPCStats)
	if err != nil {
		return err
	}

	var samples []metrics.Sample
	if !resp.IsSuccess() || resp.Decode(&samples) != nil {
		fmt.Fprintln(d.out, resp.String())
		return nil
	}

	table := tablewriter.NewWriter(d.out)
	table.SetHeader([]string{"Metric", "Labels", "Value"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, s := range samples {
		table.Append([]string{s.Name, s.Labels, humanize.Ftoa(s.Value)})
	}
	table.Render()
	return nil
}

// memoryUsage reports memory obtained from the OS and not yet returned as
// current, and the total obtained as peak.
func memoryUsage() ipc.Response {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ipc.Success(MemoryUsage{
		Current: ms.Sys - ms.HeapReleased,
		Peak:    ms.Sys,
	})
}

func (d *Daemon) stats() ipc.Response {
	samples, err := d.metrics.Snapshot(statsPrefix)
	if err != nil {
		return ipc.Error(err.Error())
	}
	return ipc.Success(samples)
}

func systemctlError(verb, out string, err error) error {
	if s := strings.TrimSpace(out); s != "" {
		return fmt.Errorf("systemctl %s: %w: %s", verb, err, s)
	}
	return fmt.Errorf("systemctl %s: %w", verb, err)
}
