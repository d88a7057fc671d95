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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	internallog "github.com/tombee/daemond/internal/log"
	"github.com/tombee/daemond/internal/metrics"
	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

// Verbs understood by the control entry point.
const (
	VerbStartDaemon     = "startDaemon"
	VerbStartForeground = "startForeground"

	// VerbDaemonChild is the hidden verb the detached child is launched with.
	VerbDaemonChild = "daemon-child"
)

// DefaultRestartGrace is how long a background restart waits after spawning
// its replacement.
const DefaultRestartGrace = time.Second

var (
	// ErrAlreadyRunning is the cause of a start refused because a live
	// instance is recorded in the PID file.
	ErrAlreadyRunning = errors.New("already running")

	// ErrSpawnFailed is the cause of a start whose child could not be launched.
	ErrSpawnFailed = errors.New("spawn failed")
)

// Hooks connect the controller to the rest of the daemon. Nil hooks are
// skipped.
type Hooks struct {
	// Setup runs once before the loop starts. An error aborts the start.
	Setup func(ctx context.Context) error

	// Loop runs the main loop. It returns only when ctx is done or the loop
	// body failed.
	Loop func(ctx context.Context) error

	Teardown func(ctx context.Context)
	Reload   func(ctx context.Context)

	// Purge removes IPC files left by a previous instance.
	Purge func()

	// Ready tells the supervisor the background daemon finished starting.
	Ready func()

	// Status publishes a human readable status line.
	Status func(status string)
}

// Options configures a Controller.
type Options struct {
	Name    string
	PIDFile *PIDFile

	// Executable is the binary relaunched on start and restart. Defaults to
	// the running executable.
	Executable string

	// Args are appended after the verb when relaunching, e.g. a --config flag.
	Args []string

	Spawner *Spawner
	Audit   *LifecycleLogger
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Exit defaults to Exit, which honours DAEMOND_TEST_MODE.
	Exit Exiter

	// Exec replaces the process image on a foreground restart. Defaults to
	// unix.Exec.
	Exec func(argv0 string, argv []string, envv []string) error

	// Chdir defaults to os.Chdir.
	Chdir func(dir string) error

	// Sleep and RestartGrace pace a background restart.
	Sleep        func(time.Duration)
	RestartGrace time.Duration
}

// Controller owns the process state and PID file of one daemon instance and
// performs every lifecycle transition.
type Controller struct {
	name       string
	pidFile    *PIDFile
	exe        string
	args       []string
	spawner    *Spawner
	audit      *LifecycleLogger
	metrics    *metrics.Metrics
	logger     *slog.Logger
	exit       Exiter
	exec       func(argv0 string, argv []string, envv []string) error
	chdir      func(dir string) error
	sleep      func(time.Duration)
	grace      time.Duration
	hooks      Hooks
	signals    *SignalMux
	state      State
	foreground bool
}

// NewController creates a controller in the Stopped state.
func NewController(opts Options, hooks Hooks) *Controller {
	c := &Controller{
		name:    opts.Name,
		pidFile: opts.PIDFile,
		exe:     opts.Executable,
		args:    opts.Args,
		spawner: opts.Spawner,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		exit:    opts.Exit,
		exec:    opts.Exec,
		chdir:   opts.Chdir,
		sleep:   opts.Sleep,
		grace:   opts.RestartGrace,
		hooks:   hooks,
		state:   StateStopped,
	}

	if c.exe == "" {
		if exe, err := os.Executable(); err == nil {
			c.exe = exe
		} else {
			c.exe = os.Args[0]
		}
	}
	if c.spawner == nil {
		c.spawner = NewSpawner()
	}
	if c.logger == nil {
		c.logger = internallog.Discard()
	}
	c.logger = internallog.WithComponent(c.logger, "lifecycle")
	if c.exit == nil {
		c.exit = Exit
	}
	if c.exec == nil {
		c.exec = unix.Exec
	}
	if c.chdir == nil {
		c.chdir = os.Chdir
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if c.grace <= 0 {
		c.grace = DefaultRestartGrace
	}
	c.signals = NewSignalMux(c.logger)
	return c
}

// State returns the current process state.
func (c *Controller) State() State {
	return c.state
}

// Foreground reports whether this instance was started in the foreground.
func (c *Controller) Foreground() bool {
	return c.foreground
}

// PIDFile returns the PID file handle.
func (c *Controller) PIDFile() *PIDFile {
	return c.pidFile
}

// Signals returns the signal multiplexer.
func (c *Controller) Signals() *SignalMux {
	return c.signals
}

// DispatchSignals acts on queued signals. The loop calls it from its wait
// phase only.
func (c *Controller) DispatchSignals() {
	c.signals.Dispatch()
}

// IsRunning reports whether the PID file names a live process.
func (c *Controller) IsRunning() bool {
	_, running := c.pidFile.Running()
	return running
}

// Start launches the daemon in the background: it re-executes the binary
// with the hidden child verb as a detached session leader, records the
// child's PID and exits 0. It exits 1 when an instance is already running or
// the child cannot be launched.
func (c *Controller) Start(ctx context.Context) {
	lock, err := c.pidFile.LockStart()
	if err != nil {
		c.logger.Warn("cannot start daemon", slog.String(internallog.DaemonKey, c.name), internallog.Error(err))
		c.exit(1)
		return
	}

	err = c.start()
	if unlockErr := lock.Unlock(); unlockErr != nil {
		c.logger.Warn("failed to release start lock", internallog.Error(unlockErr))
	}

	if err != nil {
		c.exit(1)
		return
	}
	c.exit(0)
}

func (c *Controller) start() error {
	if err := c.checkNotRunning(); err != nil {
		return err
	}

	pid, err := c.spawner.SpawnDetached(c.exe, c.argv(VerbDaemonChild))
	if err != nil && pid == 0 {
		lerr := &daemonerrors.LifecycleError{
			Op:     "start",
			Reason: "could not launch daemon process",
			Cause:  fmt.Errorf("%w: %v", ErrSpawnFailed, err),
		}
		c.logger.Error("failed to start daemon", internallog.Error(lerr))
		c.auditErr(c.audit.LogStartFailure(lerr))
		return lerr
	}
	if err != nil {
		c.logger.Warn("daemon process started with warnings", internallog.Error(err))
	}

	if err := c.pidFile.Write(pid); err != nil {
		// An instance nobody can find would block nothing and never stop.
		if sigErr := SendSignal(pid, syscall.SIGTERM); sigErr != nil {
			c.logger.Warn("failed to stop untracked daemon", internallog.Error(sigErr))
		}
		lerr := &daemonerrors.LifecycleError{
			Op:     "start",
			Reason: "could not record PID",
			PID:    pid,
			Cause:  err,
		}
		c.logger.Error("failed to start daemon", internallog.Error(lerr))
		c.auditErr(c.audit.LogStartFailure(lerr))
		return lerr
	}

	c.logger.Info("daemon started in background",
		slog.String(internallog.DaemonKey, c.name),
		slog.Int(internallog.PIDKey, pid))
	c.auditErr(c.audit.LogStart(pid, false))
	return nil
}

// RunChild is the entry point of the detached child: it reports readiness
// to the supervisor, runs setup and enters the loop.
func (c *Controller) RunChild(ctx context.Context) {
	c.foreground = false
	c.setState(StateStarting)

	c.logger.Info("daemon running",
		slog.String(internallog.DaemonKey, c.name),
		slog.Int(internallog.PIDKey, os.Getpid()))

	c.ready()
	c.status("Initializing")
	c.enterLoop(ctx)
}

// StartForeground runs the daemon in the current process. It exits 1 when
// an instance is already running.
func (c *Controller) StartForeground(ctx context.Context) {
	c.foreground = true

	if err := c.checkNotRunning(); err != nil {
		c.exit(1)
		return
	}

	pid := os.Getpid()
	if err := c.pidFile.Write(pid); err != nil {
		c.logger.Error("failed to write PID file", internallog.Error(err))
		c.auditErr(c.audit.LogStartFailure(err))
		c.exit(1)
		return
	}

	if err := c.chdir("/"); err != nil {
		c.logger.Warn("failed to change working directory", internallog.Error(err))
	}

	c.logger.Info("daemon started in foreground",
		slog.String(internallog.DaemonKey, c.name),
		slog.Int(internallog.PIDKey, pid))
	c.auditErr(c.audit.LogStart(pid, true))

	c.setState(StateStarting)
	c.status("Initializing")
	c.enterLoop(ctx)
}

// enterLoop installs signal handling, runs setup and purge, then hands the
// process to the loop. A loop that ends because ctx was cancelled is
// treated as a stop; any other loop error is fatal.
func (c *Controller) enterLoop(ctx context.Context) {
	c.installSignals(ctx)

	if c.hooks.Setup != nil {
		if err := c.hooks.Setup(ctx); err != nil {
			c.logger.Error("daemon setup failed", internallog.Error(err))
			c.exit(1)
			return
		}
	}
	if c.hooks.Purge != nil {
		c.hooks.Purge()
	}

	c.setState(StateRunning)

	var err error
	if c.hooks.Loop != nil {
		err = c.hooks.Loop(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Error("daemon loop failed", internallog.Error(err))
		c.exit(1)
		return
	}
	c.Stop(ctx)
}

func (c *Controller) installSignals(ctx context.Context) {
	stop := func() {
		c.status("Stopping daemon...")
		c.Stop(ctx)
	}
	c.signals.Handle(syscall.SIGUSR2, func() { c.Reload(ctx) })
	c.signals.Handle(syscall.SIGHUP, stop)
	c.signals.Handle(syscall.SIGTERM, stop)
	c.signals.Handle(syscall.SIGINT, stop)
	c.signals.Install()
}

// Stop tears the service down, removes the PID file and exits 0.
func (c *Controller) Stop(ctx context.Context) {
	c.cleanup(ctx)
	c.metrics.RecordLifecycle(EventStop)
	c.auditErr(c.audit.LogStop(os.Getpid()))
	c.logger.Info("daemon stopped", slog.String(internallog.DaemonKey, c.name))
	c.setState(StateStopped)
	c.exit(0)
}

// Restart tears the service down and launches a replacement in the same
// mode: a detached startDaemon in the background, or an in-place exec of
// startForeground in the foreground. In test mode the relaunch is skipped.
func (c *Controller) Restart(ctx context.Context) {
	c.cleanup(ctx)

	verb := VerbStartDaemon
	if c.foreground {
		verb = VerbStartForeground
	}
	argv := c.argv(verb)
	cmdline := strings.Join(append([]string{c.exe}, argv...), " ")

	c.logger.Info("Restarting daemon: " + cmdline)
	c.metrics.RecordLifecycle(EventRestart)
	c.auditErr(c.audit.LogRestart(os.Getpid(), c.foreground, cmdline))
	c.setState(StateStopped)

	if TestMode() {
		c.logger.Info("test mode, relaunch skipped")
		c.exit(0)
		return
	}

	c.status("Restarting...")
	if c.foreground {
		if err := c.exec(c.exe, append([]string{c.exe}, argv...), os.Environ()); err != nil {
			c.logger.Error("failed to relaunch daemon", internallog.Error(err))
			c.exit(1)
			return
		}
	} else {
		if _, err := c.spawner.SpawnDetached(c.exe, argv); err != nil {
			c.logger.Error("failed to relaunch daemon", internallog.Error(err))
			c.exit(1)
			return
		}
		c.sleep(c.grace)
	}
	c.exit(0)
}

// Reload hands a configuration reload to the service. The state does not
// change and the loop keeps running.
func (c *Controller) Reload(ctx context.Context) {
	c.logger.Info("reloading configuration", slog.String(internallog.DaemonKey, c.name))
	if c.hooks.Reload != nil {
		c.hooks.Reload(ctx)
	}
	c.metrics.RecordLifecycle(EventReload)
	c.auditErr(c.audit.LogReload(os.Getpid()))
}

func (c *Controller) cleanup(ctx context.Context) {
	c.setState(StateStopping)
	if c.hooks.Teardown != nil {
		c.hooks.Teardown(ctx)
	}
	if !c.pidFile.Exists() {
		c.logger.Debug("PID file already removed", slog.String("path", c.pidFile.Path()))
		return
	}
	if err := c.pidFile.Remove(); err != nil {
		c.logger.Warn("failed to remove PID file", internallog.Error(err))
	}
}

func (c *Controller) checkNotRunning() error {
	pid, running := c.pidFile.Running()
	if running {
		c.logger.Warn("Tried to start daemon when it was already running",
			slog.String(internallog.DaemonKey, c.name),
			slog.Int(internallog.PIDKey, pid))
		c.auditErr(c.audit.LogAlreadyRunning(pid, ProcessCommand(pid)))
		return &daemonerrors.LifecycleError{
			Op:     "start",
			Reason: "already running",
			PID:    pid,
			Cause:  ErrAlreadyRunning,
		}
	}
	if pid > 0 {
		c.logger.Info("ignoring stale PID file", slog.Int(internallog.PIDKey, pid))
		c.auditErr(c.audit.LogStalePID(pid))
	}
	return nil
}

func (c *Controller) argv(verb string) []string {
	return append([]string{verb}, c.args...)
}

func (c *Controller) setState(s State) {
	if c.state != s {
		internallog.Trace(c.logger, "state change",
			slog.String("from", c.state.String()),
			slog.String("to", s.String()))
	}
	c.state = s
}

func (c *Controller) ready() {
	if c.hooks.Ready != nil {
		c.hooks.Ready()
	}
}

func (c *Controller) status(s string) {
	if c.hooks.Status != nil {
		c.hooks.Status(s)
	}
}

func (c *Controller) auditErr(err error) {
	if err != nil {
		c.logger.Warn("failed to write lifecycle log", internallog.Error(err))
	}
}
