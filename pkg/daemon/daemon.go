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
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/daemond/internal/cli"
	"github.com/tombee/daemond/internal/cli/format"
	"github.com/tombee/daemond/internal/cli/prompt"
	"github.com/tombee/daemond/internal/config"
	"github.com/tombee/daemond/internal/dispatch"
	"github.com/tombee/daemond/internal/ipc"
	"github.com/tombee/daemond/internal/lifecycle"
	internallog "github.com/tombee/daemond/internal/log"
	"github.com/tombee/daemond/internal/metrics"
	"github.com/tombee/daemond/internal/scheduler"
	"github.com/tombee/daemond/internal/sdnotify"
	"github.com/tombee/daemond/internal/systemctl"
	"github.com/tombee/daemond/internal/version"
	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

// Service is the work a daemon does.
type Service interface {
	// Setup runs once in the daemon process before the first loop
	// iteration. An error aborts the start with exit status 1.
	Setup(ctx context.Context) error

	// Loop runs once per loop iteration. An error ends the daemon with
	// exit status 1.
	Loop(ctx context.Context) error

	// Reload is called on SIGUSR2 and when a watched config file changes.
	Reload(ctx context.Context) error

	// Teardown runs before the daemon stops or restarts.
	Teardown(ctx context.Context)
}

// Registrar is implemented by services that add commands or periodic
// actions. Register is called once from New.
type Registrar interface {
	Register(d *Daemon) error
}

// InstallHooks is implemented by services with extra install steps.
// OnInstall runs after the unit file and alias are written and before the
// service is enabled; OnUninstall runs after it is disabled.
type InstallHooks interface {
	OnInstall(ctx context.Context, d *Daemon) error
	OnUninstall(ctx context.Context, d *Daemon) error
}

// Response, Arg and ArgSpec are the IPC and registration types services
// need without importing internal packages.
type (
	Response = ipc.Response
	Arg      = ipc.Arg
	ArgSpec  = dispatch.ArgSpec
)

// Success, Failure, Failuref, Named and Param build values of the aliased
// types.
var (
	Success  = ipc.Success
	Failure  = ipc.Error
	Failuref = ipc.Errorf
	Named    = ipc.Named
	Param    = dispatch.Arg
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithShort sets the one-line description shown by cobra's help.
func WithShort(short string) Option {
	return func(d *Daemon) { d.short = short }
}

// WithOutput redirects command output and error output.
func WithOutput(out, errOut io.Writer) Option {
	return func(d *Daemon) {
		d.out = out
		d.errOut = errOut
	}
}

// WithLogger fixes the logger instead of building one from config.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) { d.fixedLogger = logger }
}

// WithSystemctl replaces the systemctl wrapper.
func WithSystemctl(s *systemctl.Systemctl) Option {
	return func(d *Daemon) { d.systemctl = s }
}

// WithConfirmer replaces the prompt used by uninstall.
func WithConfirmer(c prompt.Confirmer) Option {
	return func(d *Daemon) { d.confirmer = c }
}

// WithExecutable overrides the binary used to relaunch the daemon and
// written to the unit file.
func WithExecutable(path string) Option {
	return func(d *Daemon) { d.exe = path }
}

// WithExiter replaces the process exit primitive.
func WithExiter(exit lifecycle.Exiter) Option {
	return func(d *Daemon) { d.exit = exit }
}

// WithStyler fixes terminal styling instead of detecting it.
func WithStyler(s format.Styler) Option {
	return func(d *Daemon) { d.styler = &s }
}

type periodicSpec struct {
	name     string
	interval time.Duration
	handler  func(ctx context.Context)
}

// Daemon composes the lifecycle controller, loop scheduler, IPC channel and
// command table around a Service.
type Daemon struct {
	name  string
	short string
	svc   Service
	table *dispatch.Table

	periodic []periodicSpec

	out         io.Writer
	errOut      io.Writer
	styler      *format.Styler
	confirmer   prompt.Confirmer
	systemctl   *systemctl.Systemctl
	exe         string
	exit        lifecycle.Exiter
	fixedLogger *slog.Logger
	configPath  string
	chdir       func(dir string) error

	// Built for each invocation once the config is known.
	cfg        *config.Config
	logger     *slog.Logger
	logFile    *os.File
	channel    *ipc.Channel
	ipcHandler ipc.Handler
	metrics    *metrics.Metrics
	notifier   *sdnotify.Notifier
	installer  *systemctl.Installer
	controller *lifecycle.Controller
	scheduler  *scheduler.Scheduler
	versions   *version.Watcher
	cfgWatch   *config.Watcher
}

// New creates a daemon named name around svc and registers the default
// commands. If svc implements Registrar its commands are added last, so
// they may replace defaults.
func New(name string, svc Service, opts ...Option) (*Daemon, error) {
	if name == "" {
		return nil, errors.New("daemon name is required")
	}
	if svc == nil {
		return nil, errors.New("service is required")
	}

	d := &Daemon{
		name:   name,
		svc:    svc,
		table:  dispatch.New(nil),
		out:    os.Stdout,
		errOut: os.Stderr,
		logger: internallog.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.fixedLogger != nil {
		d.logger = d.fixedLogger
	}
	if d.confirmer == nil {
		d.confirmer = prompt.Default()
	}
	if d.exe == "" {
		if exe, err := os.Executable(); err == nil {
			d.exe = exe
		} else {
			d.exe = os.Args[0]
		}
	}

	if err := d.registerDefaults(); err != nil {
		return nil, err
	}
	if r, ok := svc.(Registrar); ok {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Name returns the daemon name.
func (d *Daemon) Name() string { return d.name }

// Config returns the configuration of the current invocation, or nil
// before a command has run.
func (d *Daemon) Config() *config.Config { return d.cfg }

// Logger returns the daemon logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Out is where commands print their results.
func (d *Daemon) Out() io.Writer { return d.out }

// Metrics returns the counters of the current invocation.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// AddCLI registers a command of the control entry point. An empty
// description hides it from the usage listing.
func (d *Daemon) AddCLI(name, description string, handler any, args ...ArgSpec) error {
	return d.table.AddCLI(name, description, handler, args...)
}

// AddIPC registers a command answered by the running daemon.
func (d *Daemon) AddIPC(name, description string, handler any, args ...ArgSpec) error {
	return d.table.AddIPC(name, description, handler, args...)
}

// AddPeriodic runs handler from the loop at most once per interval.
func (d *Daemon) AddPeriodic(name string, interval time.Duration, handler func(ctx context.Context)) {
	if d.scheduler != nil {
		d.scheduler.AddPeriodic(name, interval, handler)
		return
	}
	d.periodic = append(d.periodic, periodicSpec{name: name, interval: interval, handler: handler})
}

// Send calls an IPC command on the running daemon.
func (d *Daemon) Send(ctx context.Context, command string, args ...Arg) (Response, error) {
	if d.channel == nil {
		return Failure("IPC not enabled!"), nil
	}
	return d.channel.Call(ctx, command, args...)
}

// SetStatus reports a short status line to systemd.
func (d *Daemon) SetStatus(status string) {
	d.notifier.Status(status)
	internallog.Trace(d.logger, "status", internallog.String("status", status))
}

// Restart tears the service down and relaunches the daemon.
func (d *Daemon) Restart(ctx context.Context) {
	d.controller.Restart(ctx)
}

// Reload hands a reload to the service without restarting.
func (d *Daemon) Reload(ctx context.Context) {
	d.controller.Reload(ctx)
}

// Execute runs the control entry point with the process arguments and
// returns the exit status.
func (d *Daemon) Execute() int {
	return d.ExecuteContext(context.Background(), os.Args[1:])
}

// ExecuteContext runs the control entry point with args.
func (d *Daemon) ExecuteContext(ctx context.Context, args []string) int {
	defer d.closeLog()

	root := cli.NewRootCommand(cli.Options{
		Name:       d.name,
		Short:      d.short,
		Table:      d.table,
		ConfigPath: &d.configPath,
		Styler:     d.styler,
	})
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd == cmd.Root() || cmd.Name() == "help" {
			return nil
		}
		return d.prepare(cmd.Name())
	}
	root.SetArgs(args)
	root.SetOut(d.out)
	root.SetErr(d.errOut)

	err := root.ExecuteContext(ctx)
	if err != nil && d.logger != nil {
		d.logger.Debug("command failed",
			slog.String("error_type", daemonerrors.Classify(err)),
			slog.Bool("retryable", daemonerrors.Retryable(err)),
			internallog.Error(err))
	}
	return cli.HandleExitError(d.errOut, err)
}

// prepare loads the config and builds the collaborators for one command.
func (d *Daemon) prepare(verb string) error {
	cfg, err := config.Load(d.name, d.configPath)
	if err != nil {
		return err
	}
	d.closeLog()
	d.cfg = cfg
	d.logger = d.newLogger(verb)
	d.table.SetLogger(d.logger)

	d.metrics = metrics.New()
	d.notifier = sdnotify.New(d.logger)
	d.channel = ipc.New(cfg.IPCPath(), ipc.Options{
		AcquireTimeout: cfg.IPC.AcquireTimeout,
		SendTimeout:    cfg.IPC.SendTimeout,
		ReceiveTimeout: cfg.IPC.ReceiveTimeout,
		PollInterval:   cfg.IPC.PollInterval,
		Logger:         d.logger,
	})
	d.ipcHandler = ipc.Chain(d.table,
		ipc.WithLogging(internallog.WithComponent(d.logger, "ipc")),
		ipc.WithRecorder(d.metrics.RecordIPC))

	if d.systemctl == nil {
		d.systemctl = systemctl.New(d.logger)
	}
	d.installer = &systemctl.Installer{
		UnitDir:    cfg.Service.UnitDir,
		ProfileDir: cfg.Service.ProfileDir,
		Systemctl:  d.systemctl,
	}

	d.controller = lifecycle.NewController(lifecycle.Options{
		Name:       d.name,
		PIDFile:    lifecycle.NewPIDFile(cfg.PIDPath()),
		Executable: d.exe,
		Args:       d.configArgs(),
		Audit:      lifecycle.NewLifecycleLogger(d.name, cfg.LifecycleLog),
		Metrics:    d.metrics,
		Logger:     d.logger,
		Exit:       d.exit,
		Chdir:      d.chdir,
	}, lifecycle.Hooks{
		Setup:    d.setup,
		Loop:     d.loop,
		Teardown: d.teardown,
		Reload:   d.reload,
		Purge:    d.purge,
		Ready:    d.notifier.Ready,
		Status:   d.SetStatus,
	})
	d.scheduler = nil
	d.versions = nil
	d.cfgWatch = nil
	return nil
}

// newLogger logs to the configured file in the detached child, whose
// standard streams are /dev/null, and to the error output otherwise.
func (d *Daemon) newLogger(verb string) *slog.Logger {
	if d.fixedLogger != nil {
		return d.fixedLogger
	}

	lc := internallog.FromEnvWithDefaults(d.cfg.Log.Level, d.cfg.Log.Format)
	lc.Output = d.errOut
	if verb == lifecycle.VerbDaemonChild {
		if f, err := internallog.OpenFile(d.cfg.LogPath()); err == nil {
			d.logFile = f
			lc.Output = f
		}
	}
	return internallog.WithDaemon(internallog.New(lc), d.name)
}

func (d *Daemon) closeLog() {
	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
}

// configArgs are appended to every relaunch so the new process reads the
// same file.
func (d *Daemon) configArgs() []string {
	if d.cfg.Path() == "" {
		return nil
	}
	return []string{"--config", d.cfg.Path()}
}

func (d *Daemon) setup(ctx context.Context) error {
	d.metrics.MarkStarted(time.Now())

	if wd := sdnotify.WatchdogInterval(); wd > 0 && wd <= d.cfg.Loop.MinDuration {
		d.logger.Warn("supervisor watchdog is shorter than the minimum loop duration",
			internallog.Duration("watchdog_ms", wd.Milliseconds()),
			internallog.Duration("min_loop_ms", d.cfg.Loop.MinDuration.Milliseconds()))
	}

	watchConfig := d.cfg.WatchConfig && d.cfg.Path() != ""
	if watchConfig {
		w, err := config.Watch(d.cfg.Path(), d.logger)
		if err != nil {
			d.logger.Warn("config file will not be watched", internallog.Error(err))
		} else {
			d.cfgWatch = w
		}
	}

	if !d.cfg.Version.Disabled {
		opts := version.Options{Paths: d.cfg.Version.Files, Logger: d.logger}
		// A watched config file reloads instead of restarting.
		if d.cfgWatch == nil {
			opts.ConfigFile = d.cfg.Path()
		}
		w, err := version.New(opts)
		if err != nil {
			return err
		}
		d.versions = w
	}

	return d.svc.Setup(ctx)
}

func (d *Daemon) loop(ctx context.Context) error {
	s := scheduler.New(scheduler.Options{
		MinLoopDuration: d.cfg.Loop.MinDuration,
		Metrics:         d.metrics,
		Logger:          d.logger,
		Hooks: scheduler.Hooks{
			Watchdog: d.notifier.Watchdog,
			Status:   d.SetStatus,
			Signals:  func() { d.pollSignals(ctx) },
			IPC:      d.serveIPC,
			Body:     d.svc.Loop,
		},
	})
	if d.versions != nil {
		s.AddPeriodic("version-check", d.cfg.Version.CheckInterval, d.checkVersion)
	}
	for _, p := range d.periodic {
		s.AddPeriodic(p.name, p.interval, p.handler)
	}
	d.scheduler = s
	return s.Run(ctx)
}

func (d *Daemon) pollSignals(ctx context.Context) {
	d.controller.DispatchSignals()
	if d.cfgWatch != nil && d.cfgWatch.Changed() {
		d.logger.Info("config file changed", internallog.String("path", d.cfgWatch.Path()))
		d.controller.Reload(ctx)
	}
}

func (d *Daemon) serveIPC(ctx context.Context) {
	if _, err := d.channel.Serve(ctx, d.ipcHandler); err != nil {
		d.logger.Warn("ipc request failed", internallog.Error(err))
	}
}

func (d *Daemon) checkVersion(ctx context.Context) {
	d.SetStatus("Checking for new version of daemon...")
	if d.versions.Changed() {
		d.controller.Restart(ctx)
	}
}

func (d *Daemon) reload(ctx context.Context) {
	if err := d.svc.Reload(ctx); err != nil {
		d.logger.Error("service reload failed", internallog.Error(err))
	}
}

func (d *Daemon) teardown(ctx context.Context) {
	d.notifier.Stopping()
	d.svc.Teardown(ctx)
	if d.cfgWatch != nil {
		if err := d.cfgWatch.Close(); err != nil {
			d.logger.Warn("failed to close config watcher", internallog.Error(err))
		}
		d.cfgWatch = nil
	}
}

func (d *Daemon) purge() {
	if n := d.channel.Purge(); n > 0 {
		d.logger.Info("removed stale ipc files", internallog.Int("count", n))
	}
}

func (d *Daemon) styling() format.Styler {
	if d.styler != nil {
		return *d.styler
	}
	return format.Auto()
}
