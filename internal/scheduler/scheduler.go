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

// Package scheduler runs the daemon's cooperative main loop.
//
// Everything the daemon does happens on the goroutine calling Run: waiting
// for the next iteration, acting on queued signals, serving IPC, running the
// loop body and firing periodic actions. Nothing overlaps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	internallog "github.com/tombee/daemond/internal/log"
	"github.com/tombee/daemond/internal/metrics"
)

// MaxSleep bounds a single nap in the wait phase, and therefore the latency
// of signal and IPC handling.
const MaxSleep = 100 * time.Millisecond

// OverrunWarnInterval limits how often an overrunning loop body is logged.
const OverrunWarnInterval = time.Minute

// Hooks are the collaborators the loop drives. Nil hooks are skipped.
type Hooks struct {
	// Watchdog pings the supervisor's liveness watchdog.
	Watchdog func()

	// Status publishes a human readable status line.
	Status func(status string)

	// Signals acts on OS signals queued since the last call.
	Signals func()

	// IPC serves at most one pending IPC request.
	IPC func(ctx context.Context)

	// Body is the service's unit of work. An error ends Run.
	Body func(ctx context.Context) error
}

// Options configures a Scheduler.
type Options struct {
	// MinLoopDuration is the minimum time between two Body invocations.
	MinLoopDuration time.Duration

	Hooks Hooks

	// Now and Sleep default to the real clock.
	Now   func() time.Time
	Sleep func(time.Duration)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// PeriodicAction is a handler run from the loop at a fixed interval.
type PeriodicAction struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context)

	lastRun time.Time
}

// LastRun is the loop timestamp of the most recent firing.
func (a *PeriodicAction) LastRun() time.Time {
	return a.lastRun
}

// Scheduler paces loop iterations and runs periodic actions.
type Scheduler struct {
	minLoop time.Duration
	hooks   Hooks
	now     func() time.Time
	sleep   func(time.Duration)
	metrics *metrics.Metrics
	logger  *slog.Logger

	lastStart time.Time
	loops     int
	actions   []*PeriodicAction
	overrun   *rate.Limiter
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		minLoop: opts.MinLoopDuration,
		hooks:   opts.Hooks,
		now:     opts.Now,
		sleep:   opts.Sleep,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		overrun: rate.NewLimiter(rate.Every(OverrunWarnInterval), 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = time.Sleep
	}
	if s.logger == nil {
		s.logger = internallog.Discard()
	}
	s.logger = internallog.WithComponent(s.logger, "scheduler")
	if s.minLoop < 0 {
		s.minLoop = 0
	}
	return s
}

// AddPeriodic registers an action. It first fires on the next loop
// iteration, then whenever interval has passed since its last firing.
// Actions cannot be removed.
func (s *Scheduler) AddPeriodic(name string, interval time.Duration, handler func(ctx context.Context)) *PeriodicAction {
	a := &PeriodicAction{Name: name, Interval: interval, Handler: handler}
	s.actions = append(s.actions, a)
	return a
}

// Periodic returns the registered actions in registration order.
func (s *Scheduler) Periodic() []*PeriodicAction {
	return s.actions
}

// Iterations returns the number of completed iterations.
func (s *Scheduler) Iterations() int {
	return s.loops
}

// Run loops until ctx is cancelled or the body fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.metrics.MarkStarted(s.now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RunOnce(ctx); err != nil {
			return err
		}
	}
}

// RunOnce performs one iteration: wait until the minimum loop duration has
// passed since the previous body started, then run the body and any due
// periodic actions.
//
// The wait phase runs at least once per iteration, so signals and IPC are
// serviced even when the previous body overran.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	next := s.lastStart.Add(s.minLoop)

	for {
		s.ping()
		s.status(fmt.Sprintf("Waiting for loop interval to pass for loop %d...", s.loops))

		if d := next.Sub(s.now()); d > 0 {
			if d > MaxSleep {
				d = MaxSleep
			}
			s.sleep(d)
		}

		s.status(fmt.Sprintf("Reading signals for loop %d...", s.loops))
		if s.hooks.Signals != nil {
			s.hooks.Signals()
		}
		if s.hooks.IPC != nil {
			s.hooks.IPC(ctx)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.now().Before(next) {
			break
		}
	}

	s.lastStart = s.now()
	s.status(fmt.Sprintf("Executing daemon loop %d...", s.loops))

	if s.hooks.Body != nil {
		if err := s.hooks.Body(ctx); err != nil {
			return fmt.Errorf("loop %d: %w", s.loops, err)
		}
	}
	body := s.now().Sub(s.lastStart)
	s.metrics.RecordLoop(body, s.minLoop)
	if s.minLoop > 0 && body > s.minLoop && s.overrun.AllowN(s.now(), 1) {
		s.logger.Warn("loop body overran the minimum loop duration",
			slog.Int(internallog.LoopKey, s.loops),
			internallog.Duration(internallog.DurationKey, body.Milliseconds()))
	}

	s.runPeriodic(ctx)
	s.loops++
	return nil
}

// runPeriodic fires every due action. lastRun is set to the timestamp of
// this pass before the handler runs, so a slow handler does not shift the
// schedule and missed firings are not caught up.
func (s *Scheduler) runPeriodic(ctx context.Context) {
	loopTime := s.now()
	for _, a := range s.actions {
		if loopTime.Before(a.lastRun.Add(a.Interval)) {
			continue
		}
		a.lastRun = loopTime
		s.metrics.RecordPeriodic(a.Name)
		internallog.Trace(s.logger, "running periodic action",
			slog.String("action", a.Name),
			slog.Int(internallog.LoopKey, s.loops))
		a.Handler(ctx)
	}
}

func (s *Scheduler) ping() {
	if s.hooks.Watchdog != nil {
		s.hooks.Watchdog()
	}
}

func (s *Scheduler) status(msg string) {
	if s.hooks.Status != nil {
		s.hooks.Status(msg)
	}
}
