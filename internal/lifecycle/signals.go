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
	"log/slog"
	"os"
	"os/signal"
	"sync"

	internallog "github.com/tombee/daemond/internal/log"
)

// signalBuffer bounds how many signals can queue between two dispatches.
const signalBuffer = 16

// SignalMux queues OS signals and runs their handlers only when Dispatch is
// called. The runtime's signal goroutine never runs daemon code.
type SignalMux struct {
	ch       chan os.Signal
	handlers map[os.Signal]func()
	order    []os.Signal
	once     sync.Once
	logger   *slog.Logger
}

// NewSignalMux creates an empty multiplexer.
func NewSignalMux(logger *slog.Logger) *SignalMux {
	if logger == nil {
		logger = internallog.Discard()
	}
	return &SignalMux{
		ch:       make(chan os.Signal, signalBuffer),
		handlers: make(map[os.Signal]func()),
		logger:   internallog.WithComponent(logger, "signals"),
	}
}

// Handle maps sig to fn. It must be called before Install.
func (m *SignalMux) Handle(sig os.Signal, fn func()) {
	if _, exists := m.handlers[sig]; !exists {
		m.order = append(m.order, sig)
	}
	m.handlers[sig] = fn
}

// Install starts capturing the handled signals. Later calls do nothing.
func (m *SignalMux) Install() {
	m.once.Do(func() {
		signal.Notify(m.ch, m.order...)
	})
}

// Stop stops capturing signals. Queued signals stay queued.
func (m *SignalMux) Stop() {
	signal.Stop(m.ch)
}

// Dispatch runs the handler of every queued signal without blocking and
// returns how many were handled.
func (m *SignalMux) Dispatch() int {
	n := 0
	for {
		select {
		case sig := <-m.ch:
			m.logger.Debug("received signal", slog.String("signal", sig.String()))
			if fn, ok := m.handlers[sig]; ok {
				fn()
			}
			n++
		default:
			return n
		}
	}
}
