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

// Package metrics keeps in-process counters for a running daemon.
//
// Nothing is exported over the network; the daemon answers the "get_stats"
// IPC command with a Snapshot of its registry.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Metrics tracks daemon loop, IPC and lifecycle activity. All methods are
// safe on a nil receiver.
type Metrics struct {
	LoopIterations prometheus.Counter
	LoopDuration   prometheus.Histogram
	LoopOverruns   prometheus.Counter

	// IPCRequests counts served requests by command and response status.
	IPCRequests *prometheus.CounterVec

	// PeriodicRuns counts periodic action firings by action name.
	PeriodicRuns *prometheus.CounterVec

	// LifecycleEvents counts reloads, restarts and similar transitions.
	LifecycleEvents *prometheus.CounterVec

	StartTime prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates daemon metrics on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetrics(reg)
}

// NewMetrics registers daemon metrics with reg. It panics if registration
// fails, which only happens on duplicate registration during startup.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoopIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daemond_loop_iterations_total",
			Help: "Completed daemon loop iterations",
		}),
		LoopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "daemond_loop_body_duration_seconds",
			Help:    "Duration of the daemon loop body in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LoopOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daemond_loop_overruns_total",
			Help: "Loop bodies that ran longer than the minimum loop duration",
		}),
		IPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daemond_ipc_requests_total",
			Help: "IPC requests served by command and status",
		}, []string{"command", "status"}),
		PeriodicRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daemond_periodic_runs_total",
			Help: "Periodic action executions by action",
		}, []string{"action"}),
		LifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daemond_lifecycle_events_total",
			Help: "Lifecycle transitions by event",
		}, []string{"event"}),
		StartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daemond_start_time_seconds",
			Help: "Unix time the daemon entered its loop",
		}),
	}

	reg.MustRegister(
		m.LoopIterations,
		m.LoopDuration,
		m.LoopOverruns,
		m.IPCRequests,
		m.PeriodicRuns,
		m.LifecycleEvents,
		m.StartTime,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordLoop records one completed loop body.
func (m *Metrics) RecordLoop(body, minDuration time.Duration) {
	if m == nil {
		return
	}
	m.LoopIterations.Inc()
	m.LoopDuration.Observe(body.Seconds())
	if minDuration > 0 && body > minDuration {
		m.LoopOverruns.Inc()
	}
}

// RecordIPC records one served IPC request.
func (m *Metrics) RecordIPC(command, status string) {
	if m == nil {
		return
	}
	m.IPCRequests.WithLabelValues(command, status).Inc()
}

// RecordPeriodic records one periodic action firing.
func (m *Metrics) RecordPeriodic(action string) {
	if m == nil {
		return
	}
	m.PeriodicRuns.WithLabelValues(action).Inc()
}

// RecordLifecycle records a lifecycle transition such as "reload".
func (m *Metrics) RecordLifecycle(event string) {
	if m == nil {
		return
	}
	m.LifecycleEvents.WithLabelValues(event).Inc()
}

// MarkStarted sets the start time gauge.
func (m *Metrics) MarkStarted(t time.Time) {
	if m == nil {
		return
	}
	m.StartTime.Set(float64(t.Unix()))
}

// Sample is one flattened metric value.
type Sample struct {
	Name   string  `json:"name"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// Snapshot gathers the registry into a flat, sorted list. Histograms are
// reported as their _count and _sum. When prefix is non-empty only families
// whose name starts with it are included.
func (m *Metrics) Snapshot(prefix string) ([]Sample, error) {
	if m == nil || m.gatherer == nil {
		return nil, nil
	}

	families, err := m.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		name := mf.GetName()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := formatLabels(metric.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, Sample{Name: name, Labels: labels, Value: metric.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				out = append(out, Sample{Name: name, Labels: labels, Value: metric.GetGauge().GetValue()})
			case dto.MetricType_UNTYPED:
				out = append(out, Sample{Name: name, Labels: labels, Value: metric.GetUntyped().GetValue()})
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				out = append(out,
					Sample{Name: name + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
					Sample{Name: name + "_sum", Labels: labels, Value: h.GetSampleSum()},
				)
			case dto.MetricType_SUMMARY:
				s := metric.GetSummary()
				out = append(out,
					Sample{Name: name + "_count", Labels: labels, Value: float64(s.GetSampleCount())},
					Sample{Name: name + "_sum", Labels: labels, Value: s.GetSampleSum()},
				)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	return strings.Join(parts, ",")
}
