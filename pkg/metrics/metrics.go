/*
Copyright The Sentinel Updater Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the Prometheus instrumentation of the update
// engine on a dedicated registry
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects every engine metric, mounted on /metrics by the
// web server
var Registry = prometheus.NewRegistry()

var (
	// UpdatesEvaluated counts gate evaluations by change type and verdict
	UpdatesEvaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_updates_evaluated_total",
		Help: "Update candidates evaluated against the gate policy",
	}, []string{"change_type", "verdict"})

	// UpdatesApplied counts terminal job outcomes
	UpdatesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_updates_applied_total",
		Help: "Update jobs reaching a terminal state",
	}, []string{"outcome"})

	// Rollbacks counts rollback attempts by result
	Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_rollbacks_total",
		Help: "Automatic rollback attempts",
	}, []string{"result"})

	// UpdateDuration observes end-to-end job duration, from the apply
	// call to the terminal state
	UpdateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_update_duration_seconds",
		Help:    "End to end duration of update jobs",
		Buckets: []float64{1, 5, 15, 60, 120, 300, 600, 1200},
	})

	// HealthChecks counts health check verdicts by kind and result
	HealthChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_health_checks_total",
		Help: "Health check executions",
	}, []string{"kind", "result"})

	// QueueDepth tracks the number of queued jobs
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_queue_depth",
		Help: "Jobs waiting for a concurrency slot",
	})

	// RunningJobs tracks the number of in-flight jobs
	RunningJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_running_jobs",
		Help: "Jobs currently applying or monitoring an update",
	})
)

func init() {
	Registry.MustRegister(
		UpdatesEvaluated,
		UpdatesApplied,
		Rollbacks,
		UpdateDuration,
		HealthChecks,
		QueueDepth,
		RunningJobs,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// RecordHealthVerdict feeds the health check counter from a verdict
func RecordHealthVerdict(kind string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	HealthChecks.WithLabelValues(kind, result).Inc()
}
