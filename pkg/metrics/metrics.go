// Copyright 2025 UMH Systems GmbH
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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Component labels.
	ComponentWorkOrderService = "workorder_service"
	ComponentGateController   = "gate_controller"
	ComponentReconciler       = "reconciler"
	ComponentAPI              = "api"

	// Transition outcome labels.
	OutcomeSuccess      = "success"
	OutcomeInvalidState = "invalid_state"
	OutcomeNoOpenPause  = "no_open_pause"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "shopfloor"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Transition counters, by lifecycle event and outcome.
	transitionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Total number of operation instance transitions by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	// Transition timing.
	transitionTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transition_duration_milliseconds",
			Help:      "Time taken to apply a transition (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"event"},
	)

	// Reconciliation counters.
	reconcileChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_instances_changed_total",
			Help:      "Total number of instances repaired by the reconciliation routine",
		},
		[]string{"team"},
	)

	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_milliseconds",
			Help:      "Time taken to reconcile a team's orders (in milliseconds)",
		},
		[]string{"team"},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveTransition records one transition attempt with its outcome and
// duration.
func ObserveTransition(event, outcome string, duration time.Duration) {
	transitionCounter.WithLabelValues(event, outcome).Inc()
	transitionTime.WithLabelValues(event).Observe(float64(duration.Milliseconds()))
}

// ObserveReconcile records one reconciliation run for a team.
func ObserveReconcile(team string, changed int, duration time.Duration) {
	reconcileChanged.WithLabelValues(team).Add(float64(changed))
	reconcileTime.WithLabelValues(team).Observe(float64(duration.Milliseconds()))
}

// SetupMetricsEndpoint starts an HTTP server exposing /metrics on addr.
// The caller owns the returned server and must shut it down.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = server.ListenAndServe()
	}()

	return server
}
