/*
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

// Package metrics declares the Prometheus collectors the manager
// exposes, grounded on the teacher's pkg/metrics package: package-level
// collectors registered at init, labeled by the same dimensions the
// component already reasons about (lease status, event type, outcome).
// The teacher registers against controller-runtime's shared registry;
// this manager has no controller-runtime dependency, so collectors
// register against prometheus.DefaultRegisterer directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	leaseSubsystem  = "leases"
	eventSubsystem  = "events"
	batchSubsystem  = "event_batches"
	namespace       = "blazar"
	statusLabel     = "status"
	eventTypeLabel  = "event_type"
	resourceType    = "resource_type"
	outcomeLabel    = "outcome"
)

var (
	// LeasesByStatus counts, per LeaseStatus, how many times a
	// status-guarded operation (pkg/statemachine) has moved a lease into
	// that status. It is only ever incremented, so it is a running total
	// of entries rather than the number of leases now in each status;
	// lease creation and deletion do not update it.
	LeasesByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: leaseSubsystem,
		Name:      "by_status",
		Help:      "Number of times a status-guarded operation moved a lease into each status.",
	}, []string{statusLabel})

	// EventOutcomesTotal counts every terminal event-processing
	// outcome (done, error, retry-reverted) by event type.
	EventOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: eventSubsystem,
		Name:      "outcomes_total",
		Help:      "Number of events that reached a terminal or retry outcome, by event type and outcome.",
	}, []string{eventTypeLabel, outcomeLabel})

	// BatchSize observes how many events ran concurrently in a single
	// EventEngine batch; it has no labels.
	BatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: batchSubsystem,
		Name:      "size",
		Help:      "Number of events dispatched together in one EventEngine batch.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	}, []string{})

	// ReservationsDegraded tracks reservations currently flagged
	// missing_resources by Monitor, by resource type.
	ReservationsDegraded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "degraded",
		Help:      "Current number of reservations flagged degraded by Monitor, by resource type.",
	}, []string{resourceType})
)

func init() {
	prometheus.MustRegister(LeasesByStatus, EventOutcomesTotal, BatchSize, ReservationsDegraded)
}
