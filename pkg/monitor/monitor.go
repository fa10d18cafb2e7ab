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

// Package monitor runs health polling and notification-driven
// reallocation hooks on a timer independent of the EventEngine tick
// (spec §5), the way the teacher's disruption controller and its
// health-check loop run on separate clocks against the same cluster
// state.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/metrics"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/plugin"
	"github.com/4sarathbabu/blazar/pkg/repository"
)

// Options configures Monitor's poll cadence (spec §6).
type Options struct {
	PollInterval time.Duration
}

// Monitor polls every plugin implementing plugin.MonitorCallbacks for
// resources that went missing or changed underneath a reservation,
// flags the affected reservations and their lease as degraded, and
// invokes plugin.Healer.HealReservations when a plugin supports
// self-healing.
type Monitor struct {
	repo     repository.Repository
	plugins  *plugin.Registry
	notifier notify.Notifier
	clock    clock.Clock
	opts     Options
	logger   *zap.SugaredLogger
}

// New constructs a Monitor. logger may be nil.
func New(repo repository.Repository, plugins *plugin.Registry, notifier notify.Notifier, clk clock.Clock, opts Options, logger *zap.SugaredLogger) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	return &Monitor{repo: repo, plugins: plugins, notifier: notifier, clock: clk, opts: opts, logger: logger}
}

// Run drives the poll loop until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	for _, p := range m.plugins.All() {
		cb, ok := p.(plugin.MonitorCallbacks)
		if !ok {
			continue
		}
		unhealthy, err := cb.PollResourceHealth(ctx)
		if err != nil {
			if m.logger != nil {
				m.logger.Warnw("resource health poll failed", "resource_type", p.ResourceType(), "error", err)
			}
			continue
		}
		if len(unhealthy) == 0 {
			continue
		}
		m.handleUnhealthy(ctx, p, unhealthy)
	}
}

func (m *Monitor) handleUnhealthy(ctx context.Context, p plugin.Plugin, resourceIDs []string) {
	affected, err := m.reservationsByResourceIDs(ctx, p.ResourceType(), resourceIDs)
	if err != nil {
		if m.logger != nil {
			m.logger.Warnw("could not resolve degraded resources to reservations", "resource_type", p.ResourceType(), "error", err)
		}
		return
	}
	if len(affected) == 0 {
		return
	}

	degradedLeases := sets.New[string]()
	newlyFlagged := 0
	for _, r := range affected {
		if !r.MissingResources {
			newlyFlagged++
		}
		r.MissingResources = true
		if _, err := m.repo.ReservationUpdate(ctx, r); err != nil && m.logger != nil {
			m.logger.Warnw("could not flag reservation degraded", "reservation_id", r.ID, "error", err)
		}
		degradedLeases.Insert(r.LeaseID)
	}
	metrics.ReservationsDegraded.WithLabelValues(p.ResourceType()).Add(float64(newlyFlagged))
	m.setLeaseDegraded(ctx, degradedLeases, true)

	healer, ok := p.(plugin.Healer)
	if !ok {
		return
	}
	reservationIDs := make([]string, 0, len(affected))
	for _, r := range affected {
		reservationIDs = append(reservationIDs, r.ID)
	}
	if err := healer.HealReservations(ctx, reservationIDs); err != nil {
		if m.logger != nil {
			m.logger.Warnw("heal_reservations failed", "resource_type", p.ResourceType(), "error", err)
		}
		return
	}
	m.clearHealed(ctx, affected, degradedLeases)
}

// clearHealed drops the degraded flags a successful heal resolved.
func (m *Monitor) clearHealed(ctx context.Context, healed []v1.Reservation, leases sets.Set[string]) {
	if len(healed) > 0 {
		metrics.ReservationsDegraded.WithLabelValues(healed[0].ResourceType).Sub(float64(len(healed)))
	}
	for _, r := range healed {
		r.MissingResources = false
		r.ResourcesChanged = false
		if _, err := m.repo.ReservationUpdate(ctx, r); err != nil && m.logger != nil {
			m.logger.Warnw("could not clear reservation degraded flag after heal", "reservation_id", r.ID, "error", err)
		}
	}
	m.setLeaseDegraded(ctx, leases, false)
}

func (m *Monitor) setLeaseDegraded(ctx context.Context, leaseIDs sets.Set[string], degraded bool) {
	for leaseID := range leaseIDs {
		lease, err := m.repo.LeaseGet(ctx, leaseID)
		if err != nil {
			continue
		}
		if lease.Degraded == degraded {
			continue
		}
		lease.Degraded = degraded
		updated, err := m.repo.LeaseUpdate(ctx, lease)
		if err != nil {
			if m.logger != nil {
				m.logger.Warnw("could not update lease degraded flag", "lease_id", leaseID, "error", err)
			}
			continue
		}
		if degraded {
			m.notifier.Publish(notify.LeaseTopic("degraded"), updated)
		} else {
			m.notifier.Publish(notify.LeaseTopic("healed"), updated)
		}
	}
}

// reservationsByResourceIDs scans every lease's reservations for the
// given resource type and ids. Monitor polls are infrequent compared
// to the event tick, so a full scan through Repository's list
// operation is an acceptable cost for the reference store; a SQL-
// backed Repository would push this down to a WHERE clause instead.
func (m *Monitor) reservationsByResourceIDs(ctx context.Context, resourceType string, resourceIDs []string) ([]v1.Reservation, error) {
	leases, err := m.repo.LeaseList(ctx, "")
	if err != nil {
		return nil, err
	}
	wanted := sets.New(resourceIDs...)
	var out []v1.Reservation
	for _, l := range leases {
		for _, r := range l.Reservations {
			if r.ResourceType == resourceType && wanted.Has(r.ResourceID) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}
