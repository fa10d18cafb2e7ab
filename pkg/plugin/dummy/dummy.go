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

// Package dummy is the reference compute_host driver: an in-memory
// inventory of hosts, used for tests and as the default entry of
// manager.plugins ("dummy.vm.plugin" in spec §6).
package dummy

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/plugin"
)

// ResourceType is the resource_type string this plugin serves.
const ResourceType = "compute_host"

// Host is one inventory entry. Properties are matched against
// AllocationCandidates' requested values the way blazar's host_plugin
// matches hypervisor_properties.
type Host struct {
	ID         string
	Properties map[string]string
}

// Plugin is the compute_host reference driver.
type Plugin struct {
	mu    sync.RWMutex
	hosts map[string]Host

	// reservedBy tracks which reservation currently holds a host, so
	// AllocationCandidates can exclude hosts already claimed.
	reservedBy map[string]string // hostID -> reservationID

	opts  plugin.Opts
	stale *gocache.Cache
}

var _ plugin.Plugin = (*Plugin)(nil)

// New constructs a dummy plugin over the given static inventory.
func New(hosts ...Host) *Plugin {
	byID := map[string]Host{}
	for _, h := range hosts {
		byID[h.ID] = h
	}
	return &Plugin{
		hosts:      byID,
		reservedBy: map[string]string{},
		stale:      gocache.New(time.Hour, 10*time.Minute),
	}
}

func (p *Plugin) ResourceType() string { return ResourceType }

func (p *Plugin) GetPluginOpts() plugin.Opts {
	return plugin.Opts{RetryAllocationWithoutDefaults: true}
}

func (p *Plugin) Setup(_ context.Context, conf map[string]string) error {
	if v, ok := conf["retry_allocation_without_defaults"]; ok {
		p.opts.RetryAllocationWithoutDefaults = v == "true"
	} else {
		p.opts.RetryAllocationWithoutDefaults = true
	}
	return nil
}

func (p *Plugin) Get(_ context.Context, resourceID string) (map[string]any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.hosts[resourceID]
	if !ok {
		return nil, errs.Newf(errs.InvalidInput, "host %s not found", resourceID)
	}
	return map[string]any{"id": h.ID, "properties": h.Properties}, nil
}

// AllocationCandidates returns hosts not currently reserved that match
// every requested property. When LeaseService retries without
// defaults (RetryAllocationWithoutDefaults), it calls this again with
// the default properties removed from values, so no special casing is
// needed here.
func (p *Plugin) AllocationCandidates(_ context.Context, values map[string]any) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	want := map[string]string{}
	for k, v := range values {
		if k == "min" || k == "max" || k == "resource_type" {
			continue
		}
		if s, ok := v.(string); ok {
			want[k] = s
		}
	}

	var candidates []string
	for id, h := range p.hosts {
		if _, taken := p.reservedBy[id]; taken {
			continue
		}
		if hostMatches(h, want) {
			candidates = append(candidates, id)
		}
	}
	candidates = lo.Uniq(candidates)
	if len(candidates) == 0 {
		return nil, errs.New(errs.NotEnoughResourcesAvailable, "no compute_host candidates available")
	}
	return candidates, nil
}

func hostMatches(h Host, want map[string]string) bool {
	for k, v := range want {
		if h.Properties[k] != v {
			return false
		}
	}
	return true
}

func (p *Plugin) ReserveResource(_ context.Context, reservationID string, values map[string]any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidateIDs, _ := values["candidates"].([]string)
	for _, id := range candidateIDs {
		if _, taken := p.reservedBy[id]; !taken {
			p.reservedBy[id] = reservationID
			return id, nil
		}
	}
	return "", errs.New(errs.NotEnoughResourcesAvailable, "all compute_host candidates were claimed concurrently")
}

func (p *Plugin) UpdateReservation(_ context.Context, _ string, _ map[string]any) error {
	return nil
}

func (p *Plugin) UpdateDefaultParameters(_ context.Context, _ map[string]string) {}

func (p *Plugin) OnStart(_ context.Context, _ string, _ v1.Lease) error { return nil }

func (p *Plugin) OnEnd(_ context.Context, resourceID string, _ v1.Lease) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reservedBy, resourceID)
	return nil
}

func (p *Plugin) BeforeEnd(_ context.Context, _ string, _ v1.Lease) error { return nil }

func (p *Plugin) ListAllocations(_ context.Context, _ map[string]any) (map[string][]v1.Allocation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := map[string][]v1.Allocation{}
	for hostID, reservationID := range p.reservedBy {
		out[reservationID] = append(out[reservationID], v1.Allocation{ReservationID: reservationID, ResourceID: hostID})
	}
	return out, nil
}

func (p *Plugin) QueryAllocations(_ context.Context, resourceIDs []string, _ string, reservationID string) ([]v1.Allocation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []v1.Allocation
	for _, id := range resourceIDs {
		if owner, ok := p.reservedBy[id]; ok && (reservationID == "" || owner == reservationID) {
			out = append(out, v1.Allocation{ReservationID: owner, ResourceID: id})
		}
	}
	return out, nil
}

// HealReservations implements plugin.Healer: it marks every given
// reservation as needing reallocation, without consulting the inventory.
func (p *Plugin) HealReservations(_ context.Context, reservationIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range reservationIDs {
		p.stale.SetDefault(id, true)
	}
	return nil
}

// IsStale reports whether HealReservations has flagged reservationID
// and that flag has not yet expired from the stale cache.
func (p *Plugin) IsStale(reservationID string) bool {
	_, found := p.stale.Get(reservationID)
	return found
}
