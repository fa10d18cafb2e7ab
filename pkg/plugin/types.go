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

// Package plugin declares the driver contract every resource-type
// implementation must satisfy, and the registry that loads and
// resolves them. Concrete drivers are out of scope for the core
// (spec §1); this package and its dummy reference implementation are
// the in-scope surface.
package plugin

import (
	"context"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
)

// Opts is the configuration group a plugin registers under its own
// resource type name (spec §6).
type Opts struct {
	DefaultResourceProperties        map[string]string
	DisplayDefaultResourceProperties bool
	RetryAllocationWithoutDefaults   bool
	BeforeEndAction                  string
}

// Plugin implements the reservation contract for one resource type.
type Plugin interface {
	// ResourceType is the string under which this plugin is addressed
	// in lease reservations and configuration groups.
	ResourceType() string

	// GetPluginOpts returns the configuration options this plugin
	// wants registered under its resource-type group.
	GetPluginOpts() Opts

	// Setup performs one-time initialization.
	Setup(ctx context.Context, conf map[string]string) error

	Get(ctx context.Context, resourceID string) (map[string]any, error)

	// ReserveResource claims a concrete resource for reservationID and
	// returns a plugin-opaque resource id.
	ReserveResource(ctx context.Context, reservationID string, values map[string]any) (string, error)

	UpdateReservation(ctx context.Context, reservationID string, values map[string]any) error

	// AllocationCandidates returns the resource ids that could satisfy
	// values, without committing to any of them.
	AllocationCandidates(ctx context.Context, values map[string]any) ([]string, error)

	UpdateDefaultParameters(ctx context.Context, values map[string]string)

	OnStart(ctx context.Context, resourceID string, lease v1.Lease) error
	OnEnd(ctx context.Context, resourceID string, lease v1.Lease) error
	BeforeEnd(ctx context.Context, resourceID string, lease v1.Lease) error

	ListAllocations(ctx context.Context, query map[string]any) (map[string][]v1.Allocation, error)
	QueryAllocations(ctx context.Context, resourceIDs []string, leaseID, reservationID string) ([]v1.Allocation, error)
}

// Healer is an optional extension a plugin may implement to support
// Monitor-driven reallocation of degraded reservations (spec §2,
// Monitor component).
type Healer interface {
	HealReservations(ctx context.Context, reservationIDs []string) error
}

// MonitorCallbacks is an optional extension for plugins that supply
// their own health-polling hooks, invoked by Monitor on its own timer.
type MonitorCallbacks interface {
	PollResourceHealth(ctx context.Context) ([]string, error)
}
