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

// Package enforcement runs a pipeline of named filters at the three
// checkpoints spec §4.7 defines: check_create, check_update, on_end.
package enforcement

import (
	"context"

	"go.uber.org/zap"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
)

// Filter is one named policy check. A filter only needs to override
// the checkpoints it enforces; embed BaseFilter to get no-op defaults
// for the rest.
type Filter interface {
	Name() string
	CheckCreate(ctx context.Context, lease v1.Lease, reservations []v1.Reservation, allocations []v1.Allocation) error
	CheckUpdate(ctx context.Context, oldLease v1.Lease, newValues map[string]any, oldAllocs, newAllocs []v1.Allocation, oldRes, newRes []v1.Reservation) error
	OnEnd(ctx context.Context, lease v1.Lease, allocations []v1.Allocation) error
}

// BaseFilter gives every checkpoint a permissive default.
type BaseFilter struct{}

func (BaseFilter) CheckCreate(context.Context, v1.Lease, []v1.Reservation, []v1.Allocation) error {
	return nil
}
func (BaseFilter) CheckUpdate(context.Context, v1.Lease, map[string]any, []v1.Allocation, []v1.Allocation, []v1.Reservation, []v1.Reservation) error {
	return nil
}
func (BaseFilter) OnEnd(context.Context, v1.Lease, []v1.Allocation) error { return nil }

// Pipeline runs an ordered list of filters. A denial from any filter at
// check_create/check_update is fatal for that request; denials at
// on_end are logged but never abort teardown (spec §4.7).
type Pipeline struct {
	filters []Filter
	logger  *zap.SugaredLogger
}

// New builds a Pipeline. logger may be nil, in which case on_end
// denials are silently dropped rather than logged.
func New(logger *zap.SugaredLogger, filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters, logger: logger}
}

func (p *Pipeline) CheckCreate(ctx context.Context, lease v1.Lease, reservations []v1.Reservation, allocations []v1.Allocation) error {
	for _, f := range p.filters {
		if err := f.CheckCreate(ctx, lease, reservations, allocations); err != nil {
			return errs.Wrap(errs.NotAuthorized, err, "filter", f.Name())
		}
	}
	return nil
}

func (p *Pipeline) CheckUpdate(ctx context.Context, oldLease v1.Lease, newValues map[string]any, oldAllocs, newAllocs []v1.Allocation, oldRes, newRes []v1.Reservation) error {
	for _, f := range p.filters {
		if err := f.CheckUpdate(ctx, oldLease, newValues, oldAllocs, newAllocs, oldRes, newRes); err != nil {
			return errs.Wrap(errs.NotAuthorized, err, "filter", f.Name())
		}
	}
	return nil
}

// OnEnd runs every filter's OnEnd hook, logging any denial instead of
// propagating it: enforcement never blocks teardown (spec §4.7).
func (p *Pipeline) OnEnd(ctx context.Context, lease v1.Lease, allocations []v1.Allocation) {
	for _, f := range p.filters {
		if err := f.OnEnd(ctx, lease, allocations); err != nil && p.logger != nil {
			p.logger.Warnw("enforcement filter denied on_end, teardown continues", "filter", f.Name(), "lease_id", lease.ID, "error", err)
		}
	}
}
