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

// Package maxduration is a reference enforcement.Filter that caps how
// long a lease may run, portable from blazar's usage-enforcement
// filters without any external quota/usage service dependency.
package maxduration

import (
	"context"
	"time"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/enforcement"
	"github.com/4sarathbabu/blazar/pkg/errs"
)

// Filter denies create/update requests whose lease would run longer
// than Max.
type Filter struct {
	enforcement.BaseFilter
	Max time.Duration
}

var _ enforcement.Filter = (*Filter)(nil)

func (Filter) Name() string { return "max_lease_duration" }

func (f Filter) CheckCreate(_ context.Context, lease v1.Lease, _ []v1.Reservation, _ []v1.Allocation) error {
	return f.check(lease.StartDate, lease.EndDate)
}

func (f Filter) CheckUpdate(_ context.Context, oldLease v1.Lease, newValues map[string]any, _, _ []v1.Allocation, _, _ []v1.Reservation) error {
	start := oldLease.StartDate
	end := oldLease.EndDate
	if v, ok := newValues["start_date"].(time.Time); ok {
		start = v
	}
	if v, ok := newValues["end_date"].(time.Time); ok {
		end = v
	}
	return f.check(start, end)
}

func (f Filter) check(start, end time.Time) error {
	if f.Max > 0 && end.Sub(start) > f.Max {
		return errs.Newf(errs.NotAuthorized, "lease duration %s exceeds maximum of %s", end.Sub(start), f.Max)
	}
	return nil
}
