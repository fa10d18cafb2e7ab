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

// Package events implements the EventEngine: periodic polling of due
// events, batch partitioning that preserves the ordering guarantees in
// spec §4.3, and concurrent dispatch (one goroutine per event of a
// batch) through LeaseService's status-guarded handlers.
package events

import (
	"sort"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
)

// SelectForExecution partitions events (assumed already filtered to
// status=UNDONE, time<=now) into the priority-ordered, safely-
// concurrent batches spec §4.3 defines for the earliest timestamp
// present, plus whatever is left over for the caller to re-partition
// on the next recursion (events at a later timestamp). Events deferred
// past their own batch are returned as later batches, not as leftovers.
//
// Events within a batch may run concurrently; batches must run in the
// returned order. Empty batches are omitted.
func SelectForExecution(events []v1.Event) (batches [][]v1.Event, remaining []v1.Event) {
	if len(events) == 0 {
		return nil, nil
	}

	sorted := make([]v1.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	t := sorted[0].Time
	firstEvents := lo.Filter(sorted, func(e v1.Event, _ int) bool { return e.Time.Equal(t) })
	remaining = lo.Filter(sorted, func(e v1.Event, _ int) bool { return e.Time.After(t) })

	startingLeases := sets.New[string]()
	for _, e := range firstEvents {
		if e.Type == v1.StartLease {
			startingLeases.Insert(e.LeaseID)
		}
	}

	isDeferred := func(e v1.Event) bool {
		return (e.Type == v1.BeforeEndLease || e.Type == v1.EndLease) && startingLeases.Has(e.LeaseID)
	}

	nonDeferredBeforeEnd := lo.Filter(firstEvents, func(e v1.Event, _ int) bool {
		return e.Type == v1.BeforeEndLease && !isDeferred(e)
	})
	nonDeferredEnd := lo.Filter(firstEvents, func(e v1.Event, _ int) bool {
		return e.Type == v1.EndLease && !isDeferred(e)
	})
	startBatch := lo.Filter(firstEvents, func(e v1.Event, _ int) bool { return e.Type == v1.StartLease })
	deferredBeforeEnd := lo.Filter(firstEvents, func(e v1.Event, _ int) bool {
		return e.Type == v1.BeforeEndLease && isDeferred(e)
	})
	deferredEnd := lo.Filter(firstEvents, func(e v1.Event, _ int) bool {
		return e.Type == v1.EndLease && isDeferred(e)
	})

	for _, b := range [][]v1.Event{nonDeferredBeforeEnd, nonDeferredEnd, startBatch, deferredBeforeEnd, deferredEnd} {
		if len(b) > 0 {
			batches = append(batches, b)
		}
	}
	return batches, remaining
}
