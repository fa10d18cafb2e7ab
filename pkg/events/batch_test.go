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

package events

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
)

func evt(leaseID string, t v1.EventType, at time.Time) v1.Event {
	return v1.Event{ID: leaseID + "/" + string(t), LeaseID: leaseID, Type: t, Time: at, Status: v1.EventUndone}
}

func typesOf(batch []v1.Event) []v1.EventType {
	out := make([]v1.EventType, len(batch))
	for i, e := range batch {
		out[i] = e.Type
	}
	return out
}

func TestSelectForExecutionEmpty(t *testing.T) {
	g := NewWithT(t)
	batches, remaining := SelectForExecution(nil)
	g.Expect(batches).To(BeEmpty())
	g.Expect(remaining).To(BeEmpty())
}

func TestSelectForExecutionOrderingAtSameTimestamp(t *testing.T) {
	g := NewWithT(t)
	now := time.Now().UTC()

	events := []v1.Event{
		evt("lease-end", v1.EndLease, now),
		evt("lease-before", v1.BeforeEndLease, now),
		evt("lease-start", v1.StartLease, now),
	}
	batches, remaining := SelectForExecution(events)
	g.Expect(remaining).To(BeEmpty())

	var order []v1.EventType
	for _, b := range batches {
		order = append(order, typesOf(b)...)
	}
	g.Expect(order).To(Equal([]v1.EventType{v1.BeforeEndLease, v1.EndLease, v1.StartLease}))
}

func TestSelectForExecutionDefersEndEventsOfStartingLease(t *testing.T) {
	g := NewWithT(t)
	now := time.Now().UTC()

	// lease-x is both starting and, in the same tick, has a before_end
	// and end event due (e.g. a pathologically short lease). Its own
	// before_end/end must run in a later batch than its start, while an
	// unrelated lease's end event at the same timestamp runs earlier.
	events := []v1.Event{
		evt("lease-x", v1.StartLease, now),
		evt("lease-x", v1.BeforeEndLease, now),
		evt("lease-x", v1.EndLease, now),
		evt("lease-y", v1.EndLease, now),
	}
	batches, remaining := SelectForExecution(events)
	g.Expect(remaining).To(BeEmpty())
	g.Expect(batches).To(HaveLen(4))

	g.Expect(typesOf(batches[0])).To(ConsistOf(v1.EndLease)) // lease-y's non-deferred end
	g.Expect(batches[0][0].LeaseID).To(Equal("lease-y"))
	g.Expect(typesOf(batches[1])).To(ConsistOf(v1.StartLease))
	g.Expect(batches[1][0].LeaseID).To(Equal("lease-x"))
	g.Expect(typesOf(batches[2])).To(ConsistOf(v1.BeforeEndLease))
	g.Expect(batches[2][0].LeaseID).To(Equal("lease-x"))
	g.Expect(typesOf(batches[3])).To(ConsistOf(v1.EndLease))
	g.Expect(batches[3][0].LeaseID).To(Equal("lease-x"))
}

func TestSelectForExecutionLeavesLaterEventsForRecursion(t *testing.T) {
	g := NewWithT(t)
	now := time.Now().UTC()
	later := now.Add(time.Minute)

	events := []v1.Event{
		evt("lease-a", v1.StartLease, now),
		evt("lease-b", v1.StartLease, later),
	}
	batches, remaining := SelectForExecution(events)
	g.Expect(batches).To(HaveLen(1))
	g.Expect(typesOf(batches[0])).To(ConsistOf(v1.StartLease))
	g.Expect(batches[0][0].LeaseID).To(Equal("lease-a"))

	g.Expect(remaining).To(HaveLen(1))
	g.Expect(remaining[0].LeaseID).To(Equal("lease-b"))

	// A second pass over remaining drains it to empty, the way the
	// engine's tick loop recurses.
	batches2, remaining2 := SelectForExecution(remaining)
	g.Expect(remaining2).To(BeEmpty())
	g.Expect(batches2).To(HaveLen(1))
	g.Expect(batches2[0][0].LeaseID).To(Equal("lease-b"))
}

func TestSelectForExecutionConcurrentWithinABatch(t *testing.T) {
	g := NewWithT(t)
	now := time.Now().UTC()

	events := []v1.Event{
		evt("lease-a", v1.StartLease, now),
		evt("lease-b", v1.StartLease, now),
		evt("lease-c", v1.StartLease, now),
	}
	batches, remaining := SelectForExecution(events)
	g.Expect(remaining).To(BeEmpty())
	g.Expect(batches).To(HaveLen(1))
	g.Expect(batches[0]).To(HaveLen(3))
}
